package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/models"
)

const (
	wpPerPage         = 20
	wpDefaultMaxPages = 5
	wpPostsPath       = "/wp-json/wp/v2/posts"
)

// moneyRe picks the funding figure (or range) out of free post text, which
// also carries dates and phone numbers.
var moneyRe = regexp.MustCompile(`(?i)\$\s?\d[\d,.]*(\s?(k|million)\b)?(\s?(-|to)\s?\$\s?\d[\d,.]*(\s?(k|million)\b)?)?`)

type wpPost struct {
	ID    int    `json:"id"`
	Date  string `json:"date"`
	Link  string `json:"link"`
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	Content struct {
		Rendered string `json:"rendered"`
	} `json:"content"`
	Excerpt struct {
		Rendered string `json:"rendered"`
	} `json:"excerpt"`
}

// wordpressStrategy reads funding announcements from a WordPress REST API.
// listing_path may point at a custom post type; the default is posts.
type wordpressStrategy struct {
	cfg        SourceConfig
	classifier ai.ChatCompleter
	model      string
	delay      time.Duration
	sanitizer  *bluemonday.Policy
	logger     *zap.Logger
	now        func() time.Time
}

func (s *wordpressStrategy) endpoint() (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch {
	case s.cfg.ListingPath != "":
		u.Path += "/" + strings.TrimLeft(s.cfg.ListingPath, "/")
	case !strings.Contains(u.Path, "wp-json"):
		u.Path += wpPostsPath
	}
	return u, nil
}

func (s *wordpressStrategy) Fetch(ctx context.Context) ([]models.Grant, error) {
	api, err := s.endpoint()
	if err != nil {
		return nil, err
	}
	maxPages := s.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = wpDefaultMaxPages
	}

	c := newCollector(ctx, api.Hostname(), s.delay, s.cfg.TimeoutSeconds)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	var (
		page      []wpPost
		status    int
		decodeErr error
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		page = nil
		decodeErr = json.Unmarshal(r.Body, &page)
	})
	c.OnError(func(r *colly.Response, _ error) {
		status = r.StatusCode
	})

	var out []models.Grant
	for n := 1; n <= maxPages; n++ {
		q := api.Query()
		q.Set("page", strconv.Itoa(n))
		q.Set("per_page", strconv.Itoa(wpPerPage))
		pageURL := *api
		pageURL.RawQuery = q.Encode()

		status, page, decodeErr = 0, nil, nil
		if err := c.Visit(pageURL.String()); err != nil {
			// WordPress answers 400 once page runs past the last one.
			if n > 1 && (status == http.StatusBadRequest || status == http.StatusNotFound) {
				break
			}
			if n == 1 {
				return nil, fmt.Errorf("fetch %s: %w", pageURL.String(), err)
			}
			s.logger.Warn("stopping pagination", zap.Int("page", n), zap.Error(err))
			break
		}
		if decodeErr != nil {
			if n == 1 {
				return nil, fmt.Errorf("decode %s: %w", pageURL.String(), decodeErr)
			}
			s.logger.Warn("stopping pagination", zap.Int("page", n), zap.Error(decodeErr))
			break
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			g := s.toGrant(ctx, p)
			if err := g.Validate(); err != nil {
				s.logger.Warn("dropping post", zap.Int("post_id", p.ID), zap.Error(err))
				continue
			}
			out = append(out, g)
		}
		if len(page) < wpPerPage {
			break
		}
	}
	if out == nil {
		out = []models.Grant{}
	}
	return out, nil
}

func (s *wordpressStrategy) text(rendered string) string {
	return normalizeSpace(html.UnescapeString(s.sanitizer.Sanitize(rendered)))
}

func (s *wordpressStrategy) toGrant(ctx context.Context, p wpPost) models.Grant {
	now := s.now().UTC()
	body := s.text(p.Content.Rendered)
	description := s.text(p.Excerpt.Rendered)
	if description == "" {
		description = body
	}

	g := models.Grant{
		ID:             models.GrantID(fmt.Sprintf("%s-wp-%d", s.cfg.ID, p.ID)),
		Title:          s.text(p.Title.Rendered),
		Description:    description,
		Category:       s.cfg.Category,
		Deadline:       parseDeadline(body),
		Status:         models.GrantOpen,
		ApplicationURL: canonicalizeURL(p.Link),
		Organization:   s.cfg.Organization,
		DataSource:     models.ProvenanceReal,
		CreatedAt:      wpDate(p.Date, now),
		UpdatedAt:      now,
	}
	if min, max := parseAmount(moneyRe.FindString(body)); max > 0 {
		g.Amount = max
	} else {
		g.Amount = min
	}
	if days, ok := g.DaysUntilDeadline(now); ok && days < 0 {
		g.Status = models.GrantClosed
	}
	classify(ctx, s.classifier, s.model, s.logger, &g, body)
	return g
}

// wpDate parses the REST API's site-local timestamp, falling back to now.
func wpDate(raw string, now time.Time) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", raw)
	if err != nil {
		return now
	}
	return t.UTC()
}
