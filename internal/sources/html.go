package sources

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

const (
	userAgent          = "Mozilla/5.0 (compatible; grant-desk/1.0; +https://github.com/david/grant-desk)"
	defaultPageTimeout = 30 * time.Second
	defaultPageDelay   = time.Second
)

var ErrNoListings = errors.New("no listings matched the container selector")

// listing is one item found on a listing page, enriched from its detail page.
type listing struct {
	title        string
	url          string
	summary      string
	description  string
	deadline     string
	amountText   string
	eligibility  []string
	requirements []string
	contact      string
}

// htmlStrategy crawls a listing page (and optionally each detail page) and
// turns what it finds into grants with the "real" provenance.
type htmlStrategy struct {
	cfg        SourceConfig
	classifier ai.ChatCompleter
	model      string
	delay      time.Duration
	sanitizer  *bluemonday.Policy
	logger     *zap.Logger
	now        func() time.Time
}

func (s *htmlStrategy) Fetch(ctx context.Context) ([]models.Grant, error) {
	start := s.cfg.BaseURL
	if s.cfg.ListingPath != "" {
		var err error
		if start, err = retrieval.JoinURL(s.cfg.BaseURL, s.cfg.ListingPath); err != nil {
			return nil, err
		}
	}
	items, err := s.crawl(ctx, start)
	if err != nil {
		return nil, err
	}

	out := make([]models.Grant, 0, len(items))
	for _, it := range items {
		g := s.toGrant(ctx, it)
		if err := g.Validate(); err != nil {
			s.logger.Warn("dropping scraped listing", zap.String("url", it.url), zap.Error(err))
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *htmlStrategy) collector(ctx context.Context, host string) *colly.Collector {
	return newCollector(ctx, host, s.delay, s.cfg.TimeoutSeconds)
}

// newCollector returns a polite single-host collector shared by the scraping
// strategies.
func newCollector(ctx context.Context, host string, delay time.Duration, timeoutSeconds int) *colly.Collector {
	c := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.UserAgent(userAgent),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
		RandomDelay: delay / 2,
	})
	timeout := defaultPageTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	c.SetRequestTimeout(timeout)
	return c
}

func (s *htmlStrategy) crawl(ctx context.Context, start string) ([]listing, error) {
	u, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("invalid listing URL: %w", err)
	}
	c := s.collector(ctx, u.Hostname())
	detail := c.Clone()

	sel := s.cfg.Selectors
	linkAttr := sel.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}

	var (
		items   []listing
		seen    = make(map[string]bool)
		nextURL string
		pageErr error
	)
	c.OnHTML(sel.Container, func(e *colly.HTMLElement) {
		title := normalizeSpace(e.ChildText(sel.Title))
		var link string
		if sel.Link == "" || sel.Link == "." {
			link = strings.TrimSpace(e.Attr(linkAttr))
		} else {
			link = strings.TrimSpace(e.ChildAttr(sel.Link, linkAttr))
		}
		if title == "" || link == "" {
			return
		}
		canonical := canonicalizeURL(e.Request.AbsoluteURL(link))
		if seen[canonical] {
			return
		}
		seen[canonical] = true
		it := listing{title: title, url: canonical}
		if sel.Content != "" {
			it.summary = normalizeSpace(e.ChildText(sel.Content))
		}
		if sel.Deadline != "" {
			it.deadline = normalizeSpace(e.ChildText(sel.Deadline))
		}
		items = append(items, it)
	})
	if s.cfg.Pagination.Next != "" {
		c.OnHTML(s.cfg.Pagination.Next, func(e *colly.HTMLElement) {
			nextURL = e.Request.AbsoluteURL(e.Attr("href"))
		})
	}
	c.OnRequest(func(r *colly.Request) {
		s.logger.Debug("visiting", zap.String("source", s.cfg.ID), zap.String("url", r.URL.String()))
	})
	c.OnError(func(r *colly.Response, err error) {
		pageErr = fmt.Errorf("fetch %s: %w", r.Request.URL, err)
	})

	maxPages := s.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	visited := make(map[string]bool)
	current := start
	for page := 0; page < maxPages && current != ""; page++ {
		canon := canonicalizeURL(current)
		if visited[canon] {
			s.logger.Warn("pagination cycle", zap.String("source", s.cfg.ID), zap.String("url", canon))
			break
		}
		visited[canon] = true
		nextURL = ""
		if err := c.Visit(current); err != nil && pageErr == nil {
			pageErr = fmt.Errorf("fetch %s: %w", current, err)
		}
		c.Wait()
		if pageErr != nil {
			break
		}
		current = nextURL
	}

	if len(items) == 0 {
		if pageErr != nil {
			return nil, pageErr
		}
		return nil, fmt.Errorf("source %s: %w", s.cfg.ID, ErrNoListings)
	}
	if pageErr != nil {
		s.logger.Warn("listing crawl stopped early", zap.String("source", s.cfg.ID), zap.Error(pageErr))
	}

	if s.cfg.Detail.Enabled {
		for i := range items {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := s.enrich(detail, &items[i]); err != nil {
				s.logger.Warn("detail fetch failed", zap.String("url", items[i].url), zap.Error(err))
			}
		}
	}
	return items, nil
}

// enrich fetches the listing's detail page and fills the detail fields.
func (s *htmlStrategy) enrich(base *colly.Collector, it *listing) error {
	var (
		enrichErr error
		enriched  bool
	)
	c := base.Clone()
	c.OnResponse(func(r *colly.Response) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			enrichErr = err
			return
		}
		s.extractDetail(doc, it)
		enriched = true
	})
	c.OnError(func(_ *colly.Response, err error) {
		enrichErr = err
	})
	if err := c.Visit(it.url); err != nil {
		return err
	}
	c.Wait()
	if enrichErr != nil {
		return enrichErr
	}
	if !enriched {
		return errors.New("no response received for detail page")
	}
	return nil
}

func (s *htmlStrategy) extractDetail(doc *goquery.Document, it *listing) {
	sel := s.cfg.Detail.Selectors
	container := doc.Selection
	if sel.Container != "" {
		if found := doc.Find(sel.Container); found.Length() > 0 {
			container = found
		}
	}

	if sel.Description != "" {
		if raw, err := container.Find(sel.Description).First().Html(); err == nil {
			it.description = normalizeSpace(s.sanitizer.Sanitize(raw))
		}
	}
	if sel.Deadline != "" {
		if text := normalizeSpace(container.Find(sel.Deadline).First().Text()); text != "" {
			it.deadline = text
		}
	}
	if sel.Amount != "" {
		it.amountText = normalizeSpace(container.Find(sel.Amount).First().Text())
	}
	it.eligibility = listItems(container, sel.Eligibility)
	it.requirements = listItems(container, sel.Requirements)
	if sel.Contact != "" {
		contact, _ := container.Find(sel.Contact).First().Attr("href")
		it.contact = strings.TrimPrefix(strings.TrimSpace(contact), "mailto:")
	}
}

func listItems(container *goquery.Selection, selector string) []string {
	if selector == "" {
		return nil
	}
	var lines []string
	container.Find(selector).Each(func(_ int, item *goquery.Selection) {
		lines = append(lines, item.Text())
	})
	return splitList(strings.Join(lines, "\n"))
}

func (s *htmlStrategy) toGrant(ctx context.Context, it listing) models.Grant {
	now := s.now().UTC()
	sum := sha1.Sum([]byte(it.url))

	description := it.description
	if description == "" {
		description = it.summary
	}
	g := models.Grant{
		ID:             models.GrantID(s.cfg.ID + "-" + hex.EncodeToString(sum[:])[:12]),
		Title:          it.title,
		Description:    description,
		Category:       s.cfg.Category,
		Deadline:       parseDeadline(it.deadline),
		Status:         models.GrantOpen,
		Eligibility:    it.eligibility,
		Requirements:   it.requirements,
		ApplicationURL: it.url,
		ContactInfo:    it.contact,
		Organization:   s.cfg.Organization,
		DataSource:     models.ProvenanceReal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if min, max := parseAmount(it.amountText); max > 0 {
		g.Amount = max
	} else {
		g.Amount = min
	}
	if days, ok := g.DaysUntilDeadline(now); ok && days < 0 {
		g.Status = models.GrantClosed
	}

	classify(ctx, s.classifier, s.model, s.logger, &g, description)
	return g
}

// classify lets the language model refine category and status. A listing
// already past its deadline stays closed.
func classify(ctx context.Context, llm ai.ChatCompleter, model string, logger *zap.Logger, g *models.Grant, description string) {
	if llm == nil {
		return
	}
	res, err := ai.ClassifyGrant(ctx, llm, model, g.Title, description)
	if err != nil {
		logger.Warn("classification failed", zap.String("grant_id", g.ID.String()), zap.Error(err))
		return
	}
	if res.Category != "" {
		g.Category = res.Category
	}
	if st := models.GrantStatus(res.Status); st.Valid() && g.Status != models.GrantClosed {
		g.Status = st
	}
}

// canonicalizeURL drops fragments and tracking parameters so the same page
// always hashes to the same grant id.
func canonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, k := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "ref"} {
		q.Del(k)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
