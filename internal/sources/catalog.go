package sources

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

// catalogEntry is one hand-curated grant in catalog.yaml.
type catalogEntry struct {
	Slug         string             `yaml:"slug"`
	Title        string             `yaml:"title"`
	Description  string             `yaml:"description"`
	Amount       float64            `yaml:"amount"`
	Category     string             `yaml:"category"`
	Deadline     string             `yaml:"deadline"`
	Status       models.GrantStatus `yaml:"status"`
	Eligibility  []string           `yaml:"eligibility"`
	Requirements []string           `yaml:"requirements"`
	SuccessScore float64            `yaml:"success_score"`
	Path         string             `yaml:"path"`
	Contact      string             `yaml:"contact"`
}

type catalog map[string][]catalogEntry

func parseCatalog(data []byte) (catalog, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

// catalogStrategy serves the curated entries for one source. Records carry
// the "mock" provenance so they are never mistaken for scraped data.
type catalogStrategy struct {
	cfg     SourceConfig
	entries []catalogEntry
	now     func() time.Time
}

func (s *catalogStrategy) Fetch(_ context.Context) ([]models.Grant, error) {
	if len(s.entries) == 0 {
		return nil, fmt.Errorf("source %s: no catalog entries", s.cfg.ID)
	}
	now := s.now().UTC()
	out := make([]models.Grant, 0, len(s.entries))
	for _, e := range s.entries {
		g := models.Grant{
			ID:           models.GrantID(s.cfg.ID + "-" + e.Slug),
			Title:        e.Title,
			Description:  e.Description,
			Amount:       e.Amount,
			Category:     e.Category,
			Deadline:     e.Deadline,
			Status:       e.Status,
			Eligibility:  e.Eligibility,
			Requirements: e.Requirements,
			ContactInfo:  e.Contact,
			Organization: s.cfg.Organization,
			DataSource:   models.ProvenanceMock,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if e.SuccessScore > 0 {
			score := e.SuccessScore
			g.SuccessScore = &score
		}
		if e.Path != "" {
			if u, err := retrieval.JoinURL(s.cfg.BaseURL, e.Path); err == nil {
				g.ApplicationURL = u
			}
		}
		if g.Status == "" {
			g.Status = models.GrantOpen
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", s.cfg.ID, err)
		}
		out = append(out, g)
	}
	return out, nil
}
