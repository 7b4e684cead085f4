package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

type grantsEnvelope struct {
	Grants *[]models.Grant `json:"grants"`
}

// DecodeGrants returns a decoder for `{"grants": [...]}` bodies. A missing or
// non-array `grants` field and any invalid record are shape errors. Records
// without a data_source are stamped with provenance.
func DecodeGrants(provenance models.Provenance) retrieval.Decoder[[]models.Grant] {
	return func(body []byte) ([]models.Grant, error) {
		var env grantsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", retrieval.ErrUnexpectedShape, err)
		}
		if env.Grants == nil {
			return nil, fmt.Errorf("%w: grants array missing", retrieval.ErrUnexpectedShape)
		}
		return checkGrants(*env.Grants, provenance)
	}
}

func checkGrants(grants []models.Grant, provenance models.Provenance) ([]models.Grant, error) {
	for i := range grants {
		if err := grants[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: grant %d: %v", retrieval.ErrUnexpectedShape, i, err)
		}
		if grants[i].DataSource == "" {
			grants[i].DataSource = provenance
		}
	}
	return grants, nil
}

// Search runs the upstream filtered search.
func (c *Client) Search(ctx context.Context, filters models.SearchFilters) ([]models.Grant, error) {
	var env grantsEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/grants/search", filters, &env); err != nil {
		return nil, fmt.Errorf("search grants: %w", err)
	}
	if env.Grants == nil {
		return nil, fmt.Errorf("search grants: %w: grants array missing", retrieval.ErrUnexpectedShape)
	}
	return checkGrants(*env.Grants, models.ProvenanceAPI)
}

func (c *Client) Grant(ctx context.Context, id models.GrantID) (*models.Grant, error) {
	var g models.Grant
	if err := c.do(ctx, http.MethodGet, "/api/grants/"+url.PathEscape(id.String()), nil, &g); err != nil {
		return nil, fmt.Errorf("get grant %s: %w", id, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("get grant %s: %w: %v", id, retrieval.ErrUnexpectedShape, err)
	}
	if g.DataSource == "" {
		g.DataSource = models.ProvenanceAPI
	}
	return &g, nil
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var env struct {
		Categories *[]string `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/grants/categories", nil, &env); err != nil {
		return nil, fmt.Errorf("grant categories: %w", err)
	}
	if env.Categories == nil {
		return nil, fmt.Errorf("grant categories: %w: categories array missing", retrieval.ErrUnexpectedShape)
	}
	return *env.Categories, nil
}

func (c *Client) Recommendations(ctx context.Context, profile models.RecommendationProfile) ([]models.Recommendation, error) {
	var env struct {
		Recommendations *[]models.Recommendation `json:"recommendations"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/grants/recommendations", profile, &env); err != nil {
		return nil, fmt.Errorf("grant recommendations: %w", err)
	}
	if env.Recommendations == nil {
		return nil, fmt.Errorf("grant recommendations: %w: recommendations array missing", retrieval.ErrUnexpectedShape)
	}
	return *env.Recommendations, nil
}
