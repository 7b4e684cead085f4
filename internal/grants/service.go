// Package grants answers grant queries from the tiered retrieval coordinator,
// the upstream search endpoints and the locally synced catalogue.
package grants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

const (
	HighPriorityThreshold = 7.0
	ClosingSoonDays       = 30
	DefaultRecommendLimit = 10
)

var ErrRecommendationsUnavailable = errors.New("recommendations unavailable")

// Upstream is the authenticated backend surface beyond the grants list.
type Upstream interface {
	Search(ctx context.Context, filters models.SearchFilters) ([]models.Grant, error)
	Grant(ctx context.Context, id models.GrantID) (*models.Grant, error)
	Categories(ctx context.Context) ([]string, error)
	Recommendations(ctx context.Context, profile models.RecommendationProfile) ([]models.Recommendation, error)
}

// VectorIndex finds synced grants close to an embedding.
type VectorIndex interface {
	SimilarGrants(ctx context.Context, embedding []float32, limit int) ([]models.Recommendation, error)
}

type DiscoveryRecorder interface {
	TrackGrantDiscovery(found int, tier string)
}

type Deps struct {
	Coordinator *retrieval.Coordinator[[]models.Grant]
	Upstream    Upstream
	Embedder    ai.Embedder
	Index       VectorIndex
	Metrics     DiscoveryRecorder
	Logger      *zap.Logger
}

type Service struct {
	coord    *retrieval.Coordinator[[]models.Grant]
	upstream Upstream
	embedder ai.Embedder
	index    VectorIndex
	metrics  DiscoveryRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		coord:    d.Coordinator,
		upstream: d.Upstream,
		embedder: d.Embedder,
		index:    d.Index,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// List returns the full grant list from the first tier that answers.
func (s *Service) List(ctx context.Context) (retrieval.Result[[]models.Grant], error) {
	res, err := s.coord.Fetch(ctx)
	if err != nil {
		s.logger.Error("all grant sources failed", zap.Error(err))
		return res, err
	}
	s.recordDiscovery(len(res.Data), res.Source)
	return res, nil
}

func (s *Service) recordDiscovery(found int, tier retrieval.Tier) {
	if s.metrics != nil {
		s.metrics.TrackGrantDiscovery(found, string(tier))
	}
}

// Search asks the upstream first. If that fails the full list is filtered
// locally and the upstream error is appended to the result's Errors.
func (s *Service) Search(ctx context.Context, filters models.SearchFilters) (retrieval.Result[[]models.Grant], error) {
	var upstreamErr error
	if s.upstream != nil {
		grants, err := s.upstream.Search(ctx, filters)
		if err == nil {
			s.recordDiscovery(len(grants), retrieval.TierPrimary)
			return retrieval.Result[[]models.Grant]{
				Data:        grants,
				Source:      retrieval.TierPrimary,
				Reliability: retrieval.ReliabilityPrimary,
				Timestamp:   s.now(),
				Errors:      []string{},
			}, nil
		}
		upstreamErr = err
		s.logger.Warn("upstream search failed, filtering locally", zap.Error(err))
	}

	res, err := s.List(ctx)
	if err != nil {
		if upstreamErr != nil {
			return res, fmt.Errorf("search: %w", multierr.Combine(upstreamErr, err))
		}
		return res, err
	}
	res.Data = models.FilterGrants(res.Data, filters)
	if upstreamErr != nil {
		res.Errors = append(res.Errors, upstreamErr.Error())
	}
	return res, nil
}

// Get returns one grant, from the upstream when possible and otherwise from
// the full list.
func (s *Service) Get(ctx context.Context, id models.GrantID) (*models.Grant, error) {
	var upstreamErr error
	if s.upstream != nil {
		g, err := s.upstream.Grant(ctx, id)
		if err == nil {
			return g, nil
		}
		upstreamErr = err
	}

	res, err := s.List(ctx)
	if err != nil {
		return nil, multierr.Combine(upstreamErr, err)
	}
	for i := range res.Data {
		if res.Data[i].ID == id {
			g := res.Data[i]
			return &g, nil
		}
	}
	return nil, fmt.Errorf("grant %s: %w", id, models.ErrNotFound)
}

// Categories returns the upstream categories, or the sorted distinct
// categories of the full list.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	var upstreamErr error
	if s.upstream != nil {
		cats, err := s.upstream.Categories(ctx)
		if err == nil {
			return cats, nil
		}
		upstreamErr = err
	}
	res, err := s.List(ctx)
	if err != nil {
		return nil, multierr.Combine(upstreamErr, err)
	}
	seen := make(map[string]bool)
	cats := []string{}
	for _, g := range res.Data {
		c := strings.TrimSpace(g.Category)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats, nil
}

// Recommendations asks the upstream, then falls back to vector similarity
// over the synced catalogue when an embedder and index are configured.
func (s *Service) Recommendations(ctx context.Context, profile models.RecommendationProfile) ([]models.Recommendation, error) {
	var upstreamErr error
	if s.upstream != nil {
		recs, err := s.upstream.Recommendations(ctx, profile)
		if err == nil {
			return recs, nil
		}
		upstreamErr = err
		s.logger.Warn("upstream recommendations failed", zap.Error(err))
	}
	if s.embedder == nil || s.index == nil {
		return nil, multierr.Combine(ErrRecommendationsUnavailable, upstreamErr)
	}

	text := profile.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: profile is empty", ErrRecommendationsUnavailable)
	}
	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, multierr.Combine(ErrRecommendationsUnavailable, upstreamErr, fmt.Errorf("embed profile: %w", err))
	}
	limit := profile.Limit
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}
	recs, err := s.index.SimilarGrants(ctx, vec, limit)
	if err != nil {
		return nil, multierr.Combine(ErrRecommendationsUnavailable, upstreamErr, err)
	}
	return recs, nil
}

// HighPriority keeps grants whose priority score is above the threshold.
func (s *Service) HighPriority(ctx context.Context) (retrieval.Result[[]models.Grant], error) {
	res, err := s.List(ctx)
	if err != nil {
		return res, err
	}
	out := make([]models.Grant, 0, len(res.Data))
	for _, g := range res.Data {
		if g.PriorityScore != nil && *g.PriorityScore > HighPriorityThreshold {
			out = append(out, g)
		}
	}
	res.Data = out
	return res, nil
}

// ClosingSoon keeps grants due between today and ClosingSoonDays from now,
// earliest first.
func (s *Service) ClosingSoon(ctx context.Context) (retrieval.Result[[]models.Grant], error) {
	res, err := s.List(ctx)
	if err != nil {
		return res, err
	}
	now := s.now()
	out := make([]models.Grant, 0, len(res.Data))
	for _, g := range res.Data {
		days, ok := g.DaysUntilDeadline(now)
		if ok && days >= 0 && days <= ClosingSoonDays {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].DeadlineTime()
		b, _ := out[j].DeadlineTime()
		return a.Before(b)
	})
	res.Data = out
	return res, nil
}

func (s *Service) Health(ctx context.Context) retrieval.Health {
	return s.coord.Health(ctx)
}

func (s *Service) Refresh(ctx context.Context) (retrieval.Result[[]models.Grant], error) {
	res, err := s.coord.Refresh(ctx)
	if err == nil {
		s.recordDiscovery(len(res.Data), res.Source)
	}
	return res, err
}

func (s *Service) ClearCache() {
	s.coord.ClearCache()
}
