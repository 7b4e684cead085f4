package grants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

type sourceFunc func(ctx context.Context) ([]models.Grant, error)

func (f sourceFunc) Fetch(ctx context.Context) ([]models.Grant, error) { return f(ctx) }

func serving(grants ...models.Grant) sourceFunc {
	return func(context.Context) ([]models.Grant, error) { return grants, nil }
}

func failing(msg string) sourceFunc {
	return func(context.Context) ([]models.Grant, error) { return nil, errors.New(msg) }
}

type fakeUpstream struct {
	search     []models.Grant
	grant      *models.Grant
	categories []string
	recs       []models.Recommendation
	err        error
}

func (f *fakeUpstream) Search(context.Context, models.SearchFilters) ([]models.Grant, error) {
	return f.search, f.err
}

func (f *fakeUpstream) Grant(context.Context, models.GrantID) (*models.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grant, nil
}

func (f *fakeUpstream) Categories(context.Context) ([]string, error) { return f.categories, f.err }

func (f *fakeUpstream) Recommendations(context.Context, models.RecommendationProfile) ([]models.Recommendation, error) {
	return f.recs, f.err
}

type discoverySpy struct {
	found []int
	tiers []string
}

func (d *discoverySpy) TrackGrantDiscovery(found int, tier string) {
	d.found = append(d.found, found)
	d.tiers = append(d.tiers, tier)
}

type fakeEmbedder struct{ calls int }

func (e *fakeEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	e.calls++
	return []float32{0.1, 0.2}, nil
}

type fakeIndex struct{ limit int }

func (i *fakeIndex) SimilarGrants(_ context.Context, _ []float32, limit int) ([]models.Recommendation, error) {
	i.limit = limit
	return []models.Recommendation{{Grant: models.Grant{ID: "x", Title: "Synced"}, MatchScore: 0.8}}, nil
}

func score(v float64) *float64 { return &v }

var catalogue = []models.Grant{
	{ID: "1", Title: "Documentary Development", Category: "Documentary", Amount: 40000, Deadline: "2026-11-01", Status: models.GrantOpen, PriorityScore: score(8.5)},
	{ID: "2", Title: "Music Touring", Category: "Music", Amount: 15000, Deadline: "2026-10-25", Status: models.GrantOpen, PriorityScore: score(6)},
	{ID: "3", Title: "Regional Arts", Category: "Regional Arts", Amount: 5000, Deadline: "2027-03-01", Status: models.GrantPlanning},
	{ID: "4", Title: "Past Fund", Category: "Music", Amount: 1000, Deadline: "2026-01-01", Status: models.GrantClosed, PriorityScore: score(9)},
}

func newService(primary, fallback retrieval.Source[[]models.Grant], d Deps) *Service {
	d.Coordinator = retrieval.NewCoordinator[[]models.Grant](primary, fallback, nil, "grants", zap.NewNop())
	s := NewService(d)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC) }
	return s
}

func TestList_RecordsDiscovery(t *testing.T) {
	spy := &discoverySpy{}
	s := newService(serving(catalogue...), failing("down"), Deps{Metrics: spy})

	res, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, retrieval.TierPrimary, res.Source)
	assert.Equal(t, 95, res.Reliability)
	assert.Len(t, res.Data, 4)
	assert.Equal(t, []int{4}, spy.found)
	assert.Equal(t, []string{"primary"}, spy.tiers)
}

func TestSearch_UpstreamFirst(t *testing.T) {
	up := &fakeUpstream{search: []models.Grant{catalogue[0]}}
	s := newService(failing("unused"), failing("unused"), Deps{Upstream: up})

	res, err := s.Search(context.Background(), models.SearchFilters{Category: "Documentary"})
	require.NoError(t, err)
	assert.Equal(t, retrieval.TierPrimary, res.Source)
	assert.Len(t, res.Data, 1)
	assert.Empty(t, res.Errors)
}

func TestSearch_FiltersLocallyWhenUpstreamFails(t *testing.T) {
	up := &fakeUpstream{err: errors.New("HTTP 502")}
	s := newService(failing("primary down"), serving(catalogue...), Deps{Upstream: up})

	res, err := s.Search(context.Background(), models.SearchFilters{Category: "music", MinAmount: 10000})
	require.NoError(t, err)
	assert.Equal(t, retrieval.TierFallback, res.Source)
	assert.Equal(t, 70, res.Reliability)
	require.Len(t, res.Data, 1)
	assert.Equal(t, models.GrantID("2"), res.Data[0].ID)
	assert.Contains(t, res.Errors, "HTTP 502")
	assert.Len(t, res.Errors, 3)
}

func TestSearch_AllTiersFail(t *testing.T) {
	up := &fakeUpstream{err: errors.New("HTTP 502")}
	s := newService(failing("primary down"), failing("fallback down"), Deps{Upstream: up})

	res, err := s.Search(context.Background(), models.SearchFilters{})
	require.Error(t, err)
	assert.Empty(t, res.Data)
	var exhausted *retrieval.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestGet(t *testing.T) {
	up := &fakeUpstream{err: models.ErrNotFound}
	s := newService(serving(catalogue...), failing("down"), Deps{Upstream: up})

	g, err := s.Get(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "Regional Arts", g.Title)

	_, err = s.Get(context.Background(), "404")
	assert.ErrorIs(t, err, models.ErrNotFound)

	up.err = nil
	up.grant = &catalogue[1]
	g, err = s.Get(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "Music Touring", g.Title)
}

func TestCategories_LocalFallbackIsSortedAndDistinct(t *testing.T) {
	s := newService(serving(catalogue...), failing("down"), Deps{Upstream: &fakeUpstream{err: errors.New("HTTP 500")}})

	cats, err := s.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Documentary", "Music", "Regional Arts"}, cats)
}

func TestRecommendations(t *testing.T) {
	up := &fakeUpstream{err: errors.New("HTTP 500")}
	profile := models.RecommendationProfile{Mission: "regional storytelling", Focus: []string{"documentary"}}

	bare := newService(serving(), failing("down"), Deps{Upstream: up})
	_, err := bare.Recommendations(context.Background(), profile)
	assert.ErrorIs(t, err, ErrRecommendationsUnavailable)

	emb, idx := &fakeEmbedder{}, &fakeIndex{}
	s := newService(serving(), failing("down"), Deps{Upstream: up, Embedder: emb, Index: idx})
	recs, err := s.Recommendations(context.Background(), profile)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Synced", recs[0].Grant.Title)
	assert.Equal(t, DefaultRecommendLimit, idx.limit)
	assert.Equal(t, 1, emb.calls)

	up.err = nil
	up.recs = []models.Recommendation{{Grant: catalogue[0]}}
	recs, err = s.Recommendations(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, "Documentary Development", recs[0].Grant.Title)
	assert.Equal(t, 1, emb.calls)
}

func TestHighPriority(t *testing.T) {
	s := newService(serving(catalogue...), failing("down"), Deps{})

	res, err := s.HighPriority(context.Background())
	require.NoError(t, err)
	ids := []models.GrantID{}
	for _, g := range res.Data {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []models.GrantID{"1", "4"}, ids)
}

func TestClosingSoon(t *testing.T) {
	s := newService(serving(catalogue...), failing("down"), Deps{})

	res, err := s.ClosingSoon(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, models.GrantID("2"), res.Data[0].ID)
	assert.Equal(t, models.GrantID("1"), res.Data[1].ID)
}

func TestRefreshBypassesCache(t *testing.T) {
	calls := 0
	primary := sourceFunc(func(context.Context) ([]models.Grant, error) {
		calls++
		return catalogue, nil
	})
	s := newService(primary, failing("down"), Deps{})

	_, err := s.List(context.Background())
	require.NoError(t, err)
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
