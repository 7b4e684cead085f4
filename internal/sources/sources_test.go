package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var fixedNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestParseAmount(t *testing.T) {
	tests := []struct {
		text     string
		min, max float64
	}{
		{"Up to $50,000", 0, 50000},
		{"$5,000 - $20,000", 5000, 20000},
		{"Minimum $2,500 per project", 2500, 0},
		{"Grants of 1.5 million available", 0, 1500000},
		{"Between 10k and 25k", 10000, 25000},
		{"Funding varies", 0, 0},
		{"", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			min, max := parseAmount(tt.text)
			assert.Equal(t, tt.min, min)
			assert.Equal(t, tt.max, max)
		})
	}
}

func TestParseDeadline(t *testing.T) {
	tests := map[string]string{
		"2027-03-15":                       "2027-03-15",
		"Closes: 15 March 2027":            "2027-03-15",
		"Closing 1st April 2027 5pm AEST":  "2027-04-01",
		"Applications close June 30, 2027": "2027-06-30",
		"Deadline 02/05/2027":              "2027-05-02",
		"Ongoing":                          "",
		"":                                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseDeadline(in), in)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList("1. Australian citizens\n- Registered ABN\n\n  * australian citizens\n2) Track record")
	assert.Equal(t, []string{"Australian citizens", "Registered ABN", "Track record"}, got)
}

func TestLoadRegistry_Embedded(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	require.Len(t, reg.Sources, 5)

	enabled := 0
	for _, s := range reg.Sources {
		if s.Enabled {
			enabled++
			assert.Equal(t, StrategyCatalog, s.Strategy, s.ID)
		}
	}
	assert.Equal(t, 4, enabled)
}

func TestParseRegistry(t *testing.T) {
	t.Setenv("FUNDER_URL", "https://funder.example")
	reg, err := ParseRegistry([]byte(`
sources:
  - id: funder
    name: Funder
    base_url: ${FUNDER_URL}
    strategy: catalog
`))
	require.NoError(t, err)
	assert.Equal(t, "https://funder.example", reg.Sources[0].BaseURL)

	bad := map[string]string{
		"duplicate id": `
sources:
  - {id: a, base_url: "https://a", strategy: catalog}
  - {id: a, base_url: "https://a", strategy: catalog}`,
		"unknown strategy": `
sources:
  - {id: a, base_url: "https://a", strategy: rss}`,
		"html without container": `
sources:
  - {id: a, base_url: "https://a", strategy: html}`,
		"missing base url": `
sources:
  - {id: a, strategy: catalog}`,
		"not yaml": `sources: [`,
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidRegistry)
		})
	}
}

func newTestManager(t *testing.T, reg *Registry, opts Options) *Manager {
	t.Helper()
	if reg == nil {
		var err error
		reg, err = LoadRegistry("")
		require.NoError(t, err)
	}
	opts.Now = clock
	opts.PageDelay = -1
	m, err := NewManager(reg, opts)
	require.NoError(t, err)
	return m
}

func TestFetchFromSource_Catalog(t *testing.T) {
	m := newTestManager(t, nil, Options{})

	res := m.FetchFromSource(context.Background(), "screen-australia")
	require.True(t, res.Success, res.Errors)
	require.Len(t, res.Grants, 2)

	g := res.Grants[0]
	assert.Equal(t, models.GrantID("screen-australia-documentary-development"), g.ID)
	assert.Equal(t, models.ProvenanceMock, g.DataSource)
	assert.Equal(t, "Screen Australia", g.Organization)
	assert.Equal(t, "https://www.screenaustralia.gov.au/funding/documentary-development", g.ApplicationURL)
	require.NotNil(t, g.SuccessScore)
	assert.Equal(t, 0.85, *g.SuccessScore)
	assert.Equal(t, fixedNow, res.Timestamp)

	assert.Equal(t, Stats{TotalSources: 5, EnabledSources: 4, TotalGrants: 2}, m.Stats())
}

func TestFetchFromSource_UnknownOrDisabled(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	ctx := context.Background()

	res := m.FetchFromSource(ctx, "nope")
	assert.False(t, res.Success)
	assert.Empty(t, res.Grants)
	assert.Equal(t, []string{"Source nope not found or disabled"}, res.Errors)

	res = m.FetchFromSource(ctx, "screen-australia-live")
	assert.False(t, res.Success)

	require.NoError(t, m.Toggle("vicscreen", false))
	assert.False(t, m.FetchFromSource(ctx, "vicscreen").Success)
	assert.Len(t, m.Sources(), 3)
	assert.Len(t, m.All(), 5)

	assert.ErrorIs(t, m.Toggle("nope", true), ErrUnknownSource)
}

type memStore struct {
	mu         sync.Mutex
	grants     map[string][]models.Grant
	embeddings int
}

func (s *memStore) UpsertGrants(_ context.Context, sourceID string, grants []models.Grant, embeddings [][]float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants == nil {
		s.grants = make(map[string][]models.Grant)
	}
	s.grants[sourceID] = grants
	s.embeddings += len(embeddings)
	return len(grants), nil
}

type runLog struct {
	mu       sync.Mutex
	started  []string
	finished []models.SyncRun
}

func (r *runLog) StartRun(_ context.Context, sourceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, sourceID)
	return fmt.Sprintf("run-%d", len(r.started)), nil
}

func (r *runLog) FinishRun(_ context.Context, run models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
	return nil
}

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	e.calls++
	return []float32{1, 0, 0}, nil
}

func TestSyncAll(t *testing.T) {
	store, runs, emb := &memStore{}, &runLog{}, &countingEmbedder{}
	m := newTestManager(t, nil, Options{Store: store, Runs: runs, Embedder: emb})

	reports, err := m.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 4)

	assert.Equal(t, []string{"screen-australia", "creative-australia", "vicscreen", "regional-arts-fund"}, runs.started)
	saved := 0
	for _, r := range reports {
		saved += r.Saved
	}
	assert.Equal(t, 5, saved)
	assert.Equal(t, 5, emb.calls)
	assert.Equal(t, 5, store.embeddings)

	require.Len(t, runs.finished, 4)
	for _, run := range runs.finished {
		assert.Equal(t, models.RunCompleted, run.Status)
		assert.NotNil(t, run.CompletedAt)
	}

	status := m.LastSync()
	require.NotNil(t, status.LastSync)
	assert.Equal(t, fixedNow, *status.LastSync)
	assert.Equal(t, 4, status.SourcesSynced)
	assert.Equal(t, 5, status.TotalSources)
}

func TestSyncAll_ContinuesPastFailure(t *testing.T) {
	reg, err := ParseRegistry([]byte(`
sources:
  - {id: empty, name: Empty, base_url: "https://empty.example", strategy: catalog, enabled: true}
  - {id: vicscreen, name: VicScreen, base_url: "https://vicscreen.vic.gov.au", strategy: catalog, enabled: true}
`))
	require.NoError(t, err)
	runs := &runLog{}
	m := newTestManager(t, reg, Options{Store: &memStore{}, Runs: runs})

	reports, err := m.SyncAll(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Contains(t, err.Error(), "source empty")
	require.Len(t, reports, 2)
	assert.False(t, reports[0].Success)
	assert.True(t, reports[1].Success)
	assert.Equal(t, 1, reports[1].Saved)

	require.Len(t, runs.finished, 2)
	assert.Equal(t, models.RunFailed, runs.finished[0].Status)
	assert.NotEmpty(t, runs.finished[0].Error)
	assert.Equal(t, models.RunCompleted, runs.finished[1].Status)
}

const listingPage = `<html><body>
<div class="funding-listing">
  <div class="card"><h3>Documentary Development</h3><a href="/grants/doc-dev?utm_source=feed">More</a>
    <p class="card-summary">Early stage documentary support.</p></div>
  <div class="card"><h3>Closed Fund</h3><a href="/grants/closed">More</a>
    <p class="card-deadline">Closed 1 March 2026</p></div>
  <div class="card"><h3></h3><a href="/grants/untitled">More</a></div>
</div>
<a class="pagination-next" href="/grants?page=2">Next</a>
</body></html>`

const listingPage2 = `<html><body>
<div class="funding-listing">
  <div class="card"><h3>Documentary Development</h3><a href="/grants/doc-dev">More</a></div>
  <div class="card"><h3>First Nations Screen</h3><a href="/grants/first-nations">More</a></div>
</div>
<a class="pagination-next" href="/grants">Back to start</a>
</body></html>`

const docDevPage = `<html><body><main>
<div class="content-body"><p>Support for <b>research</b> and scripting.</p><script>alert(1)</script></div>
<p class="key-dates">Closes: 15 March 2027</p>
<p class="funding-amount">Up to $50,000</p>
<ul class="eligibility"><li>Australian citizens</li><li>Registered ABN</li></ul>
<ul class="requirements"><li>1. Treatment</li><li>2. Budget</li></ul>
<a href="mailto:docs@funder.example">Email us</a>
</main></body></html>`

func fundingSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/grants", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, listingPage2)
			return
		}
		fmt.Fprint(w, listingPage)
	})
	mux.HandleFunc("/grants/doc-dev", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, docDevPage)
	})
	mux.HandleFunc("/grants/closed", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><main><div class="content-body">No longer open.</div></main></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func htmlSource(baseURL string) *Registry {
	return &Registry{Sources: []SourceConfig{{
		ID:           "funder",
		Name:         "Funder",
		BaseURL:      baseURL,
		ListingPath:  "/grants",
		Organization: "Funder Org",
		Category:     "Documentary",
		Strategy:     StrategyHTML,
		Enabled:      true,
		MaxPages:     5,
		Selectors: SelectorConfig{
			Container: ".funding-listing .card",
			Title:     "h3",
			Link:      "a",
			Content:   ".card-summary",
			Deadline:  ".card-deadline",
		},
		Pagination: PaginationConfig{Next: "a.pagination-next"},
		Detail: DetailConfig{
			Enabled: true,
			Selectors: DetailSelectorConfig{
				Container:    "main",
				Description:  ".content-body",
				Deadline:     ".key-dates",
				Amount:       ".funding-amount",
				Eligibility:  ".eligibility li",
				Requirements: ".requirements li",
				Contact:      `a[href^="mailto:"]`,
			},
		},
	}}}
}

func byTitle(grants []models.Grant) map[string]models.Grant {
	out := make(map[string]models.Grant, len(grants))
	for _, g := range grants {
		out[g.Title] = g
	}
	return out
}

func TestHTMLStrategy(t *testing.T) {
	srv := fundingSite(t)
	m := newTestManager(t, htmlSource(srv.URL), Options{})

	res := m.FetchFromSource(context.Background(), "funder")
	require.True(t, res.Success, res.Errors)
	require.Len(t, res.Grants, 3)
	got := byTitle(res.Grants)

	doc := got["Documentary Development"]
	assert.True(t, strings.HasPrefix(doc.ID.String(), "funder-"))
	assert.Equal(t, models.ProvenanceReal, doc.DataSource)
	assert.Equal(t, srv.URL+"/grants/doc-dev", doc.ApplicationURL)
	assert.Equal(t, "Support for research and scripting.", doc.Description)
	assert.Equal(t, "2027-03-15", doc.Deadline)
	assert.Equal(t, 50000.0, doc.Amount)
	assert.Equal(t, []string{"Australian citizens", "Registered ABN"}, doc.Eligibility)
	assert.Equal(t, []string{"Treatment", "Budget"}, doc.Requirements)
	assert.Equal(t, "docs@funder.example", doc.ContactInfo)
	assert.Equal(t, models.GrantOpen, doc.Status)
	assert.Equal(t, "Documentary", doc.Category)

	closed := got["Closed Fund"]
	assert.Equal(t, "2026-03-01", closed.Deadline)
	assert.Equal(t, models.GrantClosed, closed.Status)

	// Detail page 404s; the listing still becomes a grant.
	nations := got["First Nations Screen"]
	assert.Equal(t, "Funder Org", nations.Organization)
	assert.Zero(t, nations.Amount)
}

func TestHTMLStrategy_StableIDs(t *testing.T) {
	srv := fundingSite(t)
	m := newTestManager(t, htmlSource(srv.URL), Options{})

	first := byTitle(m.FetchFromSource(context.Background(), "funder").Grants)
	second := byTitle(m.FetchFromSource(context.Background(), "funder").Grants)
	assert.Equal(t, first["Documentary Development"].ID, second["Documentary Development"].ID)
	assert.NotEqual(t, first["Documentary Development"].ID, first["Closed Fund"].ID)
}

type classifierStub struct{ reply string }

func (c classifierStub) Complete(context.Context, ai.ChatRequest) (string, error) {
	return c.reply, nil
}

func TestHTMLStrategy_Classifier(t *testing.T) {
	srv := fundingSite(t)
	stub := classifierStub{reply: `{"category": "film & television", "status": "planning"}`}
	m := newTestManager(t, htmlSource(srv.URL), Options{Classifier: stub})

	res := m.FetchFromSource(context.Background(), "funder")
	require.True(t, res.Success, res.Errors)
	got := byTitle(res.Grants)

	assert.Equal(t, "Film & Television", got["Documentary Development"].Category)
	assert.Equal(t, models.GrantPlanning, got["Documentary Development"].Status)
	assert.Equal(t, models.GrantClosed, got["Closed Fund"].Status)
}

func TestHTMLStrategy_NoListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body><p>Maintenance</p></body></html>")
	}))
	defer srv.Close()
	m := newTestManager(t, htmlSource(srv.URL), Options{})

	res := m.FetchFromSource(context.Background(), "funder")
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], ErrNoListings.Error())
}

func TestHTMLStrategy_ListingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	m := newTestManager(t, htmlSource(srv.URL), Options{})

	res := m.FetchFromSource(context.Background(), "funder")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func wpSource(baseURL string) *Registry {
	return &Registry{Sources: []SourceConfig{{
		ID:           "arts-wp",
		Name:         "Arts Council",
		BaseURL:      baseURL,
		Organization: "Arts Council",
		Category:     "Arts & Culture",
		Strategy:     StrategyWordPress,
		Enabled:      true,
	}}}
}

func wpPostJSON(id int, link, title, content, excerpt string) string {
	return fmt.Sprintf(`{"id":%d,"date":"2026-09-01T10:00:00","link":%q,"title":{"rendered":%q},"content":{"rendered":%q},"excerpt":{"rendered":%q}}`,
		id, link, title, content, excerpt)
}

func TestWordPressStrategy(t *testing.T) {
	var pages []string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s,%s,%s]",
			wpPostJSON(11, srv.URL+"/screen-story-fund?utm_source=news", "Screen &amp; Story Fund",
				"<p>Grants of up to $30,000 are available in 2027.</p><p>Applications close 15 March 2027 at 5pm.</p>",
				"<p>Support for <em>new</em> screen stories.</p>"),
			wpPostJSON(12, srv.URL+"/closed-round", "Closed Round",
				"<p>Applications closed 1 March 2026 at noon. Awards from $5,000 to $20,000.</p>", ""),
			wpPostJSON(13, srv.URL+"/untitled", "", "<p>Draft</p>", ""),
		)
	})

	m := newTestManager(t, wpSource(srv.URL), Options{})
	res := m.FetchFromSource(context.Background(), "arts-wp")
	require.True(t, res.Success, res.Errors)
	assert.Equal(t, []string{"1"}, pages, "a short page ends pagination")
	require.Len(t, res.Grants, 2, "posts without a title are dropped")
	got := byTitle(res.Grants)

	fund := got["Screen & Story Fund"]
	assert.Equal(t, models.GrantID("arts-wp-wp-11"), fund.ID)
	assert.Equal(t, "Support for new screen stories.", fund.Description)
	assert.Equal(t, srv.URL+"/screen-story-fund", fund.ApplicationURL)
	assert.Equal(t, "2027-03-15", fund.Deadline)
	assert.Equal(t, 30000.0, fund.Amount)
	assert.Equal(t, models.GrantOpen, fund.Status)
	assert.Equal(t, models.ProvenanceReal, fund.DataSource)
	assert.Equal(t, "Arts & Culture", fund.Category)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), fund.CreatedAt)

	closed := got["Closed Round"]
	assert.Equal(t, "2026-03-01", closed.Deadline)
	assert.Equal(t, models.GrantClosed, closed.Status)
	assert.Equal(t, 20000.0, closed.Amount)
}

func TestWordPressStrategy_Pagination(t *testing.T) {
	var served []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wp/v2/grant", r.URL.Path)
		page := r.URL.Query().Get("page")
		served = append(served, page)
		if page != "1" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":"rest_post_invalid_page_number"}`)
			return
		}
		posts := make([]string, 0, wpPerPage)
		for i := 1; i <= wpPerPage; i++ {
			posts = append(posts, wpPostJSON(i, fmt.Sprintf("http://example.org/g/%d", i), fmt.Sprintf("Grant %d", i), "", ""))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(posts, ","))
	}))
	defer srv.Close()

	reg := wpSource(srv.URL)
	reg.Sources[0].ListingPath = "/wp-json/wp/v2/grant"
	m := newTestManager(t, reg, Options{})

	res := m.FetchFromSource(context.Background(), "arts-wp")
	require.True(t, res.Success, res.Errors)
	assert.Len(t, res.Grants, wpPerPage)
	assert.Equal(t, []string{"1", "2"}, served)
}

func TestWordPressStrategy_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	m := newTestManager(t, wpSource(srv.URL), Options{})

	res := m.FetchFromSource(context.Background(), "arts-wp")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func TestWordPressStrategy_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer srv.Close()
	m := newTestManager(t, wpSource(srv.URL), Options{})

	res := m.FetchFromSource(context.Background(), "arts-wp")
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "decode")
}
