// Package sources pulls grants from external funders' sites and curated
// catalogs into the local store.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/models"
)

var ErrUnknownSource = errors.New("unknown source")

// Strategy fetches the current grants of one source.
type Strategy interface {
	Fetch(ctx context.Context) ([]models.Grant, error)
}

// Store persists synced grants. embeddings is nil or parallel to grants.
type Store interface {
	UpsertGrants(ctx context.Context, sourceID string, grants []models.Grant, embeddings [][]float32) (int, error)
}

// RunRecorder keeps the sync history.
type RunRecorder interface {
	StartRun(ctx context.Context, sourceID string) (string, error)
	FinishRun(ctx context.Context, run models.SyncRun) error
}

type Options struct {
	// Catalog overrides the embedded catalog.yaml.
	Catalog    []byte
	Classifier ai.ChatCompleter
	Model      string
	Embedder   ai.Embedder
	Store      Store
	Runs       RunRecorder
	// PageDelay is the politeness delay between requests to one host.
	// Zero means one second; negative disables it.
	PageDelay time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

// Result is the outcome of fetching one source. A failed fetch is reported
// here rather than as an error so callers can render it per source.
type Result struct {
	Success   bool           `json:"success"`
	Grants    []models.Grant `json:"grants"`
	Errors    []string       `json:"errors"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// SyncReport is a Result after it has been written to the store.
type SyncReport struct {
	Result
	Saved int    `json:"saved"`
	RunID string `json:"run_id,omitempty"`
}

type SourceInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	BaseURL    string     `json:"base_url"`
	Strategy   string     `json:"strategy"`
	Enabled    bool       `json:"enabled"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
	GrantCount int        `json:"grant_count"`
}

type Stats struct {
	TotalSources   int `json:"total_sources"`
	EnabledSources int `json:"enabled_sources"`
	TotalGrants    int `json:"total_grants"`
}

type SyncStatus struct {
	LastSync      *time.Time `json:"last_sync,omitempty"`
	SourcesSynced int        `json:"sources_synced"`
	TotalSources  int        `json:"total_sources"`
}

type sourceState struct {
	cfg        SourceConfig
	strategy   Strategy
	enabled    bool
	lastSync   time.Time
	grantCount int
}

type Manager struct {
	embedder ai.Embedder
	store    Store
	runs     RunRecorder
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	sources []*sourceState
}

func NewManager(reg *Registry, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Catalog == nil {
		opts.Catalog = defaultCatalogYAML
	}
	switch {
	case opts.PageDelay == 0:
		opts.PageDelay = defaultPageDelay
	case opts.PageDelay < 0:
		opts.PageDelay = 0
	}
	cat, err := parseCatalog(opts.Catalog)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		embedder: opts.Embedder,
		store:    opts.Store,
		runs:     opts.Runs,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	sanitizer := bluemonday.StrictPolicy()
	for _, cfg := range reg.Sources {
		var strategy Strategy
		switch cfg.Strategy {
		case StrategyCatalog:
			strategy = &catalogStrategy{cfg: cfg, entries: cat[cfg.ID], now: opts.Now}
		case StrategyHTML:
			strategy = &htmlStrategy{
				cfg:        cfg,
				classifier: opts.Classifier,
				model:      opts.Model,
				delay:      opts.PageDelay,
				sanitizer:  sanitizer,
				logger:     opts.Logger.With(zap.String("source", cfg.ID)),
				now:        opts.Now,
			}
		case StrategyWordPress:
			strategy = &wordpressStrategy{
				cfg:        cfg,
				classifier: opts.Classifier,
				model:      opts.Model,
				delay:      opts.PageDelay,
				sanitizer:  sanitizer,
				logger:     opts.Logger.With(zap.String("source", cfg.ID)),
				now:        opts.Now,
			}
		default:
			return nil, fmt.Errorf("%w: source %q has unknown strategy %q", ErrInvalidRegistry, cfg.ID, cfg.Strategy)
		}
		m.sources = append(m.sources, &sourceState{cfg: cfg, strategy: strategy, enabled: cfg.Enabled})
	}
	return m, nil
}

func (m *Manager) find(id string) *sourceState {
	for _, s := range m.sources {
		if s.cfg.ID == id {
			return s
		}
	}
	return nil
}

func (s *sourceState) info() SourceInfo {
	info := SourceInfo{
		ID:         s.cfg.ID,
		Name:       s.cfg.Name,
		BaseURL:    s.cfg.BaseURL,
		Strategy:   s.cfg.Strategy,
		Enabled:    s.enabled,
		GrantCount: s.grantCount,
	}
	if !s.lastSync.IsZero() {
		t := s.lastSync
		info.LastSync = &t
	}
	return info
}

// Sources lists the enabled sources.
func (m *Manager) Sources() []SourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SourceInfo
	for _, s := range m.sources {
		if s.enabled {
			out = append(out, s.info())
		}
	}
	return out
}

// All lists every registered source, enabled or not.
func (m *Manager) All() []SourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SourceInfo, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s.info())
	}
	return out
}

func (m *Manager) Toggle(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.find(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	s.enabled = enabled
	m.logger.Info("source toggled", zap.String("source", id), zap.Bool("enabled", enabled))
	return nil
}

// FetchFromSource runs the source's strategy. Unknown and disabled sources
// yield a failed Result.
func (m *Manager) FetchFromSource(ctx context.Context, id string) Result {
	res := Result{Source: id, Grants: []models.Grant{}, Errors: []string{}}

	m.mu.RLock()
	s := m.find(id)
	usable := s != nil && s.enabled
	m.mu.RUnlock()
	if !usable {
		res.Errors = append(res.Errors, fmt.Sprintf("Source %s not found or disabled", id))
		res.Timestamp = m.now().UTC()
		return res
	}

	grants, err := s.strategy.Fetch(ctx)
	res.Timestamp = m.now().UTC()
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		m.logger.Warn("source fetch failed", zap.String("source", id), zap.Error(err))
		return res
	}

	m.mu.Lock()
	s.grantCount = len(grants)
	s.lastSync = res.Timestamp
	m.mu.Unlock()

	res.Success = true
	res.Grants = grants
	m.logger.Info("source fetched", zap.String("source", id), zap.Int("grants", len(grants)))
	return res
}

// SyncSource fetches one source and upserts what it returns, recording the
// attempt as a sync run.
func (m *Manager) SyncSource(ctx context.Context, id string) (SyncReport, error) {
	report := SyncReport{}
	run := models.SyncRun{SourceID: id, Status: models.RunRunning, StartedAt: m.now().UTC()}
	if m.runs != nil {
		runID, err := m.runs.StartRun(ctx, id)
		if err != nil {
			m.logger.Warn("failed to record sync run", zap.String("source", id), zap.Error(err))
		}
		run.ID = runID
		report.RunID = runID
	}

	report.Result = m.FetchFromSource(ctx, id)
	run.ItemsFound = len(report.Grants)

	var syncErr error
	if !report.Success {
		syncErr = fmt.Errorf("source %s: %s", id, strings.Join(report.Errors, "; "))
	} else if m.store != nil && len(report.Grants) > 0 {
		embeddings := m.embed(ctx, report.Grants)
		saved, err := m.store.UpsertGrants(ctx, id, report.Grants, embeddings)
		report.Saved = saved
		if err != nil {
			syncErr = fmt.Errorf("source %s: store grants: %w", id, err)
			report.Errors = append(report.Errors, err.Error())
		}
	}
	run.ItemsSaved = report.Saved

	finished := m.now().UTC()
	run.CompletedAt = &finished
	run.Status = models.RunCompleted
	if syncErr != nil {
		run.Status = models.RunFailed
		run.Error = syncErr.Error()
	}
	if m.runs != nil && run.ID != "" {
		if err := m.runs.FinishRun(ctx, run); err != nil {
			m.logger.Warn("failed to finish sync run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return report, syncErr
}

// embed returns nil when no embedder is configured or any embedding fails;
// grants are stored either way.
func (m *Manager) embed(ctx context.Context, grants []models.Grant) [][]float32 {
	if m.embedder == nil {
		return nil
	}
	out := make([][]float32, len(grants))
	for i, g := range grants {
		vec, err := m.embedder.GenerateEmbedding(ctx, g.Title+"\n"+g.Description)
		if err != nil {
			m.logger.Warn("embedding failed, storing without vectors", zap.String("grant_id", g.ID.String()), zap.Error(err))
			return nil
		}
		out[i] = vec
	}
	return out
}

// SyncAll syncs every enabled source one after another. A failing source
// does not stop the others; the failures come back combined.
func (m *Manager) SyncAll(ctx context.Context) ([]SyncReport, error) {
	var (
		reports []SyncReport
		errs    error
	)
	for _, info := range m.Sources() {
		if ctx.Err() != nil {
			return reports, multierr.Append(errs, ctx.Err())
		}
		report, err := m.SyncSource(ctx, info.ID)
		reports = append(reports, report)
		errs = multierr.Append(errs, err)
	}
	return reports, errs
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{TotalSources: len(m.sources)}
	for _, s := range m.sources {
		if s.enabled {
			st.EnabledSources++
			st.TotalGrants += s.grantCount
		}
	}
	return st
}

func (m *Manager) LastSync() SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := SyncStatus{TotalSources: len(m.sources)}
	var latest time.Time
	for _, s := range m.sources {
		if !s.enabled {
			continue
		}
		st.SourcesSynced++
		if s.lastSync.After(latest) {
			latest = s.lastSync
		}
	}
	if !latest.IsZero() {
		st.LastSync = &latest
	}
	return st
}
