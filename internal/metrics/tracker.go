package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSaveDelay is how long writes are coalesced before hitting disk.
const DefaultSaveDelay = 5 * time.Second

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

type ApplicationRecord struct {
	ApplicationID string     `json:"application_id"`
	GrantID       string     `json:"grant_id"`
	StartedAt     time.Time  `json:"start_time"`
	CompletedAt   *time.Time `json:"completion_time,omitempty"`
	SubmittedAt   *time.Time `json:"submission_time,omitempty"`
	DecidedAt     *time.Time `json:"decision_time,omitempty"`
	DaysToSubmit  *int       `json:"time_to_submit,omitempty"`
	Outcome       Outcome    `json:"actual_outcome"`
	FundingAmount float64    `json:"funding_amount,omitempty"`
}

type WritingUsage struct {
	Count          int     `json:"count"`
	TotalQuality   int     `json:"total_quality"`
	AverageQuality float64 `json:"average_quality"`
}

// Snapshot is the persisted document and the value handed to callers.
type Snapshot struct {
	GrantsDiscovered      int                     `json:"grants_discovered"`
	FetchesByTier         map[string]int          `json:"fetches_by_tier"`
	ApplicationsStarted   int                     `json:"applications_started"`
	ApplicationsCompleted int                     `json:"applications_completed"`
	ApplicationsSubmitted int                     `json:"applications_submitted"`
	ApplicationsApproved  int                     `json:"applications_approved"`
	ApplicationsRejected  int                     `json:"applications_rejected"`
	TotalFundingSecured   float64                 `json:"total_funding_secured"`
	SuccessRate           float64                 `json:"success_rate"`
	ROIPerApplication     float64                 `json:"roi_per_application"`
	AIWriting             map[string]WritingUsage `json:"ai_writing"`
	Applications          []ApplicationRecord     `json:"applications"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

// Tracker accumulates usage and success metrics and persists them as JSON.
// An empty path keeps everything in memory.
type Tracker struct {
	mu     sync.Mutex
	data   Snapshot
	path   string
	delay  time.Duration
	dirty  bool
	timer  *time.Timer
	now    func() time.Time
	logger *zap.Logger
}

func NewTracker(path string, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		path:   path,
		delay:  DefaultSaveDelay,
		now:    time.Now,
		logger: logger,
	}
	t.data = emptySnapshot()

	if path == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := t.load(); err != nil {
		logger.Warn("metrics file unreadable, starting empty", zap.String("path", path), zap.Error(err))
		t.data = emptySnapshot()
	}
	return t, nil
}

func emptySnapshot() Snapshot {
	return Snapshot{
		FetchesByTier: make(map[string]int),
		AIWriting:     make(map[string]WritingUsage),
	}
}

func (t *Tracker) load() error {
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &t.data); err != nil {
		return err
	}
	if t.data.FetchesByTier == nil {
		t.data.FetchesByTier = make(map[string]int)
	}
	if t.data.AIWriting == nil {
		t.data.AIWriting = make(map[string]WritingUsage)
	}
	return nil
}

// Save writes the current snapshot immediately.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	t.dirty = false
	if t.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// Close cancels any pending debounced write and flushes.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return t.saveLocked()
}

// touchLocked marks the data dirty and schedules one save.
func (t *Tracker) touchLocked() {
	t.data.UpdatedAt = t.now()
	if t.dirty || t.path == "" {
		return
	}
	t.dirty = true
	t.timer = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.dirty {
			return
		}
		if err := t.saveLocked(); err != nil {
			t.logger.Warn("failed to save metrics", zap.Error(err))
		}
	})
}

func (t *Tracker) TrackGrantDiscovery(found int, tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.GrantsDiscovered += found
	t.data.FetchesByTier[tier]++
	t.touchLocked()
}

func (t *Tracker) TrackApplicationStarted(appID, grantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ApplicationsStarted++
	t.data.Applications = append(t.data.Applications, ApplicationRecord{
		ApplicationID: appID,
		GrantID:       grantID,
		StartedAt:     t.now(),
		Outcome:       OutcomePending,
	})
	t.touchLocked()
}

// TrackApplicationCompleted counts an application the first time every
// section has an answer.
func (t *Tracker) TrackApplicationCompleted(appID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.recordLocked(appID)
	if rec != nil && rec.CompletedAt != nil {
		return
	}
	t.data.ApplicationsCompleted++
	if rec != nil {
		now := t.now()
		rec.CompletedAt = &now
	}
	t.touchLocked()
}

func (t *Tracker) TrackApplicationSubmitted(appID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ApplicationsSubmitted++
	if rec := t.recordLocked(appID); rec != nil {
		now := t.now()
		rec.SubmittedAt = &now
		days := int(math.Round(now.Sub(rec.StartedAt).Hours() / 24))
		rec.DaysToSubmit = &days
	}
	t.recomputeLocked()
	t.touchLocked()
}

func (t *Tracker) TrackApplicationOutcome(appID string, outcome Outcome, funding float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch outcome {
	case OutcomeApproved:
		t.data.ApplicationsApproved++
		if funding > 0 {
			t.data.TotalFundingSecured += funding
		}
	case OutcomeRejected:
		t.data.ApplicationsRejected++
	}
	if rec := t.recordLocked(appID); rec != nil {
		now := t.now()
		rec.Outcome = outcome
		rec.DecidedAt = &now
		rec.FundingAmount = funding
	}
	t.recomputeLocked()
	t.touchLocked()
}

func (t *Tracker) TrackAIWritingUsage(section string, quality int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.data.AIWriting[section]
	u.Count++
	u.TotalQuality += quality
	u.AverageQuality = float64(u.TotalQuality) / float64(u.Count)
	t.data.AIWriting[section] = u
	t.touchLocked()
}

func (t *Tracker) recordLocked(appID string) *ApplicationRecord {
	for i := range t.data.Applications {
		if t.data.Applications[i].ApplicationID == appID {
			return &t.data.Applications[i]
		}
	}
	return nil
}

func (t *Tracker) recomputeLocked() {
	if t.data.ApplicationsSubmitted > 0 {
		n := float64(t.data.ApplicationsSubmitted)
		t.data.SuccessRate = float64(t.data.ApplicationsApproved) / n * 100
		t.data.ROIPerApplication = t.data.TotalFundingSecured / n
	}
}

// Snapshot returns a deep copy.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.data
	s.FetchesByTier = make(map[string]int, len(t.data.FetchesByTier))
	for k, v := range t.data.FetchesByTier {
		s.FetchesByTier[k] = v
	}
	s.AIWriting = make(map[string]WritingUsage, len(t.data.AIWriting))
	for k, v := range t.data.AIWriting {
		s.AIWriting[k] = v
	}
	s.Applications = append([]ApplicationRecord(nil), t.data.Applications...)
	return s
}

// Recommendations lists the goals the current numbers fall short of.
func (s Snapshot) Recommendations() []string {
	var out []string
	if s.GrantsDiscovered < 50 {
		out = append(out, "Increase grant discovery by expanding data sources")
	}
	if s.SuccessRate < 75 {
		out = append(out, "Improve application quality and success rate")
	}
	if s.ApplicationsSubmitted < 10 {
		out = append(out, "Increase application submission rate")
	}
	if s.TotalFundingSecured < 50000 {
		out = append(out, "Focus on higher-value grants and improve success rate")
	}
	return out
}
