package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GrantStatus is set by the upstream backend. Nothing in this module changes it.
type GrantStatus string

const (
	GrantOpen         GrantStatus = "open"
	GrantClosed       GrantStatus = "closed"
	GrantExpired      GrantStatus = "expired"
	GrantClosingSoon  GrantStatus = "closing_soon"
	GrantClosingToday GrantStatus = "closing_today"
	GrantPlanning     GrantStatus = "planning"
)

func (s GrantStatus) Valid() bool {
	switch s {
	case GrantOpen, GrantClosed, GrantExpired, GrantClosingSoon, GrantClosingToday, GrantPlanning:
		return true
	}
	return false
}

// Provenance records where a grant record originated.
type Provenance string

const (
	ProvenanceAPI      Provenance = "api"
	ProvenanceFallback Provenance = "fallback"
	ProvenanceMock     Provenance = "mock"
	ProvenanceReal     Provenance = "real"
	ProvenanceResearch Provenance = "research"
)

// DateLayout is the calendar-date format used for grant deadlines.
const DateLayout = "2006-01-02"

// GrantID accepts both JSON numbers and strings; the backend emits either.
type GrantID string

func (id *GrantID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = GrantID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("grant id must be a string or number: %w", err)
	}
	*id = GrantID(n.String())
	return nil
}

func (id GrantID) String() string { return string(id) }

type Grant struct {
	ID                 GrantID     `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Amount             float64     `json:"amount"`
	Category           string      `json:"category"`
	Deadline           string      `json:"deadline"`
	Status             GrantStatus `json:"status"`
	Eligibility        []string    `json:"eligibility"`
	Requirements       []string    `json:"requirements"`
	SuccessScore       *float64    `json:"success_score,omitempty"`
	SuccessProbability *float64    `json:"success_probability,omitempty"`
	PriorityScore      *float64    `json:"priority_score,omitempty"`
	AlignmentTags      []string    `json:"sdg_alignment,omitempty"`
	GeographicFocus    []string    `json:"geographic_focus,omitempty"`
	ApplicationURL     string      `json:"application_url,omitempty"`
	ContactInfo        string      `json:"contact_info,omitempty"`
	Organization       string      `json:"organization,omitempty"`
	DataSource         Provenance  `json:"data_source,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

var (
	ErrNegativeAmount = errors.New("grant amount must not be negative")
	ErrMissingField   = errors.New("grant is missing a required field")
	ErrUnknownStatus  = errors.New("grant has an unknown status")
)

// Validate checks the record invariants without modifying it.
func (g Grant) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if strings.TrimSpace(g.Title) == "" {
		return fmt.Errorf("%w: title (grant %s)", ErrMissingField, g.ID)
	}
	if g.Amount < 0 {
		return fmt.Errorf("%w: grant %s has %.2f", ErrNegativeAmount, g.ID, g.Amount)
	}
	if g.Status != "" && !g.Status.Valid() {
		return fmt.Errorf("%w: %q (grant %s)", ErrUnknownStatus, g.Status, g.ID)
	}
	return nil
}

// DeadlineTime parses the deadline. Full RFC3339 timestamps are accepted too.
func (g Grant) DeadlineTime() (time.Time, bool) {
	d := strings.TrimSpace(g.Deadline)
	if d == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(DateLayout, d); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, d); err == nil {
		y, m, day := t.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// DaysUntilDeadline counts whole calendar days from now's date to the deadline.
func (g Grant) DaysUntilDeadline(now time.Time) (int, bool) {
	deadline, ok := g.DeadlineTime()
	if !ok {
		return 0, false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(deadline.Sub(today).Hours() / 24), true
}

type Urgency string

const (
	UrgencyExpired Urgency = "expired"
	UrgencyUrgent  Urgency = "urgent"
	UrgencySoon    Urgency = "soon"
	UrgencyNormal  Urgency = "normal"
	UrgencyUnknown Urgency = "unknown"
)

func (g Grant) Urgency(now time.Time) Urgency {
	days, ok := g.DaysUntilDeadline(now)
	switch {
	case !ok:
		return UrgencyUnknown
	case days < 0:
		return UrgencyExpired
	case days <= 7:
		return UrgencyUrgent
	case days <= 30:
		return UrgencySoon
	default:
		return UrgencyNormal
	}
}

// SearchFilters narrows a grant list. Zero values mean "no constraint".
type SearchFilters struct {
	Category       string  `json:"category,omitempty"`
	MinAmount      float64 `json:"minAmount,omitempty"`
	MaxAmount      float64 `json:"maxAmount,omitempty"`
	SearchTerm     string  `json:"searchTerm,omitempty"`
	DeadlineBefore string  `json:"deadlineBefore,omitempty"`
	Status         string  `json:"status,omitempty"`
}

// Matches reports whether g satisfies every set filter.
func (f SearchFilters) Matches(g Grant) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, g.Category) {
		return false
	}
	if f.MinAmount > 0 && g.Amount < f.MinAmount {
		return false
	}
	if f.MaxAmount > 0 && g.Amount > f.MaxAmount {
		return false
	}
	if f.Status != "" && !strings.EqualFold(f.Status, string(g.Status)) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.SearchTerm)); term != "" {
		hay := strings.ToLower(g.Title + " " + g.Description + " " + g.Organization)
		if !strings.Contains(hay, term) {
			return false
		}
	}
	if f.DeadlineBefore != "" {
		limit, err := time.Parse(DateLayout, f.DeadlineBefore)
		if err != nil {
			return true
		}
		deadline, ok := g.DeadlineTime()
		if !ok || !deadline.Before(limit) {
			return false
		}
	}
	return true
}

// FilterGrants returns the grants matching f, preserving order.
func FilterGrants(grants []Grant, f SearchFilters) []Grant {
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if f.Matches(g) {
			out = append(out, g)
		}
	}
	return out
}

type Recommendation struct {
	Grant              Grant    `json:"grant"`
	MatchScore         float64  `json:"match_score"`
	Reasons            []string `json:"reasons"`
	SuccessProbability float64  `json:"success_probability"`
}

// RecommendationProfile describes the applicant asking for recommendations.
type RecommendationProfile struct {
	Organization string   `json:"organization"`
	Mission      string   `json:"mission"`
	Focus        []string `json:"focus_areas"`
	Location     string   `json:"location,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// Text flattens the profile for embedding.
func (p RecommendationProfile) Text() string {
	parts := []string{p.Organization, p.Mission, strings.Join(p.Focus, ", "), p.Location}
	var kept []string
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ". ")
}

// ParseAmount is a lenient float parser used for query strings.
func ParseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
