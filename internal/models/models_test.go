package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantID_AcceptsNumbersAndStrings(t *testing.T) {
	var payload struct {
		Grants []Grant `json:"grants"`
	}
	raw := `{"grants":[{"id":1,"title":"A"},{"id":"screen-2025","title":"B"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Len(t, payload.Grants, 2)
	assert.Equal(t, GrantID("1"), payload.Grants[0].ID)
	assert.Equal(t, GrantID("screen-2025"), payload.Grants[1].ID)
}

func TestGrantValidate(t *testing.T) {
	tests := []struct {
		name  string
		grant Grant
		want  error
	}{
		{"ok", Grant{ID: "1", Title: "Arts", Amount: 100, Status: GrantOpen}, nil},
		{"zero amount ok", Grant{ID: "1", Title: "Arts"}, nil},
		{"negative amount", Grant{ID: "1", Title: "Arts", Amount: -1}, ErrNegativeAmount},
		{"missing id", Grant{Title: "Arts"}, ErrMissingField},
		{"missing title", Grant{ID: "1"}, ErrMissingField},
		{"bad status", Grant{ID: "1", Title: "Arts", Status: "pending"}, ErrUnknownStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grant.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGrantUrgency(t *testing.T) {
	now := time.Date(2025, 9, 1, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		deadline string
		want     Urgency
	}{
		{"2025-08-31", UrgencyExpired},
		{"2025-09-01", UrgencyUrgent},
		{"2025-09-08", UrgencyUrgent},
		{"2025-09-20", UrgencySoon},
		{"2025-12-01", UrgencyNormal},
		{"", UrgencyUnknown},
		{"soon", UrgencyUnknown},
	}
	for _, tt := range tests {
		g := Grant{Deadline: tt.deadline}
		assert.Equal(t, tt.want, g.Urgency(now), tt.deadline)
	}
}

func TestSearchFilters(t *testing.T) {
	grants := []Grant{
		{ID: "1", Title: "Documentary Development", Category: "arts_culture", Amount: 25000, Deadline: "2025-10-15", Status: GrantOpen},
		{ID: "2", Title: "Regional Community", Category: "community", Amount: 40000, Deadline: "2025-11-01", Status: GrantOpen, Organization: "Regional Arts Fund"},
		{ID: "3", Title: "Production", Category: "arts_culture", Amount: 100000, Deadline: "2025-11-30", Status: GrantClosed},
	}

	ids := func(gs []Grant) []GrantID {
		var out []GrantID
		for _, g := range gs {
			out = append(out, g.ID)
		}
		return out
	}

	assert.Equal(t, []GrantID{"1", "3"}, ids(FilterGrants(grants, SearchFilters{Category: "ARTS_CULTURE"})))
	assert.Equal(t, []GrantID{"2"}, ids(FilterGrants(grants, SearchFilters{MinAmount: 30000, MaxAmount: 50000})))
	assert.Equal(t, []GrantID{"2"}, ids(FilterGrants(grants, SearchFilters{SearchTerm: "regional arts"})))
	assert.Equal(t, []GrantID{"1"}, ids(FilterGrants(grants, SearchFilters{DeadlineBefore: "2025-11-01"})))
	assert.Equal(t, []GrantID{"3"}, ids(FilterGrants(grants, SearchFilters{Status: "closed"})))
	assert.Len(t, FilterGrants(grants, SearchFilters{}), 3)
}

func TestApplicationStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransitionTo(StatusInProgress))
	assert.True(t, StatusDraft.CanTransitionTo(StatusSubmitted))
	assert.True(t, StatusInProgress.CanTransitionTo(StatusSubmitted))
	assert.True(t, StatusSubmitted.CanTransitionTo(StatusApproved))
	assert.True(t, StatusSubmitted.CanTransitionTo(StatusRejected))

	assert.False(t, StatusSubmitted.CanTransitionTo(StatusSubmitted))
	assert.False(t, StatusInProgress.CanTransitionTo(StatusDraft))
	assert.False(t, StatusApproved.CanTransitionTo(StatusRejected))
	assert.False(t, StatusDraft.CanTransitionTo(StatusApproved))
}

func TestApplicationVersions(t *testing.T) {
	app := &Application{Answers: []Answer{
		{Question: "project_overview", Answer: "v1", Version: 1},
		{Question: "budget_breakdown", Answer: "b1", Version: 1},
		{Question: "project_overview", Answer: "v2", Version: 2},
	}}
	assert.Equal(t, 3, app.NextVersion("project_overview"))
	assert.Equal(t, 1, app.NextVersion("risk_management"))

	latest := app.LatestAnswers()
	require.Len(t, latest, 2)
	assert.Equal(t, "v2", latest[0].Answer)
	assert.Equal(t, "b1", latest[1].Answer)
}

func TestSectionValidation(t *testing.T) {
	tests := []struct {
		kind    SectionKind
		content string
		want    error
	}{
		{SectionProjectOverview, "A community documentary project.", nil},
		{SectionProjectOverview, "   ", ErrEmptySection},
		{SectionObjectivesOutcomes, "1. Engage 500+ community members", nil},
		{SectionObjectivesOutcomes, "We hope things go well.", ErrSectionContent},
		{SectionImplementationPlan, "Filming runs for 6 months then editing.", nil},
		{SectionImplementationPlan, "We will do the work.", ErrSectionContent},
		{SectionBudgetBreakdown, "Artist fees: $12,000", nil},
		{SectionBudgetBreakdown, "Artist fees are reasonable.", ErrSectionContent},
		{SectionRiskManagement, "Weather risk is handled with backup dates.", nil},
		{SectionRiskManagement, "Everything will be fine.", ErrSectionContent},
	}
	for _, tt := range tests {
		s, err := ParseSection(string(tt.kind))
		require.NoError(t, err)
		err = s.Validate(tt.content)
		if tt.want == nil {
			assert.NoError(t, err, tt.content)
			continue
		}
		assert.ErrorIs(t, err, tt.want, tt.content)
	}
}

func TestSectionWordLimit(t *testing.T) {
	s := RiskManagement{}
	long := ""
	for i := 0; i <= s.WordLimit(); i++ {
		long += "risk "
	}
	assert.ErrorIs(t, s.Validate(long), ErrSectionTooLong)
}

func TestParseSection(t *testing.T) {
	s, err := ParseSection(" Budget_Breakdown ")
	require.NoError(t, err)
	assert.Equal(t, SectionBudgetBreakdown, s.Kind())

	_, err = ParseSection("appendix")
	assert.ErrorIs(t, err, ErrUnknownSection)

	assert.Len(t, Sections(), 5)
}
