package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type SectionKind string

const (
	SectionProjectOverview    SectionKind = "project_overview"
	SectionObjectivesOutcomes SectionKind = "objectives_outcomes"
	SectionImplementationPlan SectionKind = "implementation_plan"
	SectionBudgetBreakdown    SectionKind = "budget_breakdown"
	SectionRiskManagement     SectionKind = "risk_management"
)

var (
	ErrUnknownSection = errors.New("unknown application section")
	ErrEmptySection   = errors.New("section content is empty")
	ErrSectionTooLong = errors.New("section content exceeds word limit")
	ErrSectionContent = errors.New("section content is incomplete")
)

// Section is one part of a grant application. Each kind owns its limits,
// its prompt guidance and its own content checks.
type Section interface {
	Kind() SectionKind
	Title() string
	WordLimit() int
	Focus() string
	Validate(content string) error
}

var (
	listItemRe  = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*•])\s+\S`)
	measureRe   = regexp.MustCompile(`(?i)\d+\s*%|\d+\+?\s+(participants|people|students|audience|members|viewers|interviews|events|installations)`)
	moneyRe     = regexp.MustCompile(`(?i)\$\s?\d[\d,]*|\d[\d,]*\s*(dollars|aud|usd)`)
	timelineRe  = regexp.MustCompile(`(?i)\d+\s+(months?|weeks?|days?|years?)|\b(phase|stage|milestone|quarter|q[1-4])\b`)
	riskTermsRe = regexp.MustCompile(`(?i)\b(risk|mitigat\w*|contingency|backup)\b`)
)

func checkCommon(s Section, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: %s", ErrEmptySection, s.Kind())
	}
	if n := WordCount(content); n > s.WordLimit() {
		return fmt.Errorf("%w: %s has %d words, limit %d", ErrSectionTooLong, s.Kind(), n, s.WordLimit())
	}
	return nil
}

type ProjectOverview struct{}

func (ProjectOverview) Kind() SectionKind { return SectionProjectOverview }
func (ProjectOverview) Title() string     { return "Project Overview" }
func (ProjectOverview) WordLimit() int    { return 500 }
func (ProjectOverview) Focus() string {
	return "Summarise the project, who it serves, why it matters now and how it fits the funder's priorities."
}
func (s ProjectOverview) Validate(content string) error { return checkCommon(s, content) }

type ObjectivesOutcomes struct{}

func (ObjectivesOutcomes) Kind() SectionKind { return SectionObjectivesOutcomes }
func (ObjectivesOutcomes) Title() string     { return "Objectives and Outcomes" }
func (ObjectivesOutcomes) WordLimit() int    { return 400 }
func (ObjectivesOutcomes) Focus() string {
	return "List specific, measurable objectives with numeric targets and the outcomes each one produces."
}
func (s ObjectivesOutcomes) Validate(content string) error {
	if err := checkCommon(s, content); err != nil {
		return err
	}
	if !listItemRe.MatchString(content) && !measureRe.MatchString(content) {
		return fmt.Errorf("%w: objectives need a list or a measurable target", ErrSectionContent)
	}
	return nil
}

type ImplementationPlan struct{}

func (ImplementationPlan) Kind() SectionKind { return SectionImplementationPlan }
func (ImplementationPlan) Title() string     { return "Implementation Plan" }
func (ImplementationPlan) WordLimit() int    { return 600 }
func (ImplementationPlan) Focus() string {
	return "Describe methodology, phases, milestones and a realistic timeline with responsibilities."
}
func (s ImplementationPlan) Validate(content string) error {
	if err := checkCommon(s, content); err != nil {
		return err
	}
	if !timelineRe.MatchString(content) {
		return fmt.Errorf("%w: implementation plan needs a timeline or milestones", ErrSectionContent)
	}
	return nil
}

type BudgetBreakdown struct{}

func (BudgetBreakdown) Kind() SectionKind { return SectionBudgetBreakdown }
func (BudgetBreakdown) Title() string     { return "Budget Breakdown" }
func (BudgetBreakdown) WordLimit() int    { return 350 }
func (BudgetBreakdown) Focus() string {
	return "Itemise costs by line with amounts and justify each line against project activities."
}
func (s BudgetBreakdown) Validate(content string) error {
	if err := checkCommon(s, content); err != nil {
		return err
	}
	if !moneyRe.MatchString(content) {
		return fmt.Errorf("%w: budget needs at least one amount", ErrSectionContent)
	}
	return nil
}

type RiskManagement struct{}

func (RiskManagement) Kind() SectionKind { return SectionRiskManagement }
func (RiskManagement) Title() string     { return "Risk Management" }
func (RiskManagement) WordLimit() int    { return 350 }
func (RiskManagement) Focus() string {
	return "Identify the main delivery risks and the mitigation or contingency for each."
}
func (s RiskManagement) Validate(content string) error {
	if err := checkCommon(s, content); err != nil {
		return err
	}
	if !riskTermsRe.MatchString(content) {
		return fmt.Errorf("%w: risk section must name risks or mitigations", ErrSectionContent)
	}
	return nil
}

var sections = []Section{
	ProjectOverview{},
	ObjectivesOutcomes{},
	ImplementationPlan{},
	BudgetBreakdown{},
	RiskManagement{},
}

// Sections returns every section in application order.
func Sections() []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	return out
}

func ParseSection(kind string) (Section, error) {
	k := SectionKind(strings.TrimSpace(strings.ToLower(kind)))
	for _, s := range sections {
		if s.Kind() == k {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSection, kind)
}

// WordCount splits on whitespace.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
