package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by every store when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an application is not in the
	// status a change expects, including when another writer moved it first.
	ErrInvalidTransition = errors.New("invalid application status transition")
	ErrNotEditable       = errors.New("application can no longer be edited")
)

type ApplicationStatus string

const (
	StatusDraft      ApplicationStatus = "draft"
	StatusInProgress ApplicationStatus = "in_progress"
	StatusSubmitted  ApplicationStatus = "submitted"
	StatusApproved   ApplicationStatus = "approved"
	StatusRejected   ApplicationStatus = "rejected"
)

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	StatusDraft:      {StatusInProgress, StatusSubmitted},
	StatusInProgress: {StatusSubmitted},
	StatusSubmitted:  {StatusApproved, StatusRejected},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	for _, allowed := range applicationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Editable is true while answers and comments may still change the draft.
func (s ApplicationStatus) Editable() bool {
	return s == StatusDraft || s == StatusInProgress
}

func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	case "":
		return PriorityMedium, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

type Application struct {
	ID          int64             `json:"id"`
	GrantID     GrantID           `json:"grant_id"`
	UserID      string            `json:"user_id"`
	Title       string            `json:"title,omitempty"`
	Status      ApplicationStatus `json:"status"`
	Priority    Priority          `json:"priority"`
	Answers     []Answer          `json:"answers"`
	Comments    []Comment         `json:"comments"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
}

// LatestAnswers returns the newest version for each question, in first-asked order.
func (a *Application) LatestAnswers() []Answer {
	index := make(map[string]int)
	var out []Answer
	for _, ans := range a.Answers {
		if i, ok := index[ans.Question]; ok {
			if ans.Version > out[i].Version {
				out[i] = ans
			}
			continue
		}
		index[ans.Question] = len(out)
		out = append(out, ans)
	}
	return out
}

// NextVersion is the version number the next answer to question should carry.
func (a *Application) NextVersion(question string) int {
	v := 0
	for _, ans := range a.Answers {
		if ans.Question == question && ans.Version > v {
			v = ans.Version
		}
	}
	return v + 1
}

type Answer struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	AuthorID      string    `json:"author_id"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Comment struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	UserID        string    `json:"user_id"`
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ApplicationStats summarises a user's applications by status.
type ApplicationStats struct {
	Total      int                       `json:"total"`
	ByStatus   map[ApplicationStatus]int `json:"by_status"`
	ByPriority map[Priority]int          `json:"by_priority"`
}

func SummarizeApplications(apps []Application) ApplicationStats {
	stats := ApplicationStats{
		ByStatus:   make(map[ApplicationStatus]int),
		ByPriority: make(map[Priority]int),
	}
	for _, a := range apps {
		stats.Total++
		stats.ByStatus[a.Status]++
		stats.ByPriority[a.Priority]++
	}
	return stats
}
