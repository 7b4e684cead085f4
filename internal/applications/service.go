// Package applications manages grant application drafts from creation to decision.
package applications

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/metrics"
	"github.com/david/grant-desk/internal/models"
)

var (
	ErrNotFound          = models.ErrNotFound
	ErrForbidden         = errors.New("application belongs to another user")
	ErrInvalidTransition = models.ErrInvalidTransition
	ErrAlreadySubmitted  = errors.New("application already submitted")
	ErrNotEditable       = models.ErrNotEditable
	ErrEmptyComment      = errors.New("comment is empty")
	ErrEmptyAnswer       = errors.New("answer is empty")
	ErrInvalidInput      = errors.New("missing required field")
)

// Repository persists applications. internal/db stores them locally and
// internal/backend forwards them to the upstream API.
type Repository interface {
	Create(ctx context.Context, app models.Application) (*models.Application, error)
	Get(ctx context.Context, id int64) (*models.Application, error)
	List(ctx context.Context, userID string) ([]models.Application, error)
	// SaveAnswer fails with ErrNotEditable once the application has left
	// draft and in_progress.
	SaveAnswer(ctx context.Context, ans models.Answer) (*models.Answer, error)
	AddComment(ctx context.Context, c models.Comment) (*models.Comment, error)
	// UpdateStatus moves id from status from to status to, and fails with
	// ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to models.ApplicationStatus, submittedAt *time.Time) error
	UpdatePriority(ctx context.Context, id int64, p models.Priority) error
}

// TokenScoped is implemented by repositories whose records are already
// limited to the caller by the upstream credential. Their owner ids belong
// to the upstream and are not compared with local user ids.
type TokenScoped interface {
	ScopedByToken() bool
}

// StatsSource is implemented by repositories that compute application
// statistics themselves.
type StatsSource interface {
	Stats(ctx context.Context) (models.ApplicationStats, error)
}

// Tracker receives lifecycle events for the success metrics.
type Tracker interface {
	TrackApplicationStarted(appID, grantID string)
	TrackApplicationCompleted(appID string)
	TrackApplicationSubmitted(appID string)
	TrackApplicationOutcome(appID string, outcome metrics.Outcome, funding float64)
}

type Service struct {
	repo    Repository
	tracker Tracker
	logger  *zap.Logger
	now     func() time.Time

	// statusMu serialises every read-check-write against an application's
	// status: answers, comments, submission and decisions.
	statusMu sync.Mutex
}

func NewService(repo Repository, tracker Tracker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, tracker: tracker, logger: logger, now: time.Now}
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// Start creates an empty draft for userID.
func (s *Service) Start(ctx context.Context, userID string, grantID models.GrantID, title string, priority models.Priority) (*models.Application, error) {
	if grantID == "" {
		return nil, fmt.Errorf("%w: grant_id", ErrInvalidInput)
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	now := s.now()
	app, err := s.repo.Create(ctx, models.Application{
		GrantID:   grantID,
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Status:    models.StatusDraft,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("start application: %w", err)
	}
	if s.scopedByToken() {
		app.UserID = userID
	}
	if s.tracker != nil {
		s.tracker.TrackApplicationStarted(key(app.ID), grantID.String())
	}
	s.logger.Info("application started", zap.Int64("application_id", app.ID), zap.String("grant_id", grantID.String()))
	return app, nil
}

func (s *Service) scopedByToken() bool {
	ts, ok := s.repo.(TokenScoped)
	return ok && ts.ScopedByToken()
}

// Get loads an application owned by userID. Token-scoped records are
// reported as the caller's own.
func (s *Service) Get(ctx context.Context, userID string, appID int64) (*models.Application, error) {
	app, err := s.repo.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if s.scopedByToken() {
		app.UserID = userID
		return app, nil
	}
	if app.UserID != "" && app.UserID != userID {
		return nil, ErrForbidden
	}
	return app, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]models.Application, error) {
	apps, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.scopedByToken() {
		for i := range apps {
			apps[i].UserID = userID
		}
	}
	return apps, nil
}

// Stats prefers the repository's own statistics and otherwise aggregates
// the caller's applications.
func (s *Service) Stats(ctx context.Context, userID string) (models.ApplicationStats, error) {
	if src, ok := s.repo.(StatsSource); ok {
		return src.Stats(ctx)
	}
	apps, err := s.repo.List(ctx, userID)
	if err != nil {
		return models.ApplicationStats{}, err
	}
	return models.SummarizeApplications(apps), nil
}

// SaveAnswer stores a new version of the answer to question. The first
// answer on a draft moves it to in_progress.
func (s *Service) SaveAnswer(ctx context.Context, userID string, appID int64, question, text string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question", ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyAnswer
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	app, err := s.Get(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	if !app.Status.Editable() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotEditable, app.Status)
	}
	if app.Status == models.StatusDraft {
		if err := s.repo.UpdateStatus(ctx, appID, models.StatusDraft, models.StatusInProgress, nil); err != nil {
			return nil, fmt.Errorf("mark in progress: %w", err)
		}
	}

	now := s.now()
	ans, err := s.repo.SaveAnswer(ctx, models.Answer{
		ApplicationID: appID,
		Question:      question,
		Answer:        text,
		AuthorID:      userID,
		Version:       app.NextVersion(question),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	app.Answers = append(app.Answers, *ans)
	if s.tracker != nil && allSectionsAnswered(app) {
		s.tracker.TrackApplicationCompleted(key(appID))
	}
	return ans, nil
}

func allSectionsAnswered(app *models.Application) bool {
	answered := make(map[string]bool)
	for _, a := range app.LatestAnswers() {
		if strings.TrimSpace(a.Answer) != "" {
			answered[a.Question] = true
		}
	}
	for _, sec := range models.Sections() {
		if !answered[string(sec.Kind())] {
			return false
		}
	}
	return true
}

// ApplyAIContent validates generated content against the section's rules
// before saving it as that section's answer.
func (s *Service) ApplyAIContent(ctx context.Context, userID string, appID int64, section, content string) (*models.Answer, error) {
	sec, err := models.ParseSection(section)
	if err != nil {
		return nil, err
	}
	if err := sec.Validate(content); err != nil {
		return nil, err
	}
	return s.SaveAnswer(ctx, userID, appID, string(sec.Kind()), content)
}

func (s *Service) AddComment(ctx context.Context, userID string, appID int64, text string) (*models.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyComment
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if _, err := s.Get(ctx, userID, appID); err != nil {
		return nil, err
	}
	now := s.now()
	c, err := s.repo.AddComment(ctx, models.Comment{
		ApplicationID: appID,
		UserID:        userID,
		Comment:       text,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return c, nil
}

func (s *Service) SetPriority(ctx context.Context, userID string, appID int64, priority string) error {
	p, err := models.ParsePriority(priority)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.Get(ctx, userID, appID); err != nil {
		return err
	}
	return s.repo.UpdatePriority(ctx, appID, p)
}

// Submit moves a draft or in-progress application to submitted. It succeeds
// once; every later call returns ErrAlreadySubmitted.
func (s *Service) Submit(ctx context.Context, userID string, appID int64) (*models.Application, error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	app, err := s.Get(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	switch app.Status {
	case models.StatusSubmitted, models.StatusApproved, models.StatusRejected:
		return nil, ErrAlreadySubmitted
	}
	if !app.Status.CanTransitionTo(models.StatusSubmitted) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, app.Status, models.StatusSubmitted)
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, appID, app.Status, models.StatusSubmitted, &now); err != nil {
		return nil, fmt.Errorf("submit application: %w", err)
	}
	app.Status = models.StatusSubmitted
	app.SubmittedAt = &now
	app.UpdatedAt = now

	if s.tracker != nil {
		s.tracker.TrackApplicationSubmitted(key(appID))
	}
	s.logger.Info("application submitted", zap.Int64("application_id", appID))
	return app, nil
}

// Decide records the funder's decision on a submitted application.
func (s *Service) Decide(ctx context.Context, appID int64, approved bool, funding float64) (*models.Application, error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	app, err := s.repo.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	next, outcome := models.StatusRejected, metrics.OutcomeRejected
	if approved {
		next, outcome = models.StatusApproved, metrics.OutcomeApproved
	}
	if !app.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, app.Status, next)
	}
	if err := s.repo.UpdateStatus(ctx, appID, app.Status, next, app.SubmittedAt); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	app.Status = next
	app.UpdatedAt = s.now()

	if s.tracker != nil {
		s.tracker.TrackApplicationOutcome(key(appID), outcome, funding)
	}
	s.logger.Info("application decided",
		zap.Int64("application_id", appID),
		zap.String("status", string(next)),
		zap.Float64("funding", funding))
	return app, nil
}
