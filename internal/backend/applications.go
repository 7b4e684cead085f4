package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

func applicationPath(id int64, suffix string) string {
	return "/api/grant-applications/" + strconv.FormatInt(id, 10) + suffix
}

// Create starts an application upstream. The upstream owner is whoever the
// bearer token belongs to.
func (c *Client) Create(ctx context.Context, app models.Application) (*models.Application, error) {
	in := map[string]any{
		"grant_id": app.GrantID,
		"title":    app.Title,
		"priority": app.Priority,
		"status":   app.Status,
	}
	var out models.Application
	if err := c.do(ctx, http.MethodPost, "/api/grant-applications", in, &out); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("create application: %w: missing id", retrieval.ErrUnexpectedShape)
	}
	if out.UserID == "" {
		out.UserID = app.UserID
	}
	return &out, nil
}

// Get loads the application with its answers and comments.
func (c *Client) Get(ctx context.Context, id int64) (*models.Application, error) {
	var app models.Application
	if err := c.do(ctx, http.MethodGet, applicationPath(id, ""), nil, &app); err != nil {
		return nil, fmt.Errorf("get application %d: %w", id, err)
	}

	var answers struct {
		Answers []models.Answer `json:"answers"`
	}
	if err := c.do(ctx, http.MethodGet, applicationPath(id, "/answers"), nil, &answers); err != nil {
		return nil, fmt.Errorf("get application %d answers: %w", id, err)
	}
	var comments struct {
		Comments []models.Comment `json:"comments"`
	}
	if err := c.do(ctx, http.MethodGet, applicationPath(id, "/comments"), nil, &comments); err != nil {
		return nil, fmt.Errorf("get application %d comments: %w", id, err)
	}
	app.Answers = answers.Answers
	app.Comments = comments.Comments
	return &app, nil
}

// ScopedByToken reports that the upstream limits every application call to
// the bearer token's owner, so its user ids are not local ones.
func (c *Client) ScopedByToken() bool { return true }

// List ignores userID; the upstream scopes the list to the token's owner.
func (c *Client) List(ctx context.Context, userID string) ([]models.Application, error) {
	var env struct {
		Applications *[]models.Application `json:"applications"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/grant-applications", nil, &env); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	if env.Applications == nil {
		return nil, fmt.Errorf("list applications: %w: applications array missing", retrieval.ErrUnexpectedShape)
	}
	return *env.Applications, nil
}

func (c *Client) SaveAnswer(ctx context.Context, ans models.Answer) (*models.Answer, error) {
	in := map[string]any{
		"question": ans.Question,
		"answer":   ans.Answer,
		"author":   ans.AuthorID,
		"version":  ans.Version,
	}
	var out models.Answer
	if err := c.do(ctx, http.MethodPost, applicationPath(ans.ApplicationID, "/answers"), in, &out); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	if out.Version == 0 {
		out.Version = ans.Version
	}
	return &out, nil
}

func (c *Client) AddComment(ctx context.Context, cm models.Comment) (*models.Comment, error) {
	in := map[string]any{
		"content": cm.Comment,
		"author":  cm.UserID,
	}
	var out models.Comment
	if err := c.do(ctx, http.MethodPost, applicationPath(cm.ApplicationID, "/comments"), in, &out); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return &out, nil
}

// UpdateStatus uses the dedicated submit endpoint for submissions and a
// PATCH for every other transition. The upstream checks the current status
// itself, so from is not sent; a 409 means it had already moved.
func (c *Client) UpdateStatus(ctx context.Context, id int64, from, to models.ApplicationStatus, submittedAt *time.Time) error {
	var err error
	if to == models.StatusSubmitted {
		err = c.do(ctx, http.MethodPost, applicationPath(id, "/submit"), nil, nil)
	} else {
		err = c.do(ctx, http.MethodPatch, applicationPath(id, ""), map[string]any{"status": to}, nil)
	}
	var httpErr *retrieval.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: application %d is no longer %s", models.ErrInvalidTransition, id, from)
	}
	if err != nil {
		return fmt.Errorf("update application %d status to %s: %w", id, to, err)
	}
	return nil
}

func (c *Client) UpdatePriority(ctx context.Context, id int64, p models.Priority) error {
	if err := c.do(ctx, http.MethodPatch, applicationPath(id, ""), map[string]any{"priority": p}, nil); err != nil {
		return fmt.Errorf("update application %d priority: %w", id, err)
	}
	return nil
}

// Stats reads the upstream's own totals for the token's owner.
func (c *Client) Stats(ctx context.Context) (models.ApplicationStats, error) {
	var stats models.ApplicationStats
	if err := c.do(ctx, http.MethodGet, "/api/grant-applications/stats", nil, &stats); err != nil {
		return stats, fmt.Errorf("application stats: %w", err)
	}
	return stats, nil
}
