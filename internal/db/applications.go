package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-desk/internal/models"
)

// ApplicationStore keeps applications, their answer versions and comments.
type ApplicationStore struct {
	pool *pgxpool.Pool
}

func NewApplicationStore(pool *pgxpool.Pool) *ApplicationStore {
	return &ApplicationStore{pool: pool}
}

const applicationCols = `id, grant_id, user_id, title, status, priority, created_at, updated_at, submitted_at`

func scanApplication(scan func(dest ...any) error) (models.Application, error) {
	var a models.Application
	var grantID string
	err := scan(&a.ID, &grantID, &a.UserID, &a.Title, &a.Status, &a.Priority, &a.CreatedAt, &a.UpdatedAt, &a.SubmittedAt)
	a.GrantID = models.GrantID(grantID)
	return a, err
}

func (s *ApplicationStore) Create(ctx context.Context, app models.Application) (*models.Application, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO applications (grant_id, user_id, title, status, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+applicationCols,
		app.GrantID.String(), app.UserID, app.Title, string(app.Status), string(app.Priority), app.CreatedAt, app.UpdatedAt)
	created, err := scanApplication(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}
	created.Answers = []models.Answer{}
	created.Comments = []models.Comment{}
	return &created, nil
}

// Get loads the application with every answer version and comment.
func (s *ApplicationStore) Get(ctx context.Context, id int64) (*models.Application, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+applicationCols+" FROM applications WHERE id = $1", id)
	app, err := scanApplication(row.Scan)
	if err != nil {
		return nil, notFound(err)
	}

	if app.Answers, err = s.answers(ctx, id); err != nil {
		return nil, err
	}
	if app.Comments, err = s.comments(ctx, id); err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *ApplicationStore) answers(ctx context.Context, appID int64) ([]models.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, application_id, question, answer, author_id, version, created_at, updated_at
		FROM application_answers
		WHERE application_id = $1
		ORDER BY id`, appID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Answer, error) {
		var a models.Answer
		err := row.Scan(&a.ID, &a.ApplicationID, &a.Question, &a.Answer, &a.AuthorID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan answers: %w", err)
	}
	return out, nil
}

func (s *ApplicationStore) comments(ctx context.Context, appID int64) ([]models.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, application_id, user_id, comment, created_at, updated_at
		FROM application_comments
		WHERE application_id = $1
		ORDER BY id`, appID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Comment, error) {
		var c models.Comment
		err := row.Scan(&c.ID, &c.ApplicationID, &c.UserID, &c.Comment, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan comments: %w", err)
	}
	return out, nil
}

// List returns userID's applications, oldest first, without answers or comments.
func (s *ApplicationStore) List(ctx context.Context, userID string) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+applicationCols+" FROM applications WHERE user_id = $1 ORDER BY created_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Application, error) {
		return scanApplication(row.Scan)
	})
	if err != nil {
		return nil, fmt.Errorf("scan applications: %w", err)
	}
	return out, nil
}

// SaveAnswer inserts the answer only while the application is still a draft
// or in progress.
func (s *ApplicationStore) SaveAnswer(ctx context.Context, ans models.Answer) (*models.Answer, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO application_answers (application_id, question, answer, author_id, version, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (
			SELECT 1 FROM applications WHERE id = $1 AND status = ANY($8)
		)
		RETURNING id`,
		ans.ApplicationID, ans.Question, ans.Answer, ans.AuthorID, ans.Version, ans.CreatedAt, ans.UpdatedAt,
		[]string{string(models.StatusDraft), string(models.StatusInProgress)},
	).Scan(&ans.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.exists(ctx, ans.ApplicationID); err != nil {
			return nil, err
		}
		return nil, models.ErrNotEditable
	}
	if err != nil {
		return nil, fmt.Errorf("insert answer: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "UPDATE applications SET updated_at = $2 WHERE id = $1", ans.ApplicationID, ans.UpdatedAt); err != nil {
		return nil, fmt.Errorf("touch application: %w", err)
	}
	return &ans, nil
}

func (s *ApplicationStore) exists(ctx context.Context, id int64) error {
	var ok bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)", id).Scan(&ok); err != nil {
		return fmt.Errorf("check application: %w", err)
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

func (s *ApplicationStore) AddComment(ctx context.Context, c models.Comment) (*models.Comment, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO application_comments (application_id, user_id, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.ApplicationID, c.UserID, c.Comment, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return &c, nil
}

// UpdateStatus changes the status only if it is still from, so two writers
// racing on the same application cannot both succeed.
func (s *ApplicationStore) UpdateStatus(ctx context.Context, id int64, from, to models.ApplicationStatus, submittedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET status = $3, submitted_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to), submittedAt)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.exists(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: application %d is no longer %s", models.ErrInvalidTransition, id, from)
	}
	return nil
}

func (s *ApplicationStore) UpdatePriority(ctx context.Context, id int64, p models.Priority) error {
	tag, err := s.pool.Exec(ctx, "UPDATE applications SET priority = $2, updated_at = NOW() WHERE id = $1", id, string(p))
	if err != nil {
		return fmt.Errorf("update priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
