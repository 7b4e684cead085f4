package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/models"
)

// testPool connects to TEST_DATABASE_URL and applies the migrations. The
// database is shared, so every test works with ids of its own.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, ApplyMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	pool := testPool(t)
	require.NoError(t, ApplyMigrations(context.Background(), pool, zap.NewNop()))
}

func TestApplicationStore(t *testing.T) {
	pool := testPool(t)
	store := NewApplicationStore(pool)
	ctx := context.Background()
	user := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	app, err := store.Create(ctx, models.Application{
		GrantID: "g-1", UserID: user, Title: "Doc", Status: models.StatusDraft,
		Priority: models.PriorityHigh, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NotZero(t, app.ID)

	for v := 1; v <= 2; v++ {
		_, err := store.SaveAnswer(ctx, models.Answer{
			ApplicationID: app.ID, Question: "project_overview", Answer: "draft", AuthorID: user,
			Version: v, CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
	}
	_, err = store.AddComment(ctx, models.Comment{ApplicationID: app.ID, UserID: user, Comment: "tighten", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, app.ID, models.StatusDraft, models.StatusSubmitted, &now))
	require.NoError(t, store.UpdatePriority(ctx, app.ID, models.PriorityCritical))

	// Stale writers lose: the status is no longer draft.
	err = store.UpdateStatus(ctx, app.ID, models.StatusDraft, models.StatusInProgress, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = store.SaveAnswer(ctx, models.Answer{
		ApplicationID: app.ID, Question: "project_overview", Answer: "late", AuthorID: user,
		Version: 3, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, models.ErrNotEditable)

	got, err := store.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Equal(t, models.PriorityCritical, got.Priority)
	assert.Len(t, got.Answers, 2)
	assert.Len(t, got.Comments, 1)
	require.NotNil(t, got.SubmittedAt)

	list, err := store.List(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.Get(ctx, -1)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, store.UpdateStatus(ctx, -1, models.StatusDraft, models.StatusSubmitted, nil), models.ErrNotFound)
	_, err = store.SaveAnswer(ctx, models.Answer{ApplicationID: -1, Question: "q", Answer: "a", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGrantStore(t *testing.T) {
	pool := testPool(t)
	store := NewGrantStore(pool)
	ctx := context.Background()
	source := "test-" + uuid.NewString()[:8]
	now := time.Now().UTC()

	grants := []models.Grant{
		{ID: models.GrantID(source + "-a"), Title: "Alpha", Deadline: "2027-01-01", Status: models.GrantOpen, DataSource: models.ProvenanceMock, CreatedAt: now, UpdatedAt: now},
		{ID: models.GrantID(source + "-b"), Title: "Beta", Status: models.GrantOpen, DataSource: models.ProvenanceReal, CreatedAt: now, UpdatedAt: now},
	}
	saved, err := store.UpsertGrants(ctx, source, grants, [][]float32{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	grants[0].Title = "Alpha v2"
	_, err = store.UpsertGrants(ctx, source, grants[:1], nil)
	require.NoError(t, err)

	list, err := store.List(ctx, source)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha v2", list[0].Title)
	assert.Equal(t, models.ProvenanceMock, list[0].DataSource)

	recs, err := store.SimilarGrants(ctx, []float32{0.9, 0.1, 0}, 50)
	require.NoError(t, err)
	found := false
	for _, r := range recs {
		if r.Grant.ID == grants[0].ID {
			found = true
			assert.Greater(t, r.MatchScore, 0.9)
		}
	}
	assert.True(t, found, "embedding kept across an upsert without vectors")

	_, err = store.UpsertGrants(ctx, source, grants, [][]float32{{1}})
	assert.Error(t, err)

	_, err = store.Get(ctx, "missing-grant")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunStore(t *testing.T) {
	pool := testPool(t)
	store := NewRunStore(pool)
	ctx := context.Background()
	source := "test-" + uuid.NewString()[:8]

	id, err := store.StartRun(ctx, source)
	require.NoError(t, err)
	done := time.Now().UTC()
	require.NoError(t, store.FinishRun(ctx, models.SyncRun{
		ID: id, SourceID: source, Status: models.RunCompleted, ItemsFound: 3, ItemsSaved: 2, CompletedAt: &done,
	}))

	runs, err := store.ListRuns(ctx, 100)
	require.NoError(t, err)
	var got *models.SyncRun
	for i := range runs {
		if runs[i].ID == id {
			got = &runs[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 2, got.ItemsSaved)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, store.FinishRun(ctx, models.SyncRun{ID: uuid.NewString(), Status: models.RunFailed}), models.ErrNotFound)
}

func TestUserStore(t *testing.T) {
	pool := testPool(t)
	store := NewUserStore(pool)
	ctx := context.Background()
	email := uuid.NewString() + "@Example.org"

	u, err := store.CreateUser(ctx, email, "hash")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, u.ID)

	_, err = store.CreateUser(ctx, email, "hash")
	assert.ErrorIs(t, err, models.ErrUserExists)

	got, err := store.UserByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = store.UserByEmail(ctx, "nobody@example.org")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
