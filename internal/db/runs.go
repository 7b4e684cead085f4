package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-desk/internal/models"
)

// RunStore records source syncs.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) StartRun(ctx context.Context, sourceID string) (string, error) {
	var runID string
	err := s.pool.QueryRow(ctx,
		"INSERT INTO sync_runs (source_id, status) VALUES ($1, 'running') RETURNING run_id::text",
		sourceID).Scan(&runID)
	if err != nil {
		return "", fmt.Errorf("start sync run: %w", err)
	}
	return runID, nil
}

func (s *RunStore) FinishRun(ctx context.Context, run models.SyncRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			status = $2,
			items_found = $3,
			items_saved = $4,
			error = $5,
			completed_at = COALESCE($6, NOW())
		WHERE run_id = $1::uuid`,
		run.ID, string(run.Status), run.ItemsFound, run.ItemsSaved, run.Error, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish sync run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, source_id, status, items_found, items_saved, error, started_at, completed_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SyncRun, error) {
		var r models.SyncRun
		err := row.Scan(&r.ID, &r.SourceID, &r.Status, &r.ItemsFound, &r.ItemsSaved, &r.Error, &r.StartedAt, &r.CompletedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sync runs: %w", err)
	}
	return out, nil
}
