package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/david/grant-desk/internal/models"
)

// GrantStore holds grants synced from external sources, with an optional
// embedding per grant for similarity search.
type GrantStore struct {
	pool *pgxpool.Pool
}

func NewGrantStore(pool *pgxpool.Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

const grantCols = `id, title, description, amount, category, deadline, status,
	eligibility, requirements, success_score, application_url, contact_info,
	organization, data_source, created_at, updated_at`

func scanGrant(scan func(dest ...any) error, extra ...any) (models.Grant, error) {
	var g models.Grant
	var id string
	dest := []any{
		&id, &g.Title, &g.Description, &g.Amount, &g.Category, &g.Deadline, &g.Status,
		&g.Eligibility, &g.Requirements, &g.SuccessScore, &g.ApplicationURL, &g.ContactInfo,
		&g.Organization, &g.DataSource, &g.CreatedAt, &g.UpdatedAt,
	}
	err := scan(append(dest, extra...)...)
	g.ID = models.GrantID(id)
	return g, err
}

// UpsertGrants writes grants for sourceID in one batch. embeddings is either
// nil or parallel to grants; a nil entry keeps the stored vector.
func (s *GrantStore) UpsertGrants(ctx context.Context, sourceID string, grants []models.Grant, embeddings [][]float32) (int, error) {
	if embeddings != nil && len(embeddings) != len(grants) {
		return 0, fmt.Errorf("upsert grants: %d embeddings for %d grants", len(embeddings), len(grants))
	}

	batch := &pgx.Batch{}
	for i, g := range grants {
		var vec *pgvector.Vector
		if embeddings != nil && len(embeddings[i]) > 0 {
			v := pgvector.NewVector(embeddings[i])
			vec = &v
		}
		batch.Queue(`
			INSERT INTO external_grants (
				id, source_id, title, description, amount, category, deadline, status,
				eligibility, requirements, success_score, application_url, contact_info,
				organization, data_source, embedding, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				amount = EXCLUDED.amount,
				category = EXCLUDED.category,
				deadline = EXCLUDED.deadline,
				status = EXCLUDED.status,
				eligibility = EXCLUDED.eligibility,
				requirements = EXCLUDED.requirements,
				success_score = EXCLUDED.success_score,
				application_url = EXCLUDED.application_url,
				contact_info = EXCLUDED.contact_info,
				organization = EXCLUDED.organization,
				data_source = EXCLUDED.data_source,
				embedding = COALESCE(EXCLUDED.embedding, external_grants.embedding),
				updated_at = EXCLUDED.updated_at`,
			g.ID.String(), sourceID, g.Title, g.Description, g.Amount, g.Category, g.Deadline, string(g.Status),
			nonNil(g.Eligibility), nonNil(g.Requirements), g.SuccessScore, g.ApplicationURL, g.ContactInfo,
			g.Organization, string(g.DataSource), vec, g.CreatedAt, g.UpdatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	saved := 0
	for range grants {
		if _, err := results.Exec(); err != nil {
			return saved, fmt.Errorf("upsert grant: %w", err)
		}
		saved++
	}
	return saved, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// List returns synced grants, soonest deadline first.
func (s *GrantStore) List(ctx context.Context, sourceID string) ([]models.Grant, error) {
	query := "SELECT " + grantCols + " FROM external_grants"
	var args []any
	if sourceID != "" {
		query += " WHERE source_id = $1"
		args = append(args, sourceID)
	}
	query += " ORDER BY NULLIF(deadline, '') ASC NULLS LAST, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Grant, error) {
		return scanGrant(row.Scan)
	})
	if err != nil {
		return nil, fmt.Errorf("scan grants: %w", err)
	}
	return out, nil
}

func (s *GrantStore) Get(ctx context.Context, id models.GrantID) (*models.Grant, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+grantCols+" FROM external_grants WHERE id = $1", id.String())
	g, err := scanGrant(row.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

// SimilarGrants ranks embedded grants by cosine similarity to embedding.
func (s *GrantStore) SimilarGrants(ctx context.Context, embedding []float32, limit int) ([]models.Recommendation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantCols+`, 1 - (embedding <=> $1) AS similarity
		FROM external_grants
		WHERE embedding IS NOT NULL AND status <> 'closed'
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("similar grants: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Recommendation, error) {
		var similarity float64
		g, err := scanGrant(row.Scan, &similarity)
		rec := models.Recommendation{
			Grant:      g,
			MatchScore: similarity,
			Reasons:    []string{fmt.Sprintf("%.0f%% similar to your profile", similarity*100)},
		}
		if g.SuccessScore != nil {
			rec.SuccessProbability = *g.SuccessScore
		}
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan similar grants: %w", err)
	}
	return out, nil
}

// CountBySource reports how many grants each source has in the store.
func (s *GrantStore) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT source_id, COUNT(*) FROM external_grants GROUP BY source_id")
	if err != nil {
		return nil, fmt.Errorf("count grants: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
