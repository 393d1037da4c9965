package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"profai-backend/models"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// PassageRepository stores embedded course passages in course_passages.
type PassageRepository struct {
	db         DB
	dimensions int
}

// NewPassageRepository creates a passage repository for embeddings of the
// given width.
func NewPassageRepository(db DB, dimensions int) *PassageRepository {
	return &PassageRepository{db: db, dimensions: dimensions}
}

const upsertPassageSQL = `
	INSERT INTO course_passages (id, text, source, metadata, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (id) DO UPDATE SET
		text = excluded.text,
		source = excluded.source,
		metadata = excluded.metadata,
		embedding = excluded.embedding,
		updated_at = NOW()`

// Upsert writes all passages in one transaction. Either every passage is
// visible afterwards or none is.
func (r *PassageRepository) Upsert(ctx context.Context, passages []models.Passage) (err error) {
	if len(passages) == 0 {
		return nil
	}
	for i := range passages {
		if len(passages[i].Embedding) != r.dimensions {
			return fmt.Errorf("passage %s: embedding has %d dimensions, want %d",
				passages[i].ID, len(passages[i].Embedding), r.dimensions)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin passage upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("failed to commit passages: %w", commitErr)
		}
	}()

	for _, p := range passages {
		metadata, marshalErr := json.Marshal(p.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", p.ID, marshalErr)
		}
		if _, execErr := tx.Exec(ctx, upsertPassageSQL,
			p.ID, p.Text, p.Source(), metadata, pgvector.NewVector(p.Embedding),
		); execErr != nil {
			return fmt.Errorf("failed to upsert passage %s: %w", p.ID, execErr)
		}
	}
	return nil
}

// Search returns the limit passages closest to embedding by cosine distance.
func (r *PassageRepository) Search(ctx context.Context, embedding []float32, limit int) ([]models.Passage, error) {
	if len(embedding) != r.dimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", r.dimensions, len(embedding))
	}

	query := `
		SELECT id, text, metadata, embedding <=> $1 AS distance
		FROM course_passages
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	passages := make([]models.Passage, 0, limit)
	for rows.Next() {
		var (
			p   models.Passage
			raw []byte
		)
		if err := rows.Scan(&p.ID, &p.Text, &raw, &p.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", p.ID, err)
			}
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passages: %w", err)
	}
	return passages, nil
}

// Count returns the number of stored passages.
func (r *PassageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM course_passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return n, nil
}
