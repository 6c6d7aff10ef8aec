package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orin-labs/uciagent/internal/domain"
)

// ChunkRepository persists ConfigChunks, one row per chunk.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Upsert inserts or refreshes a chunk. The chunk ID is content-address-like
// (derived from source file and section path), so re-ingesting unchanged
// input hits the same row. Returns true when the row was created or its
// text actually changed.
func (r *ChunkRepository) Upsert(ctx context.Context, c *domain.ConfigChunk) (bool, error) {
	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO config_chunks (chunk_id, source_file, section_type, section_path, chunk_index, raw_text, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (chunk_id) DO UPDATE
		 SET raw_text = EXCLUDED.raw_text, chunk_index = EXCLUDED.chunk_index, updated_at = EXCLUDED.updated_at
		 WHERE config_chunks.raw_text IS DISTINCT FROM EXCLUDED.raw_text`,
		c.ChunkID, c.SourceFile, c.SectionType, c.SectionPath, c.ChunkIndex, c.RawText, createdAt, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ChunkRepository) GetByID(ctx context.Context, chunkID string) (*domain.ConfigChunk, error) {
	var c domain.ConfigChunk
	err := r.db.QueryRow(ctx,
		`SELECT chunk_id, source_file, section_type, section_path, chunk_index, raw_text, created_at, updated_at
		 FROM config_chunks WHERE chunk_id = $1`,
		chunkID,
	).Scan(&c.ChunkID, &c.SourceFile, &c.SectionType, &c.SectionPath, &c.ChunkIndex, &c.RawText, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetByIDs returns the chunks for the given IDs, in the order requested.
// Missing IDs are skipped.
func (r *ChunkRepository) GetByIDs(ctx context.Context, chunkIDs []string) ([]*domain.ConfigChunk, error) {
	if len(chunkIDs) == 0 {
		return []*domain.ConfigChunk{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT chunk_id, source_file, section_type, section_path, chunk_index, raw_text, created_at, updated_at
		 FROM config_chunks WHERE chunk_id = ANY($1)`,
		chunkIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*domain.ConfigChunk)
	for rows.Next() {
		var c domain.ConfigChunk
		if err := rows.Scan(&c.ChunkID, &c.SourceFile, &c.SectionType, &c.SectionPath, &c.ChunkIndex, &c.RawText, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		byID[c.ChunkID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*domain.ConfigChunk, 0, len(byID))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// All streams every chunk through fn without loading the whole corpus.
func (r *ChunkRepository) All(ctx context.Context, fn func(*domain.ConfigChunk) error) error {
	rows, err := r.db.Query(ctx,
		`SELECT chunk_id, source_file, section_type, section_path, chunk_index, raw_text, created_at, updated_at
		 FROM config_chunks`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.ConfigChunk
		if err := rows.Scan(&c.ChunkID, &c.SourceFile, &c.SectionType, &c.SectionPath, &c.ChunkIndex, &c.RawText, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteBySourceFile removes all chunks ingested from one source (used when
// a package is re-synced from the router). Annotations and embeddings go
// with them via ON DELETE CASCADE. Returns the removed chunk IDs.
func (r *ChunkRepository) DeleteBySourceFile(ctx context.Context, sourceFile string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM config_chunks WHERE source_file = $1 RETURNING chunk_id`,
		sourceFile,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
