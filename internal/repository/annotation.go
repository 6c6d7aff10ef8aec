package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orin-labs/uciagent/internal/domain"
)

// AnnotationRepository is the append-only annotation version log. Versions
// are never overwritten or deleted at this layer; removal is an
// administrative concern handled outside the pipeline.
type AnnotationRepository struct {
	db dbtx
}

func NewAnnotationRepository(pool *pgxpool.Pool) *AnnotationRepository {
	return &AnnotationRepository{db: pool}
}

func NewAnnotationRepositoryWithTx(tx pgx.Tx) *AnnotationRepository {
	return &AnnotationRepository{db: tx}
}

// Put appends a new annotation version for the chunk. Re-putting the latest
// description verbatim is a no-op that returns the existing version, which
// keeps ingestion idempotent.
func (r *AnnotationRepository) Put(ctx context.Context, chunkID, description string, generatedBy domain.AnnotationSource) (*domain.Annotation, error) {
	if chunkID == "" || description == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if !generatedBy.IsValid() {
		return nil, domain.ErrInvalidAnnotationSource
	}

	latest, err := r.GetLatest(ctx, chunkID)
	if err != nil && !errors.Is(err, domain.ErrAnnotationNotFound) {
		return nil, err
	}
	if latest != nil && latest.Description == description && latest.GeneratedBy == generatedBy {
		return latest, nil
	}

	var a domain.Annotation
	err = r.db.QueryRow(ctx,
		`INSERT INTO annotations (chunk_id, version, description, generated_by)
		 SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3
		 FROM annotations WHERE chunk_id = $1
		 RETURNING chunk_id, version, description, generated_by, created_at`,
		chunkID, description, generatedBy,
	).Scan(&a.ChunkID, &a.Version, &a.Description, &a.GeneratedBy, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetLatest returns the newest annotation version for the chunk.
func (r *AnnotationRepository) GetLatest(ctx context.Context, chunkID string) (*domain.Annotation, error) {
	var a domain.Annotation
	err := r.db.QueryRow(ctx,
		`SELECT chunk_id, version, description, generated_by, created_at
		 FROM annotations WHERE chunk_id = $1
		 ORDER BY version DESC LIMIT 1`,
		chunkID,
	).Scan(&a.ChunkID, &a.Version, &a.Description, &a.GeneratedBy, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAnnotationNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetVersion returns one pinned annotation version.
func (r *AnnotationRepository) GetVersion(ctx context.Context, chunkID string, version int) (*domain.Annotation, error) {
	var a domain.Annotation
	err := r.db.QueryRow(ctx,
		`SELECT chunk_id, version, description, generated_by, created_at
		 FROM annotations WHERE chunk_id = $1 AND version = $2`,
		chunkID, version,
	).Scan(&a.ChunkID, &a.Version, &a.Description, &a.GeneratedBy, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAnnotationNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetLatestForChunks returns the latest annotation per chunk ID, keyed by
// chunk ID. Chunks without annotations are simply absent from the map.
func (r *AnnotationRepository) GetLatestForChunks(ctx context.Context, chunkIDs []string) (map[string]*domain.Annotation, error) {
	if len(chunkIDs) == 0 {
		return map[string]*domain.Annotation{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (chunk_id) chunk_id, version, description, generated_by, created_at
		 FROM annotations WHERE chunk_id = ANY($1)
		 ORDER BY chunk_id, version DESC`,
		chunkIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*domain.Annotation)
	for rows.Next() {
		var a domain.Annotation
		if err := rows.Scan(&a.ChunkID, &a.Version, &a.Description, &a.GeneratedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		result[a.ChunkID] = &a
	}
	return result, rows.Err()
}
