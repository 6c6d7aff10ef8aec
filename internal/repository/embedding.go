package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/orin-labs/uciagent/internal/domain"
)

// EmbeddingRepository is the vector index over chunk embeddings.
//
// Similarity is cosine: pgvector's <=> operator returns cosine distance, and
// the reported score is 1 - distance, so higher is more similar. Equal
// scores are ordered by chunk_id ascending, which makes retrieval fully
// deterministic for identical inputs. Adds are incremental upserts; a full
// rebuild is only ever needed when the index version changes.
type EmbeddingRepository struct {
	db dbtx
}

func NewEmbeddingRepository(pool *pgxpool.Pool) *EmbeddingRepository {
	return &EmbeddingRepository{db: pool}
}

func NewEmbeddingRepositoryWithTx(tx pgx.Tx) *EmbeddingRepository {
	return &EmbeddingRepository{db: tx}
}

// EnsureIndexVersion registers the embedding version the client produces.
// Registering the same version twice is a no-op; registering a second
// version with different dimensions is allowed (it is a new index), but
// records never mix across versions.
func (r *EmbeddingRepository) EnsureIndexVersion(ctx context.Context, indexVersion string, dimensions int) error {
	var existing int
	err := r.db.QueryRow(ctx,
		`INSERT INTO index_meta (index_version, dimensions)
		 VALUES ($1, $2)
		 ON CONFLICT (index_version) DO UPDATE SET index_version = EXCLUDED.index_version
		 RETURNING dimensions`,
		indexVersion, dimensions,
	).Scan(&existing)
	if err != nil {
		return err
	}
	if existing != dimensions {
		return fmt.Errorf("index version %q already registered with %d dimensions, got %d", indexVersion, existing, dimensions)
	}
	return nil
}

// CurrentVersion returns the most recently registered index version, or ""
// when nothing has been indexed yet.
func (r *EmbeddingRepository) CurrentVersion(ctx context.Context) (string, error) {
	var version string
	err := r.db.QueryRow(ctx,
		`SELECT index_version FROM index_meta ORDER BY created_at DESC LIMIT 1`,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return version, nil
}

// Add upserts one embedding record. Re-adding the same (chunk, version)
// pair replaces the vector in place, so re-ingestion never duplicates rows.
func (r *EmbeddingRepository) Add(ctx context.Context, chunkID, indexVersion string, vector []float32) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chunk_embeddings (chunk_id, index_version, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chunk_id, index_version) DO UPDATE SET embedding = EXCLUDED.embedding`,
		chunkID, indexVersion, pgvector.NewVector(vector),
	)
	return err
}

// Search returns the k nearest chunks under the given index version.
func (r *EmbeddingRepository) Search(ctx context.Context, queryVector []float32, indexVersion string, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return domain.RetrievalResult{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT chunk_id, 1 - (embedding <=> $1) AS score
		 FROM chunk_embeddings
		 WHERE index_version = $2
		 ORDER BY score DESC, chunk_id ASC
		 LIMIT $3`,
		pgvector.NewVector(queryVector), indexVersion, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := domain.RetrievalResult{}
	for rows.Next() {
		var hit domain.RetrievedChunk
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, err
		}
		result = append(result, hit)
	}
	return result, rows.Err()
}

// Count returns the number of records under an index version.
func (r *EmbeddingRepository) Count(ctx context.Context, indexVersion string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunk_embeddings WHERE index_version = $1`,
		indexVersion,
	).Scan(&n)
	return n, err
}
