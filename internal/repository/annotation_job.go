package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orin-labs/uciagent/internal/domain"
)

const pendingJobBatchSize = 10

// AnnotationJobRepository queues chunks awaiting LLM annotation.
type AnnotationJobRepository struct {
	db dbtx
}

func NewAnnotationJobRepository(pool *pgxpool.Pool) *AnnotationJobRepository {
	return &AnnotationJobRepository{db: pool}
}

func NewAnnotationJobRepositoryWithTx(tx pgx.Tx) *AnnotationJobRepository {
	return &AnnotationJobRepository{db: tx}
}

// Enqueue adds a pending job for the chunk unless one is already pending.
func (r *AnnotationJobRepository) Enqueue(ctx context.Context, job *domain.AnnotationJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO annotation_jobs (id, chunk_id, status, retries, error)
		 SELECT $1, $2, 'pending', 0, ''
		 WHERE NOT EXISTS (
			SELECT 1 FROM annotation_jobs WHERE chunk_id = $2 AND status = 'pending'
		 )`,
		job.ID, job.ChunkID,
	)
	return err
}

// GetPendingJobs retrieves up to a batch of pending jobs, oldest first.
func (r *AnnotationJobRepository) GetPendingJobs(ctx context.Context) ([]*domain.AnnotationJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, chunk_id, status, retries, error, created_at, updated_at
		 FROM annotation_jobs WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1`,
		pendingJobBatchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.AnnotationJob
	for rows.Next() {
		var j domain.AnnotationJob
		if err := rows.Scan(&j.ID, &j.ChunkID, &j.Status, &j.Retries, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus updates the status of an annotation job.
func (r *AnnotationJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.AnnotationJobStatus, errMsg string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE annotation_jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		jobID, status, errMsg, time.Now().UTC(),
	)
	return err
}

// IncrementRetries increments the retry count for a job.
func (r *AnnotationJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE annotation_jobs SET retries = retries + 1, updated_at = $2 WHERE id = $1`,
		jobID, time.Now().UTC(),
	)
	return err
}
