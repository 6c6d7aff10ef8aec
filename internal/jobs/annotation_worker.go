package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/orin-labs/uciagent/internal/domain"
)

const (
	// MaxRetries is the maximum number of attempts for a failed job
	MaxRetries = 3
)

// AnnotationJobRepository defines the interface for annotation job persistence
type AnnotationJobRepository interface {
	// GetPendingJobs retrieves and claims pending annotation jobs
	GetPendingJobs(ctx context.Context) ([]*domain.AnnotationJob, error)

	// UpdateJobStatus updates the status of an annotation job
	UpdateJobStatus(ctx context.Context, jobID string, status domain.AnnotationJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// AnnotationChunkRepository loads the chunk a job describes.
type AnnotationChunkRepository interface {
	GetByID(ctx context.Context, chunkID string) (*domain.ConfigChunk, error)
}

// AnnotationStore appends annotation versions.
type AnnotationStore interface {
	Put(ctx context.Context, chunkID, description string, generatedBy domain.AnnotationSource) (*domain.Annotation, error)
}

// AnnotationEmbeddingStore refreshes a chunk's vector after annotation.
type AnnotationEmbeddingStore interface {
	Add(ctx context.Context, chunkID, indexVersion string, vector []float32) error
}

// AnnotationCompleter asks the LLM for a chunk description.
type AnnotationCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	IndexVersion() string
}

// AnnotationWorker describes changed configuration chunks with the LLM and
// re-embeds them so retrieval sees annotation text, not just raw config.
type AnnotationWorker struct {
	repo       AnnotationJobRepository
	chunks     AnnotationChunkRepository
	store      AnnotationStore
	embeddings AnnotationEmbeddingStore
	llm        AnnotationCompleter
}

// NewAnnotationWorker creates a new AnnotationWorker instance
func NewAnnotationWorker(
	repo AnnotationJobRepository,
	chunks AnnotationChunkRepository,
	store AnnotationStore,
	embeddings AnnotationEmbeddingStore,
	llm AnnotationCompleter,
) *AnnotationWorker {
	return &AnnotationWorker{
		repo:       repo,
		chunks:     chunks,
		store:      store,
		embeddings: embeddings,
		llm:        llm,
	}
}

const annotationPrompt = `Describe in one or two sentences what the following OpenWRT UCI configuration section does, for an operator searching the configuration by natural language. Mention the key option values.

%s`

// ProcessJobs implements the JobProcessor interface
func (w *AnnotationWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.GetPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	log.Printf("processing %d pending annotation jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("error processing job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (w *AnnotationWorker) processJob(ctx context.Context, job *domain.AnnotationJob) error {
	if err := w.annotateChunk(ctx, job.ChunkID); err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.AnnotationJobCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}
	return nil
}

func (w *AnnotationWorker) annotateChunk(ctx context.Context, chunkID string) error {
	chunk, err := w.chunks.GetByID(ctx, chunkID)
	if err != nil {
		return err
	}

	description, err := w.llm.Complete(ctx, fmt.Sprintf(annotationPrompt, chunk.RawText))
	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("llm returned an empty description for chunk %s", chunkID)
	}

	if _, err := w.store.Put(ctx, chunkID, description, domain.AnnotationByLLM); err != nil {
		return fmt.Errorf("failed to store annotation: %w", err)
	}

	// Re-embed with the annotation prepended so natural-language queries
	// match the description, not just literal option names.
	vector, err := w.llm.GenerateEmbedding(ctx, description+"\n\n"+chunk.RawText)
	if err != nil {
		return fmt.Errorf("failed to embed annotated chunk: %w", err)
	}
	if err := w.embeddings.Add(ctx, chunkID, w.llm.IndexVersion(), vector); err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *AnnotationWorker) handleJobFailure(ctx context.Context, job *domain.AnnotationJob, jobErr error) error {
	log.Printf("job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.AnnotationJobFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.AnnotationJobPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}
	return nil
}
