package domain

import "time"

// AnnotationSource identifies who produced an annotation.
type AnnotationSource string

const (
	AnnotationByHuman AnnotationSource = "human"
	AnnotationByLLM   AnnotationSource = "llm"
)

// IsValid returns true for a recognized annotation source.
func (s AnnotationSource) IsValid() bool {
	return s == AnnotationByHuman || s == AnnotationByLLM
}

// Annotation is one version of the natural-language description of a chunk.
// Versions are append-only; retrieval uses the latest unless a caller pins a
// specific version.
type Annotation struct {
	ChunkID     string
	Version     int
	Description string
	GeneratedBy AnnotationSource
	CreatedAt   time.Time
}

// AnnotationJobStatus tracks a queued LLM annotation request.
type AnnotationJobStatus string

const (
	AnnotationJobPending   AnnotationJobStatus = "pending"
	AnnotationJobCompleted AnnotationJobStatus = "completed"
	AnnotationJobFailed    AnnotationJobStatus = "failed"
)

// AnnotationJob asks the background worker to describe one chunk.
type AnnotationJob struct {
	ID        string
	ChunkID   string
	Status    AnnotationJobStatus
	Retries   int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
