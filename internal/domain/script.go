package domain

import "time"

// ValidationStatus is the policy verdict on a generated script.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// ExecutionStatus tracks how far a script got on the router.
type ExecutionStatus string

const (
	ExecutionNotRun ExecutionStatus = "not_run"
	// ExecutionRunning marks a script claimed by an executor. The claim is
	// what keeps two concurrent confirmations from dispatching the same
	// script twice; it ends in a terminal status or reverts to not_run when
	// execution never started.
	ExecutionRunning ExecutionStatus = "running"
	ExecutionOK      ExecutionStatus = "success"
	// ExecutionPartial means a command failed and rollback also failed.
	// The router may be in a mixed state; manual recovery is required and
	// the script must never be re-run automatically.
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// GeneratedScript is a candidate UCI script produced from one user query,
// with provenance back to the chunks that grounded it. Immutable once its
// execution completes.
type GeneratedScript struct {
	ID                string
	RouterAddress     string
	QueryText         string
	RetrievedChunkIDs []string
	RawLLMOutput      string
	Commands          []string
	ValidationStatus  ValidationStatus
	RejectionReason   string
	ExecutionStatus   ExecutionStatus
	RollbackPerformed bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CommandOutcome captures the result of a single command on the router.
type CommandOutcome struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecutionResult is the per-command record of one execution attempt.
type ExecutionResult struct {
	ScriptID          string
	Status            ExecutionStatus
	Outcomes          []CommandOutcome
	RollbackPerformed bool
}

// RetrievedChunk is a retrieval hit: a chunk ID plus its similarity score.
type RetrievedChunk struct {
	ChunkID string
	Score   float32
}

// RetrievalResult is an ordered list of hits, scores non-increasing, ties
// broken by chunk ID ascending.
type RetrievalResult []RetrievedChunk

// ChunkIDs returns the hit IDs in rank order.
func (r RetrievalResult) ChunkIDs() []string {
	ids := make([]string, 0, len(r))
	for _, hit := range r {
		ids = append(ids, hit.ChunkID)
	}
	return ids
}
