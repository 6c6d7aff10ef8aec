// Package service implements the query pipeline: retrieval over the vector
// index, script generation via the LLM, validation against the UCI schema,
// and execution on the router.
package service

import (
	"context"
	"fmt"

	"github.com/orin-labs/uciagent/internal/domain"
)

// DefaultRetrievalLimit is how many chunks a query retrieves when the caller
// does not say otherwise.
const DefaultRetrievalLimit = 3

// QueryEmbedder defines the interface for embedding queries. IndexVersion
// identifies the model and dimensionality the vectors belong to.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	IndexVersion() string
	Dimensions() int
}

// VectorIndex defines the searchable embedding store.
type VectorIndex interface {
	CurrentVersion(ctx context.Context) (string, error)
	Search(ctx context.Context, vector []float32, indexVersion string, limit int) (domain.RetrievalResult, error)
}

// Retriever finds the configuration chunks most relevant to a query.
type Retriever struct {
	embedder QueryEmbedder
	index    VectorIndex
}

// NewRetriever creates a new Retriever instance
func NewRetriever(embedder QueryEmbedder, index VectorIndex) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
	}
}

// Retrieve embeds the query and returns up to limit chunks ranked by
// similarity. An empty index yields an empty result without calling the
// embedding API. A stored index version that does not match the configured
// embedding model fails fast so stale vectors are never searched.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) (domain.RetrievalResult, error) {
	if query == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "query cannot be empty")
	}
	if limit <= 0 {
		limit = DefaultRetrievalLimit
	}

	stored, err := r.index.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index version: %w", err)
	}
	if stored == "" {
		// Nothing ingested yet. Generation proceeds without context.
		return domain.RetrievalResult{}, nil
	}
	if stored != r.embedder.IndexVersion() {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndexVersionMismatch,
			fmt.Sprintf("index was built with %q but the configured embedding model is %q, re-ingest required",
				stored, r.embedder.IndexVersion()),
			domain.ErrIndexVersionMismatch)
	}

	vector, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	result, err := r.index.Search(ctx, vector, stored, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return result, nil
}
