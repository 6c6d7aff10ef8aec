package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orin-labs/uciagent/internal/domain"
)

func TestRetriever_Retrieve_Success(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	retriever := NewRetriever(embedder, index)

	ctx := context.Background()
	vector := []float32{0.1, 0.2, 0.3}
	hits := domain.RetrievalResult{
		{ChunkID: "aaa", Score: 0.92},
		{ChunkID: "bbb", Score: 0.85},
	}

	embedder.On("IndexVersion").Return("text-embedding-ada-002/1536")
	index.On("CurrentVersion", ctx).Return("text-embedding-ada-002/1536", nil)
	embedder.On("GenerateEmbedding", ctx, "block pings on wan").Return(vector, nil)
	index.On("Search", ctx, vector, "text-embedding-ada-002/1536", 3).Return(hits, nil)

	result, err := retriever.Retrieve(ctx, "block pings on wan", 3)

	require.NoError(t, err)
	assert.Equal(t, hits, result)
	index.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestRetriever_Retrieve_EmptyIndexReturnsEmptyResult(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	retriever := NewRetriever(embedder, index)

	ctx := context.Background()
	index.On("CurrentVersion", ctx).Return("", nil)

	result, err := retriever.Retrieve(ctx, "anything", 3)

	require.NoError(t, err)
	assert.Empty(t, result)
	embedder.AssertNotCalled(t, "GenerateEmbedding")
	index.AssertNotCalled(t, "Search")
}

func TestRetriever_Retrieve_IndexVersionMismatch(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	retriever := NewRetriever(embedder, index)

	ctx := context.Background()
	embedder.On("IndexVersion").Return("text-embedding-3-small/1536")
	index.On("CurrentVersion", ctx).Return("text-embedding-ada-002/1536", nil)

	_, err := retriever.Retrieve(ctx, "anything", 3)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIndexVersionMismatch))
	embedder.AssertNotCalled(t, "GenerateEmbedding")
	index.AssertNotCalled(t, "Search")
}

func TestRetriever_Retrieve_EmptyQuery(t *testing.T) {
	retriever := NewRetriever(new(MockEmbedder), new(MockVectorIndex))

	_, err := retriever.Retrieve(context.Background(), "", 3)

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
}

func TestRetriever_Retrieve_DefaultsLimit(t *testing.T) {
	embedder := new(MockEmbedder)
	index := new(MockVectorIndex)
	retriever := NewRetriever(embedder, index)

	ctx := context.Background()
	embedder.On("IndexVersion").Return("v1")
	index.On("CurrentVersion", ctx).Return("v1", nil)
	embedder.On("GenerateEmbedding", ctx, "q").Return([]float32{1}, nil)
	index.On("Search", ctx, []float32{1}, "v1", DefaultRetrievalLimit).Return(domain.RetrievalResult{}, nil)

	_, err := retriever.Retrieve(ctx, "q", 0)

	require.NoError(t, err)
	index.AssertExpectations(t)
}
