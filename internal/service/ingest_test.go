package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/router"
	"github.com/orin-labs/uciagent/internal/uci"
)

func newIngestFixture() (*IngestService, *MockChunkRepo, *MockAnnotationRepo, *MockEmbeddingRepo, *MockJobRepo, *MockEmbedder, *fakeChannel) {
	chunks := new(MockChunkRepo)
	annotations := new(MockAnnotationRepo)
	embeddings := new(MockEmbeddingRepo)
	jobs := new(MockJobRepo)
	embedder := new(MockEmbedder)
	channel := newFakeChannel()

	svc := NewIngestService(chunks, annotations, embeddings, jobs, embedder, &fakeDialer{channel: channel}, 0)
	return svc, chunks, annotations, embeddings, jobs, embedder, channel
}

func TestIngestService_IngestFile(t *testing.T) {
	svc, chunks, _, embeddings, jobs, embedder, _ := newIngestFixture()
	ctx := context.Background()

	text := "config wifi-iface 'guest'\n\toption ssid 'Guest Net'\n\nconfig wifi-iface 'office'\n\toption ssid 'Office'\n"

	embedder.On("IndexVersion").Return("v1")
	embedder.On("Dimensions").Return(1536)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

	embeddings.On("EnsureIndexVersion", mock.Anything, "v1", 1536).Return(nil)
	embeddings.On("Add", mock.Anything, mock.Anything, "v1", mock.Anything).Return(nil)

	chunks.On("Upsert", mock.Anything, mock.Anything).Return(true, nil)
	jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	count, err := svc.IngestFile(ctx, "wireless", text)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	chunks.AssertNumberOfCalls(t, "Upsert", 2)
	jobs.AssertNumberOfCalls(t, "Enqueue", 2)
	embeddings.AssertNumberOfCalls(t, "Add", 2)
}

// An unchanged chunk keeps its stored embedding: the annotation worker may
// have written an annotation-enriched vector, and re-embedding raw text would
// quietly replace it with a worse one.
func TestIngestService_IngestFile_UnchangedChunksKeepEmbedding(t *testing.T) {
	svc, chunks, _, embeddings, jobs, embedder, _ := newIngestFixture()
	ctx := context.Background()

	embedder.On("IndexVersion").Return("v1")
	embedder.On("Dimensions").Return(1536)
	embeddings.On("EnsureIndexVersion", mock.Anything, "v1", 1536).Return(nil)

	chunks.On("Upsert", mock.Anything, mock.Anything).Return(false, nil)

	count, err := svc.IngestFile(ctx, "network", "config interface 'lan'\n\toption proto 'static'\n")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	embedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
	embeddings.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_IngestFile_EmptyInput(t *testing.T) {
	svc, chunks, _, _, _, _, _ := newIngestFixture()

	count, err := svc.IngestFile(context.Background(), "wireless", "  \n")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	chunks.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestIngestService_IngestFile_RejectsMalformedInput(t *testing.T) {
	svc, chunks, _, _, _, _, _ := newIngestFixture()

	_, err := svc.IngestFile(context.Background(), "wireless", "# comments only\n")
	assert.Error(t, err, "input without config sections must not be indexed")

	chunks.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestIngestService_SyncPackages(t *testing.T) {
	svc, chunks, _, embeddings, jobs, embedder, channel := newIngestFixture()
	ctx := context.Background()

	channel.responses["uci export wireless"] = &router.CommandResult{
		Stdout: "package wireless\n\nconfig wifi-iface 'guest'\n\toption ssid 'Guest Net'\n",
	}

	embedder.On("IndexVersion").Return("v1")
	embedder.On("Dimensions").Return(1536)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

	embeddings.On("EnsureIndexVersion", mock.Anything, "v1", 1536).Return(nil)
	embeddings.On("Add", mock.Anything, mock.Anything, "v1", mock.Anything).Return(nil)

	chunks.On("DeleteBySourceFile", mock.Anything, "192.168.1.1/wireless").Return([]string{"stale"}, nil)
	chunks.On("Upsert", mock.Anything, mock.MatchedBy(func(c *domain.ConfigChunk) bool {
		return c.SourceFile == "192.168.1.1/wireless"
	})).Return(true, nil)
	jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	err := svc.SyncPackages(ctx, "192.168.1.1", []string{"wireless"})
	require.NoError(t, err)

	assert.Contains(t, channel.history, "uci export wireless")
	assert.True(t, channel.closed)
	chunks.AssertExpectations(t)
}

func TestIngestService_SyncRouter(t *testing.T) {
	svc, chunks, _, embeddings, jobs, embedder, channel := newIngestFixture()
	ctx := context.Background()

	channel.responses["uci export"] = &router.CommandResult{
		Stdout: "package network\n\nconfig interface 'lan'\n\toption proto 'static'\n\n" +
			"package wireless\n\nconfig wifi-iface 'guest'\n\toption ssid 'Guest Net'\n",
	}

	embedder.On("IndexVersion").Return("v1")
	embedder.On("Dimensions").Return(1536)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

	embeddings.On("EnsureIndexVersion", mock.Anything, "v1", 1536).Return(nil)
	embeddings.On("Add", mock.Anything, mock.Anything, "v1", mock.Anything).Return(nil)

	chunks.On("DeleteBySourceFile", mock.Anything, "10.0.0.1/network").Return([]string(nil), nil)
	chunks.On("DeleteBySourceFile", mock.Anything, "10.0.0.1/wireless").Return([]string(nil), nil)
	chunks.On("Upsert", mock.Anything, mock.Anything).Return(true, nil)
	jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	total, err := svc.SyncRouter(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	chunks.AssertExpectations(t)
}

func TestIngestService_AccumulateKnowledge(t *testing.T) {
	svc, chunks, annotations, embeddings, _, embedder, _ := newIngestFixture()
	ctx := context.Background()

	script := &domain.GeneratedScript{
		ID:        "3b9e8d9a-48df-4a61-9e3a-d2f1f6f9b001",
		QueryText: "set up a guest wifi network",
		Commands:  []string{"uci set wireless.guest=wifi-iface", "uci commit wireless"},
	}

	wantID := uci.ChunkID("knowledge/"+script.ID, "knowledge.solved."+script.ID)

	chunks.On("Upsert", mock.Anything, mock.MatchedBy(func(c *domain.ConfigChunk) bool {
		return c.ChunkID == wantID && c.SectionType == domain.SectionOther
	})).Return(true, nil)
	annotations.On("Put", mock.Anything, wantID,
		"Commands that solved the request: set up a guest wifi network",
		domain.AnnotationByLLM).Return(&domain.Annotation{ChunkID: wantID, Version: 1}, nil)
	embedder.On("IndexVersion").Return("v1")
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.2}, nil)
	embeddings.On("Add", mock.Anything, wantID, "v1", mock.Anything).Return(nil)

	svc.AccumulateKnowledge(ctx, script)

	chunks.AssertExpectations(t)
	annotations.AssertExpectations(t)
	embeddings.AssertExpectations(t)
}

func TestIngestService_AccumulateKnowledge_StorageFailureIsSwallowed(t *testing.T) {
	svc, chunks, annotations, _, _, _, _ := newIngestFixture()

	chunks.On("Upsert", mock.Anything, mock.Anything).Return(false, assert.AnError)

	svc.AccumulateKnowledge(context.Background(), &domain.GeneratedScript{
		ID:        "script-1",
		QueryText: "anything",
	})

	annotations.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_ReindexAll(t *testing.T) {
	svc, chunks, annotations, embeddings, _, embedder, _ := newIngestFixture()
	ctx := context.Background()

	annotated := &domain.ConfigChunk{
		ChunkID: "chunk-annotated",
		RawText: "config wifi-iface 'guest'\n\toption ssid 'Guest Net'\n",
	}
	bare := &domain.ConfigChunk{
		ChunkID: "chunk-bare",
		RawText: "config interface 'lan'\n\toption proto 'static'\n",
	}

	embedder.On("IndexVersion").Return("v2")
	embedder.On("Dimensions").Return(1536)
	embeddings.On("EnsureIndexVersion", mock.Anything, "v2", 1536).Return(nil)

	chunks.On("All", mock.Anything, mock.Anything).
		Return([]*domain.ConfigChunk{annotated, bare}, nil)

	annotations.On("GetLatest", mock.Anything, "chunk-annotated").
		Return(&domain.Annotation{ChunkID: "chunk-annotated", Description: "Guest wifi network."}, nil)
	annotations.On("GetLatest", mock.Anything, "chunk-bare").
		Return(nil, domain.ErrAnnotationNotFound)

	embedder.On("GenerateEmbedding", mock.Anything, "Guest wifi network.\n\n"+annotated.RawText).
		Return([]float32{0.1}, nil)
	embedder.On("GenerateEmbedding", mock.Anything, bare.RawText).
		Return([]float32{0.2}, nil)

	embeddings.On("Add", mock.Anything, "chunk-annotated", "v2", mock.Anything).Return(nil)
	embeddings.On("Add", mock.Anything, "chunk-bare", "v2", mock.Anything).Return(nil)

	count, err := svc.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	embeddings.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestIngestService_ReindexAll_EmbedFailureStops(t *testing.T) {
	svc, chunks, annotations, embeddings, _, embedder, _ := newIngestFixture()

	embedder.On("IndexVersion").Return("v2")
	embedder.On("Dimensions").Return(1536)
	embeddings.On("EnsureIndexVersion", mock.Anything, "v2", 1536).Return(nil)

	chunks.On("All", mock.Anything, mock.Anything).
		Return([]*domain.ConfigChunk{{ChunkID: "c1", RawText: "config system\n"}}, nil)
	annotations.On("GetLatest", mock.Anything, "c1").Return(nil, domain.ErrAnnotationNotFound)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	count, err := svc.ReindexAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, count)
	embeddings.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSplitByPackage(t *testing.T) {
	text := "package network\n\nconfig interface 'lan'\n\npackage 'wireless'\n\nconfig wifi-iface 'guest'\n"

	result := splitByPackage(text)
	require.Len(t, result, 2)
	assert.Contains(t, result["network"], "config interface 'lan'")
	assert.Contains(t, result["wireless"], "config wifi-iface 'guest'")
}

func TestSplitByPackage_NoPackageLines(t *testing.T) {
	result := splitByPackage("config interface 'lan'\n")
	assert.Empty(t, result)
}
