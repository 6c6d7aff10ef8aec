package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/router"
)

// pipelineFixture wires a full pipeline over mocks and a fake router.
type pipelineFixture struct {
	embedder    *MockEmbedder
	index       *MockVectorIndex
	llm         *MockCompletionClient
	chunks      *MockChunkRepo
	annotations *MockAnnotationRepo
	scripts     *MockScriptRepo
	embeddings  *MockEmbeddingRepo
	jobs        *MockJobRepo
	channel     *fakeChannel
	pipeline    *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		embedder:    new(MockEmbedder),
		index:       new(MockVectorIndex),
		llm:         new(MockCompletionClient),
		chunks:      new(MockChunkRepo),
		annotations: new(MockAnnotationRepo),
		scripts:     new(MockScriptRepo),
		embeddings:  new(MockEmbeddingRepo),
		jobs:        new(MockJobRepo),
		channel:     newFakeChannel(),
	}
	dialer := &fakeDialer{channel: f.channel}
	retriever := NewRetriever(f.embedder, f.index)
	generator := NewScriptGenerator(f.llm, f.chunks, f.annotations, f.scripts)
	validator := NewScriptValidator(nil)
	executor := NewScriptExecutor(dialer, noopLocks{}, f.scripts, testExecutorConfig())
	ingest := NewIngestService(f.chunks, f.annotations, f.embeddings, f.jobs, f.embedder, dialer, 0)
	f.pipeline = NewPipeline(retriever, generator, validator, executor, f.scripts, ingest, 3)
	return f
}

// A guest WiFi query flows from retrieval through generation to an approved
// script carrying provenance for the wireless chunk that grounded it.
func TestPipeline_SubmitQuery_GuestWifi(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	wirelessChunk := &domain.ConfigChunk{
		ChunkID:     "wifi-chunk",
		SectionPath: "wireless.default_radio0.wifi-iface",
		RawText:     "config wifi-iface 'default_radio0'\n\toption ssid 'OpenWrt'\n",
	}

	f.embedder.On("IndexVersion").Return("v1")
	f.index.On("CurrentVersion", ctx).Return("v1", nil)
	f.embedder.On("GenerateEmbedding", ctx, "set up a guest WiFi network").Return([]float32{0.5}, nil)
	f.index.On("Search", ctx, []float32{0.5}, "v1", 3).Return(domain.RetrievalResult{
		{ChunkID: "wifi-chunk", Score: 0.95},
	}, nil)
	f.chunks.On("GetByIDs", ctx, []string{"wifi-chunk"}).Return([]*domain.ConfigChunk{wirelessChunk}, nil)
	f.annotations.On("GetLatestForChunks", ctx, []string{"wifi-chunk"}).Return(map[string]*domain.Annotation{
		"wifi-chunk": {ChunkID: "wifi-chunk", Description: "defines SSID and encryption for wifi-iface"},
	}, nil)
	f.llm.On("Complete", ctx, mock.Anything).Return(
		"```bash\nuci set wireless.guest=wifi-iface\nuci set wireless.guest.ssid=Guest\nuci commit wireless\n```", nil)
	f.scripts.On("Create", ctx, mock.Anything).Return(nil)
	f.scripts.On("UpdateValidation", ctx, mock.Anything, domain.ValidationApproved, "").Return(nil)

	script, err := f.pipeline.SubmitQuery(ctx, "192.168.1.1", "set up a guest WiFi network")

	require.NoError(t, err)
	assert.Equal(t, domain.ValidationApproved, script.ValidationStatus)
	assert.Equal(t, []string{"wifi-chunk"}, script.RetrievedChunkIDs)
	assert.Len(t, script.Commands, 3)
}

// A script whose output embeds command chaining comes back rejected and is
// never executable.
func TestPipeline_SubmitQuery_ChainedCommandRejected(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	f.embedder.On("IndexVersion").Return("v1")
	f.index.On("CurrentVersion", ctx).Return("", nil)
	f.llm.On("Complete", ctx, mock.Anything).Return(
		"uci set wireless.guest=wifi-iface\nuci rm; rm -rf /", nil)
	f.scripts.On("Create", ctx, mock.Anything).Return(nil)

	script, err := f.pipeline.SubmitQuery(ctx, "192.168.1.1", "wipe it")

	require.NoError(t, err)
	assert.Equal(t, domain.ValidationRejected, script.ValidationStatus)
	assert.Empty(t, script.Commands)
	assert.Empty(t, f.channel.history, "nothing may reach the router")

	// A parse-rejected script cannot be confirmed into execution either.
	f.scripts.On("GetByID", ctx, script.ID).Return(script, nil)
	_, err = f.pipeline.ConfirmAndRun(ctx, script.ID, ConfirmFlags{
		AllowManagementInterface: true,
		AllowFirewallDefaults:    true,
		AllowRemoteAccess:        true,
	})
	assert.True(t, errors.Is(err, domain.ErrScriptNotApproved))
	assert.Empty(t, f.channel.history)
}

func TestPipeline_ConfirmAndRun_ExecutesAndAccumulatesKnowledge(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	script := &domain.GeneratedScript{
		ID:            "script-1",
		RouterAddress: "192.168.1.1",
		QueryText:     "set up a guest WiFi network",
		Commands: []string{
			"uci set wireless.guest=wifi-iface",
			"uci set wireless.guest.ssid=Guest",
			"uci commit wireless",
		},
		ValidationStatus: domain.ValidationPending,
		ExecutionStatus:  domain.ExecutionNotRun,
	}

	f.channel.responses["uci show wireless"] = &router.CommandResult{Stdout: "wireless.radio0=wifi-device\n"}
	f.channel.responses["uci export wireless"] = &router.CommandResult{
		Stdout: "package wireless\n\nconfig wifi-iface 'guest'\n\toption ssid 'Guest'\n",
	}

	f.scripts.On("GetByID", ctx, "script-1").Return(script, nil)
	f.scripts.On("UpdateValidation", ctx, "script-1", domain.ValidationApproved, "").Return(nil)
	f.scripts.On("ClaimExecution", ctx, "script-1").Return(nil)
	f.scripts.On("FinishExecution", ctx, mock.Anything).Return(nil)

	// Post-execution sync of the wireless package.
	f.embedder.On("IndexVersion").Return("v1")
	f.embedder.On("Dimensions").Return(1536)
	f.chunks.On("DeleteBySourceFile", ctx, "192.168.1.1/wireless").Return([]string{}, nil)
	f.embeddings.On("EnsureIndexVersion", ctx, "v1", 1536).Return(nil)
	f.chunks.On("Upsert", ctx, mock.Anything).Return(true, nil)
	f.embedder.On("GenerateEmbedding", ctx, mock.Anything).Return([]float32{0.1}, nil)
	f.embeddings.On("Add", ctx, mock.Anything, "v1", []float32{0.1}).Return(nil)
	f.jobs.On("Enqueue", ctx, mock.Anything).Return(nil)

	// Knowledge accumulation for the solved query.
	f.annotations.On("Put", ctx, mock.Anything, mock.Anything, domain.AnnotationByLLM).
		Return(&domain.Annotation{}, nil)

	result, err := f.pipeline.ConfirmAndRun(ctx, "script-1", ConfirmFlags{})

	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionOK, result.Status)
	assert.Contains(t, f.channel.history, "uci commit wireless")
	assert.Contains(t, f.channel.history, "uci export wireless")
	f.annotations.AssertCalled(t, "Put", ctx, mock.Anything, mock.Anything, domain.AnnotationByLLM)
}

func TestPipeline_ConfirmAndRun_RejectedWithoutConfirmationFlag(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	script := &domain.GeneratedScript{
		ID:               "script-2",
		RouterAddress:    "192.168.1.1",
		QueryText:        "change the lan address",
		Commands:         []string{"uci set network.lan.ipaddr=10.0.0.1", "uci commit network"},
		ValidationStatus: domain.ValidationRejected,
		RejectionReason:  "changing the management interface (network.lan.ipaddr) requires confirmation",
		ExecutionStatus:  domain.ExecutionNotRun,
	}

	f.scripts.On("GetByID", ctx, "script-2").Return(script, nil)
	f.scripts.On("UpdateValidation", ctx, "script-2", domain.ValidationRejected, mock.Anything).Return(nil)

	_, err := f.pipeline.ConfirmAndRun(ctx, "script-2", ConfirmFlags{})

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeValidationRejected, derr.Code)
	assert.Empty(t, f.channel.history)
}

func TestPipeline_ConfirmAndRun_AlreadyRun(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	script := &domain.GeneratedScript{
		ID:              "script-3",
		ExecutionStatus: domain.ExecutionPartial,
		Commands:        []string{"uci commit"},
	}
	f.scripts.On("GetByID", ctx, "script-3").Return(script, nil)

	_, err := f.pipeline.ConfirmAndRun(ctx, "script-3", ConfirmFlags{})
	assert.True(t, errors.Is(err, domain.ErrScriptAlreadyRun))
}

func TestPipeline_SubmitQuery_IndexVersionMismatchPropagates(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	f.embedder.On("IndexVersion").Return("v2")
	f.index.On("CurrentVersion", ctx).Return("v1", nil)

	_, err := f.pipeline.SubmitQuery(ctx, "192.168.1.1", "anything")
	assert.True(t, errors.Is(err, domain.ErrIndexVersionMismatch))
}
