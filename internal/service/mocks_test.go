package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/router"
)

// MockEmbedder mocks the embedding client
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) IndexVersion() string {
	return m.Called().String(0)
}

func (m *MockEmbedder) Dimensions() int {
	return m.Called().Int(0)
}

// MockVectorIndex mocks the embedding store
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) CurrentVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockVectorIndex) Search(ctx context.Context, vector []float32, indexVersion string, limit int) (domain.RetrievalResult, error) {
	args := m.Called(ctx, vector, indexVersion, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.RetrievalResult), args.Error(1)
}

// MockCompletionClient mocks the chat completion client
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// MockChunkRepo mocks the chunk repository
type MockChunkRepo struct {
	mock.Mock
}

func (m *MockChunkRepo) GetByIDs(ctx context.Context, chunkIDs []string) ([]*domain.ConfigChunk, error) {
	args := m.Called(ctx, chunkIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ConfigChunk), args.Error(1)
}

func (m *MockChunkRepo) Upsert(ctx context.Context, c *domain.ConfigChunk) (bool, error) {
	args := m.Called(ctx, c)
	return args.Bool(0), args.Error(1)
}

func (m *MockChunkRepo) DeleteBySourceFile(ctx context.Context, sourceFile string) ([]string, error) {
	args := m.Called(ctx, sourceFile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockChunkRepo) All(ctx context.Context, fn func(*domain.ConfigChunk) error) error {
	args := m.Called(ctx, fn)
	if chunks, ok := args.Get(0).([]*domain.ConfigChunk); ok {
		for _, c := range chunks {
			if err := fn(c); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

// MockAnnotationRepo mocks the annotation repository
type MockAnnotationRepo struct {
	mock.Mock
}

func (m *MockAnnotationRepo) GetLatestForChunks(ctx context.Context, chunkIDs []string) (map[string]*domain.Annotation, error) {
	args := m.Called(ctx, chunkIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Annotation), args.Error(1)
}

func (m *MockAnnotationRepo) GetLatest(ctx context.Context, chunkID string) (*domain.Annotation, error) {
	args := m.Called(ctx, chunkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Annotation), args.Error(1)
}

func (m *MockAnnotationRepo) Put(ctx context.Context, chunkID, description string, generatedBy domain.AnnotationSource) (*domain.Annotation, error) {
	args := m.Called(ctx, chunkID, description, generatedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Annotation), args.Error(1)
}

// MockScriptRepo mocks the script repository
type MockScriptRepo struct {
	mock.Mock
}

func (m *MockScriptRepo) Create(ctx context.Context, s *domain.GeneratedScript) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockScriptRepo) GetByID(ctx context.Context, id string) (*domain.GeneratedScript, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GeneratedScript), args.Error(1)
}

func (m *MockScriptRepo) ClaimExecution(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockScriptRepo) ReleaseExecution(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockScriptRepo) UpdateValidation(ctx context.Context, id string, status domain.ValidationStatus, reason string) error {
	return m.Called(ctx, id, status, reason).Error(0)
}

func (m *MockScriptRepo) FinishExecution(ctx context.Context, result *domain.ExecutionResult) error {
	return m.Called(ctx, result).Error(0)
}

func (m *MockScriptRepo) GetExecutionResult(ctx context.Context, scriptID string) (*domain.ExecutionResult, error) {
	args := m.Called(ctx, scriptID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExecutionResult), args.Error(1)
}

// MockEmbeddingRepo mocks the embedding repository write surface
type MockEmbeddingRepo struct {
	mock.Mock
}

func (m *MockEmbeddingRepo) EnsureIndexVersion(ctx context.Context, indexVersion string, dimensions int) error {
	return m.Called(ctx, indexVersion, dimensions).Error(0)
}

func (m *MockEmbeddingRepo) Add(ctx context.Context, chunkID, indexVersion string, vector []float32) error {
	return m.Called(ctx, chunkID, indexVersion, vector).Error(0)
}

// MockJobRepo mocks the annotation job queue
type MockJobRepo struct {
	mock.Mock
}

func (m *MockJobRepo) Enqueue(ctx context.Context, job *domain.AnnotationJob) error {
	return m.Called(ctx, job).Error(0)
}

// fakeChannel scripts router responses per command for executor tests.
type fakeChannel struct {
	// responses maps a command string to its result. Commands not listed get
	// a zero-exit empty result.
	responses map[string]*router.CommandResult
	// failures maps a command string to a transport error.
	failures map[string]error
	history  []string
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		responses: map[string]*router.CommandResult{},
		failures:  map[string]error{},
	}
}

func (c *fakeChannel) Run(ctx context.Context, command string) (*router.CommandResult, error) {
	c.history = append(c.history, command)
	if err, ok := c.failures[command]; ok {
		return nil, err
	}
	if res, ok := c.responses[command]; ok {
		return res, nil
	}
	return &router.CommandResult{}, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

// fakeDialer hands out a fixed channel.
type fakeDialer struct {
	channel router.Channel
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (router.Channel, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.channel, nil
}

// noopLocks satisfies LockRegistry without contention.
type noopLocks struct{}

func (noopLocks) Acquire(ctx context.Context, address string, timeout time.Duration) (func(), error) {
	return func() {}, nil
}
