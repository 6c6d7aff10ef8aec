//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orin-labs/uciagent/internal/api/handlers"
	"github.com/orin-labs/uciagent/internal/repository"
	"github.com/orin-labs/uciagent/internal/router"
	"github.com/orin-labs/uciagent/internal/server"
	"github.com/orin-labs/uciagent/internal/service"
	"github.com/orin-labs/uciagent/internal/testutil"
)

const embeddingDimensions = 1536

// hashEmbedder derives a deterministic vector from the text content, so
// identical text always lands on the identical point and retrieval stays
// reproducible without a live embedding API.
type hashEmbedder struct{}

func (hashEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, embeddingDimensions)
	for i := range v {
		var buf [40]byte
		copy(buf[:32], sum[:])
		binary.LittleEndian.PutUint64(buf[32:], uint64(i))
		h := sha256.Sum256(buf[:])
		v[i] = float32(binary.LittleEndian.Uint32(h[:4]))/float32(1<<32) - 0.5
	}
	return v, nil
}

func (hashEmbedder) IndexVersion() string { return "e2e-hash-v1" }

func (hashEmbedder) Dimensions() int { return embeddingDimensions }

// scriptedLLM returns a canned completion, settable per test step.
type scriptedLLM struct {
	mu       sync.Mutex
	response string
}

func (l *scriptedLLM) SetResponse(response string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.response = response
}

func (l *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.response, nil
}

// fakeRouter emulates the SSH side of a router: canned results per command,
// zero-exit empty output for everything else.
type fakeRouter struct {
	mu        sync.Mutex
	responses map[string]*router.CommandResult
	history   []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{responses: map[string]*router.CommandResult{}}
}

func (f *fakeRouter) SetResponse(command string, result *router.CommandResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[command] = result
}

func (f *fakeRouter) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history...)
}

func (f *fakeRouter) Dial(ctx context.Context, address string) (router.Channel, error) {
	return &fakeRouterChannel{router: f}, nil
}

type fakeRouterChannel struct {
	router *fakeRouter
}

func (c *fakeRouterChannel) Run(ctx context.Context, command string) (*router.CommandResult, error) {
	c.router.mu.Lock()
	defer c.router.mu.Unlock()
	c.router.history = append(c.router.history, command)
	if res, ok := c.router.responses[command]; ok {
		return res, nil
	}
	return &router.CommandResult{}, nil
}

func (c *fakeRouterChannel) Close() error { return nil }

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	LLM          *scriptedLLM
	Router       *fakeRouter
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with a database container
// and an in-process server wired over fake router and LLM backends.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	llm := &scriptedLLM{}
	fakeRtr := newFakeRouter()

	serverURL, serverCloser := startServer(t, pool, llm, fakeRtr, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		LLM:          llm,
		Router:       fakeRtr,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer wires the full service graph over the fakes and serves it
func startServer(t *testing.T, pool *pgxpool.Pool, llm *scriptedLLM, fakeRtr *fakeRouter, port int) (string, func()) {
	chunkRepo := repository.NewChunkRepository(pool)
	annotationRepo := repository.NewAnnotationRepository(pool)
	embeddingRepo := repository.NewEmbeddingRepository(pool)
	scriptRepo := repository.NewScriptRepository(pool)
	jobRepo := repository.NewAnnotationJobRepository(pool)

	embedder := hashEmbedder{}
	locks := router.NewLockRegistry()

	retriever := service.NewRetriever(embedder, embeddingRepo)
	generator := service.NewScriptGenerator(llm, chunkRepo, annotationRepo, scriptRepo)
	validator := service.NewScriptValidator(nil)
	executor := service.NewScriptExecutor(fakeRtr, locks, scriptRepo, service.DefaultExecutorConfig())
	ingestSvc := service.NewIngestService(chunkRepo, annotationRepo, embeddingRepo, jobRepo, embedder, fakeRtr, 0)
	pipeline := service.NewPipeline(retriever, generator, validator, executor, scriptRepo, ingestSvc, 0)

	cfg := server.RouterConfig{
		ScriptHandler: handlers.NewScriptHandler(pipeline),
		SyncHandler:   handlers.NewSyncHandler(ingestSvc),
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.NewRouter(cfg),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not become ready within %s", timeout)
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
