//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/cli"
	"github.com/cloo-solutions/tenderwise/internal/config"
	"github.com/cloo-solutions/tenderwise/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	RustFSC    *testutil.RustFSContainer
	App        *cli.App
	Server     *httptest.Server
	HTTPClient *http.Client

	cancel context.CancelFunc
}

// APIResponse is the success envelope plus the raw status.
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

// SetupE2EEnv starts Postgres and RustFS, wires the full app against them
// and serves its router with the ingestion worker running.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx, cancel := context.WithCancel(context.Background())

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	cfg := &config.Config{
		Port:                  "0",
		DatabaseURL:           pgC.ConnectionString(),
		VectorBackend:         config.BackendPgvector,
		S3Endpoint:            s3C.Endpoint(),
		S3AccessKey:           "rustfsadmin",
		S3SecretKey:           "rustfsadmin",
		S3Bucket:              "tender-e2e",
		S3Region:              "us-east-1",
		ProviderTimeout:       10 * time.Second,
		EmbeddingMode:         "hash",
		QueryCacheSize:        64,
		QueryCacheTTL:         time.Minute,
		IngestPollInterval:    200 * time.Millisecond,
		EvaluationConcurrency: 2,
		Environment:           "test",
	}

	app, err := cli.NewApp(ctx, cfg, cli.AppOptions{Migrate: true, MigrationsDir: "../../migrations"})
	if err != nil {
		cancel()
		t.Fatalf("failed to build app: %v", err)
	}

	if worker := app.IngestionWorker(); worker != nil {
		go worker.Start(ctx)
	}

	return &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		App:        app,
		Server:     httptest.NewServer(app.Router()),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		cancel:     cancel,
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Server != nil {
		e.Server.Close()
	}
	e.cancel()
	if e.App != nil {
		e.App.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(context.Background())
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(context.Background())
	}
}

// Post sends a JSON body to path.
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.Do(http.MethodPost, path, body)
}

// Get requests path.
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.Do(http.MethodGet, path, nil)
}

// Do sends a request and decodes the response envelope.
func (e *E2ETestEnv) Do(method, path string, body interface{}) (*APIResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.Server.URL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &APIResponse{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to decode response %q: %w", raw, err)
		}
	}
	return out, nil
}

// WaitFor polls cond until it holds or the timeout passes.
func (e *E2ETestEnv) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
