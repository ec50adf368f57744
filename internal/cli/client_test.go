package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/api"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/store"
)

// setupTestClient runs a real API server over a seeded store.
func setupTestClient(t *testing.T) *Client {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	res := &bench.Result{
		ID: "run-1", Engine: "mailbox", StartedAt: time.Now(), Delivered: 1,
		Samples: []bench.Sample{{Listener: "t1", Tag: 1, Expected: 100 * time.Millisecond, Measured: time.Millisecond}},
	}
	if err := st.SaveRun(context.Background(), "batch-1", res); err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}

	srv := api.NewServer(st, api.DefaultServerConfig())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := DefaultClientConfig()
	cfg.ServerURL = ts.URL
	return NewClient(cfg)
}

func TestClient_Runs(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	runs, err := client.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	detail, err := client.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if detail.Run.BatchID != "batch-1" || detail.Report.Overall.Mean != time.Millisecond {
		t.Errorf("unexpected detail: %+v", detail)
	}

	rows, err := client.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Engine != "mailbox" {
		t.Errorf("unexpected batch: %+v", rows)
	}

	if err := client.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
}

func TestClient_NotFoundIsAPIError(t *testing.T) {
	client := setupTestClient(t)

	_, err := client.GetRun(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message == "" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClient_HealthAndVersion(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "pass" {
		t.Errorf("expected pass, got %q", health.Status)
	}

	version, err := client.ServerVersion(ctx)
	if err != nil || version != api.Version {
		t.Errorf("ServerVersion = %q, %v", version, err)
	}
}

func TestResolveServer(t *testing.T) {
	t.Setenv(EnvServer, "http://env:8080")

	if got := ResolveServer("http://flag:8080"); got != "http://flag:8080" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := ResolveServer(""); got != "http://env:8080" {
		t.Errorf("env should apply, got %q", got)
	}
}
