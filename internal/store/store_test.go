package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(id, engine string, started time.Time) *bench.Result {
	return &bench.Result{
		ID:         id,
		Engine:     engine,
		Simulated:  true,
		StartedAt:  started,
		Elapsed:    8 * time.Second,
		Dispatched: 2,
		Delivered:  2,
		Seed:       99,
		Samples: []bench.Sample{
			{Listener: "t1", Tag: 1, Expected: 100 * time.Millisecond, Measured: 120 * time.Microsecond, DeliveredAt: started.Add(100 * time.Millisecond)},
			{Listener: "t4", Tag: 2, Expected: 0, Measured: 0, DeliveredAt: started.Add(50 * time.Millisecond)},
		},
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	if err := s.SaveRun(ctx, "batch-1", sampleResult("run-1", "mailbox", started)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.BatchID != "batch-1" || run.Engine != "mailbox" || !run.Simulated {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.Seed != 99 {
		t.Errorf("seed lost: %d", run.Seed)
	}
	if !run.StartedAt.Equal(started) || run.Elapsed != 8*time.Second {
		t.Errorf("timing lost: started=%v elapsed=%v", run.StartedAt, run.Elapsed)
	}

	samples, err := s.Samples(ctx, "run-1")
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	first := samples[0]
	if first.Listener != "t1" || first.Tag != 1 || first.Expected != 100*time.Millisecond || first.Measured != 120*time.Microsecond {
		t.Errorf("unexpected sample: %+v", first)
	}
	if !first.DeliveredAt.Equal(started.Add(100 * time.Millisecond)) {
		t.Errorf("delivered_at lost: %v", first.DeliveredAt)
	}

	res, err := s.Result(ctx, "run-1")
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if res.Delivered != 2 || len(res.Samples) != 2 || res.Seed != 99 {
		t.Errorf("unexpected rebuilt result: %+v", res)
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveRun(ctx, id, sampleResult(id, "eventqueue", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "new" || runs[2].ID != "old" {
		t.Fatalf("unexpected order: %+v", runs)
	}

	runs, err = s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("limit ignored: got %d runs", len(runs))
	}
}

func TestStore_BatchRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.SaveRun(ctx, "b", sampleResult("r2", "mailbox", now))
	s.SaveRun(ctx, "b", sampleResult("r1", "eventqueue", now))
	s.SaveRun(ctx, "other", sampleResult("r3", "mailbox", now))

	runs, err := s.BatchRuns(ctx, "b")
	if err != nil {
		t.Fatalf("BatchRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].Engine != "eventqueue" || runs[1].Engine != "mailbox" {
		t.Errorf("unexpected batch: %+v", runs)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: expected ErrRunNotFound, got %v", err)
	}
	if _, err := s.Result(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Result: expected ErrRunNotFound, got %v", err)
	}
	if err := s.DeleteRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("DeleteRun: expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_DeleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, "b", sampleResult("gone", "mailbox", time.Now())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := s.DeleteRun(ctx, "gone"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	samples, err := s.Samples(ctx, "gone")
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("samples survived delete: %d", len(samples))
	}
}

func TestStore_DuplicateRunID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	res := sampleResult("dup", "mailbox", time.Now())

	if err := s.SaveRun(ctx, "b", res); err != nil {
		t.Fatalf("first SaveRun failed: %v", err)
	}
	if err := s.SaveRun(ctx, "b", res); err == nil {
		t.Error("expected primary key violation on second save")
	}

	// The failed transaction must not leave extra samples behind
	samples, _ := s.Samples(ctx, "dup")
	if len(samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(samples))
	}
}

func TestStore_Metrics(t *testing.T) {
	cfg := metrics.DefaultConfig()
	cfg.IncludeGoCollector = false
	cfg.IncludeProcessCollector = false
	reg := metrics.NewRegistry(cfg)

	s := openTestStore(t)
	s.SetMetrics(reg.Store)
	ctx := context.Background()

	if err := s.SaveRun(ctx, "b", sampleResult("m1", "mailbox", time.Now())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	s.GetRun(ctx, "missing")

	if got := testutil.ToFloat64(reg.Store.Operations.WithLabelValues("save_run", metrics.ResultOK)); got != 1 {
		t.Errorf("save_run ok: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(reg.Store.Operations.WithLabelValues("get_run", metrics.ResultError)); got != 1 {
		t.Errorf("get_run error: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(reg.Store.SamplesWritten); got != 2 {
		t.Errorf("samples: expected 2, got %v", got)
	}
}

func TestStore_AddsSeedColumnToOldDatabase(t *testing.T) {
	// WHAT: A runs table created before the seed column gains it on Open
	// WHY: CREATE TABLE IF NOT EXISTS leaves existing tables untouched

	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY, batch_id TEXT NOT NULL, engine TEXT NOT NULL,
		simulated INTEGER NOT NULL DEFAULT 0, started_at TEXT NOT NULL,
		elapsed_ns INTEGER NOT NULL, dispatched INTEGER NOT NULL,
		delivered INTEGER NOT NULL, missed INTEGER NOT NULL, pending INTEGER NOT NULL)`)
	db.Close()
	if err != nil {
		t.Fatalf("create old schema: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.SaveRun(ctx, "b", sampleResult("run-1", "eventqueue", time.Now())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	run, err := s.GetRun(ctx, "run-1")
	if err != nil || run.Seed != 99 {
		t.Errorf("GetRun = %+v, %v", run, err)
	}
}
