// Package store persists bench runs and their lateness samples in SQLite.
//
// One `telegraph-bench run` invocation produces one batch: a run row per
// engine, all sharing a batch id, plus one sample row per delivery.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is the stored header of one engine run.
type Run struct {
	ID         string        `json:"id" yaml:"id"`
	BatchID    string        `json:"batch_id" yaml:"batch_id"`
	Engine     string        `json:"engine" yaml:"engine"`
	Simulated  bool          `json:"simulated" yaml:"simulated"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
	Dispatched int           `json:"dispatched" yaml:"dispatched"`
	Delivered  int           `json:"delivered" yaml:"delivered"`
	Missed     int           `json:"missed" yaml:"missed"`
	Pending    int           `json:"pending" yaml:"pending"`
	Seed       int64         `json:"seed" yaml:"seed"`
}

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db      *sql.DB
	metrics *metrics.StoreMetrics
	retry   RetryPolicy
}

// Open opens (or creates) the SQLite database and initializes the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, retry: DefaultRetryPolicy()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetMetrics attaches store metrics. A nil m disables them.
func (s *Store) SetMetrics(m *metrics.StoreMetrics) { s.metrics = m }

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, time.Since(start), err)
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		batch_id    TEXT NOT NULL,
		engine      TEXT NOT NULL,
		simulated   INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		elapsed_ns  INTEGER NOT NULL,
		dispatched  INTEGER NOT NULL,
		delivered   INTEGER NOT NULL,
		missed      INTEGER NOT NULL,
		pending     INTEGER NOT NULL,
		seed        INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);

	CREATE TABLE IF NOT EXISTS samples (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		listener     TEXT NOT NULL,
		tag          INTEGER NOT NULL,
		expected_ns  INTEGER NOT NULL,
		measured_ns  INTEGER NOT NULL,
		delivered_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.ensureColumn("runs", "seed", "INTEGER NOT NULL DEFAULT 0")
}

// ensureColumn adds a column that databases created by older versions lack.
func (s *Store) ensureColumn(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// SaveRun stores result and all its samples in one transaction.
func (s *Store) SaveRun(ctx context.Context, batchID string, result *bench.Result) (err error) {
	defer func(start time.Time) {
		s.observe("save_run", start, err)
		if err == nil {
			s.metrics.RecordSamples(len(result.Samples))
		}
	}(time.Now())

	return s.retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (id, batch_id, engine, simulated, started_at, elapsed_ns, dispatched, delivered, missed, pending, seed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID, batchID, result.Engine, boolToInt(result.Simulated),
			formatTime(result.StartedAt), int64(result.Elapsed),
			result.Dispatched, result.Delivered, result.Missed, result.Pending, result.Seed,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO samples (run_id, listener, tag, expected_ns, measured_ns, delivered_at)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, smp := range result.Samples {
			if _, err := stmt.ExecContext(ctx,
				result.ID, smp.Listener, int(smp.Tag),
				int64(smp.Expected), int64(smp.Measured), formatTime(smp.DeliveredAt),
			); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
		}

		return tx.Commit()
	})
}

// DeleteRun removes a run and its samples. Returns ErrRunNotFound if absent.
func (s *Store) DeleteRun(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_run", start, err) }(time.Now())

	return s.retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM samples WHERE run_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunNotFound
		}
		return tx.Commit()
	})
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

const runColumns = `id, batch_id, engine, simulated, started_at, elapsed_ns, dispatched, delivered, missed, pending, seed`

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) (_ []Run, err error) {
	defer func(start time.Time) { s.observe("list_runs", start, err) }(time.Now())

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, engine ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetRun retrieves a run header by id.
func (s *Store) GetRun(ctx context.Context, id string) (_ *Run, err error) {
	defer func(start time.Time) { s.observe("get_run", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// BatchRuns returns every run of one batch, ordered by engine.
func (s *Store) BatchRuns(ctx context.Context, batchID string) (_ []Run, err error) {
	defer func(start time.Time) { s.observe("batch_runs", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE batch_id = ? ORDER BY engine`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Samples returns every sample of a run in insertion order.
func (s *Store) Samples(ctx context.Context, runID string) (_ []bench.Sample, err error) {
	defer func(start time.Time) { s.observe("samples", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT listener, tag, expected_ns, measured_ns, delivered_at
		 FROM samples WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bench.Sample
	for rows.Next() {
		var (
			smp                bench.Sample
			tag                int
			expected, measured int64
			deliveredAt        string
		)
		if err := rows.Scan(&smp.Listener, &tag, &expected, &measured, &deliveredAt); err != nil {
			return nil, err
		}
		smp.Tag = telegraph.Tag(tag)
		smp.Expected = time.Duration(expected)
		smp.Measured = time.Duration(measured)
		smp.DeliveredAt = parseTime(deliveredAt)
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Result rebuilds the full bench.Result of a stored run.
func (s *Store) Result(ctx context.Context, runID string) (*bench.Result, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	samples, err := s.Samples(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &bench.Result{
		ID:         run.ID,
		Engine:     run.Engine,
		Simulated:  run.Simulated,
		StartedAt:  run.StartedAt,
		Elapsed:    run.Elapsed,
		Dispatched: run.Dispatched,
		Delivered:  run.Delivered,
		Missed:     run.Missed,
		Pending:    run.Pending,
		Seed:       run.Seed,
		Samples:    samples,
	}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r         Run
		simulated int
		startedAt string
		elapsed   int64
	)
	if err := sc.Scan(&r.ID, &r.BatchID, &r.Engine, &simulated, &startedAt, &elapsed,
		&r.Dispatched, &r.Delivered, &r.Missed, &r.Pending, &r.Seed); err != nil {
		return nil, err
	}
	r.Simulated = simulated != 0
	r.StartedAt = parseTime(startedAt)
	r.Elapsed = time.Duration(elapsed)
	return &r, nil
}

// timeLayout has fixed-width fractional seconds so stored timestamps sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
