// Package store keeps a history of benchmark runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weiihann/parbench/harness"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is one persisted benchmark run.
type RunRecord struct {
	ID             int64
	Executable     string
	StartedAt      time.Time
	Duration       time.Duration
	ExitCode       int
	DecodeFailures int
	// Error is the terminal error message, empty for a successful run.
	Error   string
	Results []harness.Result
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer; avoids SQLITE_BUSY between concurrent callers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		executable TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		decode_failures INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS results (
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		times_executed INTEGER NOT NULL,
		avg_execution_time_seconds REAL NOT NULL,
		data_type TEXT,
		matrix_dims TEXT,
		PRIMARY KEY (run_id, seq)
	);
	`

	_, err := s.db.Exec(schema)

	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its results in one transaction and returns the
// new run id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (executable, started_at, duration_ns, exit_code, decode_failures, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Executable, rec.StartedAt.UnixNano(), int64(rec.Duration),
		rec.ExitCode, rec.DecodeFailures, rec.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, seq, name, times_executed, avg_execution_time_seconds, data_type, matrix_dims)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare results: %w", err)
	}
	defer stmt.Close()

	for i, r := range rec.Results {
		var dataType, dims sql.NullString
		if r.Matrix != nil {
			dataType = sql.NullString{String: r.Matrix.DataType, Valid: true}
			dims = sql.NullString{String: r.Matrix.MatrixDims, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			id, i, r.Name, r.TimesExecuted, r.AvgExecutionTimeSeconds, dataType, dims,
		); err != nil {
			return 0, fmt.Errorf("insert result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return id, nil
}

// ListRuns returns the most recent runs, newest first, without results.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, executable, started_at, duration_ns, exit_code, decode_failures, error
		FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec       RunRecord
			startedAt int64
			duration  int64
		)

		if err := rows.Scan(
			&rec.ID, &rec.Executable, &startedAt, &duration,
			&rec.ExitCode, &rec.DecodeFailures, &rec.Error,
		); err != nil {
			return nil, err
		}

		rec.StartedAt = time.Unix(0, startedAt)
		rec.Duration = time.Duration(duration)
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}

// Run returns a single run with its results in delivery order.
func (s *Store) Run(ctx context.Context, id int64) (RunRecord, error) {
	var (
		rec       RunRecord
		startedAt int64
		duration  int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, executable, started_at, duration_ns, exit_code, decode_failures, error
		FROM runs WHERE id = ?`,
		id,
	).Scan(
		&rec.ID, &rec.Executable, &startedAt, &duration,
		&rec.ExitCode, &rec.DecodeFailures, &rec.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, err
	}

	rec.StartedAt = time.Unix(0, startedAt)
	rec.Duration = time.Duration(duration)

	rec.Results, err = s.Results(ctx, id)
	if err != nil {
		return RunRecord{}, err
	}

	return rec, nil
}

// Results returns the results of a run in delivery order.
func (s *Store) Results(ctx context.Context, runID int64) ([]harness.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, times_executed, avg_execution_time_seconds, data_type, matrix_dims
		FROM results WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []harness.Result
	for rows.Next() {
		var (
			r              harness.Result
			dataType, dims sql.NullString
		)

		if err := rows.Scan(
			&r.Name, &r.TimesExecuted, &r.AvgExecutionTimeSeconds, &dataType, &dims,
		); err != nil {
			return nil, err
		}

		if dataType.Valid || dims.Valid {
			r.Matrix = &harness.MatrixParams{DataType: dataType.String, MatrixDims: dims.String}
		}

		results = append(results, r)
	}

	return results, rows.Err()
}
