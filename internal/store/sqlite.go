package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediamill/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    status        TEXT NOT NULL,
    progress      REAL NOT NULL DEFAULT 0,
    stage         TEXT NOT NULL DEFAULT '',
    message       TEXT NOT NULL DEFAULT '',
    input_ref     TEXT NOT NULL DEFAULT '',
    result_path   TEXT,
    result_name   TEXT,
    result_size   INTEGER,
    fault_kind    TEXT,
    fault_message TEXT,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, kind, status, progress, stage, message, input_ref, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Status, j.Progress, j.Stage, j.Message, j.InputRef, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, kind, status, progress, stage, message, input_ref,
	result_path, result_name, result_size, fault_kind, fault_message,
	created_at, started_at, finished_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*model.Job, error) {
	j := &model.Job{}
	var (
		resultPath, resultName  sql.NullString
		resultSize              sql.NullInt64
		faultKind, faultMessage sql.NullString
		startedAt, finishedAt   sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.Progress, &j.Stage, &j.Message, &j.InputRef,
		&resultPath, &resultName, &resultSize, &faultKind, &faultMessage,
		&j.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if resultPath.Valid {
		j.Result = &model.Result{
			Path:      resultPath.String,
			Filename:  resultName.String,
			SizeBytes: resultSize.Int64,
		}
	}
	if faultKind.Valid {
		j.Failure = &model.Failure{
			Kind:    faultKind.String,
			Message: faultMessage.String,
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, nil
}

// GetJob retrieves a point-in-time snapshot of a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// SetRunning performs the pending→running transition.
func (s *SQLiteStore) SetRunning(ctx context.Context, id string, startedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		model.StatusRunning, startedAt.UTC(), id, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// UpdateProgress records progress for a running job. The max() guard keeps
// progress monotonic; the status guard makes late writes against a
// terminal job a no-op rather than an error.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, progress float64, stage, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = max(progress, ?), stage = ?, message = ?
		 WHERE id = ? AND status = ?`,
		progress, stage, message, id, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// CompleteJob performs the one-way transition to succeeded. Idempotent:
// calling it against an already-terminal job changes nothing.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result *model.Result, finishedAt time.Time) error {
	if result == nil {
		return fmt.Errorf("complete job: result is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = 100, stage = 'completed', message = 'Completed',
			result_path = ?, result_name = ?, result_size = ?, finished_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		model.StatusSucceeded,
		result.Path, result.Filename, result.SizeBytes, finishedAt.UTC(),
		id, model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return s.checkTerminalWrite(ctx, id, res)
}

// FailJob performs the one-way transition to failed. Idempotent like
// CompleteJob.
func (s *SQLiteStore) FailJob(ctx context.Context, id string, failure *model.Failure, finishedAt time.Time) error {
	if failure == nil {
		return fmt.Errorf("fail job: failure is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = 'failed', message = ?,
			fault_kind = ?, fault_message = ?, finished_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		model.StatusFailed, failure.Message,
		failure.Kind, failure.Message, finishedAt.UTC(),
		id, model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return s.checkTerminalWrite(ctx, id, res)
}

// checkTerminalWrite distinguishes "already terminal" (a tolerated no-op)
// from "row never existed".
func (s *SQLiteStore) checkTerminalWrite(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	return nil
}

// QueuePosition counts still-pending jobs submitted before the given job.
// ULIDs sort by creation time, so the id ordering is the FIFO ordering.
func (s *SQLiteStore) QueuePosition(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ? AND id < ?`,
		model.StatusPending, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return n, nil
}

// ReapFinishedBefore deletes terminal jobs whose finished_at predates cutoff.
func (s *SQLiteStore) ReapFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at < ?`,
		model.StatusSucceeded, model.StatusFailed, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("reap jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// Stats returns aggregate execution statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, kind, COUNT(*) FROM jobs GROUP BY status, kind`)
	if err != nil {
		return nil, fmt.Errorf("stats counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, kind string
		var count int
		if err := rows.Scan(&status, &kind, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.CountByStatus[status] += count
		stats.CountByKind[kind] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	durRows, err := s.db.QueryContext(ctx,
		`SELECT started_at, finished_at FROM jobs
		 WHERE status IN (?, ?) AND started_at IS NOT NULL AND finished_at IS NOT NULL`,
		model.StatusSucceeded, model.StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("stats durations: %w", err)
	}
	defer durRows.Close()

	var totalMS float64
	var finished int
	for durRows.Next() {
		var started, ended time.Time
		if err := durRows.Scan(&started, &ended); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		totalMS += float64(ended.Sub(started).Milliseconds())
		finished++
	}
	if err := durRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate durations: %w", err)
	}
	if finished > 0 {
		stats.AvgDurationMS = totalMS / float64(finished)
	}

	return stats, nil
}
