package store

import (
	"context"
	"errors"
	"time"

	"mediamill/internal/model"
)

// ErrNotFound is returned when a job is not found (never existed, or
// already reaped by the sweeper).
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate execution statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for jobs. The engine is the
// sole writer for any given job; the progress gateway and API read
// concurrently.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)

	// SetRunning performs the pending→running transition.
	SetRunning(ctx context.Context, id string, startedAt time.Time) error

	// UpdateProgress records progress while a job is running. Progress is
	// clamped monotonic; calls against a terminal or pending job are
	// silently ignored so late writes from a racing worker are absorbed.
	UpdateProgress(ctx context.Context, id string, progress float64, stage, message string) error

	// CompleteJob and FailJob perform the one-way terminal transition.
	// Both are idempotent: a second call against an already-terminal job
	// is a no-op, so readers observe exactly one terminal snapshot.
	CompleteJob(ctx context.Context, id string, result *model.Result, finishedAt time.Time) error
	FailJob(ctx context.Context, id string, failure *model.Failure, finishedAt time.Time) error

	// QueuePosition counts still-pending jobs submitted before this one.
	QueuePosition(ctx context.Context, id string) (int, error)

	// ReapFinishedBefore deletes terminal jobs that finished before cutoff.
	ReapFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)

	Stats(ctx context.Context) (*JobStats, error)
	Close() error
}
