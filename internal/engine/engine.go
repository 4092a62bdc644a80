// Package engine orchestrates asynchronous job execution: a bounded FIFO
// queue feeding a fixed worker pool, with progress fanned out through an
// in-process broker. The engine is the sole writer for any job it runs;
// readers observe state through the store or the broker.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mediamill/internal/artifact"
	"mediamill/internal/faults"
	"mediamill/internal/model"
	"mediamill/internal/pipeline"
	"mediamill/internal/store"
)

// Config sizes the engine.
type Config struct {
	// Workers is the number of concurrent job executors.
	Workers int
	// QueueDepth bounds how many accepted jobs may wait for a worker.
	QueueDepth int
	// MinFreeDiskBytes rejects new submissions when free space in the
	// artifact directory drops below it. Zero disables the preflight.
	MinFreeDiskBytes int64
}

// queued is one accepted job waiting for a worker. Options and the input
// artifact travel in memory; the row only carries what readers need.
type queued struct {
	job   model.Job
	opts  model.Options
	input *artifact.Artifact
}

// Engine runs jobs from a bounded queue on a fixed pool of workers.
type Engine struct {
	cfg       Config
	store     store.Store
	artifacts *artifact.Store
	registry  *pipeline.Registry
	broker    *Broker
	logger    *slog.Logger

	queue  chan queued
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// submitMu serializes the capacity check against the enqueue so the
	// send below can never block: Submit is the only sender.
	submitMu sync.Mutex
}

// New creates an engine. Call Start before submitting.
func New(cfg Config, s store.Store, artifacts *artifact.Store, registry *pipeline.Registry, logger *slog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	return &Engine{
		cfg:       cfg,
		store:     s,
		artifacts: artifacts,
		registry:  registry,
		broker:    NewBroker(),
		logger:    logger,
		queue:     make(chan queued, cfg.QueueDepth),
	}
}

// Broker returns the engine's snapshot broker for SSE subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Start launches the worker pool.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.logger.Info("engine started", "workers", e.cfg.Workers, "queue_depth", e.cfg.QueueDepth)
}

// Stop signals the workers and waits for in-flight jobs to finish, up to
// the context deadline. Queued jobs that never started stay pending.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

// Submit validates capacity, persists a pending job, and enqueues it.
// Capacity rejections happen before the row exists, so a rejected
// submission leaves no trace. input may be nil for fetch jobs; inputRef is
// the caller-facing description of the source (URL or upload filename).
func (e *Engine) Submit(ctx context.Context, kind string, opts model.Options, input *artifact.Artifact, inputRef string) (*model.Job, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if len(e.queue) == cap(e.queue) {
		return nil, faults.New(faults.ErrExhausted, "job queue is full, try again later")
	}
	if e.cfg.MinFreeDiskBytes > 0 {
		free, err := e.artifacts.FreeDiskBytes()
		if err == nil && free < uint64(e.cfg.MinFreeDiskBytes) {
			return nil, faults.New(faults.ErrExhausted, "insufficient disk space to accept new jobs")
		}
	}

	job := model.Job{
		ID:        model.NewID(),
		Kind:      kind,
		Status:    model.StatusPending,
		InputRef:  inputRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if input != nil {
		e.artifacts.Adopt(input, job.ID)
	}

	// Guaranteed not to block: capacity was checked under submitMu and
	// nothing else sends on the queue.
	e.queue <- queued{job: job, opts: opts, input: input}
	jobsSubmitted.WithLabelValues(kind).Inc()
	queueDepth.Set(float64(len(e.queue)))

	e.logger.Info("job submitted", "job_id", job.ID, "kind", kind, "input", inputRef)
	snap := job
	return &snap, nil
}

// Snapshot reads the current state of a job, attaching the queue position
// while the job is still waiting.
func (e *Engine) Snapshot(ctx context.Context, id string) (*model.Job, error) {
	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status == model.StatusPending {
		if pos, err := e.store.QueuePosition(ctx, id); err == nil {
			j.QueuePosition = &pos
		}
	}
	return j, nil
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-e.queue:
			queueDepth.Set(float64(len(e.queue)))
			e.runJob(ctx, q)
		}
	}
}

// runJob drives one job through running to exactly one terminal state,
// then releases its scratch files and closes its progress topic. Store
// writes use a background context so the terminal state is persisted even
// when ctx is cancelled mid-job by shutdown.
func (e *Engine) runJob(ctx context.Context, q queued) {
	id := q.job.ID
	bg := context.Background()
	defer e.broker.Close(id)

	runningJobs.Inc()
	defer runningJobs.Dec()

	start := time.Now().UTC()
	if err := e.store.SetRunning(bg, id, start); err != nil {
		e.logger.Error("failed to start job", "job_id", id, "error", err)
		e.artifacts.ReleaseJob(id, false)
		return
	}
	e.publish(id)

	out, err := e.execute(ctx, q)
	finished := time.Now().UTC()

	if err != nil {
		failure := &model.Failure{Kind: faults.Kind(err), Message: faults.Detail(err)}
		if ferr := e.store.FailJob(bg, id, failure, finished); ferr != nil {
			e.logger.Error("failed to record job failure", "job_id", id, "error", ferr)
		}
		e.artifacts.ReleaseJob(id, false)
		jobsFinished.WithLabelValues(q.job.Kind, model.StatusFailed).Inc()
		e.logger.Warn("job failed", "job_id", id, "kind", q.job.Kind,
			"fault_kind", failure.Kind, "error", err)
	} else {
		result := &model.Result{
			Path:      out.Path,
			Filename:  out.Name,
			SizeBytes: fileSize(out.Path),
		}
		if cerr := e.store.CompleteJob(bg, id, result, finished); cerr != nil {
			e.logger.Error("failed to record job completion", "job_id", id, "error", cerr)
		}
		e.artifacts.ReleaseJob(id, true)
		jobsFinished.WithLabelValues(q.job.Kind, model.StatusSucceeded).Inc()
		e.logger.Info("job succeeded", "job_id", id, "kind", q.job.Kind,
			"output", result.Filename, "size_bytes", result.SizeBytes)
	}

	jobDuration.WithLabelValues(q.job.Kind).Observe(finished.Sub(start).Seconds())
	e.publish(id)
}

// execute builds and runs the pipeline. Panics in stage code are contained
// here so a misbehaving job cannot take its worker down with it.
func (e *Engine) execute(ctx context.Context, q queued) (out *artifact.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job panicked", "job_id", q.job.ID, "panic", r)
			err = faults.New(faults.ErrInternal, "internal error")
		}
	}()

	p, err := e.registry.Build(q.job.Kind, pipeline.Request{
		JobID:   q.job.ID,
		Options: q.opts,
		Input:   q.input,
	})
	if err != nil {
		return nil, err
	}

	return p.Run(ctx, q.input, func(overall float64, stage, message string) {
		if uerr := e.store.UpdateProgress(context.Background(), q.job.ID, overall, stage, message); uerr != nil {
			e.logger.Error("failed to record progress", "job_id", q.job.ID, "error", uerr)
		}
		e.publish(q.job.ID)
	})
}

// publish pushes the job's current stored state to stream subscribers.
func (e *Engine) publish(id string) {
	j, err := e.store.GetJob(context.Background(), id)
	if err != nil {
		return
	}
	e.broker.Publish(id, *j)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
