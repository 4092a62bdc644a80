package engine

import (
	"context"
	"log/slog"
	"time"

	"mediamill/internal/artifact"
	"mediamill/internal/store"
)

// Sweeper periodically reclaims expired state: output files older than the
// retention window, orphaned scratch files, the job rows describing them,
// and the broker's closed-topic markers. Once a job is reaped, its artifact
// is gone and its ID resolves to not-found, same as an ID that never
// existed.
type Sweeper struct {
	store     store.Store
	artifacts *artifact.Store
	broker    *Broker
	logger    *slog.Logger
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. Call Start to begin sweeping.
func NewSweeper(s store.Store, artifacts *artifact.Store, broker *Broker, logger *slog.Logger, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     s,
		artifacts: artifacts,
		broker:    broker,
		logger:    logger,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
	s.logger.Info("sweeper started", "retention", s.retention, "interval", s.interval)
}

// Stop halts the sweep loop and waits for any in-progress sweep.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Sweep runs one reclamation pass. Files go first so a crash between the
// two steps leaves a reapable row rather than an orphaned file.
func (s *Sweeper) Sweep(ctx context.Context) {
	removed := s.artifacts.Sweep(s.retention)
	if removed > 0 {
		sweptArtifacts.Add(float64(removed))
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	reaped, err := s.store.ReapFinishedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to reap finished jobs", "error", err)
		return
	}
	if reaped > 0 {
		reapedJobs.Add(float64(reaped))
	}

	topics := 0
	if s.broker != nil {
		topics = s.broker.ReapClosed(cutoff)
	}

	if removed > 0 || reaped > 0 || topics > 0 {
		s.logger.Info("sweep complete",
			"artifacts_removed", removed, "jobs_reaped", reaped, "topics_reaped", topics)
	}
}
