package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediamill/internal/artifact"
	"mediamill/internal/engine"
	"mediamill/internal/faults"
	"mediamill/internal/model"
	"mediamill/internal/pipeline"
	"mediamill/internal/store"
)

// fakeStage is a configurable stage for engine tests.
type fakeStage struct {
	name    string
	weight  int
	arts    *artifact.Store
	jobID   string
	block   chan struct{} // when non-nil, Run waits for close
	err     error
	panics  bool
	content string // when non-empty, an output file with this content is produced
	outName string
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Weight() int { return f.weight }

func (f *fakeStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics {
		panic("stage exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	report("working", 50)
	if f.content == "" {
		return in, nil
	}
	out := f.arts.Allocate(f.jobID, artifact.RoleIntermediate, "mp4")
	if err := os.WriteFile(out.Path, []byte(f.content), 0o644); err != nil {
		return nil, err
	}
	out.Name = f.outName
	report("done", 100)
	return out, nil
}

// stageFactory builds the fake stage list for one job.
type stageFactory func(jobID string, arts *artifact.Store) []pipeline.Stage

func newTestEngine(t *testing.T, cfg engine.Config, factory stageFactory) (*engine.Engine, store.Store, *artifact.Store) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	arts, err := artifact.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}

	reg := pipeline.NewRegistry()
	reg.Register(model.KindFetch, func(req pipeline.Request) (*pipeline.Pipeline, error) {
		return pipeline.New(arts, factory(req.JobID, arts)...)
	})

	eng := engine.New(cfg, s, arts, reg, logger)
	eng.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng, s, arts
}

// waitForStatus polls the store until the job reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Status == expected {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	eng, s, _ := newTestEngine(t, engine.Config{Workers: 2, QueueDepth: 8},
		func(jobID string, arts *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{
				&fakeStage{name: "produce", weight: 100, arts: arts, jobID: jobID,
					content: "media bytes", outName: "video.mp4"},
			}
		})

	j, err := eng.Submit(context.Background(), model.KindFetch, model.Options{URL: "https://youtube.com/watch?v=x"}, nil, "https://youtube.com/watch?v=x")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.Status != model.StatusPending {
		t.Errorf("initial status = %q, want pending", j.Status)
	}

	done := waitForStatus(t, s, j.ID, model.StatusSucceeded, 5*time.Second)
	if done.Result == nil {
		t.Fatal("succeeded job has no result")
	}
	if done.Result.Filename != "video.mp4" {
		t.Errorf("result filename = %q, want video.mp4", done.Result.Filename)
	}
	if done.Result.SizeBytes != int64(len("media bytes")) {
		t.Errorf("result size = %d, want %d", done.Result.SizeBytes, len("media bytes"))
	}
	if done.Progress != 100 {
		t.Errorf("progress = %v, want 100", done.Progress)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("terminal job missing started_at/finished_at")
	}
	if _, err := os.Stat(done.Result.Path); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestJobFailureIsClassified(t *testing.T) {
	stageErr := faults.New(faults.ErrTransient, "source is rate limiting requests, try again later")
	eng, s, arts := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 8},
		func(jobID string, _ *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{
				&fakeStage{name: "download", weight: 100, err: stageErr},
			}
		})

	j, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "src")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, j.ID, model.StatusFailed, 5*time.Second)
	if failed.Failure == nil {
		t.Fatal("failed job has no failure")
	}
	if failed.Failure.Kind != faults.KindTransient {
		t.Errorf("failure kind = %q, want transient", failed.Failure.Kind)
	}
	if failed.Failure.Message != "source is rate limiting requests, try again later" {
		t.Errorf("failure message = %q", failed.Failure.Message)
	}
	if failed.Result != nil {
		t.Error("failed job carries a result")
	}
	if n := arts.Count(); n != 0 {
		t.Errorf("artifact count after failure = %d, want 0", n)
	}
}

func TestQueuePositionWhileWorkerBusy(t *testing.T) {
	block := make(chan struct{})
	eng, s, _ := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 8},
		func(jobID string, arts *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{
				&fakeStage{name: "produce", weight: 100, arts: arts, jobID: jobID,
					block: block, content: "x", outName: "out.mp4"},
			}
		})

	first, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "a")
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	waitForStatus(t, s, first.ID, model.StatusRunning, 5*time.Second)

	second, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "b")
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	third, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "c")
	if err != nil {
		t.Fatalf("Submit third: %v", err)
	}

	snap, err := eng.Snapshot(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != model.StatusPending || snap.QueuePosition == nil || *snap.QueuePosition != 0 {
		t.Errorf("second job snapshot = %q pos %v, want pending pos 0", snap.Status, snap.QueuePosition)
	}

	snap, err = eng.Snapshot(context.Background(), third.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.QueuePosition == nil || *snap.QueuePosition != 1 {
		t.Errorf("third job queue position = %v, want 1", snap.QueuePosition)
	}

	close(block)
	waitForStatus(t, s, third.ID, model.StatusSucceeded, 5*time.Second)

	// A terminal snapshot never carries a queue position.
	snap, _ = eng.Snapshot(context.Background(), third.ID)
	if snap.QueuePosition != nil {
		t.Errorf("terminal snapshot has queue position %d", *snap.QueuePosition)
	}
}

func TestSubmitRejectedWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	eng, s, _ := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 1},
		func(jobID string, _ *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{
				&fakeStage{name: "stall", weight: 100, block: block},
			}
		})

	first, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "a")
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	waitForStatus(t, s, first.ID, model.StatusRunning, 5*time.Second)

	if _, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "b"); err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	_, err = eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "c")
	if err == nil {
		t.Fatal("third submit accepted with full queue")
	}
	if faults.Kind(err) != faults.KindExhausted {
		t.Errorf("rejection kind = %q, want exhausted", faults.Kind(err))
	}

	// A rejected submission must leave no job row behind.
	_, total, err := s.ListJobs(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 2 {
		t.Errorf("job count after rejection = %d, want 2", total)
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	panicked := false
	eng, s, _ := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 8},
		func(jobID string, arts *artifact.Store) []pipeline.Stage {
			if !panicked {
				panicked = true
				return []pipeline.Stage{&fakeStage{name: "boom", weight: 100, panics: true}}
			}
			return []pipeline.Stage{
				&fakeStage{name: "produce", weight: 100, arts: arts, jobID: jobID,
					content: "ok", outName: "ok.mp4"},
			}
		})

	bad, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "a")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitForStatus(t, s, bad.ID, model.StatusFailed, 5*time.Second)
	if failed.Failure == nil || failed.Failure.Kind != faults.KindInternal {
		t.Errorf("panicked job failure = %+v, want internal", failed.Failure)
	}
	if failed.Failure != nil && failed.Failure.Message != "internal error" {
		t.Errorf("panic detail leaked: %q", failed.Failure.Message)
	}

	// The worker that absorbed the panic must still process jobs.
	good, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "b")
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	waitForStatus(t, s, good.ID, model.StatusSucceeded, 5*time.Second)
}

func TestUnknownKindFailsJob(t *testing.T) {
	eng, s, _ := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 8},
		func(jobID string, _ *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{&fakeStage{name: "noop", weight: 100}}
		})

	// Bypasses submission validation on purpose: the engine must still
	// converge to failed when no builder exists for the kind.
	j, err := eng.Submit(context.Background(), model.KindCompress, model.Options{}, nil, "x")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitForStatus(t, s, j.ID, model.StatusFailed, 5*time.Second)
	if failed.Failure == nil || failed.Failure.Kind != faults.KindInternal {
		t.Errorf("failure = %+v, want internal", failed.Failure)
	}
}

func TestStreamObservesTerminalSnapshot(t *testing.T) {
	block := make(chan struct{})
	eng, _, _ := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 8},
		func(jobID string, arts *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{
				&fakeStage{name: "produce", weight: 100, arts: arts, jobID: jobID,
					block: block, content: "x", outName: "out.mp4"},
			}
		})

	j, err := eng.Submit(context.Background(), model.KindFetch, model.Options{}, nil, "a")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Subscribe before the stage is allowed to finish so the terminal
	// snapshot cannot slip past the subscription.
	ch, unsubscribe := eng.Broker().Subscribe(j.ID)
	defer unsubscribe()
	close(block)

	var last model.Job
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				if !last.TerminalState() {
					t.Fatalf("stream closed before terminal snapshot, last status %q", last.Status)
				}
				if last.Status != model.StatusSucceeded || last.Progress != 100 {
					t.Errorf("final snapshot = %q %v, want succeeded 100", last.Status, last.Progress)
				}
				return
			}
			if last.Progress > snap.Progress && last.Status == snap.Status {
				t.Errorf("progress went backwards: %v then %v", last.Progress, snap.Progress)
			}
			last = snap
		case <-deadline:
			t.Fatal("stream did not close after job finished")
		}
	}
}

func TestSubmitContextError(t *testing.T) {
	eng, _, _ := newTestEngine(t, engine.Config{Workers: 1, QueueDepth: 8},
		func(jobID string, _ *artifact.Store) []pipeline.Stage {
			return []pipeline.Stage{&fakeStage{name: "noop", weight: 100}}
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Submit(ctx, model.KindFetch, model.Options{}, nil, "a"); err == nil {
		t.Error("Submit with cancelled context succeeded")
	} else if errors.Is(err, faults.ErrExhausted) {
		t.Error("context error misclassified as exhausted")
	}
}
