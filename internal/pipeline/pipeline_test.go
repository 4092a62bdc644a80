package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"mediamill/internal/artifact"
	"mediamill/internal/pipeline"
)

// fakeStage is a scriptable stage for pipeline tests.
type fakeStage struct {
	name    string
	weight  int
	reports []float64 // stage-local percentages to emit
	err     error
	// passthrough returns the input unchanged instead of producing a file.
	passthrough bool
	// jobID and store let the stage allocate a real output artifact.
	jobID string
	store *artifact.Store
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Weight() int { return f.weight }

func (f *fakeStage) Run(ctx context.Context, in *artifact.Artifact, report pipeline.ReportFunc) (*artifact.Artifact, error) {
	for _, pct := range f.reports {
		report("working", pct)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.passthrough {
		return in, nil
	}
	out := f.store.Allocate(f.jobID, artifact.RoleIntermediate, "bin")
	if err := os.WriteFile(out.Path, []byte(f.name), 0o644); err != nil {
		return nil, err
	}
	return out, nil
}

func newArtifactStore(t *testing.T) *artifact.Store {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := artifact.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWeightedProgressMapping(t *testing.T) {
	store := newArtifactStore(t)
	// Three stages weighted 20/50/30; stage 2 reporting 50% must read as
	// 20 + 25 = 45 overall.
	stages := []pipeline.Stage{
		&fakeStage{name: "one", weight: 20, jobID: "j", store: store},
		&fakeStage{name: "two", weight: 50, reports: []float64{50}, jobID: "j", store: store},
		&fakeStage{name: "three", weight: 30, jobID: "j", store: store},
	}
	p, err := pipeline.New(store, stages...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var observed []float64
	var last float64
	_, err = p.Run(context.Background(), nil, func(overall float64, stage, message string) {
		observed = append(observed, overall)
		if overall < last {
			t.Errorf("progress went backwards: %v after %v", overall, last)
		}
		last = overall
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found45 := false
	for _, v := range observed {
		if v == 45 {
			found45 = true
		}
	}
	if !found45 {
		t.Errorf("observed progress %v, want 45 among them", observed)
	}
	if last != 100 {
		t.Errorf("final progress = %v, want 100", last)
	}
}

func TestWeightsMustSumTo100(t *testing.T) {
	store := newArtifactStore(t)
	_, err := pipeline.New(store,
		&fakeStage{name: "a", weight: 60},
		&fakeStage{name: "b", weight: 60},
	)
	if err == nil {
		t.Fatal("New should reject weights summing to 120")
	}

	_, err = pipeline.New(store)
	if err == nil {
		t.Fatal("New should reject an empty stage list")
	}
}

func TestSuccessPromotesOutputAndConsumesInput(t *testing.T) {
	store := newArtifactStore(t)

	in := store.Allocate("j", artifact.RoleInput, "mp4")
	if err := os.WriteFile(in.Path, []byte("input"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := pipeline.New(store,
		&fakeStage{name: "probe", weight: 10, passthrough: true},
		&fakeStage{name: "encode", weight: 90, jobID: "j", store: store},
	)
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Run(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out == nil {
		t.Fatal("Run returned nil output")
	}
	if out.Role != artifact.RoleOutput {
		t.Errorf("output role = %q, want output", out.Role)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Error("output file should exist")
	}
	// The input was consumed by the encode stage and must be gone.
	if _, err := os.Stat(in.Path); !os.IsNotExist(err) {
		t.Error("consumed input should be removed")
	}
}

func TestFailureCleansIntermediates(t *testing.T) {
	store := newArtifactStore(t)

	in := store.Allocate("j", artifact.RoleInput, "mp4")
	if err := os.WriteFile(in.Path, []byte("input"), 0o644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("encoder exploded")
	p, err := pipeline.New(store,
		&fakeStage{name: "first", weight: 40, jobID: "j", store: store},
		&fakeStage{name: "second", weight: 60, err: boom},
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Run(context.Background(), in, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want the stage error", err)
	}

	// Nothing belonging to the job survives a failed run.
	entries, readErr := os.ReadDir(store.Dir())
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("failed run leaked files: %v", names)
	}
}

func TestFailureErrorNamesStage(t *testing.T) {
	store := newArtifactStore(t)
	p, err := pipeline.New(store,
		&fakeStage{name: "download", weight: 100, err: errors.New("network down")},
	)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "stage download: network down" {
		t.Errorf("err = %q, want stage attribution", got)
	}
}

func TestCancelledContextAborts(t *testing.T) {
	store := newArtifactStore(t)
	p, err := pipeline.New(store,
		&fakeStage{name: "a", weight: 50, jobID: "j", store: store},
		&fakeStage{name: "b", weight: 50, jobID: "j", store: store},
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRegistry(t *testing.T) {
	store := newArtifactStore(t)
	reg := pipeline.NewRegistry()

	reg.Register("fetch", func(req pipeline.Request) (*pipeline.Pipeline, error) {
		return pipeline.New(store, &fakeStage{name: "dl", weight: 100, jobID: req.JobID, store: store})
	})

	p, err := reg.Build("fetch", pipeline.Request{JobID: "j1"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p == nil {
		t.Fatal("Build returned nil pipeline")
	}

	if _, err := reg.Build("unknown", pipeline.Request{}); err == nil {
		t.Error("Build of unregistered kind should fail")
	}

	if kinds := reg.Kinds(); len(kinds) != 1 || kinds[0] != "fetch" {
		t.Errorf("Kinds = %v, want [fetch]", kinds)
	}
}
