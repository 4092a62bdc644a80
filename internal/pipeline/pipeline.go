// Package pipeline composes a job's work as an ordered list of weighted
// stages. Each stage transforms an input artifact into an output artifact
// and reports its own 0–100 progress; the pipeline maps that into the
// stage's weighted slice of the job's overall range, so overall progress is
// monotonic. Stages run strictly sequentially; the first failure aborts the
// rest and every intermediate produced so far is reclaimed before the
// error surfaces.
package pipeline

import (
	"context"
	"fmt"

	"mediamill/internal/artifact"
)

// ReportFunc is the progress side channel a stage writes to. percent is
// stage-local, 0–100.
type ReportFunc func(message string, percent float64)

// ProgressFunc receives overall job progress as stages advance.
type ProgressFunc func(overall float64, stage, message string)

// Stage is one step of a pipeline. Run transforms in (nil for source
// stages) into an output artifact. A stage that only inspects its input
// returns it unchanged; the pipeline then leaves the input alive for the
// next stage.
type Stage interface {
	Name() string
	Weight() int
	Run(ctx context.Context, in *artifact.Artifact, report ReportFunc) (*artifact.Artifact, error)
}

// Pipeline is an ordered sequence of stages whose weights sum to 100.
type Pipeline struct {
	stages    []Stage
	artifacts *artifact.Store
}

// New validates the stage list and builds a pipeline over it.
func New(artifacts *artifact.Store, stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one stage")
	}
	total := 0
	for _, st := range stages {
		if st.Weight() <= 0 {
			return nil, fmt.Errorf("stage %s has non-positive weight %d", st.Name(), st.Weight())
		}
		total += st.Weight()
	}
	if total != 100 {
		return nil, fmt.Errorf("stage weights sum to %d, want 100", total)
	}
	return &Pipeline{stages: stages, artifacts: artifacts}, nil
}

// Run executes the stages in order. On success the final artifact is
// promoted to the output role and returned. On any exit path every
// artifact produced but not consumed, and the initial input once fully
// consumed, is removed so a failed run never leaks partial files.
func (p *Pipeline) Run(ctx context.Context, in *artifact.Artifact, progress ProgressFunc) (out *artifact.Artifact, err error) {
	if progress == nil {
		progress = func(float64, string, string) {}
	}

	current := in
	live := make(map[*artifact.Artifact]bool)
	if in != nil {
		live[in] = true
	}
	defer func() {
		for a := range live {
			if err == nil && a == out {
				continue
			}
			p.artifacts.Remove(a)
		}
	}()

	completed := 0.0
	for _, st := range p.stages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		base := completed
		weight := float64(st.Weight())
		report := func(message string, percent float64) {
			if percent < 0 {
				percent = 0
			}
			if percent > 100 {
				percent = 100
			}
			progress(base+percent*weight/100, st.Name(), message)
		}

		produced, stageErr := st.Run(ctx, current, report)
		if stageErr != nil {
			return nil, fmt.Errorf("stage %s: %w", st.Name(), stageErr)
		}

		if produced != nil && produced != current {
			// The stage consumed its input and replaced it.
			if current != nil {
				p.artifacts.Remove(current)
				delete(live, current)
			}
			live[produced] = true
			current = produced
		}

		completed += weight
		progress(completed, st.Name(), "")
	}

	if current == nil {
		return nil, fmt.Errorf("pipeline produced no output artifact")
	}
	p.artifacts.Promote(current)
	out = current
	return out, nil
}
