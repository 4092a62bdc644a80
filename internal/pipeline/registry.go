package pipeline

import (
	"fmt"
	"sync"

	"mediamill/internal/artifact"
	"mediamill/internal/model"
)

// Request carries everything a builder needs to assemble a pipeline for
// one job.
type Request struct {
	JobID   string
	Options model.Options
	// Input is the uploaded source artifact, nil for fetch jobs.
	Input *artifact.Artifact
}

// Builder assembles the stage list for one job of a given kind.
type Builder func(req Request) (*Pipeline, error)

// Registry maps job kinds to pipeline builders. Adding a processing type
// means registering a new builder, not touching the dispatcher.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register binds a builder to a job kind, replacing any previous binding.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Build assembles the pipeline for a request.
func (r *Registry) Build(kind string, req Request) (*Pipeline, error) {
	r.mu.RLock()
	b, ok := r.builders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no pipeline registered for kind %q", kind)
	}
	return b(req)
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	return kinds
}
