// Package pipeline contains the matching pipelines: the structured scorer,
// the LLM-gated deep evaluation, the geo+role runner, the orchestrator, and
// the shared run-status registry.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// Kind identifies a pipeline for the single-run guard.
type Kind string

const (
	KindStructured   Kind = "structured"
	KindLLMGate      Kind = "llm_gate"
	KindGeoRole      Kind = "geo_role"
	KindOrchestrator Kind = "orchestrator"
)

// Registry is the process-local run-status store. It enforces one running
// instance per pipeline kind and holds the latest progress snapshot for
// HTTP readers.
type Registry struct {
	mu        sync.Mutex
	running   map[Kind]bool
	snapshots map[Kind]map[string]any
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		running:   map[Kind]bool{},
		snapshots: map[Kind]map[string]any{},
	}
}

// Acquire claims the single run slot for kind. A second caller gets
// ErrAlreadyRunning and can read the live snapshot.
func (r *Registry) Acquire(kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[kind] {
		return fmt.Errorf("op=pipeline.acquire kind=%s: %w", kind, domain.ErrAlreadyRunning)
	}
	r.running[kind] = true
	return nil
}

// Release frees the run slot.
func (r *Registry) Release(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[kind] = false
}

// Running reports whether a run of kind is active.
func (r *Registry) Running(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[kind]
}

// Publish stores a progress snapshot. The map is copied so the owner task
// may keep mutating its working state.
func (r *Registry) Publish(kind Kind, snapshot map[string]any) {
	cp := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		cp[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp["running"] = r.running[kind]
	r.snapshots[kind] = cp
}

// Snapshot returns a copy of the latest progress for kind.
func (r *Registry) Snapshot(kind Kind) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[kind]
	if !ok {
		return map[string]any{"running": r.running[kind]}
	}
	cp := make(map[string]any, len(snap))
	for k, v := range snap {
		cp[k] = v
	}
	cp["running"] = r.running[kind]
	return cp
}
