// v1
// internal/model/registry.go
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry owns the active residual-model artifact. Current never blocks and
// always returns the latest successfully loaded artifact (or the None
// sentinel before first load); Reload loads off the hot path and swaps the
// reference atomically, so in-flight scoring sees either the old or the new
// artifact, never a partial one.
type Registry struct {
	lg      *slog.Logger
	current atomic.Pointer[Artifact]

	mu  sync.Mutex // serializes reloads only; never held during scoring
	src Source
}

func NewRegistry(src Source, lg *slog.Logger) *Registry {
	r := &Registry{lg: lg, src: src}
	r.current.Store(None)
	return r
}

// Current returns the active artifact. Non-blocking.
func (r *Registry) Current() *Artifact { return r.current.Load() }

// Reload fetches and parses a fresh artifact and swaps it in. On any failure
// the previous artifact stays active and the error is returned.
func (r *Registry) Reload(ctx context.Context) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, err := r.src.Fetch(ctx)
	if err != nil {
		r.lg.Error("artifact fetch failed; keeping active model", "source", r.src.Describe(), "error", err)
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	a, err := ParseArtifact(blob)
	if err != nil {
		r.lg.Error("artifact parse failed; keeping active model", "source", r.src.Describe(), "error", err)
		return nil, err
	}
	prev := r.current.Swap(a)
	r.lg.Info("model swapped", "version", a.Version, "previous", prev.Version, "features", a.Features)
	return a, nil
}
