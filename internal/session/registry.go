// v2
// internal/session/registry.go
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Registry maintains the working set of non-terminal sessions. The durable
// store is the source of truth: membership is refreshed from it every tick,
// so a process restart neither loses nor duplicates active sessions. The
// in-memory map only saves repeated store reads within a tick.
type Registry struct {
	st store.Store
	lg *slog.Logger

	mu     sync.RWMutex
	active map[string]store.Session
}

func NewRegistry(st store.Store, lg *slog.Logger) *Registry {
	return &Registry{st: st, lg: lg, active: map[string]store.Session{}}
}

// Refresh replaces the active set from the store and returns a snapshot
// sorted by session id.
func (r *Registry) Refresh(ctx context.Context) ([]store.Session, error) {
	sessions, err := r.st.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	next := make(map[string]store.Session, len(sessions))
	for _, s := range sessions {
		next[s.ID] = s
	}
	r.mu.Lock()
	r.active = next
	r.mu.Unlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// Active returns the cached working set.
func (r *Registry) Active() []store.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save persists the session and updates the cache. The client tier owns the
// anchor fields (EndRequested, StartedAt, DeviceID) and may write them while
// a tick is in flight, so the stored document is re-read and those fields
// merged before the full replace; a tick-start snapshot must never clear an
// anchor set under it. Terminal sessions drop out of the active set.
func (r *Registry) Save(ctx context.Context, s store.Session) error {
	cur, ok, err := r.st.Session(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("read session %s before save: %w", s.ID, err)
	}
	if ok {
		s.EndRequested = s.EndRequested || cur.EndRequested
		s.StartedAt = cur.StartedAt
		s.DeviceID = cur.DeviceID
	}
	if err := r.st.PutSession(ctx, s); err != nil {
		return fmt.Errorf("put session %s: %w", s.ID, err)
	}
	r.mu.Lock()
	if s.State.Terminal() {
		delete(r.active, s.ID)
	} else {
		r.active[s.ID] = s
	}
	r.mu.Unlock()
	return nil
}

// MarkProcessed advances the session watermark past the reading and flips
// the reading's processed flag. The interval report must already be written:
// report -> watermark -> processed flag is the crash-recovery order, so a
// restart replays at most the last unflushed interval. Safe to call twice
// with the same reading.
func (r *Registry) MarkProcessed(ctx context.Context, s *store.Session, rd store.SensorReading) error {
	if rd.Timestamp.After(s.Watermark) {
		s.Watermark = rd.Timestamp
	}
	if err := r.Save(ctx, *s); err != nil {
		return err
	}
	if err := r.st.MarkReadingProcessed(ctx, rd.ID); err != nil {
		return fmt.Errorf("mark reading %s processed: %w", rd.ID, err)
	}
	return nil
}
