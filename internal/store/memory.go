// v2
// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process Store used by tests and by dev mode when no
// Postgres DSN is configured. Semantics match the durable implementation.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	readings  map[string]SensorReading
	reports   map[string]IntervalReport // keyed session|rfc3339nano ts
	summaries map[string]SessionSummary
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  map[string]Session{},
		readings:  map[string]SensorReading{},
		reports:   map[string]IntervalReport{},
		summaries: map[string]SessionSummary{},
	}
}

func reportKey(sessionID string, ts time.Time) string {
	return sessionID + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func (m *Memory) ActiveSessions(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.State.Terminal() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Session(ctx context.Context, id string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

func (m *Memory) PutSession(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) UnprocessedReadings(ctx context.Context, sessionID string, after time.Time, limit int) ([]SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SensorReading
	for _, r := range m.readings {
		if r.SessionID == sessionID && !r.Processed && r.Timestamp.After(after) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PutReading(ctx context.Context, r SensorReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.readings[r.ID] = r
	m.mu.Unlock()
	return nil
}

func (m *Memory) MarkReadingProcessed(ctx context.Context, readingID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[readingID]
	if !ok {
		return ErrNotFound
	}
	r.Processed = true
	m.readings[readingID] = r
	return nil
}

func (m *Memory) PutReport(ctx context.Context, rep IntervalReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.reports[reportKey(rep.SessionID, rep.Timestamp)] = rep
	m.mu.Unlock()
	return nil
}

func (m *Memory) Reports(ctx context.Context, sessionID string) ([]IntervalReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IntervalReport
	for _, rep := range m.reports {
		if rep.SessionID == sessionID {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) PutSummary(ctx context.Context, sum SessionSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.summaries[sum.SessionID] = sum
	m.mu.Unlock()
	return nil
}

func (m *Memory) Summary(ctx context.Context, sessionID string) (SessionSummary, bool, error) {
	if err := ctx.Err(); err != nil {
		return SessionSummary{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, ok := m.summaries[sessionID]
	return sum, ok, nil
}
