// v1
// internal/store/memory_test.go
package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func seedReadings(t *testing.T, m *Memory, sessionID string, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := m.PutReading(context.Background(), SensorReading{
			ID:        fmt.Sprintf("%s-rd-%d", sessionID, i),
			SessionID: sessionID,
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
		})
		if err != nil {
			t.Fatalf("put reading: %v", err)
		}
	}
}

func TestUnprocessedReadingsCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	seedReadings(t, m, "a", base, 5)
	seedReadings(t, m, "b", base, 2)

	got, err := m.UnprocessedReadings(ctx, "a", time.Time{}, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Fatalf("not in ascending timestamp order at %d", i)
		}
	}

	// watermark cursor is exclusive
	got, err = m.UnprocessedReadings(ctx, "a", base.Add(10*time.Minute), 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("after watermark: len = %d", len(got))
	}

	// batch cap takes the oldest first
	got, err = m.UnprocessedReadings(ctx, "a", time.Time{}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 || !got[0].Timestamp.Equal(base) {
		t.Fatalf("capped batch = %+v", got)
	}
}

func TestMarkReadingProcessed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	seedReadings(t, m, "a", base, 1)

	got, _ := m.UnprocessedReadings(ctx, "a", time.Time{}, 0)
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if err := m.MarkReadingProcessed(ctx, got[0].ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// idempotent
	if err := m.MarkReadingProcessed(ctx, got[0].ID); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	got, _ = m.UnprocessedReadings(ctx, "a", time.Time{}, 0)
	if len(got) != 0 {
		t.Fatalf("still unprocessed: %+v", got)
	}

	if err := m.MarkReadingProcessed(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutReportIdempotentOnSessionAndTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ts := time.Now()
	rep := IntervalReport{ID: "r1", SessionID: "a", Timestamp: ts, ComfortScore: 80}
	if err := m.PutReport(ctx, rep); err != nil {
		t.Fatalf("put: %v", err)
	}
	rep.ID = "r2"
	rep.ComfortScore = 81
	if err := m.PutReport(ctx, rep); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := m.Reports(ctx, "a")
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(got) != 1 || got[0].ComfortScore != 81 {
		t.Fatalf("reports = %+v", got)
	}
}

func TestActiveSessionsExcludesTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for id, st := range map[string]SessionState{
		"a": StateActive, "b": StatePendingStart, "c": StateEnding,
		"d": StateEnded, "e": StateZombieClosed,
	} {
		if err := m.PutSession(ctx, Session{ID: id, State: st}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	got, err := m.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID >= got[i].ID {
			t.Fatal("not sorted by id")
		}
	}
}
