// v2
// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"
)

// Collection names, kept aligned with the document database used by the
// client tier.
const (
	CollSessions  = "sleep_sessions"
	CollReadings  = "sensor_readings"
	CollReports   = "interval_reports"
	CollSummaries = "session_summaries"
)

var (
	ErrNotFound = errors.New("document not found")
)

// Store is the contract the engine assumes from the durable document store.
// Reads are read-your-writes within the process; the engine does not rely on
// store transactions and instead orders its writes (report before watermark
// before processed flag) to tolerate partial failure.
type Store interface {
	// ActiveSessions lists sessions whose state is non-terminal.
	ActiveSessions(ctx context.Context) ([]Session, error)
	Session(ctx context.Context, id string) (Session, bool, error)
	// PutSession creates or fully replaces the session document.
	PutSession(ctx context.Context, s Session) error

	// UnprocessedReadings returns readings for the session with
	// Timestamp > after and Processed == false, in ascending timestamp
	// order, at most limit.
	UnprocessedReadings(ctx context.Context, sessionID string, after time.Time, limit int) ([]SensorReading, error)
	PutReading(ctx context.Context, r SensorReading) error
	// MarkReadingProcessed flips the processed flag. Safe to call twice.
	MarkReadingProcessed(ctx context.Context, readingID string) error

	// PutReport writes an interval report. Idempotent on
	// (sessionID, timestamp): a duplicate write replaces, never duplicates.
	PutReport(ctx context.Context, rep IntervalReport) error
	Reports(ctx context.Context, sessionID string) ([]IntervalReport, error)

	PutSummary(ctx context.Context, sum SessionSummary) error
	Summary(ctx context.Context, sessionID string) (SessionSummary, bool, error)
}
