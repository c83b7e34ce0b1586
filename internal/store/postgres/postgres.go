// v2
// Package postgres backs the document store contract with Postgres: one
// JSONB document table per collection, with the hot filter fields (session
// state, processed flag, timestamps) lifted into indexed columns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

const defaultDSN = "postgres://localhost/sleeptracker?sslmode=disable"

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS sleep_sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sleep_sessions_state_idx ON sleep_sessions (state)`,
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sensor_readings_cursor_idx ON sensor_readings (session_id, processed, ts)`,
	`CREATE TABLE IF NOT EXISTS interval_reports (
		session_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL,
		PRIMARY KEY (session_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS session_summaries (
		session_id TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
}

// Store implements store.Store on Postgres via the pgx database/sql driver.
type Store struct {
	db *sql.DB
}

// Open connects, pings, and applies the DDL. An empty DSN falls back to the
// local default.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply ddl: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for integration-test hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ActiveSessions(ctx context.Context) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM sleep_sessions WHERE state NOT IN ($1, $2) ORDER BY id`,
		string(store.StateEnded), string(store.StateZombieClosed))
	if err != nil {
		return nil, fmt.Errorf("select active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []store.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess store.Session
		if err := json.Unmarshal(doc, &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Session(ctx context.Context, id string) (store.Session, bool, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sleep_sessions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, false, nil
	}
	if err != nil {
		return store.Session{}, false, fmt.Errorf("select session %s: %w", id, err)
	}
	var sess store.Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return store.Session{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, true, nil
}

func (s *Store) PutSession(ctx context.Context, sess store.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sleep_sessions (id, state, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, doc = EXCLUDED.doc`,
		sess.ID, string(sess.State), doc)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) UnprocessedReadings(ctx context.Context, sessionID string, after time.Time, limit int) ([]store.SensorReading, error) {
	if limit <= 0 {
		// contract: non-positive limit means uncapped
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM sensor_readings
		 WHERE session_id = $1 AND processed = FALSE AND ts > $2
		 ORDER BY ts ASC LIMIT $3`,
		sessionID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []store.SensorReading
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		var rd store.SensorReading
		if err := json.Unmarshal(doc, &rd); err != nil {
			return nil, fmt.Errorf("decode reading: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (s *Store) PutReading(ctx context.Context, rd store.SensorReading) error {
	doc, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("encode reading %s: %w", rd.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (id, session_id, ts, processed, doc)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET processed = EXCLUDED.processed, doc = EXCLUDED.doc`,
		rd.ID, rd.SessionID, rd.Timestamp, rd.Processed, doc)
	if err != nil {
		return fmt.Errorf("upsert reading %s: %w", rd.ID, err)
	}
	return nil
}

func (s *Store) MarkReadingProcessed(ctx context.Context, readingID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sensor_readings
		 SET processed = TRUE, doc = jsonb_set(doc, '{isProcessed}', 'true')
		 WHERE id = $1`, readingID)
	if err != nil {
		return fmt.Errorf("mark reading %s: %w", readingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PutReport(ctx context.Context, rep store.IntervalReport) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// idempotent on (session, ts): a crash-replay overwrites, never duplicates
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interval_reports (session_id, ts, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, ts) DO UPDATE SET doc = EXCLUDED.doc`,
		rep.SessionID, rep.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	return nil
}

func (s *Store) Reports(ctx context.Context, sessionID string) ([]store.IntervalReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM interval_reports WHERE session_id = $1 ORDER BY ts ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []store.IntervalReport
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var rep store.IntervalReport
		if err := json.Unmarshal(doc, &rep); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (s *Store) PutSummary(ctx context.Context, sum store.SessionSummary) error {
	doc, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", sum.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, doc) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET doc = EXCLUDED.doc`,
		sum.SessionID, doc)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", sum.SessionID, err)
	}
	return nil
}

func (s *Store) Summary(ctx context.Context, sessionID string) (store.SessionSummary, bool, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM session_summaries WHERE session_id = $1`, sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SessionSummary{}, false, nil
	}
	if err != nil {
		return store.SessionSummary{}, false, fmt.Errorf("select summary %s: %w", sessionID, err)
	}
	var sum store.SessionSummary
	if err := json.Unmarshal(doc, &sum); err != nil {
		return store.SessionSummary{}, false, fmt.Errorf("decode summary %s: %w", sessionID, err)
	}
	return sum, true, nil
}
