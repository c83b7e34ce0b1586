// v1
// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/actuation"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/config"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/model"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/session"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

type fakeSinks struct {
	mu       sync.Mutex
	commands []actuation.Command
	notes    []actuation.Notification
	noteErr  error
}

func (f *fakeSinks) SendCommand(_ context.Context, c actuation.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c)
	return nil
}

func (f *fakeSinks) SendNotification(_ context.Context, n actuation.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noteErr != nil {
		return f.noteErr
	}
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeSinks) sentCommands() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func (f *fakeSinks) sentNotes() []actuation.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]actuation.Notification(nil), f.notes...)
}

// failStore injects failures into selected Store calls.
type failStore struct {
	store.Store
	mu          sync.Mutex
	readingsErr map[string]error
	summaryErr  error
}

func (f *failStore) UnprocessedReadings(ctx context.Context, sessionID string, after time.Time, limit int) ([]store.SensorReading, error) {
	f.mu.Lock()
	err := f.readingsErr[sessionID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.UnprocessedReadings(ctx, sessionID, after, limit)
}

func (f *failStore) PutSummary(ctx context.Context, sum store.SessionSummary) error {
	f.mu.Lock()
	err := f.summaryErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.PutSummary(ctx, sum)
}

// anchorStore flips the client-owned end anchor on the stored session the
// moment a report lands, simulating the bedside client writing concurrently
// with the tick.
type anchorStore struct {
	store.Store
	flipSession string
}

func (a *anchorStore) PutReport(ctx context.Context, rep store.IntervalReport) error {
	if err := a.Store.PutReport(ctx, rep); err != nil {
		return err
	}
	if rep.SessionID == a.flipSession {
		s, ok, err := a.Store.Session(ctx, rep.SessionID)
		if err == nil && ok && !s.EndRequested {
			s.EndRequested = true
			if err := a.Store.PutSession(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// gateStore holds the first readings fetch open until released, so a test
// can cancel the engine while a session is mid-flight.
type gateStore struct {
	store.Store
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gateStore) UnprocessedReadings(ctx context.Context, sessionID string, after time.Time, limit int) ([]store.SensorReading, error) {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	return g.Store.UnprocessedReadings(ctx, sessionID, after, limit)
}

type nullSource struct{}

func (nullSource) Fetch(context.Context) ([]byte, error) { return nil, errors.New("no model") }
func (nullSource) Describe() string                      { return "null" }

var baseTime = time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

type harness struct {
	eng   *Engine
	st    store.Store
	sinks *fakeSinks

	mu  sync.Mutex
	now time.Time
}

func testTunables() config.Tunables {
	tun := config.DefaultTunables()
	tun.StoreTimeout = time.Second
	tun.Workers = 2
	return tun
}

func newHarness(t *testing.T, tun config.Tunables, st store.Store) *harness {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{st: st, sinks: &fakeSinks{}, now: baseTime}

	cfg := config.NewStatic(tun)
	models := model.NewRegistry(nullSource{}, lg)
	reg := session.NewRegistry(st, lg)
	h.eng = New(cfg, lg, st, reg, models, h.sinks, h.sinks)
	h.eng.now = func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	}
	return h
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.eng.Tick(context.Background())
}

func (h *harness) seedSession(t *testing.T, s store.Session) {
	t.Helper()
	require.NoError(t, h.st.PutSession(context.Background(), s))
}

func (h *harness) seedReading(t *testing.T, sessionID string, ts time.Time, env store.EnvSample) {
	t.Helper()
	require.NoError(t, h.st.PutReading(context.Background(), store.SensorReading{
		ID:        fmt.Sprintf("rd-%s-%d", sessionID, ts.UnixNano()),
		SessionID: sessionID,
		Timestamp: ts,
		Env:       env,
	}))
}

func (h *harness) session(t *testing.T, id string) store.Session {
	t.Helper()
	s, ok, err := h.st.Session(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "session %s missing", id)
	return s
}

var (
	goodEnv = store.EnvSample{TempC: 20, HumidityPct: 40, LightLux: 5, NoiseDb: 30}
	badEnv  = store.EnvSample{TempC: 30, HumidityPct: 70, LightLux: 300, NoiseDb: 85}
)

func TestTickScoresReadingAndAdvancesWatermark(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	h.seedSession(t, store.Session{ID: "s1", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})
	ts := baseTime.Add(-5 * time.Minute)
	h.seedReading(t, "s1", ts, goodEnv)

	h.tick(t)

	reports, err := h.st.Reports(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, float64(100), reports[0].ComfortScore)
	require.True(t, reports[0].Degraded, "no model loaded, score must be flagged rule-only")
	require.Equal(t, "excellent", reports[0].Segment)

	s := h.session(t, "s1")
	require.True(t, s.Watermark.Equal(ts))
	require.EqualValues(t, 1, s.Agg.Count)

	left, err := h.st.UnprocessedReadings(context.Background(), "s1", time.Time{}, 0)
	require.NoError(t, err)
	require.Empty(t, left)
	require.EqualValues(t, 1, h.eng.Stats().ReadingsScored)
}

func TestPendingSessionActivatesOnFirstInterval(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	h.seedSession(t, store.Session{ID: "s1", State: store.StatePendingStart, StartedAt: baseTime.Add(-10 * time.Minute)})
	h.seedReading(t, "s1", baseTime.Add(-5*time.Minute), goodEnv)

	h.tick(t)

	require.Equal(t, store.StateActive, h.session(t, "s1").State)
}

func TestCleanNightEndToEnd(t *testing.T) {
	tun := testTunables()
	tun.DrainGraceTicks = 1
	h := newHarness(t, tun, store.NewMemory())

	start := baseTime.Add(-8 * time.Hour)
	h.seedSession(t, store.Session{ID: "night", State: store.StatePendingStart, StartedAt: start})
	for i := 0; i < 10; i++ {
		h.seedReading(t, "night", start.Add(time.Duration(i)*5*time.Minute), goodEnv)
	}

	h.tick(t)
	s := h.session(t, "night")
	require.Equal(t, store.StateActive, s.State)
	require.EqualValues(t, 10, s.Agg.Count)

	// sleeper wakes: the client flips the end anchor
	s.EndRequested = true
	h.seedSession(t, s)

	h.tick(t)
	require.Equal(t, store.StateEnding, h.session(t, "night").State)

	// one quiet tick satisfies the drain grace
	h.advance(5 * time.Minute)
	h.tick(t)

	final := h.session(t, "night")
	require.Equal(t, store.StateEnded, final.State)
	require.NotNil(t, final.EndedAt)

	sum, ok, err := h.st.Summary(context.Background(), "night")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, sum.Count)
	require.Equal(t, float64(100), sum.AvgScore)
	require.Equal(t, "excellent", sum.Segment)
	require.False(t, sum.Degraded)

	notes := h.sinks.sentNotes()
	require.Len(t, notes, 1, "exactly one wake-up notification")
	require.Equal(t, "night", notes[0].SessionID)

	// further ticks are no-ops for a terminal session
	h.tick(t)
	h.tick(t)
	require.Len(t, h.sinks.sentNotes(), 1)
}

func TestLateReadingResetsDrainGrace(t *testing.T) {
	tun := testTunables()
	tun.DrainGraceTicks = 2
	h := newHarness(t, tun, store.NewMemory())

	h.seedSession(t, store.Session{ID: "s1", State: store.StateEnding, StartedAt: baseTime.Add(-8 * time.Hour)})

	h.tick(t)
	require.Equal(t, 1, h.session(t, "s1").DrainTicks)

	// a straggler arrives: grace counter starts over
	h.seedReading(t, "s1", baseTime.Add(-time.Minute), goodEnv)
	h.tick(t)
	s := h.session(t, "s1")
	require.Equal(t, store.StateEnding, s.State)
	require.Equal(t, 0, s.DrainTicks)

	h.tick(t)
	require.Equal(t, store.StateEnding, h.session(t, "s1").State)
	h.tick(t)
	require.Equal(t, store.StateEnded, h.session(t, "s1").State)
	require.Len(t, h.sinks.sentNotes(), 1)
}

func TestActuationFiresAndDebounces(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	h.seedSession(t, store.Session{ID: "s1", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})

	h.seedReading(t, "s1", baseTime.Add(-15*time.Minute), badEnv)
	h.tick(t)
	require.Equal(t, 1, h.sinks.sentCommands())
	require.Equal(t, actuation.ActionImprove, h.sinks.commands[0].Action)
	require.Less(t, h.sinks.commands[0].Score, 50.0)

	// five minutes later the room is still bad: suppressed by debounce
	h.advance(5 * time.Minute)
	h.seedReading(t, "s1", baseTime.Add(-10*time.Minute), badEnv)
	h.tick(t)
	require.Equal(t, 1, h.sinks.sentCommands())

	// past the 10 minute window it fires again
	h.advance(6 * time.Minute)
	h.seedReading(t, "s1", baseTime.Add(-5*time.Minute), badEnv)
	h.tick(t)
	require.Equal(t, 2, h.sinks.sentCommands())
}

func TestZombieWatchdogClosesAbandonedSession(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	h.seedSession(t, store.Session{ID: "stale", State: store.StateActive, StartedAt: baseTime.Add(-25 * time.Hour)})

	h.tick(t)

	s := h.session(t, "stale")
	require.Equal(t, store.StateZombieClosed, s.State)
	require.Contains(t, s.CloseReason, "max age")

	sum, ok, err := h.st.Summary(context.Background(), "stale")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, sum.Degraded)

	notes := h.sinks.sentNotes()
	require.Len(t, notes, 1)
	require.True(t, notes[0].Degraded)

	// the closed session left the active set; nothing fires again
	h.tick(t)
	require.Len(t, h.sinks.sentNotes(), 1)
	require.EqualValues(t, 1, h.eng.Stats().ZombiesClosed)
}

func TestEndAnchorBeforeAnyDataClosesDegraded(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	h.seedSession(t, store.Session{ID: "ghost", State: store.StatePendingStart, StartedAt: baseTime.Add(-time.Hour), EndRequested: true})

	h.tick(t)

	s := h.session(t, "ghost")
	require.Equal(t, store.StateZombieClosed, s.State)
	require.Contains(t, s.CloseReason, "before session produced data")
	require.Len(t, h.sinks.sentNotes(), 1)
}

func TestReplayAfterCrashIsIdempotent(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	start := baseTime.Add(-time.Hour)
	h.seedSession(t, store.Session{ID: "s1", State: store.StateActive, StartedAt: start})
	ts := baseTime.Add(-5 * time.Minute)
	h.seedReading(t, "s1", ts, goodEnv)

	h.tick(t)

	// simulate a crash after the report write but before the watermark
	// advanced: restore the pre-tick session document and clear the flag
	require.NoError(t, h.st.PutSession(context.Background(), store.Session{ID: "s1", State: store.StateActive, StartedAt: start}))
	h.seedReading(t, "s1", ts, goodEnv)

	h.tick(t)

	reports, err := h.st.Reports(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reports, 1, "replayed interval must overwrite, not duplicate")

	s := h.session(t, "s1")
	require.EqualValues(t, 1, s.Agg.Count, "aggregate must not double-count the replayed interval")
	require.True(t, s.Watermark.Equal(ts))
}

func TestMalformedReadingHaltsBatchBeforeWatermark(t *testing.T) {
	h := newHarness(t, testTunables(), store.NewMemory())
	h.seedSession(t, store.Session{ID: "s1", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})
	h.seedReading(t, "s1", baseTime.Add(-10*time.Minute), store.EnvSample{TempC: math.NaN(), HumidityPct: 40, LightLux: 5, NoiseDb: 30})
	h.seedReading(t, "s1", baseTime.Add(-5*time.Minute), goodEnv)

	h.tick(t)

	reports, err := h.st.Reports(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, reports, "nothing after the malformed reading may be scored")
	require.True(t, h.session(t, "s1").Watermark.IsZero())
	require.EqualValues(t, 1, h.eng.Stats().ReadingsSkipped)
}

func TestSessionFailureDoesNotBlockSiblings(t *testing.T) {
	fs := &failStore{Store: store.NewMemory(), readingsErr: map[string]error{"bad": errors.New("store hiccup")}}
	h := newHarness(t, testTunables(), fs)
	h.seedSession(t, store.Session{ID: "bad", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})
	h.seedSession(t, store.Session{ID: "good", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})
	h.seedReading(t, "good", baseTime.Add(-5*time.Minute), goodEnv)

	h.tick(t)

	reports, err := h.st.Reports(context.Background(), "good")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.EqualValues(t, 1, h.eng.Stats().SessionErrors)

	// the failing session recovers next tick
	fs.mu.Lock()
	delete(fs.readingsErr, "bad")
	fs.mu.Unlock()
	h.seedReading(t, "bad", baseTime.Add(-5*time.Minute), goodEnv)
	h.tick(t)
	reports, err = h.st.Reports(context.Background(), "bad")
	require.NoError(t, err)
	require.Len(t, reports, 1)
}

func TestFinalizeRetriesThenForceCloses(t *testing.T) {
	tun := testTunables()
	tun.DrainGraceTicks = 1
	tun.FinalizeRetryMax = 3
	fs := &failStore{Store: store.NewMemory(), summaryErr: errors.New("summary write refused")}
	h := newHarness(t, tun, fs)
	h.seedSession(t, store.Session{ID: "s1", State: store.StateEnding, StartedAt: baseTime.Add(-8 * time.Hour)})

	h.tick(t)
	s := h.session(t, "s1")
	require.Equal(t, store.StateEnding, s.State, "failed finalize must roll back for retry")
	require.Nil(t, s.EndedAt)
	require.Equal(t, 1, s.FinalizeFailures)

	h.tick(t)
	require.Equal(t, 2, h.session(t, "s1").FinalizeFailures)

	h.tick(t)
	final := h.session(t, "s1")
	require.Equal(t, store.StateZombieClosed, final.State)
	require.Contains(t, final.CloseReason, "force-closed")
	require.Empty(t, h.sinks.sentNotes(), "no notification without a persisted summary")

	// the wedged session no longer occupies the active set
	h.tick(t)
	require.EqualValues(t, 3, h.eng.Stats().SessionErrors)
}

func TestNotificationFailureDoesNotReopenSession(t *testing.T) {
	tun := testTunables()
	tun.DrainGraceTicks = 1
	h := newHarness(t, tun, store.NewMemory())
	h.sinks.noteErr = errors.New("mail relay down")
	h.seedSession(t, store.Session{ID: "s1", State: store.StateEnding, StartedAt: baseTime.Add(-8 * time.Hour)})

	h.tick(t)

	s := h.session(t, "s1")
	require.Equal(t, store.StateEnded, s.State)
	require.Equal(t, 0, s.FinalizeFailures)
	_, ok, err := h.st.Summary(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, h.sinks.sentNotes())
}

func TestMidTickEndAnchorSurvivesEngineSave(t *testing.T) {
	as := &anchorStore{Store: store.NewMemory(), flipSession: "s1"}
	h := newHarness(t, testTunables(), as)
	h.seedSession(t, store.Session{ID: "s1", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})
	h.seedReading(t, "s1", baseTime.Add(-5*time.Minute), goodEnv)

	h.tick(t)

	s := h.session(t, "s1")
	require.True(t, s.EndRequested, "client's end anchor must survive the engine's save")
	require.EqualValues(t, 1, s.Agg.Count)

	// the anchor is honored on the next tick
	h.tick(t)
	require.Equal(t, store.StateEnding, h.session(t, "s1").State)
}

func TestShutdownLetsInFlightSessionFinish(t *testing.T) {
	tun := testTunables()
	tun.PollInterval = time.Hour
	tun.Workers = 1
	tun.DrainGraceTicks = 1
	gs := &gateStore{Store: store.NewMemory(), gate: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, tun, gs)
	h.seedSession(t, store.Session{ID: "a", State: store.StateEnding, StartedAt: baseTime.Add(-8 * time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.eng.Run(ctx)
		close(done)
	}()

	// the session is mid-fetch; shutdown arrives now
	<-gs.started
	cancel()
	close(gs.gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	// the in-flight session completed its terminal writes despite shutdown
	s := h.session(t, "a")
	require.Equal(t, store.StateEnded, s.State)
	require.NotNil(t, s.EndedAt)
	_, ok, err := h.st.Summary(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok, "summary must be persisted before the engine exits")
	require.Len(t, h.sinks.sentNotes(), 1)
}

func TestBatchCapLeavesRemainderForNextTick(t *testing.T) {
	tun := testTunables()
	tun.MaxBatch = 3
	h := newHarness(t, tun, store.NewMemory())
	h.seedSession(t, store.Session{ID: "s1", State: store.StateActive, StartedAt: baseTime.Add(-time.Hour)})
	for i := 0; i < 5; i++ {
		h.seedReading(t, "s1", baseTime.Add(time.Duration(i-30)*time.Minute), goodEnv)
	}

	h.tick(t)
	reports, err := h.st.Reports(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reports, 3)

	h.tick(t)
	reports, err = h.st.Reports(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reports, 5)
	require.EqualValues(t, 5, h.session(t, "s1").Agg.Count)
}
