// v3
// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/actuation"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/config"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/metrics"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/model"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/score"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/session"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Engine is the scheduled control loop. Each tick it refreshes the active
// session set from the store, drains unprocessed readings per session under
// the batch cap, scores them in timestamp order, advances watermarks, and
// drives lifecycle transitions. Sessions are processed by a bounded worker
// pool; one session's failure never blocks its siblings.
type Engine struct {
	cfg      *config.Config
	lg       *slog.Logger
	st       store.Store
	registry *session.Registry
	models   *model.Registry
	scorer   *score.HybridScorer
	life     *session.Lifecycle
	trigger  *actuation.Trigger
	composer *actuation.Composer
	commands actuation.CommandSink
	reports  actuation.NotificationSink

	// now is swapped by tests to drive the watchdog clock.
	now func() time.Time

	stats Stats
}

func New(cfg *config.Config, lg *slog.Logger, st store.Store, reg *session.Registry, models *model.Registry, cmdSink actuation.CommandSink, noteSink actuation.NotificationSink) *Engine {
	tun := cfg.Tun()
	return &Engine{
		cfg:      cfg,
		lg:       lg,
		st:       st,
		registry: reg,
		models:   models,
		scorer:   score.NewHybridScorer(models),
		life:     session.NewLifecycle(lg),
		trigger:  actuation.NewTrigger(tun.ActuationThreshold, tun.ActuationDebounce),
		composer: actuation.NewComposer(),
		commands: cmdSink,
		reports:  noteSink,
		now:      time.Now,
	}
}

// Run drives ticks until ctx is cancelled. The in-flight tick finishes the
// sessions it already started before Run returns; store writes inside a tick
// use their own timeouts and are not cut off by shutdown.
func (e *Engine) Run(ctx context.Context) {
	e.lg.Info("engine start", "interval", e.cfg.Tun().PollInterval)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			e.lg.Info("engine stop")
			return
		case <-timer.C:
		}
		e.Tick(ctx)
		// interval re-read each tick so a properties reload takes effect
		timer.Reset(e.cfg.Tun().PollInterval)
	}
}

// Tick runs one full poll cycle. Exported for tests, which drive the clock
// directly instead of waiting on the scheduler.
func (e *Engine) Tick(ctx context.Context) {
	started := time.Now()
	tun := e.cfg.Tun()
	e.trigger.Threshold = tun.ActuationThreshold
	e.trigger.Debounce = tun.ActuationDebounce

	refreshCtx, cancel := e.storeCtx(ctx, tun)
	sessions, err := e.registry.Refresh(refreshCtx)
	cancel()
	if err != nil {
		e.lg.Error("session refresh failed; retrying next tick", "error", err)
		return
	}
	metrics.ActiveSessions.Set(float64(len(sessions)))

	sem := make(chan struct{}, tun.Workers)
	var wg sync.WaitGroup
	for _, s := range sessions {
		select {
		case <-ctx.Done():
			// shutdown: stop picking up new sessions, let started ones finish
			wg.Wait()
			return
		default:
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(s store.Session) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.processSession(ctx, s); err != nil {
				e.stats.sessionErrors.Add(1)
				metrics.SessionErrors.Inc()
				e.lg.Error("session tick failed; retrying next tick", "session", s.ID, "error", err)
			}
		}(s)
	}
	wg.Wait()

	e.stats.ticks.Add(1)
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// storeCtx derives a per-store-call context: bounded by the store timeout,
// but not cancelled by shutdown so an in-flight session never stops
// mid-write.
func (e *Engine) storeCtx(ctx context.Context, tun config.Tunables) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), tun.StoreTimeout)
}

func (e *Engine) processSession(ctx context.Context, s store.Session) error {
	tun := e.cfg.Tun()
	now := e.now()

	fetchCtx, cancel := e.storeCtx(ctx, tun)
	readings, err := e.st.UnprocessedReadings(fetchCtx, s.ID, s.Watermark, tun.MaxBatch)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch readings: %w", err)
	}

	processed := 0
	for _, rd := range readings {
		if !validReading(rd) {
			// the watermark must not advance past a bad reading, so the
			// rest of the batch waits with it
			e.stats.readingsSkipped.Add(1)
			metrics.ReadingsSkipped.Inc()
			e.lg.Error("malformed reading skipped", "session", s.ID, "reading", rd.ID, "ts", rd.Timestamp)
			break
		}
		if err := e.processReading(ctx, &s, rd, tun, now); err != nil {
			return err
		}
		processed++
	}

	return e.advanceLifecycle(ctx, &s, processed, tun, now)
}

func (e *Engine) processReading(ctx context.Context, s *store.Session, rd store.SensorReading, tun config.Tunables, now time.Time) error {
	hs := e.scorer.Score(rd.Env)
	rep := store.IntervalReport{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		Timestamp:    rd.Timestamp,
		RuleScore:    hs.Rule,
		Residual:     hs.Residual,
		ComfortScore: hs.Combined,
		Segment:      hs.Segment,
		Confidence:   hs.Confidence,
		ModelVersion: hs.ModelVersion,
		Degraded:     hs.Degraded,
		Rationale:    hs.Rationale,
		Env:          rd.Env,
	}

	// report first, watermark second: a crash in between replays exactly
	// this reading, and the report write is idempotent on (session, ts)
	putCtx, cancel := e.storeCtx(ctx, tun)
	err := e.st.PutReport(putCtx, rep)
	cancel()
	if err != nil {
		return fmt.Errorf("put report: %w", err)
	}

	if s.State == store.StatePendingStart {
		if err := e.life.Activate(s); err != nil {
			return err
		}
	}
	session.Fold(&s.Agg, rep)

	cmd, fire := e.trigger.Evaluate(s, hs.Combined, hs.Rationale, now)

	markCtx, cancel := e.storeCtx(ctx, tun)
	err = e.registry.MarkProcessed(markCtx, s, rd)
	cancel()
	if err != nil {
		return err
	}
	e.stats.readingsScored.Add(1)
	metrics.ReadingsScored.Inc()

	if fire {
		sendCtx, cancel := e.storeCtx(ctx, tun)
		err = e.commands.SendCommand(sendCtx, cmd)
		cancel()
		if err != nil {
			// fire-and-forget: the next breach re-attempts after debounce
			metrics.SinkErrors.Inc()
			e.lg.Error("actuator command delivery failed", "session", s.ID, "error", err)
		} else {
			e.stats.actuationsSent.Add(1)
			metrics.ActuationsSent.Inc()
		}
	}
	return nil
}

// advanceLifecycle evaluates end-anchor, drain and watchdog conditions after
// the batch. All transitions stay serialized on this one control path.
func (e *Engine) advanceLifecycle(ctx context.Context, s *store.Session, processed int, tun config.Tunables, now time.Time) error {
	if s.State == store.StatePendingStart {
		switch {
		case s.EndRequested:
			// end anchor before any scored data: inconsistent, surface it
			return e.finalize(ctx, s, tun, now, false, "end anchor observed before session produced data")
		case now.Sub(s.StartedAt) > tun.ZombieAfter:
			return e.finalize(ctx, s, tun, now, false, "session never became active within max age")
		default:
			return nil
		}
	}

	if session.ZombieDue(*s, now, tun.ZombieAfter) {
		return e.finalize(ctx, s, tun, now, false, "session exceeded max age without end signal")
	}

	if s.EndRequested && s.State == store.StateActive {
		if err := e.life.BeginEnding(s); err != nil {
			return err
		}
		saveCtx, cancel := e.storeCtx(ctx, tun)
		err := e.registry.Save(saveCtx, *s)
		cancel()
		return err
	}

	if s.State == store.StateEnding {
		if processed > 0 {
			s.DrainTicks = 0
			saveCtx, cancel := e.storeCtx(ctx, tun)
			err := e.registry.Save(saveCtx, *s)
			cancel()
			return err
		}
		s.DrainTicks++
		if s.DrainTicks >= tun.DrainGraceTicks {
			return e.finalize(ctx, s, tun, now, true, "")
		}
		saveCtx, cancel := e.storeCtx(ctx, tun)
		err := e.registry.Save(saveCtx, *s)
		cancel()
		return err
	}
	return nil
}

// finalize runs the one-shot terminal sequence: summary write, terminal
// transition, session persist, then notification. Notification failure never
// rolls the terminal state back. Repeated finalize failures are bounded by
// the retry cap, after which the session is force-closed and the failure
// surfaced.
func (e *Engine) finalize(ctx context.Context, s *store.Session, tun config.Tunables, now time.Time, clean bool, reason string) error {
	prevState := s.State
	if !clean {
		if err := e.life.CloseDegraded(s, now, reason); err != nil {
			return err
		}
	} else {
		if err := e.life.Finish(s, now); err != nil {
			return err
		}
	}

	sum := session.Summarize(*s, *s.EndedAt)
	if a := e.models.Current(); a.Loaded() {
		sum.ModelVersion = a.Version
	}

	sumCtx, cancel := e.storeCtx(ctx, tun)
	err := e.st.PutSummary(sumCtx, sum)
	cancel()
	if err == nil {
		saveCtx, cancel := e.storeCtx(ctx, tun)
		err = e.registry.Save(saveCtx, *s)
		cancel()
	}
	if err != nil {
		return e.recordFinalizeFailure(ctx, s, tun, now, prevState, err)
	}

	note := e.composer.Compose(sum, now)
	noteCtx, cancel := e.storeCtx(ctx, tun)
	nerr := e.reports.SendNotification(noteCtx, note)
	cancel()
	if nerr != nil {
		// the session is ended regardless of delivery
		metrics.SinkErrors.Inc()
		e.lg.Error("notification delivery failed", "session", s.ID, "error", nerr)
	} else {
		e.stats.notificationsSent.Add(1)
		metrics.NotificationsSent.Inc()
	}

	metrics.SessionsFinalized.WithLabelValues(string(s.State)).Inc()
	if s.State == store.StateZombieClosed {
		e.stats.zombiesClosed.Add(1)
	}
	return nil
}

// recordFinalizeFailure counts a failed finalize attempt. The session rolls
// back to its pre-finalize state for a retry next tick until the cap, then
// it is force-closed so it cannot wedge the active set forever.
func (e *Engine) recordFinalizeFailure(ctx context.Context, s *store.Session, tun config.Tunables, now time.Time, prevState store.SessionState, cause error) error {
	s.FinalizeFailures++
	if s.FinalizeFailures >= tun.FinalizeRetryMax {
		s.State = store.StateZombieClosed
		s.CloseReason = fmt.Sprintf("force-closed after %d failed finalize attempts: %v", s.FinalizeFailures, cause)
		end := now
		s.EndedAt = &end
		e.lg.Error("finalize retries exhausted; force-closing", "session", s.ID, "attempts", s.FinalizeFailures, "error", cause)
		metrics.SessionsFinalized.WithLabelValues(string(store.StateZombieClosed)).Inc()
		e.stats.zombiesClosed.Add(1)
	} else {
		s.State = prevState
		s.EndedAt = nil
	}
	saveCtx, cancel := e.storeCtx(ctx, tun)
	if serr := e.registry.Save(saveCtx, *s); serr != nil {
		cancel()
		e.lg.Error("finalize failure could not be persisted", "session", s.ID, "error", serr)
		return fmt.Errorf("finalize: %w", cause)
	}
	cancel()
	return fmt.Errorf("finalize: %w", cause)
}

func validReading(rd store.SensorReading) bool {
	if rd.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{rd.Env.TempC, rd.Env.HumidityPct, rd.Env.LightLux, rd.Env.NoiseDb} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
