// v2
// internal/session/lifecycle.go
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// ErrBadTransition is returned when a lifecycle move is requested from a
// state that does not admit it. Terminal states admit nothing.
var ErrBadTransition = errors.New("invalid lifecycle transition")

// Lifecycle owns the session state machine. All transitions are serialized
// through the poll tick, so the methods mutate the session in place and the
// caller persists it.
//
//	PENDING_START -> ACTIVE          first interval scored
//	ACTIVE        -> ENDING          end anchor observed
//	ENDING        -> ENDED           drain grace elapsed, summary finalized
//	ACTIVE|ENDING -> ZOMBIE_CLOSED   age watchdog or lifecycle inconsistency
type Lifecycle struct {
	lg *slog.Logger
}

func NewLifecycle(lg *slog.Logger) *Lifecycle { return &Lifecycle{lg: lg} }

// Activate moves a pending session into ACTIVE after its first successful
// scored interval.
func (l *Lifecycle) Activate(s *store.Session) error {
	if s.State != store.StatePendingStart {
		return fmt.Errorf("%w: %s -> ACTIVE", ErrBadTransition, s.State)
	}
	s.State = store.StateActive
	l.lg.Info("session active", "session", s.ID)
	return nil
}

// BeginEnding reacts to the external end anchor: final readings may still be
// draining, so the session is not terminal yet.
func (l *Lifecycle) BeginEnding(s *store.Session) error {
	if s.State != store.StateActive {
		return fmt.Errorf("%w: %s -> ENDING", ErrBadTransition, s.State)
	}
	s.State = store.StateEnding
	s.DrainTicks = 0
	l.lg.Info("session ending", "session", s.ID)
	return nil
}

// Finish is the one-shot terminal transition for a cleanly ended session.
func (l *Lifecycle) Finish(s *store.Session, now time.Time) error {
	if s.State != store.StateEnding {
		return fmt.Errorf("%w: %s -> ENDED", ErrBadTransition, s.State)
	}
	s.State = store.StateEnded
	end := now
	s.EndedAt = &end
	l.lg.Info("session ended", "session", s.ID, "intervals", s.Agg.Count)
	return nil
}

// CloseDegraded force-closes a session into the degraded terminal state:
// the age watchdog fired, finalize retries ran out, or the anchor state was
// inconsistent. Reason is persisted for operator inspection.
func (l *Lifecycle) CloseDegraded(s *store.Session, now time.Time, reason string) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s -> ZOMBIE_CLOSED", ErrBadTransition, s.State)
	}
	s.State = store.StateZombieClosed
	s.CloseReason = reason
	end := now
	s.EndedAt = &end
	l.lg.Warn("session force-closed", "session", s.ID, "reason", reason, "intervals", s.Agg.Count)
	return nil
}

// ZombieDue reports whether the age watchdog should fire: the session has
// lived past maxAge with no end signal. Evaluated every tick rather than on
// a separate timer so every transition stays on the one control path.
func ZombieDue(s store.Session, now time.Time, maxAge time.Duration) bool {
	if s.State != store.StateActive && s.State != store.StateEnding {
		return false
	}
	return now.Sub(s.StartedAt) > maxAge
}
