// v1
// internal/actuation/trigger.go
package actuation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Command is the fire-and-forget payload for the actuator control channel.
type Command struct {
	ID         string    `json:"commandId"`
	SessionID  string    `json:"sessionId"`
	DeviceID   string    `json:"deviceId"`
	Action     string    `json:"action"`
	Score      float64   `json:"comfortScore"`
	Reason     string    `json:"reason"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// ActionImprove is the single comfort-recovery action the bedside actuator
// understands; device firmware decides fan/heater specifics.
const ActionImprove = "IMPROVE_ENVIRONMENT"

// CommandSink delivers actuator commands. Delivery failure is logged by the
// caller, never retried synchronously: the next threshold breach re-attempts
// after the debounce window.
type CommandSink interface {
	SendCommand(ctx context.Context, cmd Command) error
}

// NotificationSink delivers the wake-up summary payload.
type NotificationSink interface {
	SendNotification(ctx context.Context, n Notification) error
}

// Trigger decides, per interval, whether to command the actuator: the
// combined score must breach the threshold AND the previous actuation must
// be older than the debounce window, so a long bad stretch does not flood
// the device.
type Trigger struct {
	Threshold float64
	Debounce  time.Duration
}

func NewTrigger(threshold float64, debounce time.Duration) *Trigger {
	return &Trigger{Threshold: threshold, Debounce: debounce}
}

// Evaluate returns a command and true when both conditions hold. The caller
// records now as the session's last actuation time after a successful
// evaluation.
func (t *Trigger) Evaluate(s *store.Session, combined float64, reason string, now time.Time) (Command, bool) {
	if combined >= t.Threshold {
		return Command{}, false
	}
	if s.LastActuationAt != nil && now.Sub(*s.LastActuationAt) < t.Debounce {
		return Command{}, false
	}
	last := now
	s.LastActuationAt = &last
	return Command{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		DeviceID:  s.DeviceID,
		Action:    ActionImprove,
		Score:     combined,
		Reason:    reason,
		IssuedAt:  now,
	}, true
}
