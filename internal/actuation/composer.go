// v1
// internal/actuation/composer.go
package actuation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Notification is the structured wake-up report handed to the delivery
// channel (email/report renderer). Content only; no delivery here.
type Notification struct {
	ID         string               `json:"notificationId"`
	SessionID  string               `json:"sessionId"`
	Summary    store.SessionSummary `json:"summary"`
	Highlights []string             `json:"highlights"`
	Degraded   bool                 `json:"degraded"`
	ComposedAt time.Time            `json:"composedAt"`
}

// Composer builds the wake-up payload from a finalized summary. Fired
// exactly once per session, guarded by the one-shot terminal transition.
type Composer struct{}

func NewComposer() *Composer { return &Composer{} }

func (c *Composer) Compose(sum store.SessionSummary, now time.Time) Notification {
	highlights := []string{
		fmt.Sprintf("overall sleep environment was %s (avg score %.1f over %d intervals)", sum.Segment, sum.AvgScore, sum.Count),
		fmt.Sprintf("comfort trend through the night: %s", sum.Trend),
	}
	if sum.Count > 0 {
		highlights = append(highlights,
			fmt.Sprintf("worst interval scored %.1f, best %.1f", sum.MinScore, sum.MaxScore),
			fmt.Sprintf("room averaged %.1fC, %.0f%% humidity, %.1f lx, %.1f dB", sum.Stats.TempMean, sum.Stats.HumidityMean, sum.Stats.LightMean, sum.Stats.NoiseMean),
		)
	}
	if sum.Degraded {
		highlights = append(highlights, "session was closed by the watchdog; data may be incomplete: "+sum.CloseReason)
	}
	return Notification{
		ID:         uuid.NewString(),
		SessionID:  sum.SessionID,
		Summary:    sum,
		Highlights: highlights,
		Degraded:   sum.Degraded,
		ComposedAt: now,
	}
}
