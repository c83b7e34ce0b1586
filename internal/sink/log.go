// v1
// internal/sink/log.go
package sink

import (
	"context"
	"log/slog"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/actuation"
)

// Log is the dev-mode sink used when no brokers are configured: payloads go
// to the log instead of the bus.
type Log struct {
	lg *slog.Logger
}

func NewLog(lg *slog.Logger) *Log { return &Log{lg: lg} }

func (l *Log) SendCommand(ctx context.Context, cmd actuation.Command) error {
	l.lg.Info("command (log sink)", "session", cmd.SessionID, "device", cmd.DeviceID, "action", cmd.Action, "score", cmd.Score)
	return nil
}

func (l *Log) SendNotification(ctx context.Context, n actuation.Notification) error {
	l.lg.Info("notification (log sink)", "session", n.SessionID, "segment", n.Summary.Segment, "avg", n.Summary.AvgScore, "count", n.Summary.Count)
	return nil
}
