// v1
// internal/sink/kafka.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/actuation"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/circuitbreaker"
)

// Kafka delivers actuator commands and wake-up notifications to the bus.
// Both writers sit behind a shared circuit breaker so a dead broker degrades
// to fast-fails instead of stalling the poll tick.
type Kafka struct {
	lg           *slog.Logger
	brokers      []string
	commandTopic string
	reportTopic  string
	replication  int

	commands *circuitbreaker.Writer
	reports  *circuitbreaker.Writer
}

func NewKafka(brokers []string, commandTopic, reportTopic string, replication int, lg *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	brk := circuitbreaker.New("sink-kafka-writer", circuitbreaker.FromEnv(), lg)
	k := &Kafka{
		lg:           lg,
		brokers:      brokers,
		commandTopic: commandTopic,
		reportTopic:  reportTopic,
		replication:  replication,
	}
	if err := k.ensureTopics(context.Background()); err != nil {
		lg.Warn("topic ensure failed", "error", err)
	}
	cmdWriter := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: commandTopic, Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireAll}
	repWriter := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: reportTopic, RequiredAcks: kafka.RequireAll}
	k.commands = circuitbreaker.NewWriter(cmdWriter, brk)
	k.reports = circuitbreaker.NewWriter(repWriter, brk)
	lg.Info("kafka sinks wired", "commandTopic", commandTopic, "reportTopic", reportTopic)
	return k, nil
}

func (k *Kafka) ensureTopics(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			k.lg.Warn("broker conn close", "error", err)
		}
	}()
	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	c, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ctrl.Host, ctrl.Port))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			k.lg.Warn("controller conn close", "error", err)
		}
	}()
	cfgs := []kafka.TopicConfig{
		{Topic: k.commandTopic, NumPartitions: 2, ReplicationFactor: k.replication},
		{Topic: k.reportTopic, NumPartitions: 1, ReplicationFactor: k.replication},
	}
	if err := c.CreateTopics(cfgs...); err != nil {
		k.lg.Warn("CreateTopics", "error", err)
	}
	return nil
}

func (k *Kafka) SendCommand(ctx context.Context, cmd actuation.Command) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	msg := kafka.Message{Key: []byte(cmd.DeviceID), Value: b, Time: time.Now()}
	if err := k.commands.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("command write: %w", err)
	}
	k.lg.Info("command published", "session", cmd.SessionID, "device", cmd.DeviceID, "score", cmd.Score)
	return nil
}

func (k *Kafka) SendNotification(ctx context.Context, n actuation.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{Key: []byte(n.SessionID), Value: b, Time: time.Now()}
	if err := k.reports.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notification write: %w", err)
	}
	k.lg.Info("notification published", "session", n.SessionID, "degraded", n.Degraded)
	return nil
}

func (k *Kafka) Close() {
	if err := k.commands.Close(); err != nil {
		k.lg.Warn("command writer close", "error", err)
	}
	if err := k.reports.Close(); err != nil {
		k.lg.Warn("report writer close", "error", err)
	}
}
