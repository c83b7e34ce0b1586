// v1
// internal/circuitbreaker/kafkacb.go
package circuitbreaker

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Writer wraps a kafka writer with breaker protection. A nil breaker passes
// writes straight through.
type Writer struct {
	w *kafka.Writer
	b *Breaker
}

func NewWriter(w *kafka.Writer, b *Breaker) *Writer {
	return &Writer{w: w, b: b}
}

func (cw *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if cw.b == nil {
		return cw.w.WriteMessages(ctx, msgs...)
	}
	return cw.b.Execute(ctx, func(ctx context.Context) error {
		return cw.w.WriteMessages(ctx, msgs...)
	})
}

func (cw *Writer) Close() error { return cw.w.Close() }
