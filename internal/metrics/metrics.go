// v1
// Package metrics exposes Prometheus counters for the poll engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_ticks_total",
		Help: "Poll ticks executed.",
	})
	ReadingsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_readings_scored_total",
		Help: "Sensor readings scored into interval reports.",
	})
	ReadingsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_readings_skipped_total",
		Help: "Malformed readings skipped and flagged.",
	})
	SessionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_session_errors_total",
		Help: "Per-session tick failures (session retried next tick).",
	})
	ActuationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_actuations_sent_total",
		Help: "Actuator commands emitted after threshold and debounce.",
	})
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_notifications_sent_total",
		Help: "Wake-up notifications composed and handed to the sink.",
	})
	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleeptracker_sink_errors_total",
		Help: "Actuator/notification delivery failures (non-fatal).",
	})
	SessionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleeptracker_sessions_finalized_total",
		Help: "Sessions reaching a terminal state, by state.",
	}, []string{"state"})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sleeptracker_active_sessions",
		Help: "Sessions in the working set after the last refresh.",
	})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleeptracker_tick_duration_seconds",
		Help:    "Wall time of one full poll tick.",
		Buckets: prometheus.DefBuckets,
	})
	ModelReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleeptracker_model_reloads_total",
		Help: "Model artifact reload attempts, by outcome.",
	}, []string{"outcome"})
)
