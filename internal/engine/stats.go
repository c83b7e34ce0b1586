// v1
// internal/engine/stats.go
package engine

import "sync/atomic"

// Stats are the engine's own counters, exposed at /v1/status.
type Stats struct {
	ticks             atomic.Int64
	readingsScored    atomic.Int64
	readingsSkipped   atomic.Int64
	sessionErrors     atomic.Int64
	actuationsSent    atomic.Int64
	notificationsSent atomic.Int64
	zombiesClosed     atomic.Int64
}

// StatsSnapshot is the JSON shape served by the status endpoint.
type StatsSnapshot struct {
	Ticks             int64 `json:"ticks"`
	ReadingsScored    int64 `json:"readingsScored"`
	ReadingsSkipped   int64 `json:"readingsSkipped"`
	SessionErrors     int64 `json:"sessionErrors"`
	ActuationsSent    int64 `json:"actuationsSent"`
	NotificationsSent int64 `json:"notificationsSent"`
	ZombiesClosed     int64 `json:"zombiesClosed"`
}

// Stats returns a point-in-time snapshot of the counters.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		Ticks:             e.stats.ticks.Load(),
		ReadingsScored:    e.stats.readingsScored.Load(),
		ReadingsSkipped:   e.stats.readingsSkipped.Load(),
		SessionErrors:     e.stats.sessionErrors.Load(),
		ActuationsSent:    e.stats.actuationsSent.Load(),
		NotificationsSent: e.stats.notificationsSent.Load(),
		ZombiesClosed:     e.stats.zombiesClosed.Load(),
	}
}
