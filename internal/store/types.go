// v2
// internal/store/types.go
package store

import "time"

// Session lifecycle states. PENDING_START and ACTIVE/ENDING are live; ENDED
// and ZOMBIE_CLOSED are terminal and never transition again.
type SessionState string

const (
	StatePendingStart SessionState = "PENDING_START"
	StateActive       SessionState = "ACTIVE"
	StateEnding       SessionState = "ENDING"
	StateEnded        SessionState = "ENDED"
	StateZombieClosed SessionState = "ZOMBIE_CLOSED"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateZombieClosed
}

// EnvSample is the raw sensor vector carried on readings and echoed on every
// interval report so summaries can be recomputed by replay.
type EnvSample struct {
	TempC       float64 `json:"tempC"`
	HumidityPct float64 `json:"humidityPct"`
	LightLux    float64 `json:"lightLux"`
	NoiseDb     float64 `json:"noiseDb"`
}

// SensorReading is an immutable fact written by the sensor tier. The core
// consumes it exactly once: Processed flips false->true, idempotently.
type SensorReading struct {
	ID        string    `json:"readingId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Env       EnvSample `json:"env"`
	Processed bool      `json:"isProcessed"`
}

// IntervalReport is one scored reading. Immutable once written; at most one
// per (session, reading timestamp).
type IntervalReport struct {
	ID           string    `json:"reportId"`
	SessionID    string    `json:"sessionId"`
	Timestamp    time.Time `json:"timestamp"`
	RuleScore    float64   `json:"ruleScore"`
	Residual     float64   `json:"residual"`
	ComfortScore float64   `json:"comfortScore"`
	Segment      string    `json:"segment"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	Degraded     bool      `json:"degraded"`
	Rationale    string    `json:"rationale"`
	Env          EnvSample `json:"input"`
}

// FactorStats carries streaming per-factor statistics (Welford form). Mean
// and M2 are enough to recover mean/std without re-reading history.
type FactorStats struct {
	Mean float64 `json:"mean"`
	M2   float64 `json:"m2"`
}

// AggregateState is the running fold over a session's interval reports. It
// must stay recomputable by replaying the reports in order (crash-recovery
// reconciliation).
type AggregateState struct {
	Count      int64       `json:"count"`
	Sum        float64     `json:"sum"`
	Min        float64     `json:"min"`
	Max        float64     `json:"max"`
	FirstScore float64     `json:"firstScore"`
	LastScore  float64     `json:"lastScore"`
	FirstTS    time.Time   `json:"firstTs,omitempty"`
	LastTS     time.Time   `json:"lastTs,omitempty"`
	Temp       FactorStats `json:"temp"`
	Humidity   FactorStats `json:"humidity"`
	Light      FactorStats `json:"light"`
	Noise      FactorStats `json:"noise"`
}

// Session is the aggregate root. The client tier creates the anchor document
// (state PENDING_START) and flips EndRequested when the sleeper wakes; the
// engine owns every other field.
type Session struct {
	ID               string         `json:"sessionId"`
	DeviceID         string         `json:"deviceId,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	EndedAt          *time.Time     `json:"endedAt,omitempty"`
	State            SessionState   `json:"state"`
	EndRequested     bool           `json:"endRequested"`
	Watermark        time.Time      `json:"watermark"`
	Agg              AggregateState `json:"aggregate"`
	LastActuationAt  *time.Time     `json:"lastActuationAt,omitempty"`
	DrainTicks       int            `json:"drainTicks"`
	FinalizeFailures int            `json:"finalizeFailures"`
	CloseReason      string         `json:"closeReason,omitempty"`
}

// SessionSummary is produced once when a session reaches a terminal state.
type SessionSummary struct {
	SessionID       string        `json:"sessionId"`
	StartedAt       time.Time     `json:"startedAt"`
	EndedAt         time.Time     `json:"endedAt"`
	DurationMinutes float64       `json:"durationMinutes"`
	Count           int64         `json:"count"`
	AvgScore        float64       `json:"avgComfortScore"`
	MinScore        float64       `json:"minScore"`
	MaxScore        float64       `json:"maxScore"`
	Segment         string        `json:"segment"`
	Trend           string        `json:"comfortTrend"`
	Stats           SummaryStats  `json:"stats"`
	ModelVersion    string        `json:"modelVersion,omitempty"`
	Degraded        bool          `json:"degraded"`
	CloseReason     string        `json:"closeReason,omitempty"`
}

// SummaryStats mirrors the per-factor mean/std block of the wake-up report.
type SummaryStats struct {
	TempMean     float64 `json:"tempMean"`
	TempStd      float64 `json:"tempStd"`
	HumidityMean float64 `json:"humidityMean"`
	HumidityStd  float64 `json:"humidityStd"`
	LightMean    float64 `json:"lightMean"`
	LightStd     float64 `json:"lightStd"`
	NoiseMean    float64 `json:"noiseMean"`
	NoiseStd     float64 `json:"noiseStd"`
}
