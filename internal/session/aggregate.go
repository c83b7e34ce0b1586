// v2
// internal/session/aggregate.go
package session

import (
	"math"
	"time"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/score"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Fold streams one interval report into the session's running statistics.
// O(1) per interval; per-factor mean/std use Welford's update so the summary
// never needs to re-read history.
func Fold(agg *store.AggregateState, rep store.IntervalReport) {
	agg.Count++
	agg.Sum += rep.ComfortScore
	if agg.Count == 1 {
		agg.Min = rep.ComfortScore
		agg.Max = rep.ComfortScore
		agg.FirstScore = rep.ComfortScore
		agg.FirstTS = rep.Timestamp
	} else {
		if rep.ComfortScore < agg.Min {
			agg.Min = rep.ComfortScore
		}
		if rep.ComfortScore > agg.Max {
			agg.Max = rep.ComfortScore
		}
	}
	agg.LastScore = rep.ComfortScore
	agg.LastTS = rep.Timestamp

	n := float64(agg.Count)
	foldFactor(&agg.Temp, rep.Env.TempC, n)
	foldFactor(&agg.Humidity, rep.Env.HumidityPct, n)
	foldFactor(&agg.Light, rep.Env.LightLux, n)
	foldFactor(&agg.Noise, rep.Env.NoiseDb, n)
}

func foldFactor(fs *store.FactorStats, v, n float64) {
	delta := v - fs.Mean
	fs.Mean += delta / n
	fs.M2 += delta * (v - fs.Mean)
}

// Replay recomputes the aggregate from scratch. Reports must be in ascending
// timestamp order. Used by the reconciliation check after a crash.
func Replay(reports []store.IntervalReport) store.AggregateState {
	var agg store.AggregateState
	for _, rep := range reports {
		Fold(&agg, rep)
	}
	return agg
}

// Summarize packages the final wake-up summary from the folded state. Called
// exactly once, on the terminal transition.
func Summarize(s store.Session, endedAt time.Time) store.SessionSummary {
	agg := s.Agg
	sum := store.SessionSummary{
		SessionID:       s.ID,
		StartedAt:       s.StartedAt,
		EndedAt:         endedAt,
		DurationMinutes: endedAt.Sub(s.StartedAt).Minutes(),
		Count:           agg.Count,
		MinScore:        agg.Min,
		MaxScore:        agg.Max,
		Trend:           trend(agg),
		Degraded:        s.State == store.StateZombieClosed,
		CloseReason:     s.CloseReason,
	}
	if agg.Count > 0 {
		sum.AvgScore = agg.Sum / float64(agg.Count)
		sum.Stats = store.SummaryStats{
			TempMean:     agg.Temp.Mean,
			TempStd:      stdDev(agg.Temp, agg.Count),
			HumidityMean: agg.Humidity.Mean,
			HumidityStd:  stdDev(agg.Humidity, agg.Count),
			LightMean:    agg.Light.Mean,
			LightStd:     stdDev(agg.Light, agg.Count),
			NoiseMean:    agg.Noise.Mean,
			NoiseStd:     stdDev(agg.Noise, agg.Count),
		}
	}
	sum.Segment = score.Segment(sum.AvgScore)
	return sum
}

func trend(agg store.AggregateState) string {
	switch {
	case agg.Count == 0:
		return "stable"
	case agg.LastScore > agg.FirstScore:
		return "increasing"
	case agg.LastScore < agg.FirstScore:
		return "decreasing"
	default:
		return "stable"
	}
}

// stdDev is the population standard deviation recovered from Welford state.
func stdDev(fs store.FactorStats, n int64) float64 {
	if n <= 0 {
		return 0
	}
	return math.Sqrt(fs.M2 / float64(n))
}
