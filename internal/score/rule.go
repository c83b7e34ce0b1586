// v2
// internal/score/rule.go
package score

import (
	"fmt"
	"strings"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// Sensor ranges the hardware can report. Inputs outside these bounds are
// clamped, never rejected: monitoring continuity requires that every reading
// gets a score.
const (
	TempMinC  = 15.0
	TempMaxC  = 40.0
	HumMinPct = 20.0
	HumMaxPct = 100.0
	LightMin  = 0.0
	LightMax  = 2000.0
	NoiseMin  = 15.0
	NoiseMax  = 120.0
)

// Comfort bands and penalty weights. Inside the band a factor contributes no
// penalty; outside, the penalty grows linearly with the deviation from the
// nearest band edge. Weights follow the trained rule model.
const (
	TempIdealLo = 18.0
	TempIdealHi = 22.0
	TempWeight  = 3.5

	HumIdealLo = 30.0
	HumIdealHi = 60.0
	HumWeight  = 0.4

	LightIdealLux = 10.0
	LightWeight   = 0.9

	NoiseIdealDb = 30.0
	NoiseWeight  = 2.0
)

// Verdict levels per factor.
const (
	LevelOptimal  = "optimal"
	LevelDegraded = "degraded"
	LevelPoor     = "poor"
)

// A factor penalty above this marks the factor poor rather than degraded.
const poorPenaltyCutoff = 15.0

// Verdict is one factor's contribution to the rule score.
type Verdict struct {
	Factor    string  `json:"factor"`
	Level     string  `json:"level"`
	Value     float64 `json:"value"`
	Deviation float64 `json:"deviation"`
	Penalty   float64 `json:"penalty"`
}

// RuleResult is the deterministic half of the hybrid score.
type RuleResult struct {
	Score     float64   `json:"ruleScore"`
	Verdicts  []Verdict `json:"verdicts"`
	Rationale string    `json:"rationale"`
}

// EvaluateRules scores one environment sample. Pure and total: same input,
// same output, no error paths. Out-of-range values are clamped to the sensor
// bounds first.
func EvaluateRules(env store.EnvSample) RuleResult {
	temp := clamp(env.TempC, TempMinC, TempMaxC)
	hum := clamp(env.HumidityPct, HumMinPct, HumMaxPct)
	light := clamp(env.LightLux, LightMin, LightMax)
	noise := clamp(env.NoiseDb, NoiseMin, NoiseMax)

	verdicts := []Verdict{
		factorVerdict("temperature", temp, bandDeviation(temp, TempIdealLo, TempIdealHi), TempWeight),
		factorVerdict("humidity", hum, bandDeviation(hum, HumIdealLo, HumIdealHi), HumWeight),
		factorVerdict("light", light, bandDeviation(light, LightMin, LightIdealLux), LightWeight),
		factorVerdict("sound", noise, bandDeviation(noise, 0, NoiseIdealDb), NoiseWeight),
	}

	total := 100.0
	phrases := make([]string, 0, len(verdicts))
	for i := range verdicts {
		total -= verdicts[i].Penalty
		phrases = append(phrases, verdictPhrase(verdicts[i]))
	}
	return RuleResult{
		Score:     Clamp100(total),
		Verdicts:  verdicts,
		Rationale: strings.Join(phrases, "; "),
	}
}

// Clamp100 bounds a score to [0,100].
func Clamp100(v float64) float64 { return clamp(v, 0, 100) }

// Segment classifies a score the way the wake-up report labels it.
func Segment(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bandDeviation is the distance from v to the [lo,hi] comfort band; zero
// inside the band.
func bandDeviation(v, lo, hi float64) float64 {
	if v < lo {
		return lo - v
	}
	if v > hi {
		return v - hi
	}
	return 0
}

func factorVerdict(name string, value, dev, weight float64) Verdict {
	v := Verdict{Factor: name, Value: value, Deviation: dev, Penalty: weight * dev}
	switch {
	case dev == 0:
		v.Level = LevelOptimal
	case v.Penalty <= poorPenaltyCutoff:
		v.Level = LevelDegraded
	default:
		v.Level = LevelPoor
	}
	return v
}

func verdictPhrase(v Verdict) string {
	if v.Level == LevelOptimal {
		return fmt.Sprintf("%s %.1f %s", v.Factor, v.Value, v.Level)
	}
	return fmt.Sprintf("%s %.1f %s (off by %.1f)", v.Factor, v.Value, v.Level, v.Deviation)
}
