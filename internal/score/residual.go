// v1
// internal/score/residual.go
package score

import (
	"math"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/model"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// ResidualResult is the learned half of the hybrid score. Degraded means no
// artifact was loaded and the correction defaulted to zero.
type ResidualResult struct {
	Correction   float64 `json:"residual"`
	ModelVersion string  `json:"modelVersion,omitempty"`
	Confidence   float64 `json:"confidence"`
	Degraded     bool    `json:"degraded"`
}

// ResidualScorer evaluates the active artifact against a sample. Stateless
// per call; the artifact itself is shared read-only via the registry.
type ResidualScorer struct {
	reg *model.Registry
}

func NewResidualScorer(reg *model.Registry) *ResidualScorer {
	return &ResidualScorer{reg: reg}
}

// Score never fails on numeric input. Without a loaded artifact it returns a
// zero correction flagged degraded, so the rule component alone still yields
// a usable score.
func (r *ResidualScorer) Score(env store.EnvSample) ResidualResult {
	a := r.reg.Current()
	if !a.Loaded() {
		return ResidualResult{Confidence: 0.5, Degraded: true}
	}
	corr := a.Predict(map[string]float64{
		model.FeatureTemp:     env.TempC,
		model.FeatureHumidity: env.HumidityPct,
		model.FeatureLight:    env.LightLux,
		model.FeatureNoise:    env.NoiseDb,
	})
	return ResidualResult{
		Correction:   corr,
		ModelVersion: a.Version,
		Confidence:   confidence(corr),
	}
}

// confidence shrinks as the residual magnitude grows; a large correction
// means the rule model missed badly.
func confidence(residual float64) float64 {
	c := 1.0 - math.Min(1.0, math.Abs(residual)/10.0)
	return clamp(c, 0, 1)
}
