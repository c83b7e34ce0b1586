// v1
// internal/score/hybrid.go
package score

import (
	"fmt"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/model"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

// HybridScore is the engine-facing scoring result: rule score plus clamped
// residual correction, with merged rationale.
type HybridScore struct {
	Rule         float64
	Residual     float64
	Combined     float64
	Segment      string
	Confidence   float64
	ModelVersion string
	Degraded     bool
	Verdicts     []Verdict
	Rationale    string
}

// HybridScorer is the sole scoring entry point used by the poller.
type HybridScorer struct {
	residual *ResidualScorer
}

func NewHybridScorer(reg *model.Registry) *HybridScorer {
	return &HybridScorer{residual: NewResidualScorer(reg)}
}

// Score combines the deterministic rule evaluation with the learned residual
// correction: combined = clamp(rule + residual, 0, 100).
func (h *HybridScorer) Score(env store.EnvSample) HybridScore {
	rule := EvaluateRules(env)
	res := h.residual.Score(env)
	combined := Clamp100(rule.Score + res.Correction)

	rationale := rule.Rationale
	if res.Degraded {
		rationale += "; residual model unavailable (rule-only score)"
	} else {
		rationale += fmt.Sprintf("; residual %+.1f (model %s)", res.Correction, res.ModelVersion)
	}
	return HybridScore{
		Rule:         rule.Score,
		Residual:     res.Correction,
		Combined:     combined,
		Segment:      Segment(combined),
		Confidence:   res.Confidence,
		ModelVersion: res.ModelVersion,
		Degraded:     res.Degraded,
		Verdicts:     rule.Verdicts,
		Rationale:    rationale,
	}
}
