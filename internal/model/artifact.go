// v1
// internal/model/artifact.go
package model

import (
	"encoding/json"
	"fmt"
)

// Feature names the residual model may reference, in the order the training
// pipeline emits them.
const (
	FeatureTemp     = "tempC"
	FeatureHumidity = "humidityPct"
	FeatureLight    = "lightLux"
	FeatureNoise    = "noiseDb"
)

// DefaultMaxCorrection bounds the residual when the artifact does not carry
// its own clamp.
const DefaultMaxCorrection = 25.0

// Artifact is a loaded residual-model version: a linear correction on top of
// the rule score. Immutable after load; the registry swaps whole artifacts,
// never mutates one in place.
type Artifact struct {
	Version       string    `json:"version"`
	TrainedAt     string    `json:"trainedAt,omitempty"`
	Features      []string  `json:"features"`
	Coefficients  []float64 `json:"coefficients"`
	Intercept     float64   `json:"intercept"`
	MaxCorrection float64   `json:"maxCorrection,omitempty"`
}

// None is the designated no-model sentinel the registry serves before the
// first successful load. Predict on it is valid and returns zero.
var None = &Artifact{Version: ""}

// Loaded reports whether the artifact is a real model rather than the
// sentinel.
func (a *Artifact) Loaded() bool { return a != nil && a.Version != "" }

// Predict returns the signed residual correction for the feature vector,
// clamped to +-MaxCorrection.
func (a *Artifact) Predict(features map[string]float64) float64 {
	if !a.Loaded() {
		return 0
	}
	out := a.Intercept
	for i, name := range a.Features {
		if i >= len(a.Coefficients) {
			break
		}
		out += a.Coefficients[i] * features[name]
	}
	bound := a.MaxCorrection
	if bound <= 0 {
		bound = DefaultMaxCorrection
	}
	if out > bound {
		out = bound
	}
	if out < -bound {
		out = -bound
	}
	return out
}

// ParseArtifact decodes and validates a JSON artifact blob.
func ParseArtifact(blob []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Version == "" {
		return nil, fmt.Errorf("artifact missing version")
	}
	if len(a.Features) == 0 {
		return nil, fmt.Errorf("artifact %s has no features", a.Version)
	}
	if len(a.Coefficients) != len(a.Features) {
		return nil, fmt.Errorf("artifact %s: %d coefficients for %d features", a.Version, len(a.Coefficients), len(a.Features))
	}
	return &a, nil
}
