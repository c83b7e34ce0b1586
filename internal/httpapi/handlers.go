// v2
// internal/httpapi/handlers.go
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/config"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/engine"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/metrics"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/model"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/score"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

const adminHeader = "X-Admin-Key"

// Handlers bundles the dependencies of the admin endpoints.
type Handlers struct {
	Cfg    *config.Config
	Lg     *slog.Logger
	Store  store.Store
	Models *model.Registry
	Scorer *score.HybridScorer
	Stats  func() engine.StatsSnapshot
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) admin(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get(adminHeader) != h.Cfg.AdminKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin key required"})
		return false
	}
	return true
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"modelLoaded": h.Models.Current().Loaded(),
	})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats())
}

func (h *Handlers) ModelInfo(w http.ResponseWriter, r *http.Request) {
	a := h.Models.Current()
	info := map[string]any{
		"modelVersion": a.Version,
		"loaded":       a.Loaded(),
		"features":     []string{model.FeatureTemp, model.FeatureHumidity, model.FeatureLight, model.FeatureNoise},
		"expectedRanges": map[string][2]float64{
			"temperature": {score.TempMinC, score.TempMaxC},
			"humidity":    {score.HumMinPct, score.HumMaxPct},
			"light":       {score.LightMin, score.LightMax},
			"sound":       {score.NoiseMin, score.NoiseMax},
		},
		"notes": "hybrid = rule + residual; interval = 5 minutes",
	}
	if a.Loaded() {
		info["trainedAt"] = a.TrainedAt
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) ModelReload(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	a, err := h.Models.Reload(r.Context())
	if err != nil {
		metrics.ModelReloads.WithLabelValues("failure").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	metrics.ModelReloads.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "modelVersion": a.Version})
}

func (h *Handlers) ConfigReload(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	if err := h.Cfg.ReloadProperties(); err != nil {
		h.Lg.Error("properties reload", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type debugScoreRequest struct {
	Timestamp   time.Time `json:"timestamp"`
	TempC       float64   `json:"tempC"`
	HumidityPct float64   `json:"humidityPct"`
	LightLux    float64   `json:"lightLux"`
	NoiseDb     float64   `json:"noiseDb"`
}

// DebugScore runs one sample through the hybrid scorer and returns the full
// per-factor breakdown. Admin-gated; not used by the engine.
func (h *Handlers) DebugScore(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req debugScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	hs := h.Scorer.Score(store.EnvSample{
		TempC:       req.TempC,
		HumidityPct: req.HumidityPct,
		LightLux:    req.LightLux,
		NoiseDb:     req.NoiseDb,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ruleScore":    hs.Rule,
		"residual":     hs.Residual,
		"comfortScore": hs.Combined,
		"segment":      hs.Segment,
		"confidence":   hs.Confidence,
		"modelVersion": hs.ModelVersion,
		"degraded":     hs.Degraded,
		"verdicts":     hs.Verdicts,
		"rationale":    hs.Rationale,
	})
}

func (h *Handlers) SessionSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sum, ok, err := h.Store.Summary(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no summary for session " + id})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
