// v1
// internal/session/aggregate_test.go
package session

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
)

func reportSeq(start time.Time, scores []float64) []store.IntervalReport {
	out := make([]store.IntervalReport, 0, len(scores))
	for i, sc := range scores {
		out = append(out, store.IntervalReport{
			ID:           fmt.Sprintf("rep-%d", i),
			SessionID:    "s1",
			Timestamp:    start.Add(time.Duration(i) * 5 * time.Minute),
			ComfortScore: sc,
			Env: store.EnvSample{
				TempC:       20 + float64(i)*0.3,
				HumidityPct: 45 - float64(i),
				LightLux:    float64(i * 2),
				NoiseDb:     28 + float64(i%3),
			},
		})
	}
	return out
}

func TestFoldMatchesReplay(t *testing.T) {
	reports := reportSeq(time.Now(), []float64{82, 75, 91, 60, 60, 88.5, 44.2})

	var folded store.AggregateState
	for _, rep := range reports {
		Fold(&folded, rep)
	}
	replayed := Replay(reports)

	if !reflect.DeepEqual(folded, replayed) {
		t.Fatalf("incremental fold diverged from replay:\nfold   %+v\nreplay %+v", folded, replayed)
	}
}

func TestFoldBasicStatistics(t *testing.T) {
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	reports := reportSeq(start, []float64{70, 90, 50, 80})

	agg := Replay(reports)
	if agg.Count != 4 {
		t.Fatalf("count = %d", agg.Count)
	}
	if agg.Min != 50 || agg.Max != 90 {
		t.Fatalf("min/max = %.1f/%.1f", agg.Min, agg.Max)
	}
	if agg.Sum != 290 {
		t.Fatalf("sum = %.1f", agg.Sum)
	}
	if agg.FirstScore != 70 || agg.LastScore != 80 {
		t.Fatalf("first/last = %.1f/%.1f", agg.FirstScore, agg.LastScore)
	}
	if !agg.FirstTS.Equal(start) || !agg.LastTS.Equal(start.Add(15*time.Minute)) {
		t.Fatalf("timestamps: %v .. %v", agg.FirstTS, agg.LastTS)
	}
}

func TestWelfordFactorStats(t *testing.T) {
	// temps 18, 20, 22: mean 20, population variance 8/3
	temps := []float64{18, 20, 22}
	var fs store.FactorStats
	for i, v := range temps {
		foldFactor(&fs, v, float64(i+1))
	}
	if math.Abs(fs.Mean-20) > 1e-9 {
		t.Fatalf("mean = %.6f", fs.Mean)
	}
	wantStd := math.Sqrt(8.0 / 3.0)
	if got := stdDev(fs, 3); math.Abs(got-wantStd) > 1e-9 {
		t.Fatalf("std = %.6f, want %.6f", got, wantStd)
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	reports := reportSeq(start, []float64{70, 90, 50, 80, 85, 95, 88, 76, 92, 84})

	s := store.Session{
		ID:        "s1",
		StartedAt: start,
		State:     store.StateEnded,
		Agg:       Replay(reports),
	}
	end := start.Add(8 * time.Hour)
	sum := Summarize(s, end)

	if sum.Count != 10 {
		t.Fatalf("count = %d", sum.Count)
	}
	if math.Abs(sum.AvgScore-81.0) > 1e-9 {
		t.Fatalf("avg = %.4f", sum.AvgScore)
	}
	if sum.MinScore != 50 || sum.MaxScore != 95 {
		t.Fatalf("min/max = %.1f/%.1f", sum.MinScore, sum.MaxScore)
	}
	if sum.Segment != "excellent" {
		t.Fatalf("segment = %s", sum.Segment)
	}
	if sum.Trend != "increasing" {
		t.Fatalf("trend = %s", sum.Trend)
	}
	if sum.DurationMinutes != 480 {
		t.Fatalf("duration = %.1f", sum.DurationMinutes)
	}
	if sum.Degraded {
		t.Fatal("clean session must not be degraded")
	}
	if sum.Stats.TempStd == 0 {
		t.Fatal("per-factor std should be populated")
	}
}

func TestSummarizeEmptyAndDegraded(t *testing.T) {
	start := time.Now().Add(-30 * time.Hour)
	s := store.Session{
		ID:          "zombie",
		StartedAt:   start,
		State:       store.StateZombieClosed,
		CloseReason: "session exceeded max age without end signal",
	}
	sum := Summarize(s, time.Now())
	if sum.Count != 0 || sum.AvgScore != 0 {
		t.Fatalf("empty aggregate produced count=%d avg=%.1f", sum.Count, sum.AvgScore)
	}
	if !sum.Degraded {
		t.Fatal("zombie close must mark the summary degraded")
	}
	if sum.CloseReason == "" {
		t.Fatal("close reason should carry through")
	}
	if sum.Trend != "stable" {
		t.Fatalf("trend = %s", sum.Trend)
	}
	if sum.Segment != "poor" {
		t.Fatalf("segment = %s", sum.Segment)
	}
}

func TestTrend(t *testing.T) {
	up := Replay(reportSeq(time.Now(), []float64{60, 70}))
	if got := trend(up); got != "increasing" {
		t.Fatalf("trend = %s", got)
	}
	down := Replay(reportSeq(time.Now(), []float64{70, 60}))
	if got := trend(down); got != "decreasing" {
		t.Fatalf("trend = %s", got)
	}
	flat := Replay(reportSeq(time.Now(), []float64{70, 80, 70}))
	if got := trend(flat); got != "stable" {
		t.Fatalf("trend = %s", got)
	}
}
