// v1
// internal/model/registry_test.go
package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeSource struct {
	mu   sync.Mutex
	blob []byte
	err  error
}

func (s *fakeSource) Fetch(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob, s.err
}
func (s *fakeSource) Describe() string { return "fake" }

func (s *fakeSource) set(blob string, err error) {
	s.mu.Lock()
	s.blob, s.err = []byte(blob), err
	s.mu.Unlock()
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const goodArtifact = `{"version":"r1","features":["tempC","noiseDb"],"coefficients":[-0.4,-0.1],"intercept":12}`

func TestRegistryServesSentinelBeforeFirstLoad(t *testing.T) {
	reg := NewRegistry(&fakeSource{}, discard())
	a := reg.Current()
	if a.Loaded() {
		t.Fatal("expected unloaded sentinel before first reload")
	}
	if got := a.Predict(map[string]float64{FeatureTemp: 20}); got != 0 {
		t.Fatalf("sentinel Predict = %.2f, want 0", got)
	}
}

func TestRegistryReloadSwapsArtifact(t *testing.T) {
	src := &fakeSource{}
	src.set(goodArtifact, nil)
	reg := NewRegistry(src, discard())

	a, err := reg.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if a.Version != "r1" {
		t.Fatalf("version = %q", a.Version)
	}
	if reg.Current() != a {
		t.Fatal("Current should return the swapped artifact")
	}
}

func TestRegistryKeepsPreviousOnFailedReload(t *testing.T) {
	src := &fakeSource{}
	src.set(goodArtifact, nil)
	reg := NewRegistry(src, discard())
	if _, err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("first reload: %v", err)
	}

	src.set("", errors.New("bucket unreachable"))
	if _, err := reg.Reload(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := reg.Current().Version; got != "r1" {
		t.Fatalf("active version after failed reload = %q, want r1", got)
	}

	src.set(`{"version":"r2","features":["x"]}`, nil)
	if _, err := reg.Reload(context.Background()); err == nil {
		t.Fatal("expected validation error for missing coefficients")
	}
	if got := reg.Current().Version; got != "r1" {
		t.Fatalf("active version after invalid artifact = %q, want r1", got)
	}
}

func TestRegistryCurrentDuringConcurrentReloads(t *testing.T) {
	src := &fakeSource{}
	src.set(goodArtifact, nil)
	reg := NewRegistry(src, discard())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = reg.Reload(context.Background())
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				a := reg.Current()
				if a == nil {
					t.Error("Current returned nil")
					return
				}
				_ = a.Predict(map[string]float64{FeatureTemp: 21, FeatureNoise: 33})
			}
		}()
	}
	wg.Wait()
}

func TestParseArtifactValidation(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"not json", `{{`},
		{"missing version", `{"features":["tempC"],"coefficients":[1]}`},
		{"no features", `{"version":"v","features":[],"coefficients":[]}`},
		{"length mismatch", `{"version":"v","features":["a","b"],"coefficients":[1]}`},
	}
	for _, c := range cases {
		if _, err := ParseArtifact([]byte(c.blob)); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
}

func TestPredictClampsToMaxCorrection(t *testing.T) {
	a := &Artifact{Version: "v", Features: []string{FeatureTemp}, Coefficients: []float64{10}, MaxCorrection: 15}
	if got := a.Predict(map[string]float64{FeatureTemp: 100}); got != 15 {
		t.Fatalf("positive clamp: %.2f, want 15", got)
	}
	if got := a.Predict(map[string]float64{FeatureTemp: -100}); got != -15 {
		t.Fatalf("negative clamp: %.2f, want -15", got)
	}

	// zero MaxCorrection falls back to the default bound
	a = &Artifact{Version: "v", Features: []string{FeatureTemp}, Coefficients: []float64{10}}
	if got := a.Predict(map[string]float64{FeatureTemp: 100}); got != DefaultMaxCorrection {
		t.Fatalf("default clamp: %.2f, want %.2f", got, DefaultMaxCorrection)
	}
}
