// v1
// cmd/bedroomsim/main.go
//
// Dev tool: simulates one night in a bedroom. It creates a session anchor,
// drips synthetic sensor readings into the store at an accelerated interval,
// then flips the end anchor, so a locally running sleeptrackerd has something
// real to chew on.
package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/logging"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store"
	"github.com/wirepecion/embed-project-sleep-tracker-ML/internal/store/postgres"
)

type simConfig struct {
	PostgresDSN string        `env:"POSTGRES_DSN,required"`
	SessionID   string        `env:"SESSION_ID"`
	DeviceID    string        `env:"DEVICE_ID" envDefault:"bedside-dev"`
	Interval    time.Duration `env:"SIM_INTERVAL" envDefault:"10s"`
	Intervals   int           `env:"SIM_INTERVALS" envDefault:"96"`

	// Night profile the drift model wanders around.
	BaseTempC    float64 `env:"SIM_TEMP_C" envDefault:"20"`
	BaseHumidity float64 `env:"SIM_HUMIDITY_PCT" envDefault:"45"`
	BaseLightLux float64 `env:"SIM_LIGHT_LUX" envDefault:"4"`
	BaseNoiseDb  float64 `env:"SIM_NOISE_DB" envDefault:"27"`
	Disturbance  float64 `env:"SIM_DISTURBANCE" envDefault:"0.15"`
}

// sample drifts each factor around its base value. Disturbance is the chance
// per interval of a spike (door light, street noise, heating kick).
func sample(cfg simConfig, rng *rand.Rand, i int) store.EnvSample {
	phase := float64(i) / float64(cfg.Intervals) * 2 * math.Pi
	s := store.EnvSample{
		TempC:       cfg.BaseTempC + 1.2*math.Sin(phase) + rng.NormFloat64()*0.3,
		HumidityPct: cfg.BaseHumidity + 4*math.Sin(phase/2) + rng.NormFloat64()*1.5,
		LightLux:    cfg.BaseLightLux + math.Abs(rng.NormFloat64()),
		NoiseDb:     cfg.BaseNoiseDb + math.Abs(rng.NormFloat64()*2),
	}
	if rng.Float64() < cfg.Disturbance {
		s.LightLux += rng.Float64() * 120
		s.NoiseDb += 20 + rng.Float64()*40
	}
	return s
}

func main() {
	lg, lf := logging.InitLogger()
	defer func() { _ = lf.Close() }()

	var cfg simConfig
	if err := env.Parse(&cfg); err != nil {
		lg.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("interrupted; ending session early")
		cancel()
	}()

	st, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		lg.Error("postgres", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	now := time.Now().UTC()
	sess := store.Session{
		ID:        cfg.SessionID,
		DeviceID:  cfg.DeviceID,
		StartedAt: now,
		State:     store.StatePendingStart,
	}
	if err := st.PutSession(ctx, sess); err != nil {
		lg.Error("create session", "error", err)
		os.Exit(1)
	}
	lg.Info("session anchor created", "session", sess.ID, "device", sess.DeviceID, "intervals", cfg.Intervals, "interval", cfg.Interval)

	rng := rand.New(rand.NewSource(now.UnixNano()))
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	written := 0
loop:
	for written < cfg.Intervals {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		rd := store.SensorReading{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Timestamp: time.Now().UTC(),
			Env:       sample(cfg, rng, written),
		}
		if err := st.PutReading(ctx, rd); err != nil {
			lg.Error("put reading", "error", err)
			continue
		}
		written++
		lg.Info("reading written", "n", written, "tempC", rd.Env.TempC, "noiseDb", rd.Env.NoiseDb)
	}

	// flip the end anchor the way the bedside client does on wake-up
	endCtx, endCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer endCancel()
	cur, ok, err := st.Session(endCtx, sess.ID)
	if err != nil || !ok {
		lg.Error("session readback", "found", ok, "error", err)
		os.Exit(1)
	}
	cur.EndRequested = true
	if err := st.PutSession(endCtx, cur); err != nil {
		lg.Error("end anchor", "error", err)
		os.Exit(1)
	}
	lg.Info("end anchor set; engine will finalize on its next ticks", "session", sess.ID, "readings", written)
}
