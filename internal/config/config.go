// v2
// internal/config/config.go
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration: connection settings bound from the
// environment once at startup, plus operator tunables overlaid from a
// properties file that can be reloaded at runtime via the admin hook.
type Config struct {
	HTTPBind         string   `env:"HTTP_BIND" envDefault:":8080"`
	AdminKey         string   `env:"ADMIN_KEY" envDefault:"admin-secret"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	CommandTopic     string   `env:"COMMAND_TOPIC" envDefault:"sleep.commands"`
	ReportTopic      string   `env:"REPORT_TOPIC" envDefault:"sleep.reports"`
	TopicReplication int      `env:"TOPIC_REPLICATION" envDefault:"1"`
	PostgresDSN      string   `env:"POSTGRES_DSN"`
	ModelSource      string   `env:"MODEL_SOURCE" envDefault:"./models/residual_model.json"`
	PropertiesPath   string   `env:"PROPERTIES_PATH" envDefault:"./configs/sleeptracker.properties"`

	mu  sync.RWMutex
	tun Tunables
}

// Tunables are the operator-adjustable thresholds of the engine. Defaults
// match the documented behavior; the properties file overrides.
type Tunables struct {
	PollInterval       time.Duration
	MaxBatch           int
	Workers            int
	StoreTimeout       time.Duration
	ActuationThreshold float64
	ActuationDebounce  time.Duration
	ZombieAfter        time.Duration
	DrainGraceTicks    int
	FinalizeRetryMax   int
}

func defaultTunables() Tunables {
	return Tunables{
		PollInterval:       5 * time.Minute,
		MaxBatch:           50,
		Workers:            4,
		StoreTimeout:       5 * time.Second,
		ActuationThreshold: 50,
		ActuationDebounce:  10 * time.Minute,
		ZombieAfter:        24 * time.Hour,
		DrainGraceTicks:    1,
		FinalizeRetryMax:   3,
	}
}

// NewStatic builds a config with fixed tunables and no file backing. Used by
// tests and embedded setups.
func NewStatic(t Tunables) *Config {
	return &Config{AdminKey: "admin-secret", tun: t}
}

// DefaultTunables exposes the documented defaults.
func DefaultTunables() Tunables { return defaultTunables() }

// Load binds the environment and overlays the properties file. A missing
// properties file is not an error: the documented defaults apply.
func Load() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	c.tun = defaultTunables()
	if err := c.ReloadProperties(); err != nil {
		return nil, err
	}
	return c, nil
}

// Tun returns a copy of the current tunables. Cheap; called once per tick.
func (c *Config) Tun() Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tun
}

// ReloadProperties re-reads the properties file and swaps the tunables.
// Invalid lines fail the whole reload, leaving the previous values active.
func (c *Config) ReloadProperties() error {
	f, err := os.Open(c.PropertiesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", c.PropertiesPath, err)
	}
	defer func() { _ = f.Close() }()

	next := defaultTunables()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if err := applyProperty(&next, k, v); err != nil {
			return fmt.Errorf("%s: %w", c.PropertiesPath, err)
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if err := validate(next); err != nil {
		return err
	}
	c.mu.Lock()
	c.tun = next
	c.mu.Unlock()
	return nil
}

func applyProperty(t *Tunables, k, v string) error {
	switch k {
	case "poll.interval.seconds":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.PollInterval = time.Duration(n) * time.Second
	case "batch.max":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.MaxBatch = n
	case "workers":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.Workers = n
	case "store.timeout.ms":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.StoreTimeout = time.Duration(n) * time.Millisecond
	case "actuation.threshold":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.ActuationThreshold = f
	case "actuation.debounce.minutes":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.ActuationDebounce = time.Duration(n) * time.Minute
	case "zombie.max.hours":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.ZombieAfter = time.Duration(n) * time.Hour
	case "drain.grace.ticks":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.DrainGraceTicks = n
	case "finalize.retry.max":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		t.FinalizeRetryMax = n
	}
	return nil
}

func validate(t Tunables) error {
	if t.PollInterval <= 0 {
		return fmt.Errorf("poll.interval.seconds must be positive")
	}
	if t.MaxBatch <= 0 {
		return fmt.Errorf("batch.max must be positive")
	}
	if t.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if t.FinalizeRetryMax <= 0 {
		return fmt.Errorf("finalize.retry.max must be positive")
	}
	return nil
}
