// v1
// internal/circuitbreaker/breaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// ErrOpen is returned on fast-fail while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config tunes one breaker. Disabled breakers pass every call through.
type Config struct {
	Enabled      bool
	MaxFailures  int
	ResetTimeout time.Duration
}

// FromEnv reads CB_ENABLED, CB_MAX_FAILURES and CB_RESET_TIMEOUT_MS with
// sane defaults.
func FromEnv() Config {
	cfg := Config{Enabled: true, MaxFailures: 5, ResetTimeout: 10 * time.Second}
	if v := os.Getenv("CB_ENABLED"); v != "" {
		cfg.Enabled = v != "false" && v != "0"
	}
	if v := os.Getenv("CB_MAX_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxFailures = n
		}
	}
	if v := os.Getenv("CB_RESET_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ResetTimeout = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

// Breaker is a minimal Closed/Open/HalfOpen breaker. After MaxFailures
// consecutive failures it opens and fast-fails; after ResetTimeout a single
// trial call is let through and decides between Closed and Open again.
type Breaker struct {
	name string
	cfg  Config
	lg   *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

func New(name string, cfg Config, lg *slog.Logger) *Breaker {
	b := &Breaker{name: name, cfg: cfg, lg: lg, state: Closed}
	lg.Info("breaker created", "name", name, "enabled", cfg.Enabled, "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return b
}

func (b *Breaker) Enabled() bool { return b.cfg.Enabled }

// Execute runs op under breaker protection.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.cfg.Enabled {
		return op(ctx)
	}

	b.mu.Lock()
	if b.state == Open {
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.lg.Info("breaker half-open", "name", b.name)
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recentFails++
		if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
			if b.state != Open {
				b.lg.Warn("breaker opened", "name", b.name, "fails", b.recentFails, "error", err)
			}
			b.state = Open
			b.openedAt = time.Now()
		}
		return err
	}
	if b.state != Closed {
		b.lg.Info("breaker closed", "name", b.name)
	}
	b.state = Closed
	b.recentFails = 0
	return nil
}
