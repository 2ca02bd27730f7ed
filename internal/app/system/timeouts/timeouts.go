// Package timeouts holds the context deadlines used for database work in
// handlers, middleware and workers.
//
//   - Ping: health checks
//   - Short: single lookups on the request path (tenant, user, device, mirror)
//   - Medium: login and refresh, which read and write several documents
//   - Batch: membership sync passes and CLI provisioning
package timeouts

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultPing   = 2 * time.Second
	DefaultShort  = 5 * time.Second
	DefaultMedium = 10 * time.Second
	DefaultBatch  = 2 * time.Minute
)

// Config holds timeout values. Zero fields leave the current value alone.
type Config struct {
	Ping   time.Duration
	Short  time.Duration
	Medium time.Duration
	Batch  time.Duration
}

func defaults() Config {
	return Config{Ping: DefaultPing, Short: DefaultShort, Medium: DefaultMedium, Batch: DefaultBatch}
}

var (
	mu      sync.RWMutex
	current = defaults()
)

// Ping returns the health check timeout.
func Ping() time.Duration { return get(func(c Config) time.Duration { return c.Ping }) }

// Short returns the timeout for single lookups.
func Short() time.Duration { return get(func(c Config) time.Duration { return c.Short }) }

// Medium returns the timeout for multi-document request work.
func Medium() time.Duration { return get(func(c Config) time.Duration { return c.Medium }) }

// Batch returns the timeout for sync passes and bulk provisioning.
func Batch() time.Duration { return get(func(c Config) time.Duration { return c.Batch }) }

func get(field func(Config) time.Duration) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return field(current)
}

// Configure overrides the non-zero fields of cfg. Call it during startup.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	apply(&current.Ping, cfg.Ping)
	apply(&current.Short, cfg.Short)
	apply(&current.Medium, cfg.Medium)
	apply(&current.Batch, cfg.Batch)
}

func apply(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// Reset restores the defaults. Tests use it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = defaults()
}

// ConfigureFromEnv reads CLIMATRAK_TIMEOUT_PING, _SHORT, _MEDIUM and _BATCH
// (Go durations such as "500ms" or "2m"). Unset or invalid values are
// ignored. It returns how many values were applied.
func ConfigureFromEnv() int {
	var cfg Config
	n := 0
	for name, dst := range map[string]*time.Duration{
		"CLIMATRAK_TIMEOUT_PING":   &cfg.Ping,
		"CLIMATRAK_TIMEOUT_SHORT":  &cfg.Short,
		"CLIMATRAK_TIMEOUT_MEDIUM": &cfg.Medium,
		"CLIMATRAK_TIMEOUT_BATCH":  &cfg.Batch,
	} {
		if d, err := time.ParseDuration(os.Getenv(name)); err == nil && d > 0 {
			*dst = d
			n++
		}
	}
	Configure(cfg)
	return n
}

// Current returns the active values.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// WithTimeout is context.WithTimeout whose cancel func logs a warning when
// the deadline was hit.
//
//	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "login")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
