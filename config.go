package pool

import (
	"fmt"
	"time"
)

func errConfigf(format string, args ...any) error {
	return fmt.Errorf("pool: invalid config: "+format, args...)
}

// defaultReaperRate is used when Builder.ReaperRate is never called.
const defaultReaperRate = 30 * time.Second

// defaultConnectionTimeout bounds a single Get() call when
// Builder.ConnectionTimeout is never called.
const defaultConnectionTimeout = 30 * time.Second

// Config is the pool's immutable configuration surface. It is built up
// through Builder's fluent setters and frozen once Build succeeds; reads
// require no synchronization thereafter.
type Config struct {
	MinIdle int
	MaxSize int

	// IdleTimeout and MaxLifetime are zero when disabled.
	IdleTimeout time.Duration
	MaxLifetime time.Duration

	ReaperRate time.Duration

	AlwaysCheck bool

	ConnectionTimeout time.Duration
	WaitTimeout       time.Duration

	// RetryLimit bounds discard-and-retry iterations per Get(). Zero means
	// "use MaxSize", resolving the spec's open question about this bound.
	RetryLimit int

	// GCOrphanThreshold is how long a pending create slot may go unobserved
	// before the GC task reclaims it. Zero means "use 2*ConnectionTimeout".
	GCOrphanThreshold time.Duration
}

func (c Config) retryLimit() int {
	if c.RetryLimit > 0 {
		return c.RetryLimit
	}
	return c.MaxSize
}

func (c Config) gcOrphanThreshold() time.Duration {
	if c.GCOrphanThreshold > 0 {
		return c.GCOrphanThreshold
	}
	return 2 * c.ConnectionTimeout
}

func (c Config) validate() error {
	if c.MaxSize == 0 {
		return errConfigf("max_size must be > 0")
	}
	if c.MinIdle > c.MaxSize {
		return errConfigf("min_idle (%d) must be <= max_size (%d)", c.MinIdle, c.MaxSize)
	}
	if c.MinIdle < 0 {
		return errConfigf("min_idle must be >= 0")
	}
	durations := map[string]time.Duration{
		"idle_timeout":        c.IdleTimeout,
		"max_lifetime":        c.MaxLifetime,
		"reaper_rate":         c.ReaperRate,
		"connection_timeout":  c.ConnectionTimeout,
		"wait_timeout":        c.WaitTimeout,
		"gc_orphan_threshold": c.GCOrphanThreshold,
	}
	for name, d := range durations {
		if d < 0 {
			return errConfigf("%s must not be negative", name)
		}
	}
	if c.ReaperRate == 0 {
		return errConfigf("reaper_rate must be > 0")
	}
	if c.ConnectionTimeout == 0 {
		return errConfigf("connection_timeout must be > 0")
	}
	return nil
}
