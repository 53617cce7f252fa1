package lifecycle

import (
	"fmt"
	"time"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/metric"
)

type Option func(*Manager) error

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return fmt.Errorf("WithClock requires a non-nil clock")
		}
		m.now = now
		return nil
	}
}

// WithPlaceholderTTL sets how long a reservation without a payload lives.
func WithPlaceholderTTL(ttl time.Duration) Option {
	return func(m *Manager) error {
		if ttl < time.Second {
			return fmt.Errorf("Invalid placeholder TTL: %s", ttl)
		}
		m.placeholderTTL = ttl
		return nil
	}
}

// WithStoredTTL sets how long an uploaded payload lives after its last upload.
func WithStoredTTL(ttl time.Duration) Option {
	return func(m *Manager) error {
		if ttl < time.Second {
			return fmt.Errorf("Invalid stored TTL: %s", ttl)
		}
		m.storedTTL = ttl
		return nil
	}
}

// WithSweepConcurrency bounds the number of deletes that SweepExpired runs
// in parallel.
func WithSweepConcurrency(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return fmt.Errorf("Invalid sweep concurrency: %d", n)
		}
		m.sweepConcurrency = n
		return nil
	}
}

func WithErrorLogger(logger cache.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			return fmt.Errorf("WithErrorLogger requires a non-nil logger")
		}
		m.errorLogger = logger
		return nil
	}
}

// WithCollector reports sweep results through c.
func WithCollector(c metric.Collector) Option {
	return func(m *Manager) error {
		if c == nil {
			return fmt.Errorf("WithCollector requires a non-nil collector")
		}
		m.sweepRemoved = c.NewCounter(metric.SweepRemovedTotal)
		m.sweepCorrupt = c.NewCounter(metric.SweepCorruptTotal)
		m.sweepEntries = c.NewGauge(metric.SweepEntries)
		m.sweepLastRun = c.NewGauge(metric.SweepLastRun)
		return nil
	}
}
