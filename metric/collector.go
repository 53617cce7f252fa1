package metric

// Counter is a standard metric counter
type Counter interface {
	Inc()
	Add(value float64)
}

// Gauge is a standard metric gauge
type Gauge interface {
	Set(value float64)
}

type noop struct{}

func (c *noop) Inc()              {}
func (c *noop) Set(v float64)     {}
func (c *noop) Add(value float64) {}

// NoOpCounter is a Counter that does nothing
func NoOpCounter() Counter {
	return &noop{}
}

// NoOpGauge is a Gauge that does nothing
func NoOpGauge() Gauge {
	return &noop{}
}

// Collector is an interface for creating metrics
type Collector interface {
	NewCounter(name string) Counter
	NewGauge(name string) Gauge
}

type noopCollector struct{}

func (noopCollector) NewCounter(string) Counter { return NoOpCounter() }
func (noopCollector) NewGauge(string) Gauge     { return NoOpGauge() }

// NoOpCollector returns a Collector whose metrics do nothing.
func NoOpCollector() Collector {
	return noopCollector{}
}

// Names of the metrics reported by the lifecycle manager.
const (
	SweepRemovedTotal = "caching_service_sweep_removed_total"
	SweepCorruptTotal = "caching_service_sweep_corrupt_total"
	SweepEntries      = "caching_service_sweep_entries"
	SweepLastRun      = "caching_service_sweep_last_run_timestamp_seconds"
)
