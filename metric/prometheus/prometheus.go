package prometheus

import (
	"net/http"

	"github.com/kbase/caching-service/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"
)

// durationBuckets is the buckets used for Prometheus histograms in seconds.
var durationBuckets = []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320}

// map metric names to their help message
var help = map[string]string{
	metric.SweepRemovedTotal: "The total number of cache entries removed by the expiration sweep",
	metric.SweepCorruptTotal: "The total number of cache entries removed by the expiration sweep because their metadata was unreadable",
	metric.SweepEntries:      "The number of cache entries left after the last expiration sweep",
	metric.SweepLastRun:      "The unix time at which the last expiration sweep finished",
}

// NewCollector returns a prometheus backed collector that registers its
// metrics with reg.
func NewCollector(reg prometheus.Registerer) metric.Collector {
	return &collector{factory: promauto.With(reg)}
}

// WrapEndpoints attaches the prometheus metrics endpoint to a mux, and
// serves everything else from api, instrumented per HTTP method.
func WrapEndpoints(mux *http.ServeMux, reg prometheus.Registerer, gatherer prometheus.Gatherer, api http.Handler) {
	metricsMdlw := middleware.New(middleware.Config{
		Recorder: httpmetrics.NewRecorder(httpmetrics.Config{
			Registry:        reg,
			DurationBuckets: durationBuckets,
		}),
	})
	metricsHandler := promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/metrics", middlewarestd.Handler("metrics", metricsMdlw, metricsHandler))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		middlewarestd.Handler(r.Method, metricsMdlw, api).ServeHTTP(w, r)
	})
}

type collector struct {
	factory promauto.Factory
}

func (c *collector) NewCounter(name string) metric.Counter {
	return c.factory.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: help[name],
	})
}

func (c *collector) NewGauge(name string) metric.Gauge {
	return c.factory.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help[name],
	})
}
