package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/trackload/internal/performance/operation"
)

// Collector exports live run statistics in Prometheus format.
//
// Operation counters and latencies are pushed through Observe; gauges for
// active users and initialization failures are read from the Engine when
// scraped.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewCollector creates a Collector with its own registry. The engine may be
// nil and registered later with RegisterEngine.
func NewCollector(engine *Engine) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackload_operations_total",
			Help: "Operations executed against the tracker, by operation and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackload_operation_latency_seconds",
			Help:    "Latency of tracker operations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"operation"}),
	}
	c.registry.MustRegister(c.operations, c.latency)

	if engine != nil {
		c.RegisterEngine(engine)
	}
	return c
}

// RegisterEngine exports gauges read from engine at scrape time. It lets a
// collector be created before the engine it observes.
func (c *Collector) RegisterEngine(engine *Engine) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trackload_active_users",
			Help: "Virtual users currently running.",
		}, func() float64 { return float64(engine.ActiveUsers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trackload_init_failures",
			Help: "Virtual users that failed initialization.",
		}, func() float64 { return float64(engine.initFailures.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trackload_cycles",
			Help: "Completed user cycles, including idle ones.",
		}, func() float64 { return float64(engine.cycles.Load()) }),
	)
}

// Observe implements Observer.
func (c *Collector) Observe(_ int, o operation.Outcome) {
	result := "success"
	if !o.Success {
		result = "failure"
	}
	c.operations.WithLabelValues(o.Operation, result).Inc()
	c.latency.WithLabelValues(o.Operation).Observe(o.Latency.Seconds())
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
