// Package metrics exports circulation engine metrics through Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"library-circulation/library"
)

const namespace = "library"

// Collector implements library.MetricsCollector on its own registry so several
// engines in one process do not collide.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

var _ library.MetricsCollector = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Counter of engine operations by outcome.",
			}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Bucketed histogram of engine operation latency.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
			}, []string{"operation"}),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "conflict_retries_total",
				Help:      "Counter of operations re-run after a store conflict.",
			}, []string{"operation"}),
	}
	c.registry.MustRegister(c.operations, c.duration, c.retries)
	return c
}

func (c *Collector) ObserveOperation(operation, outcome string, d time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) IncConflictRetry(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WriteTextfile writes the current values in the node exporter textfile
// format. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
