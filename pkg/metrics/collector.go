// Package metrics exposes cache and model call counters.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector records cache and model call metrics on its own registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	retries         *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector whose metric names carry namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Model calls answered from the response cache.",
		},
		[]string{"model_id"},
	)
	c.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Model calls that missed the response cache.",
		},
		[]string{"model_id"},
	)
	c.retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_retries_total",
			Help:      "Model calls retried after a rate limit error.",
		},
		[]string{"model_id"},
	)
	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Calls made to model providers.",
		},
		[]string{"model_id", "status"},
	)
	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Latency of calls to model providers.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model_id"},
	)

	c.registry.MustRegister(c.cacheHits, c.cacheMisses, c.retries, c.requestsTotal, c.requestDuration)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) CacheHit(modelID string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(label(modelID)).Inc()
}

func (c *Collector) CacheMiss(modelID string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(label(modelID)).Inc()
}

func (c *Collector) Retry(modelID string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(label(modelID)).Inc()
}

// ObserveRequest records one provider call and its outcome.
func (c *Collector) ObserveRequest(modelID string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.requestsTotal.WithLabelValues(label(modelID), status).Inc()
	c.requestDuration.WithLabelValues(label(modelID)).Observe(d.Seconds())
}

// WriteText writes every metric in the Prometheus text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}

func label(modelID string) string {
	if modelID == "" {
		return "unknown"
	}
	return modelID
}
