// Package metrics bundles the Prometheus collectors for the harvester.
// The counters are diagnostic only; nothing in the crawl control flow
// reads them back.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the harvester collectors on a dedicated registry.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RetriesTotal      prometheus.Counter
	SoftFailuresTotal *prometheus.CounterVec
	ItemsStoredTotal  *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Successful upstream API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "Upstream API request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Retry attempts scheduled across all layers.",
		},
	)
	softFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_soft_failures_total",
			Help: "Requests that exhausted retries or returned unusable payloads.",
		},
		[]string{"endpoint"},
	)
	itemsStored := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_stored_total",
			Help: "Rows accepted by the persistence layer by kind.",
		},
		[]string{"kind"},
	)

	registry.MustRegister(requests, requestDuration, retries, softFailures, itemsStored)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		SoftFailuresTotal: softFailures,
		ItemsStoredTotal:  itemsStored,
	}
}

// IncRequest increments the successful-request counter for an endpoint.
func (m *Metrics) IncRequest(endpoint string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDuration records an upstream request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetry increments the retry counter.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncSoftFailure increments the soft-failure counter for an endpoint.
func (m *Metrics) IncSoftFailure(endpoint string) {
	if m == nil {
		return
	}
	m.SoftFailuresTotal.WithLabelValues(endpoint).Inc()
}

// IncStored increments the stored-items counter for a data kind.
func (m *Metrics) IncStored(kind string) {
	if m == nil {
		return
	}
	m.ItemsStoredTotal.WithLabelValues(kind).Inc()
}

// AddStored adds a batch count to the stored-items counter for a data kind.
func (m *Metrics) AddStored(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsStoredTotal.WithLabelValues(kind).Add(float64(n))
}
