package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for discovery runs.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RetriesTotal      prometheus.Counter
	DispositionsTotal *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	QuotesTotal       *prometheus.CounterVec
	CooldownsTotal    prometheus.Counter
	ListingsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayrates_requests_total",
			Help: "Total upstream HTTP requests issued.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stayrates_request_duration_seconds",
			Help:    "Upstream HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stayrates_retries_total",
			Help: "Total number of request attempts retried by the executor.",
		},
	)
	dispositions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayrates_error_dispositions_total",
			Help: "Structured upstream errors by classifier disposition.",
		},
		[]string{"disposition"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayrates_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)
	quotes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayrates_quotes_total",
			Help: "Pricing lookups by outcome.",
		},
		[]string{"outcome"},
	)
	cooldowns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stayrates_outage_cooldowns_total",
			Help: "Number of outage cool-downs taken by the sampler.",
		},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayrates_listings_total",
			Help: "Listings processed by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, retries, dispositions, errorsTotal, quotes, cooldowns, listings)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		DispositionsTotal: dispositions,
		ErrorsTotal:       errorsTotal,
		QuotesTotal:       quotes,
		CooldownsTotal:    cooldowns,
		ListingsTotal:     listings,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncDisposition counts a classified upstream error.
func (m *Metrics) IncDisposition(d Disposition) {
	if m == nil {
		return
	}
	m.DispositionsTotal.WithLabelValues(d.String()).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncQuote counts a pricing lookup outcome.
func (m *Metrics) IncQuote(outcome string) {
	if m == nil {
		return
	}
	m.QuotesTotal.WithLabelValues(outcome).Inc()
}

// IncCooldown counts an outage cool-down.
func (m *Metrics) IncCooldown() {
	if m == nil {
		return
	}
	m.CooldownsTotal.Inc()
}

// IncListing counts a processed listing.
func (m *Metrics) IncListing(outcome string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(outcome).Inc()
}
