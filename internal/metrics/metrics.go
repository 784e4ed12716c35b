// Package metrics exposes Prometheus metrics for the token service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. The zero value is not usable; use New.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CountRequestsTotal  *prometheus.CounterVec
	InputTokensTotal    *prometheus.CounterVec
	InputTokens         *prometheus.HistogramVec
	UsageRecordFailures prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route", "method"},
		),
		CountRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_count_requests_total",
				Help: "Token count operations by model family and outcome",
			},
			[]string{"model", "outcome"},
		),
		InputTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_input_tokens_total",
				Help: "Sum of counted input tokens by model family",
			},
			[]string{"model", "estimated"},
		),
		InputTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_input_tokens",
				Help:    "Distribution of input tokens per counted request",
				Buckets: prometheus.ExponentialBuckets(16, 4, 8),
			},
			[]string{"model"},
		),
		UsageRecordFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "token_usage_record_failures_total",
				Help: "Usage ledger writes that failed",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CountRequestsTotal,
		m.InputTokensTotal,
		m.InputTokens,
		m.UsageRecordFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Outcome labels for CountRequestsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeUnknown  = "unsupported_model"
	OutcomeOverflow = "context_length"
	OutcomeError    = "error"
)

// ObserveCount records one count operation. A nil receiver is a no-op so
// callers can run without metrics.
func (m *Metrics) ObserveCount(model, outcome string, inputTokens int, estimated bool) {
	if m == nil {
		return
	}
	m.CountRequestsTotal.WithLabelValues(model, outcome).Inc()
	if outcome != OutcomeOK && outcome != OutcomeOverflow {
		return
	}
	m.InputTokensTotal.WithLabelValues(model, strconv.FormatBool(estimated)).Add(float64(inputTokens))
	m.InputTokens.WithLabelValues(model).Observe(float64(inputTokens))
}

// ObserveRecordFailure counts a failed usage ledger write.
func (m *Metrics) ObserveRecordFailure() {
	if m == nil {
		return
	}
	m.UsageRecordFailures.Inc()
}

// HTTPMiddleware records Prometheus metrics for each request, labelled by the
// chi route pattern so paths with parameters do not explode cardinality.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
