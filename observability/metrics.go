// Package observability carries the gateway's metrics and logging plumbing.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metrics registers and records the gateway's Prometheus metrics. A nil
// *Metrics is a valid no-op recorder, so wiring stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry
	tracer   trace.Tracer

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	requestsCreated *prometheus.CounterVec
	requestsSettled *prometheus.CounterVec
	requestsExpired *prometheus.CounterVec
}

// NewMetrics builds a registry scoped to this service.
func NewMetrics(namespace, serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the gateway.",
	}, []string{"route", "method", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	requestsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_requests_created_total",
		Help:      "Payment requests issued, by kind.",
	}, []string{"kind"})
	requestsSettled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_requests_settled_total",
		Help:      "Payment requests settled on reported evidence, by kind and terminal status.",
	}, []string{"kind", "status"})
	requestsExpired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_requests_expired_total",
		Help:      "Payment requests expired by the sweep, by kind.",
	}, []string{"kind"})
	registry.MustRegister(httpRequests, httpDuration, requestsCreated, requestsSettled, requestsExpired)
	return &Metrics{
		registry:        registry,
		tracer:          otel.Tracer(serviceName),
		httpRequests:    httpRequests,
		httpDuration:    httpDuration,
		requestsCreated: requestsCreated,
		requestsSettled: requestsSettled,
		requestsExpired: requestsExpired,
	}
}

// RequestCreated records an issued payment request.
func (m *Metrics) RequestCreated(kind string) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(kind).Inc()
}

// RequestSettled records a settlement transition.
func (m *Metrics) RequestSettled(kind, status string) {
	if m == nil {
		return
	}
	m.requestsSettled.WithLabelValues(kind, status).Inc()
}

// RequestExpired records an expiry transition.
func (m *Metrics) RequestExpired(kind string) {
	if m == nil {
		return
	}
	m.requestsExpired.WithLabelValues(kind).Inc()
}

// Handler exposes the registry for a /metrics route.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments a route with request counts, latency and a span.
// Without a configured tracer provider the span is a no-op.
func (m *Metrics) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := m.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
