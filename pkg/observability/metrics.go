package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Dispatch metrics
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_dispatches_total",
			Help: "Total number of dispatched envelopes",
		},
		[]string{"type", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_dispatch_duration_seconds",
			Help:    "Dispatch duration in seconds, fan-out included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	handlerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_handler_failures_total",
			Help: "Total number of failed handler invocations",
		},
		[]string{"agent", "type"},
	)

	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_handler_duration_seconds",
			Help:    "Single handler invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	// gRPC metrics
	grpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	// Service metrics
	inflightDispatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_inflight_dispatches",
			Help: "Number of dispatches currently in flight",
		},
	)

	registryBindings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_registry_bindings",
			Help: "Number of live handler bindings in the registry",
		},
	)

	dedupeHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_dedupe_hits_total",
			Help: "Total number of envelopes answered from the idempotency store",
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_rate_limited_total",
			Help: "Total number of submissions rejected by rate limiting",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the courier metric set with the default registerer.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			dispatchesTotal,
			dispatchDuration,
			handlerFailuresTotal,
			handlerDuration,
			grpcRequestsTotal,
			inflightDispatches,
			registryBindings,
			dedupeHitsTotal,
			rateLimitedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records the outcome and duration of one dispatch.
func RecordDispatch(msgType, status string, duration time.Duration) {
	dispatchesTotal.WithLabelValues(msgType, status).Inc()
	dispatchDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordHandlerInvocation records one handler invocation.
func RecordHandlerInvocation(agent, msgType string, duration time.Duration, failed bool) {
	handlerDuration.WithLabelValues(agent).Observe(duration.Seconds())
	if failed {
		handlerFailuresTotal.WithLabelValues(agent, msgType).Inc()
	}
}

// RecordGRPCRequest records gRPC request metrics.
func RecordGRPCRequest(method, status string) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
}

// AddInflight moves the in-flight dispatch gauge by delta.
func AddInflight(delta int) {
	inflightDispatches.Add(float64(delta))
}

// SetRegistryBindings sets the live binding count gauge.
func SetRegistryBindings(count int) {
	registryBindings.Set(float64(count))
}

// RecordDedupeHit counts an envelope answered from the idempotency store.
func RecordDedupeHit() {
	dedupeHitsTotal.Inc()
}

// RecordRateLimited counts a submission rejected by rate limiting.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}
