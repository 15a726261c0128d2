package observ

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service exports. Collectors are
// registered on the registerer passed to NewMetrics, so tests can use a
// fresh prometheus.NewRegistry() per case.
//
// All record methods are safe on a nil *Metrics.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	AuthAttemptsTotal     *prometheus.CounterVec
	OrderOperationsTotal  *prometheus.CounterVec
	OrderOperationSeconds *prometheus.HistogramVec
	TenantUnresolvedTotal prometheus.Counter
	EventsPublishedTotal  *prometheus.CounterVec
}

// NewMetrics registers every collector on reg under namespace. It panics
// on a duplicate registration, like promauto.
//
// Why take a Registerer instead of using the default one?
// Tests build a fresh registry per case and scrape it, which the global
// registry would turn into duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		AuthAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Login, register and token validation attempts by result",
		}, []string{"op", "result"}),
		OrderOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_operations_total",
			Help:      "Order aggregate operations by result",
		}, []string{"op", "result"}),
		OrderOperationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_operation_duration_seconds",
			Help:      "Duration of order aggregate operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		TenantUnresolvedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_unresolved_total",
			Help:      "Requests where no tenant could be resolved before authentication",
		}),
		EventsPublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_events_published_total",
			Help:      "Order lifecycle events handed to the broker by result",
		}, []string{"event_type", "result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveHTTP records one finished request. route is the gin route
// pattern, never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

// AuthAttempt counts a login or register by outcome.
func (m *Metrics) AuthAttempt(op string, err error) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(op, result(err)).Inc()
}

// TrackOrderOp returns a func to defer at the top of an order operation.
func (m *Metrics) TrackOrderOp(op string) func(err error) {
	start := time.Now()
	return func(err error) {
		if m == nil {
			return
		}
		m.OrderOperationsTotal.WithLabelValues(op, result(err)).Inc()
		m.OrderOperationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// TenantUnresolved counts requests whose tenant reference resolved to
// nothing.
func (m *Metrics) TenantUnresolved() {
	if m == nil {
		return
	}
	m.TenantUnresolvedTotal.Inc()
}

// EventPublished counts an event hand-off by type and outcome.
func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(eventType, result(err)).Inc()
}
