package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CoreMetrics carries the order core's prometheus instruments.
type CoreMetrics struct {
	OrdersCreated        prometheus.Counter
	OrdersCancelled      *prometheus.CounterVec
	OrderRejections      *prometheus.CounterVec
	ReservationsReleased *prometheus.CounterVec
	CreateLatencyMS      prometheus.Histogram
}

func NewCoreMetrics() *CoreMetrics {
	return NewCoreMetricsOn(prometheus.DefaultRegisterer)
}

// NewCoreMetricsOn registers the instruments on reg; tests pass their own
// registry so repeated construction cannot collide.
func NewCoreMetricsOn(reg prometheus.Registerer) *CoreMetrics {
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Total number of orders created.",
	})
	cancelled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "orders",
		Name:      "cancelled_total",
		Help:      "Total number of orders cancelled, by trigger.",
	}, []string{"trigger"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "orders",
		Name:      "rejections_total",
		Help:      "Total number of rejected purchase requests, by reason.",
	}, []string{"reason"})
	released := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "reservations",
		Name:      "released_total",
		Help:      "Total number of reservations released, by trigger.",
	}, []string{"trigger"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "market",
		Subsystem: "orders",
		Name:      "create_duration_ms",
		Help:      "Order creation latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	reg.MustRegister(created, cancelled, rejections, released, latency)
	return &CoreMetrics{
		OrdersCreated:        created,
		OrdersCancelled:      cancelled,
		OrderRejections:      rejections,
		ReservationsReleased: released,
		CreateLatencyMS:      latency,
	}
}

// The increment helpers tolerate a nil receiver so tests can run services
// without registering instruments on the default registry.

func (m *CoreMetrics) IncCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

func (m *CoreMetrics) IncCancelled(trigger string) {
	if m == nil {
		return
	}
	m.OrdersCancelled.WithLabelValues(trigger).Inc()
}

func (m *CoreMetrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.OrderRejections.WithLabelValues(reason).Inc()
}

func (m *CoreMetrics) IncReleased(trigger string) {
	if m == nil {
		return
	}
	m.ReservationsReleased.WithLabelValues(trigger).Inc()
}

func (m *CoreMetrics) ObserveCreateMS(ms float64) {
	if m == nil {
		return
	}
	m.CreateLatencyMS.Observe(ms)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
