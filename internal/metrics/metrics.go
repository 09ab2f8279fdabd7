package metrics

import (
	"time"

	"postroom/internal/domain/notification"
	"postroom/internal/infra/pool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome label values.
const (
	OutcomeSent      = "sent"
	OutcomeRetryable = "retryable"
	OutcomePermanent = "permanent"
)

var _ notification.DeliveryObserver = (*Metrics)(nil)

// Metrics groups the Prometheus instruments of the delivery pipeline.
// Registered once at startup via New and passed by pointer wherever needed.
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewRuntimeRegistry returns a registry holding only the Go runtime and
// process collectors. Each binary adds the instruments it actually records.
func NewRuntimeRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers the delivery instruments with reg. A custom registry keeps
// tests isolated from the global default.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postroom_deliveries_total",
			Help: "Send attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),

		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postroom_delivery_duration_seconds",
			Help:    "Time from dequeue to provider response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		reg: reg,
	}

	reg.MustRegister(m.Deliveries, m.DeliveryDuration)
	return m
}

// ObserveDelivery records one send attempt.
func (m *Metrics) ObserveDelivery(provider string, outcome notification.DeliveryOutcome, d time.Duration) {
	m.Deliveries.WithLabelValues(provider, outcomeLabel(outcome)).Inc()
	m.DeliveryDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func outcomeLabel(o notification.DeliveryOutcome) string {
	switch {
	case o.OK():
		return OutcomeSent
	case o.Retryable:
		return OutcomeRetryable
	default:
		return OutcomePermanent
	}
}

// PoolSource exposes connection pool occupancy.
type PoolSource interface {
	PoolStats() pool.Stats
}

// RegisterPool exports the SMTP pool gauges. They are sampled at scrape time.
func (m *Metrics) RegisterPool(src PoolSource) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "postroom_smtp_pool_max_size",
			Help: "Configured maximum number of SMTP sessions.",
		}, func() float64 { return float64(src.PoolStats().MaxSize) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "postroom_smtp_pool_leased",
			Help: "SMTP sessions currently leased to senders.",
		}, func() float64 { return float64(src.PoolStats().Leased) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "postroom_smtp_pool_idle",
			Help: "Open SMTP sessions waiting for reuse.",
		}, func() float64 { return float64(src.PoolStats().Idle) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "postroom_smtp_pool_reclaimed_total",
			Help: "Leases reclaimed after exceeding the lease timeout.",
		}, func() float64 { return float64(src.PoolStats().Reclaimed) }),
	)
}
