package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crmbilling"

// Metrics holds the billing counters. A nil *Metrics is valid and records
// nothing, which keeps services usable in tests without a registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	activations    *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	promotions     prometheus.Counter
	expirations    prometheus.Counter
	gatewayLatency *prometheus.HistogramVec
}

// ProvideMetrics registers against the default registry so that the gorm
// prometheus plugin and the Go runtime collectors share one /metrics endpoint.
func ProvideMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_activations_total",
			Help:      "Subscription activations by purchase mode and outcome.",
		}, []string{"mode", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_settlements_total",
			Help:      "Refund settlements by channel and outcome.",
		}, []string{"channel", "outcome"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_promotions_total",
			Help:      "Scheduled subscriptions promoted to active.",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_expirations_total",
			Help:      "Subscriptions expired because their period ended.",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of outbound payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.activations, m.webhookEvents, m.refunds, m.promotions, m.expirations, m.gatewayLatency)
		if reg != prometheus.DefaultRegisterer {
			reg.MustRegister(collectors.NewGoCollector())
		}
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Activation(mode, outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Refund(channel, outcome string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) Promoted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.promotions.Add(float64(n))
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expirations.Add(float64(n))
}

func (m *Metrics) GatewayCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation, outcome).Observe(seconds)
}
