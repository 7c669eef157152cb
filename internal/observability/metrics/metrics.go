package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments for the payment core.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	paymentsSettled *prometheus.CounterVec
	paymentsFailed  *prometheus.CounterVec
	refunds         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facturante_webhook_events_total",
			Help: "Inbound provider webhook events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		paymentsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facturante_payments_settled_total",
			Help: "Payments settled (status=completed) by provider.",
		}, []string{"provider"}),
		paymentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facturante_payments_failed_total",
			Help: "Payments marked failed by provider.",
		}, []string{"provider"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facturante_refunds_total",
			Help: "Refund state transitions by provider and status.",
		}, []string{"provider", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.webhookEvents, m.paymentsSettled, m.paymentsFailed, m.refunds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordWebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordPaymentSettled(provider string) {
	if m == nil {
		return
	}
	m.paymentsSettled.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordPaymentFailed(provider string) {
	if m == nil {
		return
	}
	m.paymentsFailed.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordRefund(provider, status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(provider, status).Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(func() prometheus.Registerer { return prometheus.DefaultRegisterer }),
	fx.Provide(New),
)
