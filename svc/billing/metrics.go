package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the engine. A nil *Metrics records nothing.
type Metrics struct {
	Actions          *prometheus.CounterVec
	ActionLatency    *prometheus.HistogramVec
	Webhooks         *prometheus.CounterVec
	GatewayLatency   *prometheus.HistogramVec
	EntitlementCache *prometheus.CounterVec
	CASConflicts     prometheus.Counter
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complykit_subscription_actions_total",
			Help: "Lifecycle actions by action and outcome",
		}, []string{"action", "outcome"}),

		ActionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "complykit_subscription_action_duration_seconds",
			Help:    "Duration of lifecycle actions including gateway calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"action"}),

		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complykit_webhook_events_total",
			Help: "Gateway webhook events by event type and outcome",
		}, []string{"event", "outcome"}), // outcome: applied, duplicate, ignored, rejected, failed

		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "complykit_gateway_request_duration_seconds",
			Help:    "Duration of outbound payment gateway calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"operation", "outcome"}),

		EntitlementCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "complykit_entitlement_cache_total",
			Help: "Entitlement cache lookups by result",
		}, []string{"result"}), // result: hit, miss, error

		CASConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "complykit_subscription_cas_conflicts_total",
			Help: "Conditional subscription writes that lost a race",
		}),
	}
}

func (m *Metrics) action(name, outcome string, d time.Duration) {
	if m != nil {
		m.Actions.WithLabelValues(name, outcome).Inc()
		m.ActionLatency.WithLabelValues(name).Observe(d.Seconds())
	}
}

func (m *Metrics) webhook(event, outcome string) {
	if m != nil {
		m.Webhooks.WithLabelValues(event, outcome).Inc()
	}
}

func (m *Metrics) gateway(op, outcome string, d time.Duration) {
	if m != nil {
		m.GatewayLatency.WithLabelValues(op, outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) cache(result string) {
	if m != nil {
		m.EntitlementCache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.CASConflicts.Inc()
	}
}
