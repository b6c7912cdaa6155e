package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts poll attempts and raised alerts. A nil *Metrics is valid
// and records nothing, so callers can run without a registry.
type Metrics struct {
	polls  *prometheus.CounterVec
	alerts *prometheus.CounterVec
}

// NewMetrics builds and registers the notification poller metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_polls_total",
			Help: "Notification count polls by outcome.",
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_alerts_total",
			Help: "Alerts raised per notification category.",
		}, []string{"category"}),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.alerts)
	}
	return m
}

func (m *Metrics) poll(outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) alert(cat Category) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(cat)).Inc()
}
