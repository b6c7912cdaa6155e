package shellcache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts controller decisions per policy and outcome.
type Metrics struct {
	requests *prometheus.CounterVec
	precache *prometheus.CounterVec
}

// NewMetrics registers shellcache metrics on reg (which may be nil for tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shellcache_requests_total",
			Help: "Shell gateway requests by policy and outcome",
		}, []string{"policy", "outcome"}),
		precache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shellcache_precache_total",
			Help: "Shell precache attempts by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.precache)
	}
	return m
}

func (m *Metrics) request(policy, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) precached(result string) {
	if m == nil {
		return
	}
	m.precache.WithLabelValues(result).Inc()
}
