package authmgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics is nil-safe: a manager built without a registerer records nothing.
type metrics struct {
	exchanges *prometheus.CounterVec
	cacheHits prometheus.Counter
	state     *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenkeeper",
			Name:      "exchanges_total",
			Help:      "Token exchanges issued, by grant and outcome.",
		}, []string{"grant", "outcome"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenkeeper",
			Name:      "cache_hits_total",
			Help:      "Token requests answered from the cached record.",
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tokenkeeper",
			Name:      "token_state",
			Help:      "1 for the token state the manager currently holds, 0 otherwise.",
		}, []string{"state"}),
	}
}

func (m *metrics) exchange(g grantKind, o outcome) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(g.String(), o.String()).Inc()
}

func (m *metrics) cacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *metrics) setState(current TokenState) {
	if m == nil {
		return
	}
	for state, name := range stateNames {
		v := 0.0
		if state == current {
			v = 1
		}
		m.state.WithLabelValues(name).Set(v)
	}
}
