package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omborsaas/go-session-client/session"
)

// Metrics counts the gateway's recovery machinery: refresh attempts by
// outcome, one-shot replays, and forced logouts by domain and reason.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	replays       prometheus.Counter
	forcedLogouts *prometheus.CounterVec
}

// NewMetrics registers the gateway counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "gateway",
			Name:      "refresh_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "gateway",
			Name:      "replay_total",
			Help:      "Calls replayed after a successful refresh.",
		}),
		forcedLogouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "gateway",
			Name:      "forced_logout_total",
			Help:      "Sessions terminated by the gateway, by domain and reason.",
		}, []string{"domain", "reason"}),
	}
}

// Refresh records a refresh attempt outcome. Nil-safe.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// Replay records a post-refresh replay. Nil-safe.
func (m *Metrics) Replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

// ForcedLogout records a gateway-driven session termination. Nil-safe.
func (m *Metrics) ForcedLogout(domain session.Domain, reason session.EndReason) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(string(domain), string(reason)).Inc()
}
