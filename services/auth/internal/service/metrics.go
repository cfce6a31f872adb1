package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes recorded by Metrics.
const (
	outcomeSuccess            = "success"
	outcomeConflict           = "conflict"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeRejected           = "rejected"
	outcomeExpired            = "expired"
	outcomeError              = "error"
)

// Metrics counts session lifecycle outcomes.
type Metrics struct {
	operations *prometheus.CounterVec
	replays    prometheus.Counter
}

// NewMetrics registers session metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_operations_total",
			Help: "Session operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_token_replays_total",
			Help: "Refresh tokens presented that matched no stored record.",
		}),
	}
}

func (m *Metrics) observe(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}
