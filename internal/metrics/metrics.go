// Package metrics holds prometheus counters of the auth subsystem.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

type Metrics struct {
	AuthOperations     *prometheus.CounterVec
	TokenVerifications *prometheus.CounterVec
	MailDeliveries     *prometheus.CounterVec
}

// New creates counters and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatr_auth_operations_total",
				Help: "Total number of auth gateway operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatr_token_verifications_total",
				Help: "Total number of bearer token verifications by class and result",
			},
			[]string{"class", "result"},
		),
		MailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatr_mail_deliveries_total",
				Help: "Total number of outgoing mail deliveries by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.AuthOperations, m.TokenVerifications, m.MailDeliveries)

	return m
}

func (m *Metrics) AuthOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) TokenVerification(class, result string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(class, result).Inc()
}

func (m *Metrics) MailDelivery(result string) {
	if m == nil {
		return
	}
	m.MailDeliveries.WithLabelValues(result).Inc()
}
