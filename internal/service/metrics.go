package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"

	resultSuccess  = "success"
	resultFailure  = "failure"
	resultConflict = "conflict"
	resultError    = "error"
)

var (
	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of JWTs issued, by token kind",
		},
		[]string{"kind"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of credential checks, by result",
		},
		[]string{"result"},
	)

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts, by result",
		},
		[]string{"result"},
	)
)

// RegisterMetrics adds the service counters to reg. Registering on a
// registry that already holds them is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{tokensIssued, loginAttempts, registrations} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}
