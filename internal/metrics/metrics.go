// Package metrics exposes prometheus counters of connect attempts and wallet
// notifications.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"moff.io/wallet-connector/internal/connector"
)

const namespace = "wallet_connector"

var (
	connectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Connect attempts by wallet kind and result code.",
	}, []string{"kind", "code"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Normalized wallet notifications by wallet kind, name and code.",
	}, []string{"kind", "name", "code"})

	activeSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions held by the service.",
	}, []string{"kind"})
)

// Register adds the collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{connectAttempts, notifications, activeSessions} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveConnect counts one connect attempt, err nil is a success.
func ObserveConnect(kind connector.Kind, err error) {
	code := connector.CodeSuccess
	if err != nil {
		code = 0
		if ce, ok := connector.AsError(err); ok {
			code = ce.Code
		}
	}
	connectAttempts.WithLabelValues(string(kind), label(code)).Inc()
}

func SessionOpened(kind connector.Kind) {
	activeSessions.WithLabelValues(string(kind)).Inc()
}

func SessionClosed(kind connector.Kind) {
	activeSessions.WithLabelValues(string(kind)).Dec()
}

func label(code int) string {
	if code == 0 {
		return "internal"
	}
	return connector.CodeName(code)
}

// Sink counts the notifications of every session.
type Sink struct{}

func (Sink) Publish(_ context.Context, rec *connector.Record) error {
	code := ""
	if rec.Err != nil {
		code = strconv.Itoa(rec.Err.Code)
	}
	notifications.WithLabelValues(string(rec.Kind), rec.Name(), code).Inc()
	return nil
}
