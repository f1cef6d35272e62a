// Package metrics exposes Prometheus counters for the token lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultIneligible  = "ineligible"
	ResultCompromised = "compromised"
	ResultError       = "error"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	logins        *prometheus.CounterVec
	registrations *prometheus.CounterVec
	rotations     *prometheus.CounterVec
	revocations   *prometheus.CounterVec
	issued        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logins_total",
			Help:      "Password authentication attempts by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		}, []string{"result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by result.",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refresh_tokens_revoked_total",
			Help:      "Refresh tokens revoked, by reason.",
		}, []string{"reason"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refresh_tokens_issued_total",
			Help:      "Refresh tokens issued.",
		}),
	}
	m.registry.MustRegister(m.logins, m.registrations, m.rotations, m.revocations, m.issued)
	return m
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Registration(result string) {
	if m != nil {
		m.registrations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Rotation(result string) {
	if m != nil {
		m.rotations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Revoked(reason string, n int64) {
	if m != nil && n > 0 {
		m.revocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Issued() {
	if m != nil {
		m.issued.Inc()
	}
}

// LoginCounter and RotationCounter expose single series for tests.
func (m *Metrics) LoginCounter(result string) prometheus.Counter {
	return m.logins.WithLabelValues(result)
}

func (m *Metrics) RotationCounter(result string) prometheus.Counter {
	return m.rotations.WithLabelValues(result)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
