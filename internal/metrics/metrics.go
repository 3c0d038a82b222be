package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every observation becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	checkIns         *prometheus.CounterVec
	checkInConflicts prometheus.Counter
	registrations    *prometheus.CounterVec
	payments         *prometheus.CounterVec
	otpSent          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camp",
			Name:      "checkins_total",
			Help:      "ID-card prints by kind (first or reprint).",
		}, []string{"kind"}),
		checkInConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camp",
			Name:      "checkin_conflicts_total",
			Help:      "First-print transactions retried after a concurrent modification.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camp",
			Name:      "registrations_total",
			Help:      "Registrations created by category and channel.",
		}, []string{"type", "registered_by"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camp",
			Name:      "payments_total",
			Help:      "Gateway payment outcomes.",
		}, []string{"outcome"}),
		otpSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camp",
			Name:      "otp_requests_total",
			Help:      "OTP send requests by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.checkIns,
		m.checkInConflicts,
		m.registrations,
		m.payments,
		m.otpSent,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CheckIn(reprint bool) {
	if m == nil {
		return
	}
	kind := "first"
	if reprint {
		kind = "reprint"
	}
	m.checkIns.WithLabelValues(kind).Inc()
}

func (m *Metrics) CheckInConflict() {
	if m == nil {
		return
	}
	m.checkInConflicts.Inc()
}

func (m *Metrics) RegistrationCreated(regType, registeredBy string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(regType, registeredBy).Inc()
}

func (m *Metrics) Payment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OTP(result string) {
	if m == nil {
		return
	}
	m.otpSent.WithLabelValues(result).Inc()
}
