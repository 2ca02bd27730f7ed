// Package authmetrics exposes Prometheus counters for authentication,
// device verification and tenant discovery.
package authmetrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	authFailures        *prometheus.CounterVec
	deviceVerifications *prometheus.CounterVec
	discovery           *prometheus.CounterVec
	logins              *prometheus.CounterVec
	syncedMemberships   prometheus.Counter
}

// New creates the collectors and registers them with reg. Passing nil uses a
// fresh registry, which is what tests want.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_failures_total",
				Help: "Authentication failures by error code.",
			},
			[]string{"code"},
		),
		deviceVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "device_verifications_total",
				Help: "Device signature verifications by outcome.",
			},
			[]string{"outcome"},
		),
		discovery: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenant_discovery_total",
				Help: "Tenant discovery lookups by whether any tenant was found.",
			},
			[]string{"found"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logins_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		syncedMemberships: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "membership_sync_upserts_total",
			Help: "Public mirror rows written by membership sync.",
		}),
	}
	reg.MustRegister(m.authFailures, m.deviceVerifications, m.discovery, m.logins, m.syncedMemberships)
	return m
}

// AuthFailure counts a rejected credential, token or tenant check.
func (m *Metrics) AuthFailure(code string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(code).Inc()
}

// DeviceVerification counts a device signature check. outcome is "ok" or an
// error code.
func (m *Metrics) DeviceVerification(outcome string) {
	if m == nil {
		return
	}
	m.deviceVerifications.WithLabelValues(outcome).Inc()
}

// Discovery counts a discovery lookup.
func (m *Metrics) Discovery(found bool) {
	if m == nil {
		return
	}
	m.discovery.WithLabelValues(strconv.FormatBool(found)).Inc()
}

// Login counts a login attempt. outcome is "success" or an error code.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// MembershipsSynced adds n mirror upserts.
func (m *Metrics) MembershipsSynced(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncedMemberships.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
