// Package metrics provides Prometheus metrics for WABDesk licensing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wabdesk"

// PrometheusMetrics holds the licensing counters and request histograms.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	ActivationCounter *prometheus.CounterVec
	HeartbeatCounter  *prometheus.CounterVec
	ValidationCounter *prometheus.CounterVec
	LicenseCounter    *prometheus.CounterVec
	AuditFailures     prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the metrics and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		ActivationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Device activation attempts by outcome.",
		}, []string{"outcome"}),
		HeartbeatCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Device heartbeats by outcome.",
		}, []string{"outcome"}),
		ValidationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Device validation checks by outcome.",
		}, []string{"outcome"}),
		LicenseCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_operations_total",
			Help:      "Administrative license operations by action.",
		}, []string{"action"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit log entries that could not be persisted.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	collectors := []prometheus.Collector{
		m.ActivationCounter,
		m.HeartbeatCounter,
		m.ValidationCounter,
		m.LicenseCounter,
		m.AuditFailures,
		m.RequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return m, nil
}

// RecordActivation counts an activation attempt.
func (m *PrometheusMetrics) RecordActivation(outcome string) {
	if m == nil {
		return
	}
	m.ActivationCounter.WithLabelValues(outcome).Inc()
}

// RecordHeartbeat counts a heartbeat.
func (m *PrometheusMetrics) RecordHeartbeat(outcome string) {
	if m == nil {
		return
	}
	m.HeartbeatCounter.WithLabelValues(outcome).Inc()
}

// RecordValidation counts a validation check.
func (m *PrometheusMetrics) RecordValidation(outcome string) {
	if m == nil {
		return
	}
	m.ValidationCounter.WithLabelValues(outcome).Inc()
}

// RecordLicenseOperation counts an administrative license action.
func (m *PrometheusMetrics) RecordLicenseOperation(action string) {
	if m == nil {
		return
	}
	m.LicenseCounter.WithLabelValues(action).Inc()
}

// RecordAuditFailure counts a dropped audit entry.
func (m *PrometheusMetrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

// ObserveRequest records the latency of a handled request in seconds.
func (m *PrometheusMetrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, status).Observe(seconds)
}
