package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opencwmp/pkg/version"
)

// ACSMetrics holds all metrics for the ACS
type ACSMetrics struct {
	ServiceInfo     *prometheus.GaugeVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SessionsActive  prometheus.Gauge

	InformsTotal   prometheus.Counter
	DecodeErrors   prometheus.Counter
	TasksQueued    *prometheus.CounterVec
	TasksSent      *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksRequeued  prometheus.Counter
	StoreErrors    *prometheus.CounterVec
}

// NewACSMetrics creates a metrics instance registered on the default registry
func NewACSMetrics(serviceName string) *ACSMetrics {
	return NewACSMetricsWith(serviceName, prometheus.DefaultRegisterer)
}

// NewACSMetricsWith creates a metrics instance on a caller-provided registry.
// Tests use this to avoid duplicate registration on the default registry.
func NewACSMetricsWith(serviceName string, reg prometheus.Registerer) *ACSMetrics {
	m := &ACSMetrics{
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opencwmp_service_info",
				Help: "Information about the OpenCWMP service",
			},
			[]string{"service", "version", "build_time"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opencwmp_requests_total",
				Help: "Total number of CWMP HTTP exchanges processed",
			},
			[]string{"service", "message_type", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opencwmp_request_duration_seconds",
				Help:    "CWMP exchange duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "message_type"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "opencwmp_sessions_active",
				Help: "Number of active CWMP sessions",
			},
		),

		InformsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opencwmp_informs_total",
				Help: "Total number of Inform messages received",
			},
		),

		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opencwmp_decode_errors_total",
				Help: "Total number of envelopes that failed tolerant decoding",
			},
		),

		TasksQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opencwmp_tasks_queued_total",
				Help: "Total number of tasks enqueued",
			},
			[]string{"service", "kind"},
		),

		TasksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opencwmp_tasks_sent_total",
				Help: "Total number of tasks dispatched to devices",
			},
			[]string{"service", "kind"},
		),

		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opencwmp_tasks_completed_total",
				Help: "Total number of task completions by outcome",
			},
			[]string{"service", "kind", "outcome"},
		),

		TasksRequeued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "opencwmp_tasks_requeued_total",
				Help: "Total number of tasks reverted to pending after an aborted session",
			},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opencwmp_store_errors_total",
				Help: "Total number of registry/queue store errors",
			},
			[]string{"service", "operation"},
		),
	}

	reg.MustRegister(
		m.ServiceInfo,
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionsActive,
		m.InformsTotal,
		m.DecodeErrors,
		m.TasksQueued,
		m.TasksSent,
		m.TasksCompleted,
		m.TasksRequeued,
		m.StoreErrors,
	)

	m.ServiceInfo.WithLabelValues(serviceName, version.Version, time.Now().Format("2006-01-02T15:04:05Z")).Set(1)

	return m
}

// HTTPHandler returns the Prometheus HTTP handler
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records a processed CWMP exchange
func (m *ACSMetrics) RecordRequest(service, messageType, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, messageType, status).Inc()
	m.RequestDuration.WithLabelValues(service, messageType).Observe(duration.Seconds())
}

// RecordStoreError records a failed registry/queue operation
func (m *ACSMetrics) RecordStoreError(service, operation string) {
	m.StoreErrors.WithLabelValues(service, operation).Inc()
}
