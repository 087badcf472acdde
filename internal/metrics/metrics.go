package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	ScansRecorded      prometheus.Counter
	MembersRecorded    *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	StatusChanges      *prometheus.CounterVec
	RecordsDeleted     prometheus.Counter
	EventsAudited      *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "scans_recorded_total",
			Help:      "Attendance scans persisted.",
		}),
		MembersRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "members_recorded_total",
			Help:      "Family members recorded by scans, split into adults and children.",
		}, []string{"kind"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "validation_failures_total",
			Help:      "Rejected submissions by operation.",
		}, []string{"operation"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "status_changes_total",
			Help:      "Attendance status updates by resulting status.",
		}, []string{"status"}),
		RecordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "records_deleted_total",
			Help:      "Attendance records deleted.",
		}),
		EventsAudited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "events_audited_total",
			Help:      "Queue events written to the audit log by the worker.",
		}, []string{"type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instaq",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instaq",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ScansRecorded,
			m.MembersRecorded,
			m.ValidationFailures,
			m.StatusChanges,
			m.RecordsDeleted,
			m.EventsAudited,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}
	return m
}
