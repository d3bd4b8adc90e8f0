// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinic",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clinic",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	AvailabilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinic",
		Name:      "availability_checks_total",
		Help:      "Availability lookups by outcome (available, full).",
	}, []string{"outcome"})

	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clinic",
		Name:      "appointments_booked_total",
		Help:      "Appointments successfully booked.",
	})

	BookingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinic",
		Name:      "appointments_rejected_total",
		Help:      "Booking attempts rejected by slot checks, by reason.",
	}, []string{"reason"})

	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clinic",
		Name:      "audit_write_failures_total",
		Help:      "Audit rows that could not be written.",
	})
)
