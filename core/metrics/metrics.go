// Package metrics holds the Prometheus collectors of the resource engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResourceOperations counts resource API calls by action and result (ok|error).
	ResourceOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantkit_resource_operations_total",
			Help: "Total number of resource operations",
		},
		[]string{"action", "result"},
	)

	// ResourceLatency measures the latency of resource API calls.
	ResourceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantkit_resource_latency_seconds",
			Help:    "Resource operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// AccessDecisions counts access evaluations by result (allow|deny).
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantkit_access_decisions_total",
			Help: "Total number of access decisions",
		},
		[]string{"result"},
	)

	// CascadedResources counts resources updated or deleted by reference cascades.
	CascadedResources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantkit_cascaded_resources_total",
			Help: "Total number of resources touched by reference cascades",
		},
		[]string{"cascade"},
	)

	// Notifications counts notification deliveries by sender and result (ok|error|dropped).
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantkit_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"sender", "result"},
	)

	// NotificationQueue tracks the number of events waiting for dispatch.
	NotificationQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantkit_notification_queue_length",
			Help: "Number of events waiting for dispatch",
		},
	)
)

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
