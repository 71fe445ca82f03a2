// Package metrics exposes Prometheus instrumentation for the
// dispatch engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_sends_total",
			Help: "Total number of send attempts by path and outcome",
		},
		[]string{"tenant", "path", "status"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Number of messages currently deferred in the ad-hoc queue",
		},
	)

	queueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_queue_dropped_total",
			Help: "Messages dropped from the ad-hoc queue after exceeding the maximum age",
		},
	)

	rateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_ratelimit_denied_total",
			Help: "Capacity reservations denied by the per-tenant rate limiter",
		},
		[]string{"tenant"},
	)

	campaignCheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_campaign_checkpoints_total",
			Help: "Checkpoint writes performed by bulk campaign runs",
		},
	)

	automationsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_automations_fired_total",
			Help: "Automations fired by the scheduler",
		},
	)
)

// SendRecorded counts one send attempt. Path is "adhoc" or "bulk";
// status matches the attempt status (sent, queued, failed).
func SendRecorded(tenantID, path, status string) {
	sendsTotal.WithLabelValues(tenantID, path, status).Inc()
}

// QueueDepth sets the current ad-hoc queue depth.
func QueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// QueueDropped counts messages silently expired from the ad-hoc queue.
func QueueDropped(n int) {
	queueDroppedTotal.Add(float64(n))
}

// RateLimitDenied counts a denied capacity reservation.
func RateLimitDenied(tenantID string) {
	rateLimitDeniedTotal.WithLabelValues(tenantID).Inc()
}

// CheckpointWritten counts a bulk-run checkpoint write.
func CheckpointWritten() {
	campaignCheckpointsTotal.Inc()
}

// AutomationFired counts an automation execution.
func AutomationFired() {
	automationsFiredTotal.Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
