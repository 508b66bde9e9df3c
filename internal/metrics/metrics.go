// Package metrics exposes canvaslink's Prometheus instrumentation: the
// additive /metrics operational endpoint SPEC_FULL §6 adds alongside the
// spec's numbered HTTP surface. These are observability counters, not
// policy — nothing in the coordination core's behavior depends on them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectionsActive tracks the Connection Registry's live size.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "canvaslink",
		Name:      "connections_active",
		Help:      "Number of currently open realtime connections.",
	})

	// HubsActive tracks the Canvas Hub manager's resident hub count.
	HubsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "canvaslink",
		Name:      "hubs_active",
		Help:      "Number of canvas hubs resident in memory.",
	})

	// EventsAppended counts every event successfully appended and fanned
	// out, labeled by canvas so operators can spot a hot canvas.
	EventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvaslink",
		Name:      "events_appended_total",
		Help:      "Total events appended to a canvas's event log.",
	}, []string{"canvas_id"})

	// EventsRejected counts events dropped by the Canvas Hub's
	// authorization or moderation gate, labeled by reason.
	EventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvaslink",
		Name:      "events_rejected_total",
		Help:      "Total events rejected before append (forbidden or moderated).",
	}, []string{"reason"})

	// TokenReissues counts Auth Gate soft-refreshes, labeled by trigger.
	TokenReissues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvaslink",
		Name:      "token_reissues_total",
		Help:      "Total bearer token soft-refreshes performed by the Auth Gate.",
	}, []string{"trigger"})
)

func init() {
	prometheus.MustRegister(ConnectionsActive, HubsActive, EventsAppended, EventsRejected, TokenReissues)
}
