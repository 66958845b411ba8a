package server

import "github.com/prometheus/client_golang/prometheus"

var (
	// connectionsActive gauges registered websocket sessions.
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentchat_connections_active",
			Help: "Current number of live websocket sessions.",
		},
	)

	// framesReceived counts inbound frames by family. Unknown families are
	// folded into "unknown" to bound cardinality.
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentchat_frames_received_total",
			Help: "Inbound frames by family.",
		},
		[]string{"family"},
	)

	// framesRateLimited counts frames discarded by the per-session limiter.
	framesRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentchat_frames_rate_limited_total",
			Help: "Inbound frames discarded by rate limiting.",
		},
	)

	// eventsDelivered counts events queued to sessions.
	eventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentchat_events_delivered_total",
			Help: "Events queued for delivery to sessions.",
		},
	)

	// deliveriesDropped counts events dropped because a session's send buffer was full.
	deliveriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentchat_deliveries_dropped_total",
			Help: "Events dropped because the session send buffer was full.",
		},
	)

	// livenessTerminations counts sessions closed for missing a liveness probe.
	livenessTerminations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentchat_liveness_terminations_total",
			Help: "Sessions terminated by the liveness monitor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		connectionsActive,
		framesReceived,
		framesRateLimited,
		eventsDelivered,
		deliveriesDropped,
		livenessTerminations,
	)
}

func familyLabel(family string) string {
	switch family {
	case "auth", "room", "message", "dm", "command", "ping":
		return family
	default:
		return "unknown"
	}
}
