// Package metrics provides Prometheus instrumentation for the room chat
// client. It exposes a gauge for the connection state, counters for inbound
// and outbound traffic, and a histogram for room load latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionState is 1 for the current connection state label and 0 for
	// the others.
	ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roomchat_connection_state",
		Help: "Current connection state of the room client",
	}, []string{"state"}) // state = "disconnected", "connecting", "connected", "retrying"

	// ReconnectAttempts counts scheduled reconnect attempts.
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_reconnect_attempts_total",
		Help: "Total number of reconnect attempts",
	})

	// ActiveSubscriptions tracks live channel subscriptions.
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_active_subscriptions",
		Help: "Current number of live channel subscriptions",
	})

	// InboundEvents counts decoded inbound events by kind.
	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_inbound_events_total",
		Help: "Total number of inbound events dispatched",
	}, []string{"kind"}) // kind = "messages", "events", "typing", "status", "errors"

	// DroppedPayloads counts inbound payloads discarded before dispatch.
	DroppedPayloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_dropped_payloads_total",
		Help: "Total number of inbound payloads dropped",
	}, []string{"reason"}) // reason = "decode", "stale_room", "self"

	// OutboundSends counts fire-and-forget sends by action and result.
	OutboundSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_outbound_sends_total",
		Help: "Total number of outbound sends",
	}, []string{"action", "result"}) // result = "ok", "error"

	// StaleResponses counts REST results discarded by the currentness check.
	StaleResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_stale_responses_total",
		Help: "Total number of fetch results discarded after a room switch",
	}, []string{"fetch"}) // fetch = "room", "members"

	// RoomLoadLatency records the time to fetch members and history.
	RoomLoadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_room_load_seconds",
		Help:    "Room members and history fetch latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// ArchivedMessages counts messages written to the transcript archive.
	ArchivedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_archived_messages_total",
		Help: "Total number of messages written to the transcript archive",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ConnectionState,
		ReconnectAttempts,
		ActiveSubscriptions,
		InboundEvents,
		DroppedPayloads,
		OutboundSends,
		StaleResponses,
		RoomLoadLatency,
		ArchivedMessages,
	)
}

var states = []string{"disconnected", "connecting", "connected", "retrying"}

// SetConnectionState marks state as the current connection state.
func SetConnectionState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
