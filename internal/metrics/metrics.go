// Package metrics exposes the Prometheus instruments. Everything is
// registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aurad",
		Name:      "connections_active",
		Help:      "Live websocket connections.",
	})

	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurad",
		Name:      "auth_attempts_total",
		Help:      "Authentication attempts by flow and result.",
	}, []string{"flow", "result"})

	MessagesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurad",
		Name:      "messages_dispatched_total",
		Help:      "Chat messages accepted, by room kind.",
	}, []string{"kind"})

	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurad",
		Name:      "signals_relayed_total",
		Help:      "WebRTC negotiation payloads forwarded, by kind.",
	}, []string{"kind"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aurad",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because a send queue was full.",
	})

	RosterBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aurad",
		Name:      "roster_broadcasts_total",
		Help:      "Full user-list broadcasts emitted.",
	})
)
