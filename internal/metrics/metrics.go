package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lingo_connect_active_rooms",
		Help: "Number of rooms with at least one subscriber",
	})
	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lingo_connect_active_subscribers",
		Help: "Number of clients currently attached to a room topic",
	})
)

// Counters
var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingo_connect_connections_total",
		Help: "Total websocket connections accepted",
	})
	EventsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingo_connect_events_relayed_total",
		Help: "Total broadcast events fanned out, by event name",
	}, []string{"event"})
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingo_connect_events_dropped_total",
		Help: "Events dropped because a subscriber's send queue was full",
	})
)
