package signaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signald_connections_active",
		Help: "Current number of connected signaling clients",
	})

	connectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signald_connections_rejected_total",
		Help: "Total number of connections rejected at capacity",
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signald_rooms_active",
		Help: "Current number of rooms with at least one local member",
	})

	messagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signald_messages_relayed_total",
		Help: "Total number of messages relayed, by message type",
	}, []string{"type"})

	messagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signald_messages_dropped_total",
		Help: "Total number of frames dropped, by reason",
	}, []string{"reason"})

	brokerSubscribed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signald_broker_subscribed",
		Help: "1 while the Redis fan-out subscription is active",
	})
)
