package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speranza_ws_connections",
		Help: "Currently connected websocket sessions.",
	})

	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speranza_ws_events_total",
		Help: "Inbound client events accepted by the gateway, by type.",
	}, []string{"type"})

	metricEventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speranza_ws_event_errors_total",
		Help: "Inbound client events that failed, by type.",
	}, []string{"type"})

	metricRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speranza_ws_messages_relayed_total",
		Help: "Direct messages relayed live to a connected receiver.",
	})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speranza_ws_dropped_total",
		Help: "Outbound envelopes dropped under backpressure, by type.",
	}, []string{"type"})

	metricNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speranza_notifications_total",
		Help: "Notification relay outcomes (delivered, offline, invalid).",
	}, []string{"outcome"})
)
