package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveRooms tracks live rooms in the registry.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_rooms",
		Help: "Number of rooms currently registered.",
	})

	// ConnectedClients tracks open websocket connections.
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_connected_clients",
		Help: "Number of websocket connections currently open.",
	})

	// EventsTotal counts inbound client events by name.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_events_total",
		Help: "Inbound client events processed, by event name.",
	}, []string{"event"})

	// ChatMessagesTotal counts messages appended to chat streams.
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_chat_messages_total",
		Help: "Chat messages appended across all rooms.",
	})

	// PersistFailures counts best-effort persistence writes that failed.
	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_persist_failures_total",
		Help: "Room persistence writes that failed (logged, never surfaced).",
	})
)

func init() {
	prometheus.MustRegister(ActiveRooms, ConnectedClients, EventsTotal, ChatMessagesTotal, PersistFailures)
}

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
