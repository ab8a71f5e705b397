package httpx

import (
	"net/http"

	"collabcode/internal/app"
	"collabcode/internal/room"
	"collabcode/internal/ws"
	"collabcode/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, hub *ws.Hub, reg *room.Registry) http.Handler {
	mw := NewMiddleware(cfg)
	api := &RoomsAPI{Reg: reg}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint
	mux.Handle("/ws", http.HandlerFunc(hub.ServeWS))

	// Query surface
	mux.Handle("GET /api/health", http.HandlerFunc(api.Health))
	mux.Handle("GET /api/rooms", http.HandlerFunc(api.Rooms))
	mux.Handle("GET /api/chat-history/{roomId}", http.HandlerFunc(api.ChatHistory))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
