// Package server exposes the hub over HTTP: the websocket endpoint for
// signaling plus a small REST/observability surface.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/hub"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The browser client is served from a different origin in every
	// deployment we run, so origin enforcement lives at the proxy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter wires all HTTP routes around the given hub.
func NewRouter(h *hub.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/rooms", handleListRooms(h))
	r.Get("/ws", serveWs(h))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]hub.Summary{"rooms": h.Snapshot()})
	}
}

// serveWs upgrades the connection and starts the client's pumps.
func serveWs(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "err", err)
			return
		}

		client := &hub.Client{
			Hub:  h,
			Conn: conn,
			Send: make(chan *protocol.Envelope, 256),
		}
		h.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
