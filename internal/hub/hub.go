// Package hub implements the room broadcast service: named topics that fan
// every published event out to all other subscribers of the same room.
// The hub itself never interprets signaling payloads; peers do.
package hub

import (
	"encoding/json"
	"log/slog"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/metrics"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
)

// inbound pairs an envelope with the connection that sent it.
type inbound struct {
	client *Client
	env    *protocol.Envelope
}

// Hub owns all room state. A single goroutine (Run) processes every
// register, unregister and broadcast, so no locking is needed.
type Hub struct {
	rooms map[string]*Room

	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan *inbound

	snapshots chan chan []Summary
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *inbound),
		snapshots:  make(chan chan []Summary),
	}
}

// Dispatch hands an envelope from a client to the hub loop. Exists so the
// transport layer does not touch the Broadcast channel's element type.
func (h *Hub) Dispatch(c *Client, env *protocol.Envelope) {
	h.Broadcast <- &inbound{client: c, env: env}
}

// Snapshot returns a point-in-time view of all active rooms.
func (h *Hub) Snapshot() []Summary {
	reply := make(chan []Summary, 1)
	h.snapshots <- reply
	return <-reply
}

// Run starts the hub's main processing loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.Register:
			// Not in a room yet; the client subscribes explicitly.
			metrics.ConnectionsTotal.Inc()
			slog.Debug("client connected")

		case client := <-h.Unregister:
			h.detach(client, true)
			close(client.Send)

		case in := <-h.Broadcast:
			h.handle(in.client, in.env)

		case reply := <-h.snapshots:
			summaries := make([]Summary, 0, len(h.rooms))
			for _, room := range h.rooms {
				summaries = append(summaries, room.summary())
			}
			reply <- summaries
		}
	}
}

func (h *Hub) handle(client *Client, env *protocol.Envelope) {
	if env.Event == protocol.EventSubscribe {
		h.subscribe(client, env)
		return
	}

	if client.RoomID == "" {
		slog.Warn("event before subscribe", "event", env.Event)
		h.sendError(client, "subscribe to a room first")
		return
	}

	room, ok := h.rooms[client.RoomID]
	if !ok {
		h.sendError(client, "room not found")
		return
	}

	// A clean leave empties the client's room binding so the eventual
	// unregister does not synthesize a second user-left.
	if env.Event == protocol.EventUserLeft {
		defer h.detach(client, false)
	}

	h.relay(room, client.UserID, env)
}

// subscribe attaches a connection to a room topic, creating the room on
// first use.
func (h *Hub) subscribe(client *Client, env *protocol.Envelope) {
	var payload protocol.SubscribePayload
	if err := env.DecodePayload(&payload); err != nil || payload.UserID == "" {
		h.sendError(client, "subscribe requires a userId")
		return
	}
	if client.RoomID != "" {
		h.sendError(client, "already subscribed")
		return
	}
	if env.Room == "" {
		h.sendError(client, "subscribe requires a room")
		return
	}

	room, ok := h.rooms[env.Room]
	if !ok {
		room = newRoom(env.Room)
		h.rooms[env.Room] = room
		metrics.ActiveRooms.Inc()
		slog.Info("room created", "room", env.Room)
	}

	// A reconnecting user replaces their previous attachment. The swap
	// happens inside the room so it never empties, and the registry entry
	// survives even when the user is the sole subscriber.
	if prev, ok := room.Subscribers[payload.UserID]; ok {
		delete(room.Subscribers, payload.UserID)
		metrics.ActiveSubscribers.Dec()
		prev.RoomID = ""
		slog.Info("attachment replaced", "room", env.Room, "user", payload.UserID)
	}

	client.UserID = payload.UserID
	client.RoomID = env.Room
	room.Subscribers[payload.UserID] = client
	metrics.ActiveSubscribers.Inc()

	slog.Info("subscribed", "room", env.Room, "user", payload.UserID)
}

// detach removes a client from its room. When synthesizeLeave is set (an
// unclean disconnect) the remaining subscribers receive a user-left on the
// departed client's behalf.
func (h *Hub) detach(client *Client, synthesizeLeave bool) {
	if client.RoomID == "" {
		return
	}

	room, ok := h.rooms[client.RoomID]
	if ok {
		if room.Subscribers[client.UserID] == client {
			delete(room.Subscribers, client.UserID)
			metrics.ActiveSubscribers.Dec()

			if synthesizeLeave {
				raw, _ := json.Marshal(protocol.PresencePayload{UserID: client.UserID})
				h.relay(room, client.UserID, &protocol.Envelope{
					Event:   protocol.EventUserLeft,
					Room:    room.ID,
					Payload: raw,
				})
			}
		}

		if len(room.Subscribers) == 0 {
			delete(h.rooms, room.ID)
			metrics.ActiveRooms.Dec()
			slog.Info("room deleted", "room", room.ID)
		}
	}

	slog.Info("detached", "room", client.RoomID, "user", client.UserID)
	client.RoomID = ""
}

// relay fans an envelope out to every subscriber except the sender.
func (h *Hub) relay(room *Room, senderID string, env *protocol.Envelope) {
	for id, subscriber := range room.Subscribers {
		if id == senderID {
			continue
		}
		select {
		case subscriber.Send <- env:
		default:
			// Slow consumer; drop rather than stall the hub loop.
			metrics.EventsDroppedTotal.Inc()
			slog.Warn("send queue full, dropping event",
				"room", room.ID, "user", id, "event", env.Event)
		}
	}
	metrics.EventsRelayedTotal.WithLabelValues(env.Event).Inc()
}

func (h *Hub) sendError(client *Client, msg string) {
	raw, _ := json.Marshal(protocol.ErrorPayload{Error: msg})
	select {
	case client.Send <- &protocol.Envelope{Event: protocol.EventError, Payload: raw}:
	default:
	}
}
