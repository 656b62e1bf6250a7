// Package protocol defines the wire format shared by the signaling server
// and the room client: JSON envelopes carried over the room's broadcast
// topic, plus the per-event payload shapes.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event name constants.
const (
	// EventSubscribe attaches a connection to a room topic. It is the only
	// event the hub consumes itself; everything else is fanned out.
	EventSubscribe = "subscribe"

	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventOffer      = "offer"
	EventAnswer     = "answer"
	EventError      = "error"
)

// Envelope frames every message on the broadcast channel. Payload stays
// raw so the hub can relay events it does not understand.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload attaches the sender to a room topic.
type SubscribePayload struct {
	UserID string `json:"userId"`
}

// PresencePayload is shared by user-joined and user-left.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// OfferPayload carries an initiator's handshake blob to one target peer.
type OfferPayload struct {
	Signal json.RawMessage `json:"signal"`
	Caller string          `json:"caller"`
	Target string          `json:"target"`
}

// AnswerPayload carries a responder's handshake blob back to the caller.
type AnswerPayload struct {
	Signal json.RawMessage `json:"signal"`
	Caller string          `json:"caller"`
}

// ErrorPayload reports a server-side failure to one client.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewEnvelope builds an envelope with a marshaled payload.
func NewEnvelope(event, room string, payload any) (*Envelope, error) {
	env := &Envelope{Event: event, Room: room}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	return json.Unmarshal(e.Payload, v)
}
