// Package chat defines the msgpack protocol spoken over each peer link's
// data channel: room text messages and a hello exchanged on open.
package chat

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Message type constants.
const (
	MessageTypeHello = "hello"
	MessageTypeText  = "text"
)

// Message represents all data channel messages between peers.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload is sent once when a chat channel opens.
type HelloPayload struct {
	UserID  string `msgpack:"userId"`
	Version string `msgpack:"version"`
}

// TextPayload is one room chat message.
type TextPayload struct {
	Sender string    `msgpack:"sender"`
	Body   string    `msgpack:"body"`
	SentAt time.Time `msgpack:"sentAt"`
}

// NewMessage creates a Message with the given type and payload.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// Encode marshals the full message for the wire.
func (m Message) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}

// Parse unmarshals a wire message.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
