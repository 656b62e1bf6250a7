package signaling

import (
	"fmt"
	"sync"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
)

// Channel is one attachment to a room's broadcast topic. It moves from
// unattached to attached exactly once (Attach) and back exactly once
// (Detach); detach is terminal for the session.
type Channel struct {
	client *Client
	roomID string
	userID string

	detachOnce sync.Once
}

// Attach subscribes the connected client to the room topic and announces
// the local participant with a user-joined broadcast.
func Attach(client *Client, roomID, userID string) (*Channel, error) {
	if roomID == "" || userID == "" {
		return nil, fmt.Errorf("attach: room id and user id are required")
	}

	ch := &Channel{client: client, roomID: roomID, userID: userID}

	sub, err := protocol.NewEnvelope(protocol.EventSubscribe, roomID,
		protocol.SubscribePayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	client.Send(sub)

	if err := ch.Publish(protocol.EventUserJoined,
		protocol.PresencePayload{UserID: userID}); err != nil {
		return nil, err
	}

	return ch, nil
}

// Publish broadcasts an event to every other subscriber of the room.
func (ch *Channel) Publish(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, ch.roomID, payload)
	if err != nil {
		return err
	}
	ch.client.Send(env)
	return nil
}

// Events returns the stream of envelopes broadcast by other subscribers.
// The channel is closed when the underlying connection drops.
func (ch *Channel) Events() <-chan *protocol.Envelope {
	return ch.client.Incoming()
}

// Detach announces user-left and closes the underlying connection. Safe to
// call more than once; only the first call has any effect.
func (ch *Channel) Detach() error {
	ch.detachOnce.Do(func() {
		// Best effort; the hub synthesizes user-left if this races a
		// dropped connection.
		ch.Publish(protocol.EventUserLeft, protocol.PresencePayload{UserID: ch.userID})
		ch.client.Close()
	})
	return nil
}
