package session

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the remote participant's media stream as the session
// sees it; the view layer decides what to do with it.
type RemoteTrack interface {
	ID() string
	Codec() string
}

// LinkParams configures one media connection to a remote participant.
// Callbacks may fire from transport goroutines; the session re-posts them
// onto its own event queue.
type LinkParams struct {
	RemoteID  string
	Initiator bool

	// LocalTrack is the shared outgoing track; nil when the local capture
	// device was unavailable.
	LocalTrack webrtc.TrackLocal

	// OnSignal fires when a local handshake blob is ready to publish.
	OnSignal func(signal json.RawMessage)

	// OnTrack fires when the remote side's media arrives.
	OnTrack func(t RemoteTrack)

	// OnChannelOpen fires when the peer's data channel becomes usable.
	OnChannelOpen func()

	// OnMessage fires for each inbound data channel message.
	OnMessage func(data []byte)
}

// Link is one peer-to-peer media connection. The session owns every link
// it opens and must Close each one exactly once.
type Link interface {
	// Signal feeds a remote handshake blob into the connection.
	Signal(signal json.RawMessage) error

	// Send transmits a data channel message to the remote side.
	Send(data []byte) error

	Close() error
}

// Connector opens peer links. The production implementation is
// PionConnector; tests substitute a fake.
type Connector interface {
	Open(p LinkParams) (Link, error)
}
