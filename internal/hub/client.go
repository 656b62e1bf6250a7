package hub

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 64 KB covers the largest
	// SDP blobs with headroom.
	maxMessageSize = 64 * 1024
)

// Client is a wrapper for a single websocket connection (one participant's
// attachment to at most one room topic).
type Client struct {
	Hub *Hub

	// Conn is nil in tests that drive the hub directly.
	Conn *websocket.Conn

	// UserID and RoomID are set by the hub when the subscribe event is
	// processed; both are empty until then.
	UserID string
	RoomID string

	// Send is the buffered outbound queue drained by WritePump.
	Send chan *protocol.Envelope
}

// ReadPump pumps envelopes from the websocket connection to the hub.
//
// Runs in a per-connection goroutine; all reads happen here so there is at
// most one reader per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env protocol.Envelope
		if err := c.Conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "user", c.UserID, "err", err)
			}
			break
		}

		c.Hub.Dispatch(c, &env)
	}
}

// WritePump pumps envelopes from the hub to the websocket connection and
// sends periodic pings. At most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(env); err != nil {
				slog.Warn("websocket write failed", "user", c.UserID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
