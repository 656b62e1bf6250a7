// Package signaling provides the client side of the room broadcast
// channel: a websocket connection to the hub and the attach/publish/detach
// lifecycle of a single room topic.
package signaling

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *protocol.Envelope
	outgoing  chan *protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new signaling client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan *protocol.Envelope, 32),
		outgoing:  make(chan *protocol.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection to the server.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads envelopes from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		select {
		case c.incoming <- &env:
		case <-c.done:
			return
		}
	}
}

// writePump writes envelopes to the WebSocket connection and sends
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for delivery to the server.
func (c *Client) Send(env *protocol.Envelope) {
	select {
	case c.outgoing <- env:
	case <-c.done:
	}
}

// Incoming returns the channel of envelopes received from the server.
func (c *Client) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
