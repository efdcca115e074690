// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthnode/hearth/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// clientIDCounter gives clients a stable sort key so broadcast and
// shutdown iterate in a consistent order.
var clientIDCounter atomic.Uint64

// Client bridges one websocket connection and the hub.
//
// conversations is the member-conversation id set loaded once at
// connect time; it is not re-queried per event. A membership change
// takes effect on the next connection.
type Client struct {
	id            uint64
	hub           *Hub
	conn          *websocket.Conn
	send          chan Event
	userID        string
	conversations map[string]struct{}
}

// NewClient creates a client for an authenticated user with its
// conversation membership snapshot.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, conversations map[string]struct{}) *Client {
	if conversations == nil {
		conversations = map[string]struct{}{}
	}
	return &Client{
		id:            clientIDCounter.Add(1),
		hub:           hub,
		conn:          conn,
		send:          make(chan Event, 256),
		userID:        userID,
		conversations: conversations,
	}
}

// UserID returns the authenticated user this client belongs to.
func (c *Client) UserID() string { return c.userID }

// wants reports whether the event passes this client's conversation
// filter. Unscoped events reach everyone.
func (c *Client) wants(event Event) bool {
	if event.ConversationID == "" {
		return true
	}
	_, member := c.conversations[event.ConversationID]
	return member
}

// readPump pumps inbound frames; its only job is pong bookkeeping and
// detecting the close. Either socket error or hub shutdown ends the
// connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var event Event
		if err := c.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Msg("unexpected websocket close")
			}
			break
		}
		if event.Type == EventTypePing {
			select {
			case c.send <- Event{Type: EventTypePong}:
			default:
			}
		}
	}
}

// writePump pumps hub events to the socket and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
