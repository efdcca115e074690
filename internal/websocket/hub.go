// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

// Package websocket implements the real-time fan-out: new-message
// events are broadcast to every connected client whose conversation
// membership set contains the event's conversation id.
//
// Delivery is fire-and-forget and at-most-once. A send failure to one
// socket never affects other subscribers or the HTTP response already
// returned to the sender, and a lagging client whose buffer overflows
// simply misses events; there is no redelivery.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hearthnode/hearth/internal/logging"
)

// Event types pushed to clients.
const (
	EventTypeMessage = "message"
	EventTypePing    = "ping"
	EventTypePong    = "pong"
)

// Event is a fan-out payload. ConversationID scopes delivery to
// members of that conversation; an empty ConversationID reaches every
// client.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data"`
}

var (
	clientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_websocket_clients",
		Help: "Number of connected WebSocket clients.",
	})
	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_websocket_dropped_events_total",
		Help: "Events dropped because a client or hub buffer was full.",
	})
)

// Hub maintains the set of active clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub with a bounded broadcast backlog.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub without context support. Prefer Serve under
// supervision; Run remains for tests.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// Serve runs the hub until the context is canceled, then closes all
// clients and returns ctx.Err(). Designed for suture supervision.
//
// Selection is priority-ordered so shutdown and client lifecycle are
// always observed before the next broadcast: Go's select picks
// randomly among ready channels, which would otherwise let a busy
// broadcast stream starve an unregister.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Priority 1: shutdown.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle.
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: block on whichever comes next.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// String identifies the hub in supervisor logs.
func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(total))
	logging.Info().Int("total_clients", total).Str("user_id", client.userID).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// BroadcastMessage publishes a new-message event. The send is
// non-blocking: when the hub backlog is full the event is dropped with
// a warning rather than stalling the HTTP handler that produced it.
func (h *Hub) BroadcastMessage(conversationID string, message interface{}) {
	event := Event{
		Type:           EventTypeMessage,
		ConversationID: conversationID,
		Data:           message,
	}
	select {
	case h.broadcast <- event:
	default:
		droppedCounter.Inc()
		logging.Warn().Str("conversation_id", conversationID).Msg("broadcast backlog full, dropping event")
	}
}

// fanOut delivers an event to every subscribed client in a
// deterministic order. Clients not belonging to the event's
// conversation are skipped; clients with a full send buffer miss the
// event but stay connected and continue from the next one.
func (h *Hub) fanOut(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- event:
		default:
			droppedCounter.Inc()
			logging.Debug().Str("user_id", client.userID).Msg("client buffer full, event skipped")
		}
	}
}

// shutdown closes all connected clients in deterministic order.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	clientsGauge.Set(0)
	logging.Info().Str("component", "websocket-hub").Int("clients_closed", len(clients)).Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
