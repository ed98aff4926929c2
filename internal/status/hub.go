// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package status

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/metrics"
)

// Feed message types.
const (
	MessageTypeStatus  = "status"
	MessageTypeLibrary = "library"
)

// Message is one frame of the /ws/status feed.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// LibraryChange names the collection that changed locally.
type LibraryChange struct {
	Collection string `json:"collection"`
}

// Hub fans feed messages out to every connected UI client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewHub creates a Hub. Run it with Serve.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Register adds c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Serve runs the hub until ctx is cancelled, then closes every client.
//
// Lifecycle events are drained before broadcasts so a client registered
// just before a broadcast receives it.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) String() string { return "status-hub" }

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StatusSubscribers.Set(float64(n))
	logging.Debug().Int("total_clients", n).Msg("Status client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StatusSubscribers.Set(float64(n))
	logging.Debug().Int("total_clients", n).Msg("Status client disconnected")
}

// sortedClients returns the clients in id order. The caller holds mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// broadcastToClients delivers msg in client id order. Clients whose send
// buffer is full are dropped.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	var dropped []*Client
	for _, c := range h.sortedClients() {
		select {
		case c.send <- msg:
		default:
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		close(c.send)
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if len(dropped) > 0 {
		metrics.StatusSubscribers.Set(float64(n))
		logging.Warn().Int("dropped", len(dropped)).Msg("Slow status clients disconnected")
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	n := len(h.clients)
	for _, c := range h.sortedClients() {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.StatusSubscribers.Set(0)
	logging.Info().Int("clients_closed", n).Msg("Status hub stopped")
}

// Broadcast queues a message for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("Status broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
