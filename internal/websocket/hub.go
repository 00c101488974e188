// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package websocket streams training progress to connected clients.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/metrics"
	"github.com/preferolabs/prefero/internal/state"
)

// Message types sent over the wire.
const (
	MessageTypeTrainingProgress = "training_progress"
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
)

// Message is a typed websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks connected clients and fans broadcast messages out to
// them. Slow clients are dropped rather than allowed to block the
// training pipeline's progress updates.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub. Run it with Serve.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Serve runs the hub loop until ctx is canceled. It satisfies
// suture.Service. On shutdown every client is closed.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			closed := h.closeAllClients()
			logging.Info().Int("clients_closed", closed).Msg("Websocket hub stopped")
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSConnectionsActive.Set(float64(total))
			logging.Debug().Int("total_clients", total).Msg("Websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSConnectionsActive.Set(float64(total))
			logging.Debug().Int("total_clients", total).Msg("Websocket client disconnected")

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

// Broadcast queues a message for all connected clients. If the queue
// is full the message is dropped; progress updates are superseded by
// the next one anyway.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn().Str("type", msg.Type).Msg("Websocket broadcast queue full, dropping message")
	}
}

// BroadcastJob streams a training job update. Implements the trainer's
// Broadcaster.
func (h *Hub) BroadcastJob(job *state.TrainingJob) {
	h.Broadcast(Message{Type: MessageTypeTrainingProgress, Data: job})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastToClients delivers msg to every client in ID order so tests
// observe a stable delivery sequence. Clients with a full send buffer
// are disconnected.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg:
			metrics.WSMessagesSent.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WSConnectionsActive.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("Dropped slow websocket clients")
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnectionsActive.Set(0)
	return n
}
