package websocket

// PROPRIETARY AND CONFIDENTIAL
// This code contains trade secrets and confidential material of Patrik Fredon.
// Any unauthorized use, disclosure, or duplication is strictly prohibited.
// © 2025 Patrik Fredon. All rights reserved.

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

// Hub tracks at most one live connection per user. It is constructed and
// injected by the composition root; register, unregister, send and the
// heartbeat scan all run concurrently, so the map stays behind the mutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	logger *slog.Logger
	active prometheus.Gauge
}

func NewHub(logger *slog.Logger, active prometheus.Gauge) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		active:  active,
	}
}

// Register installs the client as its user's live connection. A newer
// connection for the same user wins: the superseded one is closed first
// so the socket does not leak.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	old, superseded := h.clients[client.UserID]
	h.clients[client.UserID] = client
	h.mu.Unlock()

	if superseded {
		old.Close()
		h.logger.Info("connection superseded", "userID", client.UserID)
	} else if h.active != nil {
		h.active.Inc()
	}
	h.logger.Info("client registered", "userID", client.UserID)
}

// Unregister removes the client, but only while it is still the current
// entry for its user; a superseded client must not evict its successor.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.UserID]
	if ok && current == client {
		delete(h.clients, client.UserID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		if h.active != nil {
			h.active.Dec()
		}
		h.logger.Info("client unregistered", "userID", client.UserID)
	}
}

// Send pushes one event to the user's live connection. It reports false
// when the user is offline or the connection is stalled; the event is
// dropped either way.
func (h *Hub) Send(userID string, event models.Event) bool {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug("user not connected", "userID", userID, "event", event.Event)
		return false
	}
	return h.push(client, event)
}

// Broadcast fans an event out to every live connection except one,
// without blocking on any stalled peer.
func (h *Hub) Broadcast(event models.Event, excludeUserID string) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event.Event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for userID, client := range h.clients {
		if userID != excludeUserID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(data) {
			h.Drop(client)
		}
	}
}

// Clients returns a snapshot for the heartbeat scan.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		out = append(out, client)
	}
	return out
}

// Drop terminates a dead connection and removes its registry entry.
func (h *Hub) Drop(client *Client) {
	client.Close()
	h.Unregister(client)
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) push(client *Client, event models.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event.Event, "error", err)
		return false
	}

	if !client.enqueue(data) {
		h.logger.Warn("send buffer full, dropping connection", "userID", client.UserID, "event", event.Event)
		h.Drop(client)
		return false
	}

	h.logger.Debug("event sent", "userID", client.UserID, "event", event.Event)
	return true
}
