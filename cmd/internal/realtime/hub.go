package realtime

import (
	"log/slog"
	"sync"

	v1 "speranza/contracts/realtime/v1"
)

// Hub owns the in-memory connection roster and conversation rooms.
// It is intentionally minimal: persistence lives behind chat.Store and
// presence state behind PresenceRegistry.
//
// The roster is always process-local even when presence is backed by a
// shared store: outbound emits can only target sockets this process holds.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	roster map[string]*Client
	rooms  map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		roster: make(map[string]*Client),
		rooms:  make(map[string]*Room),
	}
}

// Attach registers a user's connection, enforcing exactly one active
// connection per user. The replaced connection, if any, is returned so the
// caller can close it.
func (h *Hub) Attach(client *Client) *Client {
	if client == nil || client.UserID == "" {
		return nil
	}

	h.mu.Lock()
	prev := h.roster[client.UserID]
	h.roster[client.UserID] = client
	h.mu.Unlock()

	if prev == client {
		return nil
	}
	return prev
}

// Detach removes a user's connection, but only if it is still the one that
// was attached: a reconnect that already replaced the entry is left alone.
// It reports whether the roster actually changed.
func (h *Hub) Detach(client *Client) bool {
	if client == nil || client.UserID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roster[client.UserID] != client {
		return false
	}
	delete(h.roster, client.UserID)
	return true
}

// Client returns the active connection of a user, or nil if offline.
func (h *Hub) Client(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roster[userID]
}

// Room returns a stable in-memory room handle for a conversation id.
func (h *Hub) Room(conversationID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[conversationID]; ok {
		return r
	}

	r := NewRoom(h.log, conversationID)
	h.rooms[conversationID] = r
	return r
}

// BroadcastAll fanouts an envelope to every connected client except the
// user named by except (pass "" to reach everyone). Non-blocking; slow
// consumers are dropped rather than stalling the fanout.
func (h *Hub) BroadcastAll(env v1.Envelope, except string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, c := range h.roster {
		if userID == except {
			continue
		}
		if !c.TryEnqueue(env) {
			metricDropped.WithLabelValues(env.Type).Inc()
		}
	}
}
