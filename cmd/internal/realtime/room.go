package realtime

import (
	"log/slog"
	"sync"

	v1 "speranza/contracts/realtime/v1"
)

// Room is the in-memory membership + broadcast fanout primitive for one
// direct conversation. Members are keyed by user id; a user rejoining from
// a new connection replaces the previous membership.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room for a conversation id.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership, replacing any previous connection
// for the same user.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.UserID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.UserID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "conversation_id", r.ID, "user_id", client.UserID)
}

// Leave removes a user from membership. Unlike a disconnect, leaving a room
// does not shut the client down: the connection may be joined to other rooms.
func (r *Room) Leave(userID string) {
	if r == nil || userID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, userID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "conversation_id", r.ID, "user_id", userID)
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: if a member queue is full or the client is shutting down,
// the delivery is dropped.
func (r *Room) Broadcast(env v1.Envelope) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if !m.TryEnqueue(env) {
			metricDropped.WithLabelValues(env.Type).Inc()
		}
	}
}
