package realtime

import (
	"sync"
	"time"
)

// TypingRegistry tracks which users are currently typing in which
// conversation. Entries are ephemeral and expire after a TTL so that a
// disconnect mid-typing cannot leave a flag stuck forever.
type TypingRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]map[string]time.Time // conversation id -> user id -> started at
}

// NewTypingRegistry constructs a registry. A non-positive ttl falls back
// to TypingTTL.
func NewTypingRegistry(ttl time.Duration) *TypingRegistry {
	if ttl <= 0 {
		ttl = TypingTTL
	}
	return &TypingRegistry{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]map[string]time.Time),
	}
}

// Start marks userID as typing in conversationID (refreshing the deadline
// if already set).
func (t *TypingRegistry) Start(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.entries[conversationID]
	if users == nil {
		users = make(map[string]time.Time)
		t.entries[conversationID] = users
	}
	users[userID] = t.now()
}

// Stop clears userID's typing flag in conversationID and reports whether
// a live (non-expired) flag was actually cleared.
func (t *TypingRegistry) Stop(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.entries[conversationID]
	if !ok {
		return false
	}

	started, ok := users[userID]
	if ok {
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(t.entries, conversationID)
	}
	return ok && t.now().Sub(started) < t.ttl
}

// IsTyping reports whether userID has a live typing flag in conversationID.
func (t *TypingRegistry) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeLocked(conversationID)

	users, ok := t.entries[conversationID]
	if !ok {
		return false
	}
	_, ok = users[userID]
	return ok
}

// Typists lists the users with a live typing flag in conversationID.
func (t *TypingRegistry) Typists(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeLocked(conversationID)

	users := t.entries[conversationID]
	if len(users) == 0 {
		return nil
	}
	out := make([]string, 0, len(users))
	for userID := range users {
		out = append(out, userID)
	}
	return out
}

// purgeLocked drops expired flags for one conversation. Caller holds t.mu.
func (t *TypingRegistry) purgeLocked(conversationID string) {
	users, ok := t.entries[conversationID]
	if !ok {
		return
	}

	cut := t.now().Add(-t.ttl)
	for userID, started := range users {
		if !started.After(cut) {
			delete(users, userID)
		}
	}
	if len(users) == 0 {
		delete(t.entries, conversationID)
	}
}
