package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryPresence is the process-local PresenceRegistry. State is rebuilt
// from scratch on restart; it is not shared across gateway instances.
type MemoryPresence struct {
	grace time.Duration

	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	PresenceEntry
	reap *time.Timer
}

// NewMemoryPresence constructs an in-memory registry. A non-positive grace
// falls back to PresenceGrace.
func NewMemoryPresence(grace time.Duration) *MemoryPresence {
	if grace <= 0 {
		grace = PresenceGrace
	}
	return &MemoryPresence{
		grace:   grace,
		entries: make(map[string]*memEntry),
	}
}

// Register inserts or overwrites the user's entry with status online.
// A pending grace-window removal is cancelled, so rapid reconnects do not
// flicker visibility.
func (p *MemoryPresence) Register(_ context.Context, userID, displayName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[userID]; ok && e.reap != nil {
		e.reap.Stop()
		e.reap = nil
	}

	p.entries[userID] = &memEntry{PresenceEntry: PresenceEntry{
		UserID:      userID,
		DisplayName: displayName,
		Status:      StatusOnline,
		LastSeen:    time.Now().UTC(),
	}}
	return nil
}

// Unregister marks the user offline and schedules removal after the grace window.
func (p *MemoryPresence) Unregister(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok {
		return nil
	}

	e.Status = StatusOffline
	e.LastSeen = time.Now().UTC()

	if e.reap != nil {
		e.reap.Stop()
	}
	e.reap = time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		// Only reap if the user is still the offline entry we scheduled;
		// a re-register replaced the entry and stopped this timer, but the
		// stop can race with the timer already firing.
		if cur, ok := p.entries[userID]; ok && cur == e {
			delete(p.entries, userID)
		}
	})
	return nil
}

// SetStatus updates a tracked user's status and refreshes lastSeen.
func (p *MemoryPresence) SetStatus(_ context.Context, userID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok {
		return ErrNotTracked
	}
	e.Status = status
	e.LastSeen = time.Now().UTC()
	return nil
}

// Touch refreshes the user's lastSeen.
func (p *MemoryPresence) Touch(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[userID]; ok {
		e.LastSeen = time.Now().UTC()
	}
	return nil
}

// IsOnline reports whether the user is tracked with a non-offline status.
func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	return ok && e.Status != StatusOffline, nil
}

// StatusOf resolves the user's status, including offline entries still
// inside the grace window.
func (p *MemoryPresence) StatusOf(_ context.Context, userID string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok {
		return StatusOffline, ErrNotTracked
	}
	return e.Status, nil
}

// Snapshot lists every tracked user that is not offline, ordered by user id
// for deterministic output.
func (p *MemoryPresence) Snapshot(_ context.Context) ([]PresenceEntry, error) {
	p.mu.Lock()
	out := make([]PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Status == StatusOffline {
			continue
		}
		out = append(out, e.PresenceEntry)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

var _ PresenceRegistry = (*MemoryPresence)(nil)
