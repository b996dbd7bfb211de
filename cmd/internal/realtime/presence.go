package realtime

import (
	"context"
	"errors"
	"time"
)

// Status is a user's live connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the recognized status values.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusDND, StatusOffline:
		return true
	}
	return false
}

var (
	// ErrInvalidStatus is returned when a status value is not in the allowed set.
	ErrInvalidStatus = errors.New("realtime: invalid status")

	// ErrNotTracked is returned for users with no presence entry (never
	// connected, or the post-disconnect grace window elapsed).
	ErrNotTracked = errors.New("realtime: user not tracked")
)

// PresenceEntry is one user's presence record.
type PresenceEntry struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
}

// PresenceRegistry tracks which users are connected and with what status.
//
// Entries survive a disconnect for a grace window (status offline) so that
// IsOnline/StatusOf checks made just after a drop still resolve; after the
// window the entry is gone and StatusOf fails with ErrNotTracked.
//
// The in-memory implementation is process-local; the Redis implementation
// shares state across gateway instances. Connection handles are never part
// of this interface — they stay in the Hub roster.
type PresenceRegistry interface {
	// Register inserts or overwrites the user's entry with status online.
	Register(ctx context.Context, userID, displayName string) error

	// Unregister marks the user offline and schedules entry removal after
	// the grace window.
	Unregister(ctx context.Context, userID string) error

	// SetStatus updates a tracked user's status. Unrecognized values fail
	// with ErrInvalidStatus; untracked users with ErrNotTracked.
	SetStatus(ctx context.Context, userID string, status Status) error

	// Touch refreshes the user's lastSeen (and, for TTL-backed
	// implementations, the entry's liveness deadline).
	Touch(ctx context.Context, userID string) error

	IsOnline(ctx context.Context, userID string) (bool, error)
	StatusOf(ctx context.Context, userID string) (Status, error)

	// Snapshot lists every tracked user that is not offline.
	Snapshot(ctx context.Context) ([]PresenceEntry, error)
}
