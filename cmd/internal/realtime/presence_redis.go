package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPresencePrefix = "presence:"

	// Liveness TTL for connected users; refreshed on Touch (heartbeat).
	// A crashed gateway instance stops touching and its users expire.
	redisPresenceLiveTTL = 90 * time.Second
)

const (
	fieldDisplayName = "display_name"
	fieldStatus      = "status"
	fieldLastSeen    = "last_seen"
)

// RedisPresence is a PresenceRegistry backed by a shared Redis instance,
// for deployments running more than one gateway process. Entries are hashes
// with a TTL: the liveness TTL while connected, the grace window once
// disconnected.
type RedisPresence struct {
	rdb   *redis.Client
	grace time.Duration
}

// NewRedisPresence constructs a Redis-backed registry. A non-positive grace
// falls back to PresenceGrace.
func NewRedisPresence(rdb *redis.Client, grace time.Duration) (*RedisPresence, error) {
	if rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	if grace <= 0 {
		grace = PresenceGrace
	}
	return &RedisPresence{rdb: rdb, grace: grace}, nil
}

func presenceKey(userID string) string {
	return redisPresencePrefix + userID
}

// Register inserts or overwrites the user's entry with status online.
func (p *RedisPresence) Register(ctx context.Context, userID, displayName string) error {
	key := presenceKey(userID)

	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldDisplayName: displayName,
		fieldStatus:      string(StatusOnline),
		fieldLastSeen:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, redisPresenceLiveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence register: %w", err)
	}
	return nil
}

// Unregister marks the user offline; the entry expires after the grace window.
func (p *RedisPresence) Unregister(ctx context.Context, userID string) error {
	key := presenceKey(userID)

	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldStatus:   string(StatusOffline),
		fieldLastSeen: time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, p.grace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence unregister: %w", err)
	}
	return nil
}

// SetStatus updates a tracked user's status and refreshes lastSeen.
func (p *RedisPresence) SetStatus(ctx context.Context, userID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	key := presenceKey(userID)

	n, err := p.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("presence exists: %w", err)
	}
	if n == 0 {
		return ErrNotTracked
	}

	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldStatus:   string(status),
		fieldLastSeen: time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, redisPresenceLiveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence set status: %w", err)
	}
	return nil
}

// Touch refreshes lastSeen and the liveness TTL.
func (p *RedisPresence) Touch(ctx context.Context, userID string) error {
	key := presenceKey(userID)

	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldLastSeen, time.Now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, redisPresenceLiveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

// IsOnline reports whether the user is tracked with a non-offline status.
func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	status, err := p.rdb.HGet(ctx, presenceKey(userID), fieldStatus).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence is online: %w", err)
	}
	return Status(status) != StatusOffline, nil
}

// StatusOf resolves the user's status, including offline entries still
// inside the grace window.
func (p *RedisPresence) StatusOf(ctx context.Context, userID string) (Status, error) {
	status, err := p.rdb.HGet(ctx, presenceKey(userID), fieldStatus).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOffline, ErrNotTracked
	}
	if err != nil {
		return StatusOffline, fmt.Errorf("presence status of: %w", err)
	}
	return Status(status), nil
}

// Snapshot scans the presence keyspace and lists every non-offline user.
// SCAN-based, so it is eventually consistent under churn; good enough for
// a presence sidebar.
func (p *RedisPresence) Snapshot(ctx context.Context) ([]PresenceEntry, error) {
	var out []PresenceEntry

	iter := p.rdb.Scan(ctx, 0, redisPresencePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		fields, err := p.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("presence snapshot: %w", err)
		}
		if len(fields) == 0 {
			// Expired between SCAN and HGETALL.
			continue
		}

		status := Status(fields[fieldStatus])
		if status == StatusOffline {
			continue
		}

		lastSeen, _ := time.Parse(time.RFC3339Nano, fields[fieldLastSeen])
		out = append(out, PresenceEntry{
			UserID:      strings.TrimPrefix(key, redisPresencePrefix),
			DisplayName: fields[fieldDisplayName],
			Status:      status,
			LastSeen:    lastSeen,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence snapshot scan: %w", err)
	}
	return out, nil
}

var _ PresenceRegistry = (*RedisPresence)(nil)
