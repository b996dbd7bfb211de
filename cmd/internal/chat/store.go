// Package chat contains Speranza's direct-message persistence boundary:
// the canonical conversation identity, the Store interface, and its
// in-memory, MongoDB, and PostgreSQL implementations.
package chat

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sentinel errors. Callers discriminate with errors.Is:
//   - ErrValidation: recoverable caller mistakes (empty/oversized content,
//     malformed ids, search query too short).
//   - ErrNotFound: the record does not exist OR the caller does not own the
//     right to act on it. The two cases are deliberately indistinguishable
//     to avoid leaking message existence.
//
// Any other error from a Store is a transient persistence failure; the
// caller may retry, the store never does.
var (
	ErrValidation = errors.New("chat: validation failed")
	ErrNotFound   = errors.New("chat: not found")
)

const (
	// MaxContentChars is the maximum direct-message length in runes.
	MaxContentChars = 1000

	// MinSearchChars is the minimum user-search query length.
	MinSearchChars = 2

	defaultPageLimit = 50
	maxPageLimit     = 200

	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Message is the canonical persisted direct message.
// Content is immutable after creation; the only mutation is the
// one-directional unread -> read transition.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	ReceiverID     string    `bson:"receiver_id" json:"receiver_id"`
	Content        string    `bson:"content" json:"content"`
	Read           bool      `bson:"read" json:"read"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`

	// IsOwn is annotated by ListMessages relative to the querying user.
	// It is never persisted.
	IsOwn bool `bson:"-" json:"is_own,omitempty"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	OtherUserID    string    `json:"other_user_id"`
	OtherName      string    `json:"other_name"`
	LastMessage    Message   `json:"last_message"`
	UnreadCount    int64     `json:"unread_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserSummary is a user-search result row.
type UserSummary struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"display_name" json:"display_name"`
}

// Store persists and queries direct messages. Implementations must keep
// single-message writes independent: there is no cross-message transaction.
type Store interface {
	// Append validates and persists a new message with read=false.
	// Fails with ErrValidation on bad input and ErrNotFound when the
	// receiver does not exist.
	Append(ctx context.Context, senderID, receiverID, content string) (Message, error)

	// ListConversations returns the user's conversations, newest first,
	// each summarized by its last message and the viewer's unread count.
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)

	// ListMessages returns one page of the conversation between userID and
	// otherUserID. Paging (limit/offset) applies newest-first; the returned
	// page is ordered oldest-first for display and annotated with IsOwn.
	ListMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]Message, error)

	// MarkRead flips one message to read. Only the receiver may do this;
	// re-marking an already-read message is a no-op success.
	MarkRead(ctx context.Context, messageID, readerID string) error

	// MarkConversationRead flips every unread message addressed to userID
	// within the conversation and returns the number changed.
	MarkConversationRead(ctx context.Context, userID, otherUserID string) (int64, error)

	// UnreadCount counts all unread messages addressed to userID.
	UnreadCount(ctx context.Context, userID string) (int64, error)

	// Delete removes one message. Only its sender may do this.
	Delete(ctx context.Context, messageID, requesterID string) error

	// SearchUsers matches display names case-insensitively by substring,
	// excluding excludeUserID. Queries shorter than MinSearchChars fail
	// with ErrValidation.
	SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]UserSummary, error)

	Close(ctx context.Context) error
}

// validateAppend normalizes and checks Append inputs.
// Returns the trimmed content on success.
func validateAppend(senderID, receiverID, content string) (string, error) {
	if strings.TrimSpace(senderID) == "" {
		return "", fmt.Errorf("%w: missing sender id", ErrValidation)
	}
	if strings.TrimSpace(receiverID) == "" {
		return "", fmt.Errorf("%w: missing receiver id", ErrValidation)
	}
	if senderID == receiverID {
		return "", fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrValidation)
	}
	if len([]rune(content)) > MaxContentChars {
		return "", fmt.Errorf("%w: content too long: max=%d chars", ErrValidation, MaxContentChars)
	}
	return content, nil
}

// validateSearch checks SearchUsers inputs and returns the trimmed query
// and clamped limit.
func validateSearch(query string, limit int) (string, int, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchChars {
		return "", 0, fmt.Errorf("%w: query too short: min=%d chars", ErrValidation, MinSearchChars)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return query, limit, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// NewMessageID returns a ULID message id. ULIDs are lexicographically
// sortable, which keeps ids useful for tracing across all store backends.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
