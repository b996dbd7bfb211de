package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// InMemoryStore is a dev/test fallback used when no database is configured.
// Everything lives behind one mutex; it is not meant for production load.
type InMemoryStore struct {
	mu    sync.Mutex
	msgs  []Message
	byID  map[string]int // message id -> index in msgs
	users []UserSummary
	names map[string]string // user id -> display name
}

// NewInMemoryStore constructs an empty in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]int),
		names: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close(_ context.Context) error { return nil }

// AddUser seeds the user directory. The real directory is owned by the
// platform's auth/profile subsystem; this exists for dev and tests only.
func (s *InMemoryStore) AddUser(id, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[id]; !ok {
		s.users = append(s.users, UserSummary{ID: id, DisplayName: displayName})
	}
	s.names[id] = displayName
}

// Append persists a message with read=false.
func (s *InMemoryStore) Append(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	content, err := validateAppend(senderID, receiverID, content)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[receiverID]; !ok {
		return Message{}, fmt.Errorf("%w: receiver", ErrNotFound)
	}

	now := time.Now().UTC()
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             id,
		ConversationID: ConversationID(senderID, receiverID),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Read:           false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.byID[msg.ID] = len(s.msgs)
	s.msgs = append(s.msgs, msg)
	return msg, nil
}

// ListConversations groups the user's messages by conversation.
// O(all messages); acceptable for the dev store.
func (s *InMemoryStore) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byConv := make(map[string]*ConversationSummary)
	for _, m := range s.msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}

		sum := byConv[m.ConversationID]
		if sum == nil {
			other := m.SenderID
			if other == userID {
				other = m.ReceiverID
			}
			sum = &ConversationSummary{
				ConversationID: m.ConversationID,
				OtherUserID:    other,
				OtherName:      s.names[other],
			}
			byConv[m.ConversationID] = sum
		}

		if !m.CreatedAt.Before(sum.LastMessage.CreatedAt) {
			sum.LastMessage = m
			sum.UpdatedAt = m.CreatedAt
		}
		if m.ReceiverID == userID && !m.Read {
			sum.UnreadCount++
		}
	}

	out := lo.MapToSlice(byConv, func(_ string, sum *ConversationSummary) ConversationSummary {
		return *sum
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListMessages pages the conversation newest-first, then returns the page
// oldest-first with IsOwn annotated.
func (s *InMemoryStore) ListMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	convID := ConversationID(userID, otherUserID)

	s.mu.Lock()
	matched := lo.Filter(s.msgs, func(m Message, _ int) bool {
		return m.ConversationID == convID
	})
	s.mu.Unlock()

	// Newest first for paging.
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[offset:end]

	// Oldest first for display.
	out := make([]Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		m.IsOwn = m.SenderID == userID
		out = append(out, m)
	}
	return out, nil
}

// MarkRead flips one message to read; only the receiver may do this.
func (s *InMemoryStore) MarkRead(ctx context.Context, messageID, readerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[messageID]
	if !ok || s.msgs[idx].ReceiverID != readerID {
		return ErrNotFound
	}
	if !s.msgs[idx].Read {
		s.msgs[idx].Read = true
		s.msgs[idx].UpdatedAt = time.Now().UTC()
	}
	return nil
}

// MarkConversationRead bulk-flips unread messages addressed to userID.
func (s *InMemoryStore) MarkConversationRead(ctx context.Context, userID, otherUserID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	convID := ConversationID(userID, otherUserID)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.ConversationID == convID && m.ReceiverID == userID && !m.Read {
			m.Read = true
			m.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// UnreadCount counts unread messages addressed to userID.
func (s *InMemoryStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(lo.CountBy(s.msgs, func(m Message) bool {
		return m.ReceiverID == userID && !m.Read
	})), nil
}

// Delete removes one message; only its sender may do this.
func (s *InMemoryStore) Delete(ctx context.Context, messageID, requesterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[messageID]
	if !ok || s.msgs[idx].SenderID != requesterID {
		return ErrNotFound
	}

	s.msgs = append(s.msgs[:idx], s.msgs[idx+1:]...)
	delete(s.byID, messageID)
	for i := idx; i < len(s.msgs); i++ {
		s.byID[s.msgs[i].ID] = i
	}
	return nil
}

// SearchUsers matches display names case-insensitively by substring.
func (s *InMemoryStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]UserSummary, error) {
	query, limit, err := validateSearch(query, limit)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UserSummary, 0, limit)
	for _, u := range s.users {
		if u.ID == excludeUserID {
			continue
		}
		if !strings.Contains(strings.ToLower(u.DisplayName), needle) {
			continue
		}
		out = append(out, u)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*InMemoryStore)(nil)
