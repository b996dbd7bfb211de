package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newSeededStore() *InMemoryStore {
	s := NewInMemoryStore()
	s.AddUser("alice", "Alice Cartwright")
	s.AddUser("bob", "Bob the Trader")
	s.AddUser("carol", "Carol")
	return s
}

func TestInMemoryStore_AppendValidation(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	cases := []struct {
		name     string
		sender   string
		receiver string
		content  string
		wantErr  error
	}{
		{name: "empty content", sender: "alice", receiver: "bob", content: "", wantErr: ErrValidation},
		{name: "whitespace content", sender: "alice", receiver: "bob", content: " \t\n ", wantErr: ErrValidation},
		{name: "too long", sender: "alice", receiver: "bob", content: strings.Repeat("x", MaxContentChars+1), wantErr: ErrValidation},
		{name: "self message", sender: "alice", receiver: "alice", content: "hi", wantErr: ErrValidation},
		{name: "missing sender", sender: "", receiver: "bob", content: "hi", wantErr: ErrValidation},
		{name: "unknown receiver", sender: "alice", receiver: "nobody", content: "hi", wantErr: ErrNotFound},
	}

	for _, tc := range cases {
		_, err := s.Append(ctx, tc.sender, tc.receiver, tc.content)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.wantErr)
		}
	}

	// Max-length content is accepted, and surrounding whitespace is trimmed.
	msg, err := s.Append(ctx, "alice", "bob", "  "+strings.Repeat("y", MaxContentChars)+"  ")
	if err != nil {
		t.Fatalf("Append at limit: %v", err)
	}
	if len([]rune(msg.Content)) != MaxContentChars {
		t.Fatalf("expected trimmed content of %d runes, got %d", MaxContentChars, len([]rune(msg.Content)))
	}
	if msg.Read {
		t.Fatalf("new messages must start unread")
	}
	if msg.ConversationID != ConversationID("alice", "bob") {
		t.Fatalf("unexpected conversation id %q", msg.ConversationID)
	}
}

func TestInMemoryStore_ListMessagesBothDirections(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "alice", "bob", "first"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "bob", "alice", "second"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "alice", "carol", "unrelated"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Both participants see the same conversation regardless of argument order.
	forAlice, err := s.ListMessages(ctx, "alice", "bob", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	forBob, err := s.ListMessages(ctx, "bob", "alice", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(forAlice) != 2 || len(forBob) != 2 {
		t.Fatalf("expected 2 messages each, got %d and %d", len(forAlice), len(forBob))
	}

	// Oldest first for display.
	if forAlice[0].Content != "first" || forAlice[1].Content != "second" {
		t.Fatalf("wrong display order: %q, %q", forAlice[0].Content, forAlice[1].Content)
	}

	// IsOwn is relative to the querying user.
	if !forAlice[0].IsOwn || forAlice[1].IsOwn {
		t.Fatalf("IsOwn wrong for alice: %+v", forAlice)
	}
	if forBob[0].IsOwn || !forBob[1].IsOwn {
		t.Fatalf("IsOwn wrong for bob: %+v", forBob)
	}
}

func TestInMemoryStore_ListMessagesPaging(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	contents := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, c := range contents {
		if _, err := s.Append(ctx, "alice", "bob", c); err != nil {
			t.Fatalf("Append %q: %v", c, err)
		}
	}

	// Page of the 2 newest.
	page, err := s.ListMessages(ctx, "alice", "bob", 2, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m4" || page[1].Content != "m5" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	// Next page going back in time.
	page, err = s.ListMessages(ctx, "alice", "bob", 2, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 || page[0].Content != "m2" || page[1].Content != "m3" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	// Offset past the end is empty, not an error.
	page, err = s.ListMessages(ctx, "alice", "bob", 2, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestInMemoryStore_MarkRead(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	msg, err := s.Append(ctx, "alice", "bob", "read me")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Only the receiver may mark it read; the sender gets not-found.
	if err := s.MarkRead(ctx, msg.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sender mark-read: got %v, want ErrNotFound", err)
	}
	if err := s.MarkRead(ctx, "no-such-id", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}

	if err := s.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	// Idempotent.
	if err := s.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "bob", "alice", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].Read {
		t.Fatalf("message should be read: %+v", msgs)
	}
}

func TestInMemoryStore_MarkConversationReadAndUnreadCount(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	for range 3 {
		if _, err := s.Append(ctx, "alice", "bob", "ping"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := s.Append(ctx, "carol", "bob", "other thread"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := s.UnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 unread, got %d", n)
	}

	changed, err := s.MarkConversationRead(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if changed != 3 {
		t.Fatalf("expected 3 changed, got %d", changed)
	}

	// Second pass changes nothing.
	changed, err = s.MarkConversationRead(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("second MarkConversationRead: %v", err)
	}
	if changed != 0 {
		t.Fatalf("expected 0 changed, got %d", changed)
	}

	n, err = s.UnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected carol's message to stay unread, got %d", n)
	}
}

func TestInMemoryStore_ListConversations(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "alice", "bob", "hey bob"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "carol", "alice", "hey alice"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	convs, err := s.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %+v", convs)
	}

	// Newest activity first.
	if convs[0].OtherUserID != "carol" || convs[1].OtherUserID != "bob" {
		t.Fatalf("wrong order: %+v", convs)
	}
	if convs[0].OtherName != "Carol" {
		t.Fatalf("missing display name: %+v", convs[0])
	}
	if convs[0].UnreadCount != 1 {
		t.Fatalf("carol's message should count unread for alice: %+v", convs[0])
	}
	if convs[1].UnreadCount != 0 {
		t.Fatalf("alice's own message must not count unread: %+v", convs[1])
	}
	if convs[0].LastMessage.Content != "hey alice" {
		t.Fatalf("wrong last message: %+v", convs[0].LastMessage)
	}
}

func TestInMemoryStore_DeleteOwnership(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	msg, err := s.Append(ctx, "alice", "bob", "oops")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Only the sender may delete.
	if err := s.Delete(ctx, msg.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("receiver delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, msg.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, msg.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: got %v, want ErrNotFound", err)
	}

	msgs, err := s.ListMessages(ctx, "alice", "bob", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty conversation, got %+v", msgs)
	}
}

func TestInMemoryStore_SearchUsers(t *testing.T) {
	t.Parallel()

	s := newSeededStore()
	ctx := context.Background()

	if _, err := s.SearchUsers(ctx, "a", "alice", 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("one-char query must fail validation")
	}

	got, err := s.SearchUsers(ctx, "BOB", "alice", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(got) != 1 || got[0].ID != "bob" {
		t.Fatalf("case-insensitive match failed: %+v", got)
	}

	// The requester is excluded from results.
	got, err = s.SearchUsers(ctx, "car", "carol", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	for _, u := range got {
		if u.ID == "carol" {
			t.Fatalf("requester must be excluded: %+v", got)
		}
	}
}
