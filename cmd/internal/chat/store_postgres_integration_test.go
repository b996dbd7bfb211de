package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when SPERANZA_TEST_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("SPERANZA_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SPERANZA_TEST_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := fmt.Sprintf("speranza_it_%d", time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ddl := []string{
		`CREATE SCHEMA ` + schema,
		`CREATE TABLE ` + schema + `.users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL
		)`,
		`CREATE TABLE ` + schema + `.messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX ON ` + schema + `.messages (conversation_id, created_at DESC)`,
		`CREATE INDEX ON ` + schema + `.messages (receiver_id, read)`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("ddl %q: %v", stmt[:40], err)
		}
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA `+schema+` CASCADE`)
	})
	return schema
}

func mustSeedUsers(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for id, name := range map[string]string{
		"alice": "Alice Cartwright",
		"bob":   "Bob the Trader",
		"carol": "Carol",
	} {
		if _, err := pool.Exec(ctx,
			`INSERT INTO `+schema+`.users (id, display_name) VALUES ($1, $2)`, id, name); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func newPGTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateTestSchema(t, pool)
	mustSeedUsers(t, pool, schema)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return store, ctx
}

func TestPostgresStore_AppendAndListMessages(t *testing.T) {
	store, ctx := newPGTestStore(t)

	if _, err := store.Append(ctx, "alice", "bob", "first"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append(ctx, "bob", "alice", "second"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append(ctx, "alice", "nobody", "lost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown receiver: got %v, want ErrNotFound", err)
	}

	msgs, err := store.ListMessages(ctx, "alice", "bob", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("wrong display order: %+v", msgs)
	}
	if !msgs[0].IsOwn || msgs[1].IsOwn {
		t.Fatalf("IsOwn wrong: %+v", msgs)
	}
}

func TestPostgresStore_ReadStateAndConversations(t *testing.T) {
	store, ctx := newPGTestStore(t)

	msg, err := store.Append(ctx, "alice", "bob", "unread ping")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append(ctx, "carol", "bob", "other thread"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Only the receiver can mark read; the sender gets not-found.
	if err := store.MarkRead(ctx, msg.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sender mark-read: got %v, want ErrNotFound", err)
	}
	if err := store.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := store.MarkRead(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("idempotent MarkRead: %v", err)
	}

	n, err := store.UnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unread left, got %d", n)
	}

	convs, err := store.ListConversations(ctx, "bob")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %+v", convs)
	}
	if convs[0].OtherUserID != "carol" {
		t.Fatalf("newest conversation first, got %+v", convs[0])
	}
	if convs[0].OtherName != "Carol" {
		t.Fatalf("display name lookup failed: %+v", convs[0])
	}
}

func TestPostgresStore_DeleteAndSearch(t *testing.T) {
	store, ctx := newPGTestStore(t)

	msg, err := store.Append(ctx, "alice", "bob", "remove me")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := store.Delete(ctx, msg.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("receiver delete: got %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, msg.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	users, err := store.SearchUsers(ctx, "trader", "alice", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != "bob" {
		t.Fatalf("expected bob, got %+v", users)
	}
}
