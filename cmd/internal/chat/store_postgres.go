package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is an alternative Store backend for deployments that run
// the platform on PostgreSQL instead of MongoDB.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close it.
//   - Close() is therefore a no-op.
//
// Each Message is an independent row; no cross-row transactions are used.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "speranza").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "speranza",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close(_ context.Context) error { return nil }

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, read, created_at, updated_at`

// Append persists a message with read=false after verifying the receiver exists.
func (s *PostgresStore) Append(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	content, err := validateAppend(senderID, receiverID, content)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	users := pgIdent(s.schema, "users")
	messages := pgIdent(s.schema, "messages")

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM `+users+` WHERE id = $1`, receiverID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: receiver", ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("lookup receiver: %w", err)
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

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Read, msg.CreatedAt, msg.UpdatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListConversations picks the newest message per conversation via
// DISTINCT ON, then joins unread counts and participant names.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")
	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (conversation_id) `+messageColumns+`
		   FROM `+messages+`
		  WHERE sender_id = $1 OR receiver_id = $1
		  ORDER BY conversation_id, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}

		other := m.SenderID
		if other == userID {
			other = m.ReceiverID
		}
		out = append(out, ConversationSummary{
			ConversationID: m.ConversationID,
			OtherUserID:    other,
			LastMessage:    m,
			UpdatedAt:      m.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	unread, err := s.unreadByConversation(ctx, messages, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out))
	for _, c := range out {
		ids = append(ids, c.OtherUserID)
	}
	nameRows, err := s.pool.Query(ctx, `SELECT id, display_name FROM `+users+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup participants: %w", err)
	}
	defer nameRows.Close()

	names := make(map[string]string, len(ids))
	for nameRows.Next() {
		var id, name string
		if err := nameRows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		names[id] = name
	}
	if err := nameRows.Err(); err != nil {
		return nil, fmt.Errorf("read participants: %w", err)
	}

	for i := range out {
		out[i].UnreadCount = unread[out[i].ConversationID]
		out[i].OtherName = names[out[i].OtherUserID]
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *PostgresStore) unreadByConversation(ctx context.Context, messagesTable, userID string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, COUNT(*)
		   FROM `+messagesTable+`
		  WHERE receiver_id = $1 AND NOT read
		  GROUP BY conversation_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var convID string
		var n int64
		if err := rows.Scan(&convID, &n); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		out[convID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read unread counts: %w", err)
	}
	return out, nil
}

// ListMessages pages the conversation newest-first, then returns the page
// oldest-first with IsOwn annotated.
func (s *PostgresStore) ListMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		ConversationID(userID, otherUserID), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var page []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	out := make([]Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		m.IsOwn = m.SenderID == userID
		out = append(out, m)
	}
	return out, nil
}

// MarkRead flips one message to read; the WHERE clause binds the reader
// to the receiver.
func (s *PostgresStore) MarkRead(ctx context.Context, messageID, readerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET read = TRUE, updated_at = now()
		  WHERE id = $1 AND receiver_id = $2`,
		messageID, readerID,
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConversationRead bulk-flips unread messages addressed to userID.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, userID, otherUserID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET read = TRUE, updated_at = now()
		  WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read`,
		ConversationID(userID, otherUserID), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts unread messages addressed to userID.
func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")

	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+messages+` WHERE receiver_id = $1 AND NOT read`,
		userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// Delete removes one message; the WHERE clause binds the requester to the sender.
func (s *PostgresStore) Delete(ctx context.Context, messageID, requesterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+messages+` WHERE id = $1 AND sender_id = $2`,
		messageID, requesterID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers matches display names case-insensitively by substring.
func (s *PostgresStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]UserSummary, error) {
	query, limit, err := validateSearch(query, limit)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name
		   FROM `+users+`
		  WHERE id <> $1 AND display_name ILIKE '%' || $2 || '%'
		  ORDER BY display_name
		  LIMIT $3`,
		excludeUserID, escapeLike(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var out []UserSummary
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	return out, nil
}

func scanMessage(rows pgx.Rows, m *Message) error {
	if err := rows.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.Read,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return fmt.Errorf("scan message: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

var _ Store = (*PostgresStore)(nil)
