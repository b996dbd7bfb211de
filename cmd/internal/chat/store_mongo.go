package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMessagesCollection = "messages"
	defaultUsersCollection    = "users"

	mongoWriteTimeout = 5 * time.Second
	mongoReadTimeout  = 15 * time.Second
)

// MongoStore is the production Store backed by MongoDB.
//
// Ownership model:
//   - MongoStore does NOT own the mongo client. The caller disconnects it.
//   - The users collection belongs to the platform's auth/profile subsystem;
//     this store only ever reads it.
type MongoStore struct {
	messages *mongo.Collection
	users    *mongo.Collection
}

// MongoOption configures MongoStore behavior.
type MongoOption func(*mongoConfig)

type mongoConfig struct {
	messages string
	users    string
}

// WithCollections overrides the messages/users collection names.
func WithCollections(messages, users string) MongoOption {
	return func(c *mongoConfig) {
		if strings.TrimSpace(messages) != "" {
			c.messages = messages
		}
		if strings.TrimSpace(users) != "" {
			c.users = users
		}
	}
}

// NewMongoStore constructs a MongoDB-backed Store.
func NewMongoStore(db *mongo.Database, opts ...MongoOption) (*MongoStore, error) {
	if db == nil {
		return nil, errors.New("chat: nil mongo database")
	}

	cfg := mongoConfig{
		messages: defaultMessagesCollection,
		users:    defaultUsersCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return &MongoStore{
		messages: db.Collection(cfg.messages),
		users:    db.Collection(cfg.users),
	}, nil
}

// Close is a no-op because the client is owned by the caller.
func (s *MongoStore) Close(_ context.Context) error { return nil }

// EnsureIndexes creates the indexes the query patterns depend on:
// (conversation_id, created_at desc), (sender_id, created_at desc),
// (receiver_id, read).
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "read", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

// Append persists a message with read=false after verifying the receiver exists.
func (s *MongoStore) Append(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	content, err := validateAppend(senderID, receiverID, content)
	if err != nil {
		return Message{}, err
	}

	ctx, cancel := ensureTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	n, err := s.users.CountDocuments(ctx, bson.M{"_id": receiverID}, options.Count().SetLimit(1))
	if err != nil {
		return Message{}, fmt.Errorf("lookup receiver: %w", err)
	}
	if n == 0 {
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
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

type mongoConvRow struct {
	ConvID string  `bson:"_id"`
	Last   Message `bson:"last"`
	Unread int64   `bson:"unread"`
}

// ListConversations groups the user's messages by conversation server-side.
func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	ctx, cancel := ensureTimeout(ctx, mongoReadTimeout)
	defer cancel()

	unread := bson.M{"$sum": bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{"$receiver_id", userID}},
			bson.M{"$eq": bson.A{"$read", false}},
		}},
		1, 0,
	}}}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"sender_id": userID},
			bson.M{"receiver_id": userID},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":    "$conversation_id",
			"last":   bson.M{"$first": "$$ROOT"},
			"unread": unread,
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last.created_at", Value: -1}}}},
	}

	cursor, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []mongoConvRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	out := lo.Map(rows, func(r mongoConvRow, _ int) ConversationSummary {
		other := r.Last.SenderID
		if other == userID {
			other = r.Last.ReceiverID
		}
		return ConversationSummary{
			ConversationID: r.ConvID,
			OtherUserID:    other,
			LastMessage:    r.Last,
			UnreadCount:    r.Unread,
			UpdatedAt:      r.Last.CreatedAt,
		}
	})

	if err := s.fillDisplayNames(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) fillDisplayNames(ctx context.Context, sums []ConversationSummary) error {
	if len(sums) == 0 {
		return nil
	}

	ids := lo.Uniq(lo.Map(sums, func(c ConversationSummary, _ int) string { return c.OtherUserID }))

	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("lookup participants: %w", err)
	}
	defer cursor.Close(ctx)

	var users []UserSummary
	if err := cursor.All(ctx, &users); err != nil {
		return fmt.Errorf("decode participants: %w", err)
	}

	names := lo.SliceToMap(users, func(u UserSummary) (string, string) { return u.ID, u.DisplayName })
	for i := range sums {
		sums[i].OtherName = names[sums[i].OtherUserID]
	}
	return nil
}

// ListMessages pages the conversation newest-first, then returns the page
// oldest-first with IsOwn annotated.
func (s *MongoStore) ListMessages(ctx context.Context, userID, otherUserID string, limit, offset int) ([]Message, error) {
	limit, offset = clampPage(limit, offset)

	ctx, cancel := ensureTimeout(ctx, mongoReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": ConversationID(userID, otherUserID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var page []Message
	if err := cursor.All(ctx, &page); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make([]Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		m.IsOwn = m.SenderID == userID
		out = append(out, m)
	}
	return out, nil
}

// MarkRead flips one message to read atomically. The filter binds the
// reader to the receiver, so a non-receiver caller matches nothing.
func (s *MongoStore) MarkRead(ctx context.Context, messageID, readerID string) error {
	ctx, cancel := ensureTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID, "receiver_id": readerID},
		bson.M{"$set": bson.M{"read": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConversationRead bulk-flips unread messages addressed to userID.
func (s *MongoStore) MarkConversationRead(ctx context.Context, userID, otherUserID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	res, err := s.messages.UpdateMany(ctx,
		bson.M{
			"conversation_id": ConversationID(userID, otherUserID),
			"receiver_id":     userID,
			"read":            false,
		},
		bson.M{"$set": bson.M{"read": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return res.ModifiedCount, nil
}

// UnreadCount counts unread messages addressed to userID.
func (s *MongoStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, mongoReadTimeout)
	defer cancel()

	n, err := s.messages.CountDocuments(ctx, bson.M{"receiver_id": userID, "read": false})
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// Delete removes one message; the filter binds the requester to the sender.
func (s *MongoStore) Delete(ctx context.Context, messageID, requesterID string) error {
	ctx, cancel := ensureTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": messageID, "sender_id": requesterID})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers matches display names case-insensitively by substring.
func (s *MongoStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]UserSummary, error) {
	query, limit, err := validateSearch(query, limit)
	if err != nil {
		return nil, err
	}

	ctx, cancel := ensureTimeout(ctx, mongoReadTimeout)
	defer cancel()

	filter := bson.M{
		"_id":          bson.M{"$ne": excludeUserID},
		"display_name": primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"},
	}

	cursor, err := s.users.Find(ctx, filter, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer cursor.Close(ctx)

	var out []UserSummary
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

// ensureTimeout bounds an operation without overriding a caller deadline.
func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

var _ Store = (*MongoStore)(nil)
