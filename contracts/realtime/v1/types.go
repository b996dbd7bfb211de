// Package v1 defines the Speranza Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Client-originated types (wire-stable).
const (
	// TypeJoinConversation joins the direct-conversation room with another user.
	TypeJoinConversation = "join-conversation"
	// TypeLeaveConversation leaves the direct-conversation room with another user.
	TypeLeaveConversation = "leave-conversation"

	// TypeSendMessage requests persisting and relaying a direct message.
	TypeSendMessage = "send-message"
	// TypeMarkRead flips a message's read state and notifies the original sender.
	TypeMarkRead = "mark-read"

	// TypeTypingStart signals the peer that the sender started typing.
	TypeTypingStart = "typing-start"
	// TypeTypingStop signals the peer that the sender stopped typing.
	TypeTypingStop = "typing-stop"

	// TypeChangeStatus updates the sender's presence status.
	TypeChangeStatus = "change-status"
	// TypeGetOnlineUsers requests the current presence snapshot.
	TypeGetOnlineUsers = "get-online-users"
)

// Server-originated types (wire-stable).
const (
	TypeUserOnline        = "user-online"
	TypeUserOffline       = "user-offline"
	TypeOnlineUsers       = "online-users"
	TypeUserStatusChanged = "user-status-changed"

	TypeNewMessage          = "new-message"
	TypeMessageSent         = "message-sent"
	TypeMessageRead         = "message-read"
	TypeMessageError        = "message-error"
	TypeConversationUpdated = "conversation-updated"

	TypeUserTyping        = "user-typing"
	TypeUserStoppedTyping = "user-stopped-typing"

	TypeNewNotification = "new-notification"

	// TypeError is the generic error envelope (server -> client).
	TypeError = "error"
)

var allowedTypes = map[string]struct{}{
	TypeJoinConversation:    {},
	TypeLeaveConversation:   {},
	TypeSendMessage:         {},
	TypeMarkRead:            {},
	TypeTypingStart:         {},
	TypeTypingStop:          {},
	TypeChangeStatus:        {},
	TypeGetOnlineUsers:      {},
	TypeUserOnline:          {},
	TypeUserOffline:         {},
	TypeOnlineUsers:         {},
	TypeUserStatusChanged:   {},
	TypeNewMessage:          {},
	TypeMessageSent:         {},
	TypeMessageRead:         {},
	TypeMessageError:        {},
	TypeConversationUpdated: {},
	TypeUserTyping:          {},
	TypeUserStoppedTyping:   {},
	TypeNewNotification:     {},
	TypeError:               {},
}

// Envelope is the canonical wire wrapper for every event in both directions.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// ---- Client-originated payloads ----

// JoinConversationPayload requests membership in the direct conversation with OtherUserID.
type JoinConversationPayload struct {
	OtherUserID string `json:"other_user_id" validate:"required"`
}

// LeaveConversationPayload leaves the direct conversation with OtherUserID.
type LeaveConversationPayload struct {
	OtherUserID string `json:"other_user_id" validate:"required"`
}

// SendMessagePayload requests persisting and relaying a direct message.
type SendMessagePayload struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,max=1000"`
}

// TypingPayload carries the peer whose conversation the typing flag applies to.
type TypingPayload struct {
	OtherUserID string `json:"other_user_id" validate:"required"`
}

// ChangeStatusPayload updates the sender's presence status.
type ChangeStatusPayload struct {
	Status string `json:"status" validate:"required,oneof=online away busy dnd"`
}

// MarkReadPayload flips one message's read state. SenderID is the message's
// original sender, used to route the message-read receipt.
type MarkReadPayload struct {
	MessageID string `json:"message_id" validate:"required"`
	SenderID  string `json:"sender_id" validate:"required"`
}

// ---- Server-originated payloads ----

// PresencePayload describes one user's live connectivity state.
type PresencePayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// OnlineUsersPayload is the full presence snapshot sent to one caller.
type OnlineUsersPayload struct {
	Users []PresencePayload `json:"users"`
}

// MessagePayload is the wire form of a persisted message
// (new-message, message-sent, and the last message of conversation-updated).
type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	IsOwn          bool      `json:"is_own,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageReadPayload is the read receipt routed to the original sender.
type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

// ConversationUpdatedPayload notifies room members that the conversation advanced.
type ConversationUpdatedPayload struct {
	ConversationID string         `json:"conversation_id"`
	LastMessage    MessagePayload `json:"last_message"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TypingEventPayload relays one user's typing state within a conversation.
type TypingEventPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// NotificationPayload is the fixed schema pushed on new-notification.
// Unrecognized shapes are rejected at the relay boundary.
type NotificationPayload struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind" validate:"required"`
	Title     string            `json:"title" validate:"required"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ErrorPayload is the generic error response payload
// (also used for message-error).
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
