// Package realtime contains Speranza's websocket gateway and the in-memory
// presence/typing primitives it coordinates.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"speranza/cmd/internal/chat"
	v1 "speranza/contracts/realtime/v1"
)

const (
	wsSubprotocolV1 = "speranza.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the websocket entrypoint for Speranza realtime.
//
// It authenticates each handshake via a bearer token, registers presence,
// routes inbound events to chat.Store / PresenceRegistry / TypingRegistry,
// and emits outbound events to specific connections. Every event handler is
// fault-isolated: a failed event reports back to its originating connection
// and never tears the connection down.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	store    chat.Store
	presence PresenceRegistry
	typing   *TypingRegistry
	verifier TokenVerifier
	validate *validator.Validate

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
// Nil hub/store/presence fall back to in-memory implementations for dev;
// a nil verifier falls back to the insecure dev verifier, loudly.
func NewWSGateway(log *slog.Logger, hub *Hub, store chat.Store, presence PresenceRegistry, verifier TokenVerifier) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if store == nil {
		store = chat.NewInMemoryStore()
	}
	if presence == nil {
		presence = NewMemoryPresence(0)
	}
	if verifier == nil {
		log.Warn("ws.auth.insecure_dev_verifier")
		verifier = InsecureDevVerifier{}
	}

	g := &WSGateway{
		log:      log,
		hub:      hub,
		store:    store,
		presence: presence,
		typing:   NewTypingRegistry(envDurationWS("SPERANZA_WS_TYPING_TTL", TypingTTL)),
		verifier: verifier,
		validate: validator.New(),
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("SPERANZA_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("SPERANZA_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("SPERANZA_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is ok,
	// cross-origin requires OriginPatterns. Derive the patterns from the
	// allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("SPERANZA_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("SPERANZA_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("SPERANZA_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("SPERANZA_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("SPERANZA_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("SPERANZA_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("SPERANZA_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Notifications returns a relay bound to this gateway's hub, for the
// notification service to push live notifications through.
func (g *WSGateway) Notifications() *NotificationRelay {
	return NewNotificationRelay(g.log, g.hub)
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authentication is fatal to the connection attempt: no partial session.
	identity, err := g.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	// Dev stores have no external user directory; let them learn users
	// from live connections so receiver checks behave sensibly.
	if dir, ok := g.store.(interface{ AddUser(id, displayName string) }); ok {
		dir.AddUser(identity.UserID, identity.DisplayName)
	}

	now := time.Now().UTC()
	sessionID, err := NewSessionID(now)
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}
	client := NewClient(identity.UserID, identity.DisplayName, sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A reconnect replaces the previous connection rather than duplicating it.
	if prev := g.hub.Attach(client); prev != nil {
		prev.Close()
	}
	if err := g.presence.Register(ctx, identity.UserID, identity.DisplayName); err != nil {
		g.log.Error("ws.presence.register.fail", "user_id", identity.UserID, "err", err)
	}
	metricConnections.Inc()

	g.log.Info("ws.connect", "user_id", identity.UserID, "session_id", sessionID)

	var (
		closeOnce sync.Once
		joinedMu  sync.Mutex
		joined    = make(map[string]*Room)
	)

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			joinedMu.Lock()
			for _, room := range joined {
				room.Leave(client.UserID)
			}
			joined = nil
			joinedMu.Unlock()

			detached := g.hub.Detach(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			metricConnections.Dec()

			// A newer connection for the same user keeps presence alive;
			// only the still-current connection takes the user offline.
			if detached {
				unregCtx, unregCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer unregCancel()
				if err := g.presence.Unregister(unregCtx, client.UserID); err != nil {
					g.log.Error("ws.presence.unregister.fail", "user_id", client.UserID, "err", err)
				}
				g.broadcastPresence(v1.TypeUserOffline, client, StatusOffline)
			}

			g.log.Info("ws.disconnect", "user_id", client.UserID, "session_id", sessionID, "reason", reason)
		})
	}

	// A reconnect closes the replaced Client; tear its socket down too
	// instead of letting it linger until the read idle timeout.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			shutdown(websocket.StatusPolicyViolation, "superseded")
		}
	}()

	g.broadcastPresence(v1.TypeUserOnline, client, StatusOnline)
	g.sendOnlineUsers(ctx, client)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
				if err := g.presence.Touch(ctx, client.UserID); err != nil {
					g.log.Debug("ws.presence.touch.fail", "user_id", client.UserID, "err", err)
				}
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		metricEvents.WithLabelValues(env.Type).Inc()

		switch env.Type {
		case v1.TypeJoinConversation:
			if err := g.onJoin(client, env, joined, &joinedMu); err != nil {
				g.eventFailed(client, env.Type, "join_failed", err)
			}

		case v1.TypeLeaveConversation:
			if err := g.onLeave(client, env, joined, &joinedMu); err != nil {
				g.eventFailed(client, env.Type, "leave_failed", err)
			}

		case v1.TypeSendMessage:
			if err := g.onSendMessage(ctx, client, env, now); err != nil {
				metricEventErrors.WithLabelValues(env.Type).Inc()
				code, msg := chatErrCode(err)
				g.trySend(client, v1.TypeMessageError, v1.ErrorPayload{Code: code, Message: msg})
			}

		case v1.TypeTypingStart:
			if err := g.onTyping(client, env, true); err != nil {
				g.eventFailed(client, env.Type, "typing_failed", err)
			}

		case v1.TypeTypingStop:
			if err := g.onTyping(client, env, false); err != nil {
				g.eventFailed(client, env.Type, "typing_failed", err)
			}

		case v1.TypeChangeStatus:
			if err := g.onChangeStatus(ctx, client, env); err != nil {
				g.eventFailed(client, env.Type, "status_rejected", err)
			}

		case v1.TypeGetOnlineUsers:
			if err := g.sendOnlineUsers(ctx, client); err != nil {
				g.eventFailed(client, env.Type, "presence_failed", err)
			}

		case v1.TypeMarkRead:
			if err := g.onMarkRead(ctx, client, env); err != nil {
				g.eventFailed(client, env.Type, "mark_read_failed", err)
			}

		default:
			g.trySendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onJoin(client *Client, env v1.Envelope, joined map[string]*Room, joinedMu *sync.Mutex) error {
	var p v1.JoinConversationPayload
	if err := g.decodePayload(env, &p); err != nil {
		return err
	}
	if p.OtherUserID == client.UserID {
		return errors.New("cannot join a conversation with yourself")
	}

	convID := chat.ConversationID(client.UserID, p.OtherUserID)
	room := g.hub.Room(convID)
	room.Join(client)

	joinedMu.Lock()
	if joined != nil {
		joined[convID] = room
	}
	joinedMu.Unlock()
	return nil
}

func (g *WSGateway) onLeave(client *Client, env v1.Envelope, joined map[string]*Room, joinedMu *sync.Mutex) error {
	var p v1.LeaveConversationPayload
	if err := g.decodePayload(env, &p); err != nil {
		return err
	}

	convID := chat.ConversationID(client.UserID, p.OtherUserID)
	g.hub.Room(convID).Leave(client.UserID)

	joinedMu.Lock()
	delete(joined, convID)
	joinedMu.Unlock()

	// Leaving clears any typing state the user left behind.
	if g.typing.Stop(convID, client.UserID) {
		g.relayTyping(client, p.OtherUserID, convID, false)
	}
	return nil
}

func (g *WSGateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.SendMessagePayload
	if err := g.decodePayload(env, &p); err != nil {
		return fmt.Errorf("%w: %s", chat.ErrValidation, err)
	}

	// Persist first: delivery is store-and-forward, never live-only.
	msg, err := g.store.Append(ctx, client.UserID, p.ReceiverID, p.Content)
	if err != nil {
		return err
	}

	convID := msg.ConversationID
	if g.typing.Stop(convID, client.UserID) {
		g.relayTyping(client, p.ReceiverID, convID, false)
	}

	if receiver := g.hub.Client(p.ReceiverID); receiver != nil {
		if receiver.TryEnqueue(newEnvelope(v1.TypeNewMessage, mustMarshal(messagePayload(msg, p.ReceiverID)), now)) {
			metricRelayed.Inc()
		} else {
			metricDropped.WithLabelValues(v1.TypeNewMessage).Inc()
		}
	}

	// The sender gets confirmation even when the receiver is offline.
	g.trySend(client, v1.TypeMessageSent, messagePayload(msg, client.UserID))

	g.hub.Room(convID).Broadcast(newEnvelope(v1.TypeConversationUpdated, mustMarshal(v1.ConversationUpdatedPayload{
		ConversationID: convID,
		LastMessage:    messagePayload(msg, ""),
		UpdatedAt:      msg.CreatedAt,
	}), now))

	return nil
}

func (g *WSGateway) onTyping(client *Client, env v1.Envelope, start bool) error {
	var p v1.TypingPayload
	if err := g.decodePayload(env, &p); err != nil {
		return err
	}

	convID := chat.ConversationID(client.UserID, p.OtherUserID)
	if start {
		g.typing.Start(convID, client.UserID)
	} else {
		g.typing.Stop(convID, client.UserID)
	}

	// No-op (not an error) if the other participant is offline.
	g.relayTyping(client, p.OtherUserID, convID, start)
	return nil
}

func (g *WSGateway) relayTyping(client *Client, otherUserID, convID string, typing bool) {
	peer := g.hub.Client(otherUserID)
	if peer == nil {
		return
	}

	typ := v1.TypeUserStoppedTyping
	if typing {
		typ = v1.TypeUserTyping
	}
	if !peer.TryEnqueue(newEnvelope(typ, mustMarshal(v1.TypingEventPayload{
		ConversationID: convID,
		UserID:         client.UserID,
	}), time.Now().UTC())) {
		metricDropped.WithLabelValues(typ).Inc()
	}
}

func (g *WSGateway) onChangeStatus(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.ChangeStatusPayload
	if err := g.decodePayload(env, &p); err != nil {
		return err
	}

	status := Status(p.Status)
	// Offline is derived from disconnect, never set by a client.
	if status == StatusOffline {
		return ErrInvalidStatus
	}
	if err := g.presence.SetStatus(ctx, client.UserID, status); err != nil {
		return err
	}

	g.broadcastPresence(v1.TypeUserStatusChanged, client, status)
	return nil
}

func (g *WSGateway) onMarkRead(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.MarkReadPayload
	if err := g.decodePayload(env, &p); err != nil {
		return err
	}

	if err := g.store.MarkRead(ctx, p.MessageID, client.UserID); err != nil {
		return err
	}

	// Read receipt to the original sender, best effort.
	if sender := g.hub.Client(p.SenderID); sender != nil {
		if !sender.TryEnqueue(newEnvelope(v1.TypeMessageRead, mustMarshal(v1.MessageReadPayload{
			MessageID: p.MessageID,
			ReaderID:  client.UserID,
		}), time.Now().UTC())) {
			metricDropped.WithLabelValues(v1.TypeMessageRead).Inc()
		}
	}
	return nil
}

func (g *WSGateway) sendOnlineUsers(ctx context.Context, client *Client) error {
	entries, err := g.presence.Snapshot(ctx)
	if err != nil {
		return err
	}

	payload := v1.OnlineUsersPayload{
		Users: lo.Map(entries, func(e PresenceEntry, _ int) v1.PresencePayload {
			return v1.PresencePayload{
				UserID:      e.UserID,
				DisplayName: e.DisplayName,
				Status:      string(e.Status),
			}
		}),
	}
	g.trySend(client, v1.TypeOnlineUsers, payload)
	return nil
}

func (g *WSGateway) broadcastPresence(typ string, client *Client, status Status) {
	g.hub.BroadcastAll(newEnvelope(typ, mustMarshal(v1.PresencePayload{
		UserID:      client.UserID,
		DisplayName: client.DisplayName,
		Status:      string(status),
	}), time.Now().UTC()), client.UserID)
}

// ---- send helpers ----

func (g *WSGateway) eventFailed(client *Client, eventType, code string, err error) {
	metricEventErrors.WithLabelValues(eventType).Inc()
	g.trySendError(client, code, userFacing(err))
}

func (g *WSGateway) trySendError(client *Client, code, msg string) {
	g.trySend(client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

func (g *WSGateway) trySend(client *Client, typ string, payload any) {
	env := newEnvelope(typ, mustMarshal(payload), time.Now().UTC())
	if !client.TryEnqueue(env) {
		metricDropped.WithLabelValues(typ).Inc()
	}
}

// decodePayload unmarshals and structurally validates an inbound payload.
// Unrecognized or incomplete shapes are rejected at this boundary.
func (g *WSGateway) decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := g.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// chatErrCode maps store errors onto the wire-facing error taxonomy.
// NotFound and Forbidden are deliberately indistinguishable.
func chatErrCode(err error) (code, msg string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return "validation_failed", userFacing(err)
	case errors.Is(err, chat.ErrNotFound):
		return "not_found", "not found"
	default:
		return "store_unavailable", "temporary storage failure, try again"
	}
}

// userFacing strips internal package prefixes from an error message.
func userFacing(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	for _, prefix := range []string{"chat: ", "realtime: "} {
		s = strings.ReplaceAll(s, prefix, "")
	}
	return s
}

func messagePayload(m chat.Message, viewerID string) v1.MessagePayload {
	return v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Read:           m.Read,
		IsOwn:          viewerID != "" && m.SenderID == viewerID,
		CreatedAt:      m.CreatedAt,
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All payload types are plain structs; this cannot fail at runtime.
		panic(err)
	}
	return b
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, _ := NewEnvelopeID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- handshake auth ----

// bearerToken extracts the handshake token from the Authorization header
// or, for browser clients that cannot set headers on WebSocket, the
// "token" query parameter.
func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Keep this strict: only hosts extracted from
	// the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
