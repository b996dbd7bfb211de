// Package main provides a CI-friendly WebSocket smoke test for Speranza realtime.
//
// It validates:
//   - handshake + subprotocol selection (dev auth tokens)
//   - online-users snapshot on connect
//   - join-conversation for a direct pair
//   - send-message -> message-sent confirmation
//   - new-message fanout to the receiver
//   - mark-read -> message-read receipt at the sender
//   - typing-start relay to the conversation peer
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "speranza/contracts/realtime/v1"
)

const (
	subprotocol  = "speranza.realtime.v1"
	maxReadBytes = 1 << 20
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send")
		text    = flag.String("text", "hello from speranza", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	// Dev-mode tokens: requires SPERANZA_DEV_INSECURE_AUTH=true on the server.
	a := mustConnect(root, "A", "smoke-a", "Smoke A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", "smoke-b", "Smoke B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	// Both clients get an online-users snapshot right after connect.
	mustReceive(a, v1.TypeOnlineUsers, *timeout)
	mustReceive(b, v1.TypeOnlineUsers, *timeout)

	mustSend(root, a, v1.TypeJoinConversation, v1.JoinConversationPayload{OtherUserID: b.userID}, *timeout)
	mustSend(root, b, v1.TypeJoinConversation, v1.JoinConversationPayload{OtherUserID: a.userID}, *timeout)

	// Typing indicator relays to the peer only.
	mustSend(root, a, v1.TypeTypingStart, v1.TypingPayload{OtherUserID: b.userID}, *timeout)
	mustReceive(b, v1.TypeUserTyping, *timeout)

	mustSend(root, a, v1.TypeSendMessage, v1.SendMessagePayload{ReceiverID: b.userID, Content: *text}, *timeout)

	sent := mustReceive(a, v1.TypeMessageSent, *timeout)
	var sentMsg v1.MessagePayload
	mustDecode(sent, &sentMsg)
	if !sentMsg.IsOwn {
		fatalf("message-sent should be marked own")
	}

	recv := mustReceive(b, v1.TypeNewMessage, *timeout)
	var newMsg v1.MessagePayload
	mustDecode(recv, &newMsg)
	if newMsg.Content != *text {
		fatalf("fanout content mismatch: got %q want %q", newMsg.Content, *text)
	}
	if newMsg.ID != sentMsg.ID {
		fatalf("fanout id mismatch: got %q want %q", newMsg.ID, sentMsg.ID)
	}

	mustSend(root, b, v1.TypeMarkRead, v1.MarkReadPayload{MessageID: newMsg.ID, SenderID: newMsg.SenderID}, *timeout)
	receipt := mustReceive(a, v1.TypeMessageRead, *timeout)
	var read v1.MessageReadPayload
	mustDecode(receipt, &read)
	if read.MessageID != sentMsg.ID || read.ReaderID != b.userID {
		fatalf("read receipt mismatch: %+v", read)
	}

	fmt.Println("ws-smoke: OK")
}

func mustConnect(ctx context.Context, name, userID, displayName, wsURL, origin string, timeout time.Duration) *smokeClient {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := wsURL
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	u += sep + "token=" + url.QueryEscape(userID+":"+displayName)

	hdr := http.Header{}
	if origin != "" {
		hdr.Set("Origin", origin)
	}

	conn, _, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   hdr,
	})
	if err != nil {
		fatalf("%s: dial: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	if sp := conn.Subprotocol(); sp != subprotocol {
		fatalf("%s: subprotocol mismatch: got %q want %q", name, sp, subprotocol)
	}

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 64),
		errCh:  make(chan error, 1),
	}

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				c.errCh <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.errCh <- fmt.Errorf("bad envelope: %w", err)
				return
			}
			c.inbox <- env
		}
	}()

	return c
}

func mustSend(ctx context.Context, c *smokeClient, typ string, payload any, timeout time.Duration) {
	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("%s: marshal %s: %v", c.name, typ, err)
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("%s: marshal envelope: %v", c.name, err)
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, b); err != nil {
		fatalf("%s: write %s: %v", c.name, typ, err)
	}
}

// mustReceive drains the inbox until an envelope of the wanted type arrives.
// Presence broadcasts and other interleaved events are skipped.
func mustReceive(c *smokeClient, typ string, timeout time.Duration) v1.Envelope {
	deadline := time.After(timeout)
	for {
		select {
		case env := <-c.inbox:
			if env.Type == v1.TypeError || env.Type == v1.TypeMessageError {
				fatalf("%s: server error while waiting for %s: %s", c.name, typ, string(env.Payload))
			}
			if env.Type == typ {
				return env
			}
		case err := <-c.errCh:
			fatalf("%s: read: %v", c.name, err)
		case <-deadline:
			fatalf("%s: timeout waiting for %s", c.name, typ)
		}
	}
}

func mustDecode(env v1.Envelope, dst any) {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		fatalf("decode %s payload: %v", env.Type, err)
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
