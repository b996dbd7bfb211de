package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "speranza/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_AttachReplacesPreviousConnection(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	first := NewClient("alice", "Alice", "sess-1", 8)
	if prev := h.Attach(first); prev != nil {
		t.Fatalf("no previous connection expected, got %v", prev.SessionID)
	}

	second := NewClient("alice", "Alice", "sess-2", 8)
	prev := h.Attach(second)
	if prev != first {
		t.Fatalf("expected first connection to be replaced")
	}

	if got := h.Client("alice"); got != second {
		t.Fatalf("roster must point at the newest connection")
	}
}

func TestHub_DetachOnlyCurrentConnection(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	first := NewClient("alice", "Alice", "sess-1", 8)
	h.Attach(first)
	second := NewClient("alice", "Alice", "sess-2", 8)
	h.Attach(second)

	// The replaced connection's shutdown must not evict the new one.
	if h.Detach(first) {
		t.Fatalf("detaching a stale connection must fail")
	}
	if got := h.Client("alice"); got != second {
		t.Fatalf("roster lost the current connection")
	}

	if !h.Detach(second) {
		t.Fatalf("detaching the current connection must succeed")
	}
	if got := h.Client("alice"); got != nil {
		t.Fatalf("roster must be empty after detach, got %v", got.SessionID)
	}
}

func TestHub_BroadcastAllSkipsExcluded(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())

	alice := NewClient("alice", "Alice", "sess-1", 8)
	bob := NewClient("bob", "Bob", "sess-2", 8)
	h.Attach(alice)
	h.Attach(bob)

	env := v1.Envelope{V: v1.Version, Type: v1.TypeUserOnline, ID: "env-1", TS: time.Now().UTC()}
	h.BroadcastAll(env, "alice")

	select {
	case got := <-bob.Send:
		if got.ID != "env-1" {
			t.Fatalf("unexpected envelope %q", got.ID)
		}
	default:
		t.Fatalf("bob should have received the broadcast")
	}

	select {
	case <-alice.Send:
		t.Fatalf("excluded user must not receive the broadcast")
	default:
	}
}

func TestRoom_LeaveDoesNotCloseClient(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	alice := NewClient("alice", "Alice", "sess-1", 8)
	h.Attach(alice)

	room := h.Room("alice_bob")
	room.Join(alice)
	room.Leave("alice")

	select {
	case <-alice.Done():
		t.Fatalf("leaving a room must not close the connection")
	default:
	}

	if !alice.TryEnqueue(v1.Envelope{V: v1.Version, Type: v1.TypeError, ID: "env-1", TS: time.Now().UTC()}) {
		t.Fatalf("client must still accept envelopes after leaving a room")
	}
}

func TestRoom_BroadcastReachesAllMembers(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	alice := NewClient("alice", "Alice", "sess-1", 8)
	bob := NewClient("bob", "Bob", "sess-2", 8)
	h.Attach(alice)
	h.Attach(bob)

	room := h.Room("alice_bob")
	room.Join(alice)
	room.Join(bob)

	room.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeConversationUpdated, ID: "env-1", TS: time.Now().UTC()})

	for _, c := range []*Client{alice, bob} {
		select {
		case got := <-c.Send:
			if got.ID != "env-1" {
				t.Fatalf("%s: unexpected envelope %q", c.UserID, got.ID)
			}
		default:
			t.Fatalf("%s: missing room broadcast", c.UserID)
		}
	}
}

func TestClient_TryEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	c := NewClient("alice", "Alice", "sess-1", 1)
	c.Close()

	if c.TryEnqueue(v1.Envelope{V: v1.Version, Type: v1.TypeError, ID: "env-1", TS: time.Now().UTC()}) {
		t.Fatalf("enqueue after close must fail")
	}
}

func TestClient_TryEnqueueBackpressure(t *testing.T) {
	t.Parallel()

	c := NewClient("alice", "Alice", "sess-1", 1)

	first := c.TryEnqueue(v1.Envelope{V: v1.Version, Type: v1.TypeError, ID: "env-1", TS: time.Now().UTC()})
	second := c.TryEnqueue(v1.Envelope{V: v1.Version, Type: v1.TypeError, ID: "env-2", TS: time.Now().UTC()})

	if !first {
		t.Fatalf("first enqueue should fit the queue")
	}
	if second {
		t.Fatalf("second enqueue must be dropped, not block")
	}
}
