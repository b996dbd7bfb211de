package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"speranza/cmd/internal/realtime"
)

func newNotifyMux(t *testing.T, token string) (*http.ServeMux, *realtime.Hub) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewHub(log)

	mux := http.NewServeMux()
	registerNotifyEndpoint(mux, Config{InternalNotifyToken: token}, realtime.NewNotificationRelay(log, hub))
	return mux, hub
}

func TestNotifyEndpoint_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	mux, _ := newNotifyMux(t, "")

	req := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("endpoint must not exist without a token, got %d", rr.Code)
	}
}

func TestNotifyEndpoint_RejectsBadToken(t *testing.T) {
	t.Parallel()

	mux, _ := newNotifyMux(t, "shared-secret")

	req := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(`{"user_id":"alice","kind":"trade-offer","title":"Offer"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestNotifyEndpoint_DeliversToConnectedUser(t *testing.T) {
	t.Parallel()

	mux, hub := newNotifyMux(t, "shared-secret")

	client := realtime.NewClient("alice", "Alice", "sess-1", 8)
	hub.Attach(client)

	body := `{"user_id":"alice","kind":"trade-offer","title":"New offer","body":"3x scrap metal","data":{"offer_id":"o-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer shared-secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp notifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Delivered {
		t.Fatalf("expected delivered=true for connected user")
	}

	select {
	case env := <-client.Send:
		if env.Type != "new-notification" {
			t.Fatalf("expected new-notification, got %q", env.Type)
		}
	default:
		t.Fatalf("nothing enqueued for the connected user")
	}
}

func TestNotifyEndpoint_OfflineUserReportsNotDelivered(t *testing.T) {
	t.Parallel()

	mux, _ := newNotifyMux(t, "shared-secret")

	body := `{"user_id":"ghost","kind":"trade-offer","title":"Offer"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer shared-secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp notifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Delivered {
		t.Fatalf("expected delivered=false for offline user")
	}
}

func TestNotifyEndpoint_MissingUserIDRejected(t *testing.T) {
	t.Parallel()

	mux, _ := newNotifyMux(t, "shared-secret")

	req := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(`{"kind":"x","title":"y"}`))
	req.Header.Set("Authorization", "Bearer shared-secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
