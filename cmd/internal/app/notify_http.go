package app

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"speranza/cmd/internal/realtime"
	v1 "speranza/contracts/realtime/v1"
)

// notifyRequest is the body of POST /internal/notify.
type notifyRequest struct {
	UserID string            `json:"user_id"`
	Kind   string            `json:"kind"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type notifyResponse struct {
	Delivered bool `json:"delivered"`
}

// registerNotifyEndpoint mounts the internal push endpoint used by backend
// services to surface live notifications (friend requests, trade offers)
// to connected users. Gated by a shared secret; disabled when unset.
func registerNotifyEndpoint(mux *http.ServeMux, cfg Config, relay *realtime.NotificationRelay) {
	if cfg.InternalNotifyToken == "" {
		return
	}

	mux.HandleFunc("POST /internal/notify", func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(cfg.InternalNotifyToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req notifyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}

		delivered := relay.Deliver(req.UserID, v1.NotificationPayload{
			Kind:  req.Kind,
			Title: req.Title,
			Body:  req.Body,
			Data:  req.Data,
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(notifyResponse{Delivered: delivered})
	})
}
