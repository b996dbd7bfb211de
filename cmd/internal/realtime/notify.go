package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	v1 "speranza/contracts/realtime/v1"
)

// NotificationRelay is the live-push half of notifications: if the target
// user has a connection here, the payload is emitted as new-notification;
// otherwise nothing happens. The notification service persists every
// notification before calling Deliver, so this relay is never the system
// of record.
type NotificationRelay struct {
	log      *slog.Logger
	hub      *Hub
	validate *validator.Validate
}

// NewNotificationRelay constructs a relay bound to the gateway's hub.
func NewNotificationRelay(log *slog.Logger, hub *Hub) *NotificationRelay {
	return &NotificationRelay{
		log:      log,
		hub:      hub,
		validate: validator.New(),
	}
}

// Deliver pushes a notification to userID if connected. It reports whether
// the envelope was enqueued; false means offline, invalid payload, or
// backpressure — in every case the durable copy is the caller's concern.
func (r *NotificationRelay) Deliver(userID string, n v1.NotificationPayload) bool {
	if err := r.validate.Struct(n); err != nil {
		r.log.Warn("notify.reject.shape", "user_id", userID, "err", err)
		metricNotifications.WithLabelValues("invalid").Inc()
		return false
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	client := r.hub.Client(userID)
	if client == nil {
		metricNotifications.WithLabelValues("offline").Inc()
		return false
	}

	payload, err := json.Marshal(n)
	if err != nil {
		r.log.Error("notify.marshal.fail", "user_id", userID, "err", err)
		metricNotifications.WithLabelValues("invalid").Inc()
		return false
	}

	if !client.TryEnqueue(newEnvelope(v1.TypeNewNotification, payload, n.CreatedAt)) {
		metricNotifications.WithLabelValues("dropped").Inc()
		return false
	}

	metricNotifications.WithLabelValues("delivered").Inc()
	return true
}
