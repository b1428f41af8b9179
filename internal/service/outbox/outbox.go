package outbox

import (
	"context"
	"encoding/json"
	"time"

	"match-service/internal/domain"
	"match-service/pkg/eventbus"
	xerrors "match-service/pkg/utils/errors"
	"match-service/pkg/utils/id"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	// RetentionWindow bounds how long an undelivered notification stays
	// eligible before cleanup removes it.
	RetentionWindow = 7 * 24 * time.Hour

	// MaxDeliveryAttempts caps the retry counter; a record at the cap is
	// skipped by drains and left for expiry cleanup.
	MaxDeliveryAttempts = 5

	drainBatchLimit = 100
)

// Metrics
var (
	outboxEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_enqueued_total",
			Help: "Notifications persisted for later delivery",
		},
		[]string{"type"},
	)

	outboxDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_deduped_total",
			Help: "Enqueue calls suppressed by the unsent-duplicate guard",
		},
	)

	outboxDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_delivered_total",
			Help: "Successful deliveries by mode",
		},
		[]string{"mode"},
	)

	outboxFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_delivery_failures_total",
			Help: "Failed delivery attempts left unsent for retry",
		},
	)
)

// NotificationStore is the slice of the durable store the outbox owns.
type NotificationStore interface {
	Insert(ctx context.Context, n *domain.OfflineNotification) error
	ExistsUnsent(ctx context.Context, userID string, t domain.NotificationType, payload []byte) (bool, error)
	ListPending(ctx context.Context, userID string, now time.Time, maxRetries, limit int) ([]*domain.OfflineNotification, error)
	MarkSent(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) error
	DeleteExpiredOrSent(ctx context.Context, now time.Time) (int64, error)
}

// PushChannel is the injected live-connection transport.
type PushChannel interface {
	Send(userID, topic string, payload interface{}) error
	IsAttached(userID string) bool
}

// PresenceQuerier answers "reachable right now".
type PresenceQuerier interface {
	IsOnline(ctx context.Context, userID string) bool
}

// Outbox is the store-and-forward delivery engine: durable queue plus a
// drain that runs when presence flips a user online.
type Outbox struct {
	store    NotificationStore
	push     PushChannel
	presence PresenceQuerier
	logger   *zap.Logger
	now      func() time.Time
}

func NewOutbox(store NotificationStore, push PushChannel, presence PresenceQuerier, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		store:    store,
		push:     push,
		presence: presence,
		logger:   logger,
		now:      time.Now,
	}
}

// SubscribeTo wires the outbox onto the presence bus: every UserOnline
// event triggers a drain for that user.
func (o *Outbox) SubscribeTo(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.UserOnline, func(evt eventbus.Event) {
		if err := o.Drain(context.Background(), evt.UserID); err != nil {
			o.logger.Error("drain after online event failed",
				zap.String("user_id", evt.UserID), zap.Error(err))
		}
	})
}

// Enqueue persists one notification for later delivery. priority <= 0
// means "derive from the type". The insert is silently skipped when an
// identical unsent record already exists.
func (o *Outbox) Enqueue(ctx context.Context, userID string, payload domain.NotificationPayload, message string, actionRef *string, priority int) error {
	t := payload.NotificationType()
	raw, err := domain.EncodePayload(payload)
	if err != nil {
		return err
	}

	dup, err := o.store.ExistsUnsent(ctx, userID, t, raw)
	if err != nil {
		return xerrors.Infrastructure("outbox dedup probe", err)
	}
	if dup {
		outboxDeduped.Inc()
		return nil
	}

	if priority <= 0 {
		priority = domain.DefaultPriority(t)
	}

	now := o.now().UTC()
	n := &domain.OfflineNotification{
		ID:        id.New("ntf"),
		UserID:    userID,
		Type:      t,
		Payload:   raw,
		Message:   message,
		ActionRef: actionRef,
		Priority:  priority,
		CreatedAt: now,
		ExpiresAt: now.Add(RetentionWindow),
	}
	if err := o.store.Insert(ctx, n); err != nil {
		if xerrors.IsUniqueViolation(err) {
			// Concurrent enqueue of the same triple; the other row wins.
			outboxDeduped.Inc()
			return nil
		}
		return xerrors.Infrastructure("outbox insert", err)
	}
	outboxEnqueued.WithLabelValues(string(t)).Inc()
	return nil
}

// Dispatch delivers live when the recipient is reachable, otherwise
// enqueues. A failed live push falls back to the queue so nothing is
// dropped between the two paths.
func (o *Outbox) Dispatch(ctx context.Context, userID string, payload domain.NotificationPayload, message string, actionRef *string) error {
	t := payload.NotificationType()
	if o.presence.IsOnline(ctx, userID) && o.push.IsAttached(userID) {
		if err := o.push.Send(userID, domain.TopicFor(t), wireFrame(payload, message, actionRef)); err == nil {
			outboxDelivered.WithLabelValues("live").Inc()
			return nil
		}
		o.logger.Warn("live push failed, falling back to queue",
			zap.String("user_id", userID), zap.String("type", string(t)))
	}
	return o.Enqueue(ctx, userID, payload, message, actionRef, 0)
}

// Drain flushes the user's queued notifications after a presence flip.
// It re-verifies the user is still online to guard against stale
// triggers, delivers in priority order, marks each success in its own
// unit of work, and finishes a non-empty pass with a summary notice.
func (o *Outbox) Drain(ctx context.Context, userID string) error {
	if !o.presence.IsOnline(ctx, userID) {
		return nil
	}

	pending, err := o.store.ListPending(ctx, userID, o.now().UTC(), MaxDeliveryAttempts, drainBatchLimit)
	if err != nil {
		return xerrors.Infrastructure("outbox pending query", err)
	}

	delivered := 0
	for _, n := range pending {
		if !domain.Replayable(n.Type) {
			continue
		}
		if !o.push.IsAttached(userID) {
			// Channel gone mid-pass; the rest stays queued.
			break
		}

		if err := o.push.Send(userID, domain.TopicFor(n.Type), storedFrame(n)); err != nil {
			outboxFailures.Inc()
			if rerr := o.store.IncrementRetry(ctx, n.ID); rerr != nil {
				o.logger.Error("retry increment failed",
					zap.String("notification_id", n.ID), zap.Error(rerr))
			}
			continue
		}

		if err := o.store.MarkSent(ctx, n.ID); err != nil {
			// Delivered but not marked: the dedup guard and client-side
			// idempotency absorb the eventual redelivery.
			o.logger.Error("mark-sent failed after delivery",
				zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		outboxDelivered.WithLabelValues("drain").Inc()
		delivered++
	}

	if delivered > 0 {
		summary := domain.SystemNoticePayload{Code: "CATCH_UP_COMPLETE", Count: delivered}
		if err := o.push.Send(userID, domain.TopicSystemNotifications, wireFrame(summary, "", nil)); err != nil {
			o.logger.Warn("catch-up summary push failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// Cleanup deletes everything already sent or past retention. Runs once at
// process start and on the daily timer.
func (o *Outbox) Cleanup(ctx context.Context) (int64, error) {
	removed, err := o.store.DeleteExpiredOrSent(ctx, o.now().UTC())
	if err != nil {
		return 0, xerrors.Infrastructure("outbox cleanup", err)
	}
	if removed > 0 {
		o.logger.Info("outbox cleanup", zap.Int64("removed", removed))
	}
	return removed, nil
}

// wireFrame shapes a freshly built payload for the push channel.
func wireFrame(payload domain.NotificationPayload, message string, actionRef *string) map[string]interface{} {
	frame := map[string]interface{}{
		"notification_type": payload.NotificationType(),
		"payload":           payload,
	}
	if message != "" {
		frame["message"] = message
	}
	if actionRef != nil {
		frame["action_ref"] = *actionRef
	}
	return frame
}

// storedFrame shapes a persisted row for the push channel without
// re-decoding the payload.
func storedFrame(n *domain.OfflineNotification) map[string]interface{} {
	frame := map[string]interface{}{
		"id":                n.ID,
		"notification_type": n.Type,
		"payload":           json.RawMessage(n.Payload),
		"queued_at":         n.CreatedAt,
	}
	if n.Message != "" {
		frame["message"] = n.Message
	}
	if n.ActionRef != nil {
		frame["action_ref"] = *n.ActionRef
	}
	return frame
}
