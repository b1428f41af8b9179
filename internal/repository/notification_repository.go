package repository

import (
	"context"
	"time"

	"match-service/internal/domain"
	xerrors "match-service/pkg/utils/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Insert(ctx context.Context, n *domain.OfflineNotification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO offline_notifications
			(id, user_id, notification_type, payload, message, action_ref,
			 priority, created_at, expires_at, is_sent, retry_count)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11)
	`, n.ID, n.UserID, n.Type, string(n.Payload), n.Message, n.ActionRef,
		n.Priority, n.CreatedAt, n.ExpiresAt, n.IsSent, n.RetryCount)
	return err
}

// ExistsUnsent implements the dedup probe: at most one unsent row per
// (user, type, payload) triple.
func (r *NotificationRepository) ExistsUnsent(ctx context.Context, userID string, t domain.NotificationType, payload []byte) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM offline_notifications
			WHERE user_id = $1 AND notification_type = $2
			  AND payload = $3::jsonb AND is_sent = FALSE
		)
	`, userID, t, string(payload)).Scan(&exists)
	return exists, err
}

// ListPending returns unsent, unexpired rows under the retry cap, most
// urgent first, oldest first within a priority.
func (r *NotificationRepository) ListPending(ctx context.Context, userID string, now time.Time, maxRetries, limit int) ([]*domain.OfflineNotification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, notification_type, payload, message, action_ref,
		       priority, created_at, expires_at, is_sent, retry_count
		FROM offline_notifications
		WHERE user_id = $1 AND is_sent = FALSE
		  AND expires_at > $2 AND retry_count < $3
		ORDER BY priority DESC, created_at ASC
		LIMIT $4
	`, userID, now, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OfflineNotification
	for rows.Next() {
		var n domain.OfflineNotification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Payload, &n.Message, &n.ActionRef,
			&n.Priority, &n.CreatedAt, &n.ExpiresAt, &n.IsSent, &n.RetryCount,
		); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkSent is its own unit of work so an earlier success survives a later
// failure in the same drain pass.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE offline_notifications SET is_sent = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) IncrementRetry(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE offline_notifications SET retry_count = retry_count + 1 WHERE id = $1
	`, id)
	return err
}

func (r *NotificationRepository) DeleteExpiredOrSent(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM offline_notifications WHERE expires_at <= $1 OR is_sent = TRUE
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteUnsentOffersBy discards queued MATCH_OFFERED rows that a stopped
// initiator fanned out and nobody has seen yet.
func (r *NotificationRepository) DeleteUnsentOffersBy(ctx context.Context, initiatorID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM offline_notifications n
		USING matches m
		WHERE n.action_ref = m.id
		  AND n.notification_type = $2
		  AND n.is_sent = FALSE
		  AND m.user1_id = $1
	`, initiatorID, domain.NotificationMatchOffered)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByUser powers the catch-up listing surface.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.OfflineNotification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, notification_type, payload, message, action_ref,
		       priority, created_at, expires_at, is_sent, retry_count
		FROM offline_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OfflineNotification
	for rows.Next() {
		var n domain.OfflineNotification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Payload, &n.Message, &n.ActionRef,
			&n.Priority, &n.CreatedAt, &n.ExpiresAt, &n.IsSent, &n.RetryCount,
		); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
