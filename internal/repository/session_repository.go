package repository

import (
	"context"
	"errors"
	"time"

	"match-service/internal/domain"
	xerrors "match-service/pkg/utils/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, device_id, ip_address, user_agent,
			last_accessed_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.UserID, s.DeviceID, s.IPAddress, s.UserAgent,
		s.LastAccessedAt, s.CreatedAt, s.ExpiresAt)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, device_id, ip_address, user_agent,
		       last_accessed_at, created_at, expires_at
		FROM sessions WHERE id = $1
	`, sessionID).Scan(
		&s.ID, &s.UserID, &s.DeviceID, &s.IPAddress, &s.UserAgent,
		&s.LastAccessedAt, &s.CreatedAt, &s.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Refresh slides last_accessed_at and expires_at forward on a validated
// access.
func (r *SessionRepository) Refresh(ctx context.Context, sessionID string, at, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_accessed_at = $2, expires_at = $3 WHERE id = $1
	`, sessionID, at, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteByID(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

func (r *SessionRepository) DeleteAllByUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// CountUnexpired returns how many live sessions the user still holds.
func (r *SessionRepository) CountUnexpired(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND expires_at > $2
	`, userID, now).Scan(&n)
	return n, err
}

// DeleteExpired removes lapsed sessions and returns the ids of users who
// no longer hold any session at all, so presence can be corrected.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		DELETE FROM sessions WHERE expires_at <= $1 RETURNING user_id
	`, now)
	if err != nil {
		return nil, err
	}
	affected := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		affected[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var orphaned []string
	for userID := range affected {
		var remaining int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM sessions WHERE user_id = $1
		`, userID).Scan(&remaining); err != nil {
			return nil, err
		}
		if remaining == 0 {
			orphaned = append(orphaned, userID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return orphaned, nil
}
