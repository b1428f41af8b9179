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

type MatchRepository struct {
	db *pgxpool.Pool
}

func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) GetByID(ctx context.Context, matchID string) (*domain.Match, error) {
	var m domain.Match
	err := r.db.QueryRow(ctx, `
		SELECT id, user1_id, user2_id, status, created_at, expires_at, responded_at
		FROM matches WHERE id = $1
	`, matchID).Scan(
		&m.ID, &m.User1ID, &m.User2ID, &m.Status,
		&m.CreatedAt, &m.ExpiresAt, &m.RespondedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MatchRepository) CreateBatch(ctx context.Context, matches []*domain.Match) error {
	if len(matches) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range matches {
		batch.Queue(`
			INSERT INTO matches (id, user1_id, user2_id, status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, m.ID, m.User1ID, m.User2ID, m.Status, m.CreatedAt, m.ExpiresAt)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range matches {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatusIf is the compare-and-set transition: the row moves from
// `from` to `to` only if nobody got there first. Returns false on a lost
// race so the caller can re-read and retry.
func (r *MatchRepository) UpdateStatusIf(ctx context.Context, matchID string, from, to domain.MatchStatus, respondedAt *time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE matches
		SET status = $3, responded_at = COALESCE($4, responded_at)
		WHERE id = $1 AND status = $2
	`, matchID, from, to, respondedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RejectAllPending bulk-moves every PENDING match the user is a party to
// into REJECTED and returns the affected matches so counterparties can be
// notified.
func (r *MatchRepository) RejectAllPending(ctx context.Context, userID string, at time.Time) ([]*domain.Match, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE matches
		SET status = $3, responded_at = $2
		WHERE (user1_id = $1 OR user2_id = $1) AND status = $4
		RETURNING id, user1_id, user2_id, status, created_at, expires_at, responded_at
	`, userID, at, domain.MatchRejected, domain.MatchPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMatches(rows)
}

// ExpireLapsed bulk-transitions non-terminal matches past their deadline
// into EXPIRED and returns them for notification fan-out.
func (r *MatchRepository) ExpireLapsed(ctx context.Context, now time.Time) ([]*domain.Match, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE matches
		SET status = $2
		WHERE status IN ($3, $4, $5) AND expires_at < $1
		RETURNING id, user1_id, user2_id, status, created_at, expires_at, responded_at
	`, now, domain.MatchExpired,
		domain.MatchPending, domain.MatchUser1Accepted, domain.MatchUser2Accepted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMatches(rows)
}

func collectMatches(rows pgx.Rows) ([]*domain.Match, error) {
	var matches []*domain.Match
	for rows.Next() {
		var m domain.Match
		if err := rows.Scan(
			&m.ID, &m.User1ID, &m.User2ID, &m.Status,
			&m.CreatedAt, &m.ExpiresAt, &m.RespondedAt,
		); err != nil {
			return nil, err
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}
