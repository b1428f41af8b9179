package repository

import (
	"context"
	"errors"
	"time"

	"match-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository backs the conversation collaborator: the match
// engine only ever needs find-one-to-one, create, and list-partners.
// Message CRUD lives elsewhere.
type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// FindOneToOne returns the direct conversation between the pair, or nil.
// The pair is normalized with least/greatest so (a,b) and (b,a) hit the
// same row.
func (r *ConversationRepository) FindOneToOne(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := r.db.QueryRow(ctx, `
		SELECT id, name, created_at
		FROM conversations
		WHERE is_direct = TRUE
		  AND pair_lo = least($1::text, $2::text)
		  AND pair_hi = greatest($1::text, $2::text)
	`, userA, userB).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Participants = []string{userA, userB}
	return &c, nil
}

// CreateOneToOne inserts the pair's direct conversation. Concurrent
// creators collide on the unique pair index; the loser re-reads and
// reuses the winner's row.
func (r *ConversationRepository) CreateOneToOne(ctx context.Context, name, userA, userB string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:           uuid.NewString(),
		Name:         name,
		Participants: []string{userA, userB},
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, name, is_direct, pair_lo, pair_hi, created_at)
		VALUES ($1, $2, TRUE, least($3::text, $4::text), greatest($3::text, $4::text), $5)
	`, c.ID, c.Name, userA, userB, c.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, p := range c.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2)
		`, c.ID, p); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ListPartners returns every user the given user already shares a direct
// conversation with.
func (r *ConversationRepository) ListPartners(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT CASE WHEN pair_lo = $1 THEN pair_hi ELSE pair_lo END
		FROM conversations
		WHERE is_direct = TRUE AND (pair_lo = $1 OR pair_hi = $1)
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}
