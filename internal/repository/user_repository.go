package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"match-service/internal/domain"
	xerrors "match-service/pkg/utils/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, username, is_online, last_online_at, latitude, longitude,
	age, gender, interests, address, created_at
`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Online,
		&u.LastOnlineAt,
		&u.Latitude,
		&u.Longitude,
		&u.Age,
		&u.Gender,
		&u.Interests,
		&u.Address,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// GetOnlineState reads just the durable presence columns.
func (r *UserRepository) GetOnlineState(ctx context.Context, userID string) (bool, *time.Time, error) {
	var (
		online       bool
		lastOnlineAt *time.Time
	)
	err := r.db.QueryRow(ctx, `
		SELECT is_online, last_online_at FROM users WHERE id = $1
	`, userID).Scan(&online, &lastOnlineAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil, xerrors.ErrUserNotFound
	}
	if err != nil {
		return false, nil, err
	}
	return online, lastOnlineAt, nil
}

// SetOnline flips the durable online flag and stamps last_online_at.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET is_online = $2, last_online_at = $3
		WHERE id = $1
	`, userID, online, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrUserNotFound
	}
	return nil
}

// ListStaleOnline returns ids of users whose durable flag still says online
// but whose last_online_at is older than the cutoff.
func (r *UserRepository) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM users
		WHERE is_online = TRUE
		  AND (last_online_at IS NULL OR last_online_at < $1)
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) SavePreferences(ctx context.Context, userID string, prefs domain.MatchPreferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET match_preferences = $2 WHERE id = $1
	`, userID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrUserNotFound
	}
	return nil
}

// FindWithinRadius returns profile-complete users within radiusKm of the
// point. A bounding-box prefilter keeps the haversine evaluation off most
// rows; 111.045 km per degree of latitude.
func (r *UserRepository) FindWithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		  AND age IS NOT NULL AND gender IS NOT NULL AND gender <> ''
		  AND address IS NOT NULL AND address <> ''
		  AND cardinality(interests) > 0
		  AND latitude  BETWEEN $1 - ($3 / 111.045) AND $1 + ($3 / 111.045)
		  AND longitude BETWEEN $2 - ($3 / (111.045 * cos(radians($1))))
		                    AND $2 + ($3 / (111.045 * cos(radians($1))))
		  AND 6371 * acos(
				least(1.0,
					cos(radians($1)) * cos(radians(latitude)) *
					cos(radians(longitude) - radians($2)) +
					sin(radians($1)) * sin(radians(latitude))
				)
			) <= $3
	`, lat, lon, radiusKm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
