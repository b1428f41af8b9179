package xerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key error.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input provided")
)

// Users / profiles
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrIncompleteProfile = errors.New("incomplete profile")
	ErrMissingLocation   = errors.New("user has no location set")
)

// Sessions
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Matches
var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrNotMatchParty     = errors.New("caller is not a party to this match")
	ErrAlreadyProcessed  = errors.New("match already processed")
	ErrMatchExpired      = errors.New("match expired")
	ErrInvalidTransition = errors.New("invalid match transition")
)

// Notifications / delivery
var (
	ErrNotAttached      = errors.New("user has no attached channel")
	ErrDuplicatePending = errors.New("identical unsent notification exists")
)

// Infrastructure wraps a cache/store/channel failure so callers can
// distinguish "the backend broke" from domain outcomes.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &infraError{op: op, err: err}
}

func IsInfrastructure(err error) bool {
	var target *infraError
	return errors.As(err, &target)
}

type infraError struct {
	op  string
	err error
}

func (e *infraError) Error() string { return fmt.Sprintf("infrastructure: %s: %v", e.op, e.err) }
func (e *infraError) Unwrap() error { return e.err }
