package usecase

import (
	"context"
	"time"

	"match-service/internal/domain"
	xerrors "match-service/pkg/utils/errors"
	"match-service/pkg/utils/id"

	"go.uber.org/zap"
)

// SessionTTL is how long a session lives without a validated access.
const SessionTTL = 24 * time.Hour

type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	Refresh(ctx context.Context, sessionID string, at, expiresAt time.Time) error
	DeleteByID(ctx context.Context, sessionID string) error
	DeleteAllByUser(ctx context.Context, userID string) error
	CountUnexpired(ctx context.Context, userID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Presence is the tracker surface the session layer drives.
type Presence interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

type userGetter interface {
	GetByID(ctx context.Context, userID string) (*domain.User, error)
}

// SessionUsecase owns the session lifecycle and translates it into
// presence signals: login and every validated access push the user
// online; logout, disconnect and the expiry sweep push the user offline
// only once no live session remains.
type SessionUsecase struct {
	sessions SessionStore
	users    userGetter
	presence Presence
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionUsecase(sessions SessionStore, users userGetter, presence Presence, logger *zap.Logger) *SessionUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionUsecase{
		sessions: sessions,
		users:    users,
		presence: presence,
		logger:   logger,
		now:      time.Now,
	}
}

func (uc *SessionUsecase) Login(ctx context.Context, userID string, deviceID, ipAddress, userAgent *string) (*domain.Session, error) {
	if _, err := uc.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	s := &domain.Session{
		ID:             id.New("sess"),
		UserID:         userID,
		DeviceID:       deviceID,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		LastAccessedAt: now,
		CreatedAt:      now,
		ExpiresAt:      now.Add(SessionTTL),
	}
	if err := uc.sessions.Create(ctx, s); err != nil {
		return nil, xerrors.Infrastructure("create session", err)
	}

	if err := uc.presence.MarkOnline(ctx, userID); err != nil {
		// Session exists; presence will catch up on the next heartbeat.
		uc.logger.Warn("mark online after login failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	return s, nil
}

// Validate is the heartbeat: it authenticates the session, slides its
// expiry forward and refreshes presence.
func (uc *SessionUsecase) Validate(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := uc.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	if s.Expired(now) {
		if derr := uc.sessions.DeleteByID(ctx, sessionID); derr != nil {
			uc.logger.Warn("expired session delete failed",
				zap.String("session_id", sessionID), zap.Error(derr))
		}
		return nil, xerrors.ErrSessionExpired
	}

	s.LastAccessedAt = now
	s.ExpiresAt = now.Add(SessionTTL)
	if err := uc.sessions.Refresh(ctx, sessionID, s.LastAccessedAt, s.ExpiresAt); err != nil {
		return nil, xerrors.Infrastructure("refresh session", err)
	}

	if err := uc.presence.MarkOnline(ctx, s.UserID); err != nil {
		uc.logger.Warn("presence refresh failed",
			zap.String("user_id", s.UserID), zap.Error(err))
	}
	return s, nil
}

// Logout deletes one session. The user only goes offline when that was
// the last one; other live sessions keep presence intact.
func (uc *SessionUsecase) Logout(ctx context.Context, sessionID string) error {
	s, err := uc.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := uc.sessions.DeleteByID(ctx, sessionID); err != nil {
		return xerrors.Infrastructure("delete session", err)
	}
	return uc.offlineIfNoSessions(ctx, s.UserID)
}

// HandleDisconnect is the transport hook for "connection closed". A user
// with another unexpired session stays online; the staleness sweep
// corrects presence later if their heartbeats stop too.
func (uc *SessionUsecase) HandleDisconnect(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := uc.offlineIfNoSessions(ctx, userID); err != nil {
		uc.logger.Error("disconnect handling failed",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// Sweep deletes expired sessions and flips presence for users left with
// none.
func (uc *SessionUsecase) Sweep(ctx context.Context) (int, error) {
	orphaned, err := uc.sessions.DeleteExpired(ctx, uc.now().UTC())
	if err != nil {
		return 0, xerrors.Infrastructure("session sweep", err)
	}
	for _, userID := range orphaned {
		if err := uc.presence.MarkOffline(ctx, userID); err != nil {
			uc.logger.Error("sweep mark-offline failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return len(orphaned), nil
}

func (uc *SessionUsecase) offlineIfNoSessions(ctx context.Context, userID string) error {
	remaining, err := uc.sessions.CountUnexpired(ctx, userID, uc.now().UTC())
	if err != nil {
		return xerrors.Infrastructure("count sessions", err)
	}
	if remaining > 0 {
		return nil
	}
	if err := uc.presence.MarkOffline(ctx, userID); err != nil {
		return err
	}
	return nil
}
