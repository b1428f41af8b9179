package presence

import (
	"context"
	"time"

	"match-service/pkg/eventbus"
	xerrors "match-service/pkg/utils/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	// MarkerTTL is both the cache marker lifetime and the freshness
	// window a durable last-online stamp must fall within.
	MarkerTTL = 5 * time.Minute

	namespace = "presence"
)

// Metrics
var (
	presenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Genuine online/offline edges observed by the tracker",
		},
		[]string{"direction"},
	)

	presenceCacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_cache_errors_total",
			Help: "Cache-tier failures absorbed by the tracker",
		},
	)

	presenceSweepForced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_sweep_forced_offline_total",
			Help: "Users force-transitioned offline by the staleness sweep",
		},
	)
)

// MarkerCache is the slice of the cache tier the tracker uses.
type MarkerCache interface {
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Exists(ctx context.Context, namespace, key string) (bool, error)
	Expire(ctx context.Context, namespace, key string, ttl time.Duration) (bool, error)
}

// UserStore is the slice of the durable store the tracker owns writes to.
type UserStore interface {
	GetOnlineState(ctx context.Context, userID string) (online bool, lastOnlineAt *time.Time, err error)
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Tracker derives accurate online/offline transition events from the
// TTL-based cache marker cross-checked against the durable flag. It is
// the only writer of either.
type Tracker struct {
	cache  MarkerCache
	users  UserStore
	bus    *eventbus.Bus
	logger *zap.Logger
	now    func() time.Time
}

func NewTracker(cache MarkerCache, users UserStore, bus *eventbus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cache:  cache,
		users:  users,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// MarkOnline records activity for the user. The pre-write probe decides
// whether this is a genuine offline-to-online edge; repeat calls while the
// marker is alive refresh it without re-emitting.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) error {
	wasOnline, err := t.cache.Exists(ctx, namespace, userID)
	if err != nil {
		// Unknown prior state: assume online so a flaky cache can never
		// produce duplicate UserOnline events.
		presenceCacheErrors.Inc()
		t.logger.Warn("presence marker probe failed, assuming online",
			zap.String("user_id", userID), zap.Error(err))
		wasOnline = true
	}

	if err := t.cache.Set(ctx, namespace, userID, "1", MarkerTTL); err != nil {
		// Cache loss must not abort the durable write.
		presenceCacheErrors.Inc()
		t.logger.Warn("presence marker write failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	now := t.now().UTC()
	if err := t.users.SetOnline(ctx, userID, true, now); err != nil {
		return xerrors.Infrastructure("presence durable write", err)
	}

	if !wasOnline {
		presenceTransitions.WithLabelValues("online").Inc()
		t.bus.Publish(eventbus.Event{Type: eventbus.UserOnline, UserID: userID, At: now})
	}
	return nil
}

// MarkOffline clears the marker and durable flag, emitting UserOffline
// only when the user actually was online.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) error {
	wasOnline, _, err := t.users.GetOnlineState(ctx, userID)
	if err != nil {
		// Prior state unknown: still tear down, but do not emit.
		t.logger.Warn("presence prior-state probe failed",
			zap.String("user_id", userID), zap.Error(err))
		wasOnline = false
	}

	if err := t.cache.Delete(ctx, namespace, userID); err != nil {
		presenceCacheErrors.Inc()
		t.logger.Warn("presence marker delete failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	now := t.now().UTC()
	if err := t.users.SetOnline(ctx, userID, false, now); err != nil {
		return xerrors.Infrastructure("presence durable write", err)
	}

	if wasOnline {
		presenceTransitions.WithLabelValues("offline").Inc()
		t.bus.Publish(eventbus.Event{Type: eventbus.UserOffline, UserID: userID, At: now})
	}
	return nil
}

// IsOnline answers whether the user is reachable right now. The durable
// flag, the freshness window and the cache marker must all agree; when
// the flag says online but the marker is gone the answer is false rather
// than risk a push into a dead channel. A true answer slides the marker
// TTL forward.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	online, lastOnlineAt, err := t.users.GetOnlineState(ctx, userID)
	if err != nil {
		// Store unreachable means unknown, and unknown means not online.
		t.logger.Warn("presence durable read failed",
			zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if !online {
		return false
	}
	if lastOnlineAt == nil || t.now().Sub(*lastOnlineAt) > MarkerTTL {
		return false
	}

	exists, err := t.cache.Exists(ctx, namespace, userID)
	if err != nil {
		presenceCacheErrors.Inc()
		t.logger.Warn("presence marker probe failed",
			zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if !exists {
		return false
	}

	if _, err := t.cache.Expire(ctx, namespace, userID, MarkerTTL); err != nil {
		presenceCacheErrors.Inc()
	}
	return true
}

// Sweep force-transitions users whose durable flag still says online but
// whose last-online stamp fell out of the freshness window.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	cutoff := t.now().UTC().Add(-MarkerTTL)
	stale, err := t.users.ListStaleOnline(ctx, cutoff)
	if err != nil {
		return 0, xerrors.Infrastructure("presence staleness query", err)
	}

	swept := 0
	for _, userID := range stale {
		if err := t.MarkOffline(ctx, userID); err != nil {
			t.logger.Error("presence sweep mark-offline failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		presenceSweepForced.Add(float64(swept))
	}
	return swept, nil
}
