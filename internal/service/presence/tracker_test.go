package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"match-service/pkg/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	now     func() time.Time
	failAll bool
}

func newFakeCache(now func() time.Time) *fakeCache {
	return &fakeCache{expiry: make(map[string]time.Time), now: now}
}

func (c *fakeCache) key(ns, k string) string { return ns + ":" + k }

func (c *fakeCache) Set(_ context.Context, ns, k string, _ interface{}, ttl time.Duration) error {
	if c.failAll {
		return errors.New("cache down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiry[c.key(ns, k)] = c.now().Add(ttl)
	return nil
}

func (c *fakeCache) Delete(_ context.Context, ns, k string) error {
	if c.failAll {
		return errors.New("cache down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expiry, c.key(ns, k))
	return nil
}

func (c *fakeCache) Exists(_ context.Context, ns, k string) (bool, error) {
	if c.failAll {
		return false, errors.New("cache down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.expiry[c.key(ns, k)]
	if !ok || c.now().After(exp) {
		delete(c.expiry, c.key(ns, k))
		return false, nil
	}
	return true, nil
}

func (c *fakeCache) Expire(_ context.Context, ns, k string, ttl time.Duration) (bool, error) {
	if c.failAll {
		return false, errors.New("cache down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.expiry[c.key(ns, k)]; !ok {
		return false, nil
	}
	c.expiry[c.key(ns, k)] = c.now().Add(ttl)
	return true, nil
}

type userState struct {
	online       bool
	lastOnlineAt *time.Time
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*userState
	fail  bool
}

func newFakeUserStore(ids ...string) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*userState)}
	for _, id := range ids {
		s.users[id] = &userState{}
	}
	return s
}

func (s *fakeUserStore) GetOnlineState(_ context.Context, userID string) (bool, *time.Time, error) {
	if s.fail {
		return false, nil, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, nil, errors.New("no such user")
	}
	return u.online, u.lastOnlineAt, nil
}

func (s *fakeUserStore) SetOnline(_ context.Context, userID string, online bool, at time.Time) error {
	if s.fail {
		return errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	u.online = online
	stamp := at
	u.lastOnlineAt = &stamp
	return nil
}

func (s *fakeUserStore) ListStaleOnline(_ context.Context, cutoff time.Time) ([]string, error) {
	if s.fail {
		return nil, errors.New("store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, u := range s.users {
		if u.online && (u.lastOnlineAt == nil || u.lastOnlineAt.Before(cutoff)) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) record(evt eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) count(t eventbus.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

func newTestTracker(t *testing.T) (*Tracker, *fakeCache, *fakeUserStore, *eventRecorder, *time.Time) {
	t.Helper()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cache := newFakeCache(now)
	users := newFakeUserStore("u1", "u2")
	bus := eventbus.NewBus(nil)
	rec := &eventRecorder{}
	bus.Subscribe(eventbus.UserOnline, rec.record)
	bus.Subscribe(eventbus.UserOffline, rec.record)

	tracker := NewTracker(cache, users, bus, nil)
	tracker.now = now
	return tracker, cache, users, rec, &clock
}

func waitForEvents(t *testing.T, rec *eventRecorder, typ eventbus.EventType, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.count(typ) == want
	}, time.Second, 5*time.Millisecond)
}

func TestMarkOnlineEmitsOncePerEdge(t *testing.T) {
	tracker, _, _, rec, _ := newTestTracker(t)
	ctx := context.Background()

	// Three heartbeats inside the window are one edge.
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	waitForEvents(t, rec, eventbus.UserOnline, 1)

	require.NoError(t, tracker.MarkOffline(ctx, "u1"))
	waitForEvents(t, rec, eventbus.UserOffline, 1)

	// A second offline call has no edge left to report.
	require.NoError(t, tracker.MarkOffline(ctx, "u1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(eventbus.UserOffline))

	// Back online is a fresh edge.
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	waitForEvents(t, rec, eventbus.UserOnline, 2)
}

func TestMarkOnlineAfterMarkerExpiryReEmits(t *testing.T) {
	tracker, _, _, rec, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	waitForEvents(t, rec, eventbus.UserOnline, 1)

	// Silence past the TTL lets the marker lapse; the next heartbeat is
	// a genuine new edge.
	*clock = clock.Add(MarkerTTL + time.Minute)
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	waitForEvents(t, rec, eventbus.UserOnline, 2)
}

func TestCacheFailureNeverDuplicatesEvents(t *testing.T) {
	tracker, cache, users, rec, _ := newTestTracker(t)
	ctx := context.Background()

	cache.failAll = true
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	time.Sleep(50 * time.Millisecond)

	// Unknown prior state suppresses the emit entirely, but the durable
	// write still happened.
	assert.Equal(t, 0, rec.count(eventbus.UserOnline))
	online, _, err := users.GetOnlineState(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestIsOnline(t *testing.T) {
	tracker, cache, users, _, clock := newTestTracker(t)
	ctx := context.Background()

	assert.False(t, tracker.IsOnline(ctx, "u1"))

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	assert.True(t, tracker.IsOnline(ctx, "u1"))

	// Durable flag online but marker gone: conservative false.
	require.NoError(t, cache.Delete(ctx, "presence", "u1"))
	assert.False(t, tracker.IsOnline(ctx, "u1"))

	// Stale last-online stamp fails the freshness window even with a
	// marker present.
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	*clock = clock.Add(MarkerTTL + time.Second)
	assert.False(t, tracker.IsOnline(ctx, "u1"))

	// Store outage reads as not online, never as online.
	users.fail = true
	assert.False(t, tracker.IsOnline(ctx, "u1"))
}

func TestIsOnlineSlidesMarkerTTL(t *testing.T) {
	tracker, cache, _, _, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))

	// Query at T+4m slides the marker; at T+8m the marker would have
	// lapsed without the slide, but the durable stamp is now too old
	// anyway, so refresh it with a heartbeat first.
	*clock = clock.Add(4 * time.Minute)
	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	assert.True(t, tracker.IsOnline(ctx, "u1"))

	*clock = clock.Add(4 * time.Minute)
	exists, err := cache.Exists(ctx, "presence", "u1")
	require.NoError(t, err)
	assert.True(t, exists, "slid marker should still be alive")
}

func TestSweepForcesStaleUsersOffline(t *testing.T) {
	tracker, _, users, rec, clock := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkOnline(ctx, "u1"))
	require.NoError(t, tracker.MarkOnline(ctx, "u2"))
	waitForEvents(t, rec, eventbus.UserOnline, 2)

	// u2 keeps heartbeating, u1 goes silent.
	*clock = clock.Add(MarkerTTL + time.Minute)
	require.NoError(t, tracker.MarkOnline(ctx, "u2"))

	swept, err := tracker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	online, _, err := users.GetOnlineState(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
	waitForEvents(t, rec, eventbus.UserOffline, 1)
}
