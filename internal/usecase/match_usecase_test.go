package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"match-service/internal/domain"
	xerrors "match-service/pkg/utils/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int         { return &v }
func strPtr(v string) *string   { return &v }
func f64Ptr(v float64) *float64 { return &v }

func completeUser(id, name string, lat, lon float64, age int, gender string) *domain.User {
	return &domain.User{
		ID:        id,
		Username:  name,
		Latitude:  f64Ptr(lat),
		Longitude: f64Ptr(lon),
		Age:       intPtr(age),
		Gender:    strPtr(gender),
		Interests: []string{"hiking", "coffee"},
		Address:   strPtr("Gangnam-gu, Seoul"),
	}
}

type stubUserStore struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	inRange []*domain.User
	prefs   map[string]domain.MatchPreferences
}

func newStubUserStore(users ...*domain.User) *stubUserStore {
	s := &stubUserStore{users: make(map[string]*domain.User), prefs: make(map[string]domain.MatchPreferences)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubUserStore) GetByID(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, xerrors.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUserStore) SavePreferences(_ context.Context, userID string, prefs domain.MatchPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = prefs
	return nil
}

func (s *stubUserStore) FindWithinRadius(_ context.Context, _, _, _ float64) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inRange, nil
}

type stubMatchStore struct {
	mu      sync.Mutex
	matches map[string]*domain.Match
}

func newStubMatchStore(matches ...*domain.Match) *stubMatchStore {
	s := &stubMatchStore{matches: make(map[string]*domain.Match)}
	for _, m := range matches {
		cp := *m
		s.matches[m.ID] = &cp
	}
	return s
}

func (s *stubMatchStore) GetByID(_ context.Context, matchID string) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, xerrors.ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *stubMatchStore) CreateBatch(_ context.Context, matches []*domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range matches {
		cp := *m
		s.matches[m.ID] = &cp
	}
	return nil
}

func (s *stubMatchStore) UpdateStatusIf(_ context.Context, matchID string, from, to domain.MatchStatus, respondedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	if respondedAt != nil {
		stamp := *respondedAt
		m.RespondedAt = &stamp
	}
	return true, nil
}

func (s *stubMatchStore) RejectAllPending(_ context.Context, userID string, at time.Time) ([]*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Match
	for _, m := range s.matches {
		if m.Status == domain.MatchPending && m.IsParty(userID) {
			m.Status = domain.MatchRejected
			stamp := at
			m.RespondedAt = &stamp
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubMatchStore) ExpireLapsed(_ context.Context, now time.Time) ([]*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Match
	for _, m := range s.matches {
		if !m.Status.Terminal() && m.Lapsed(now) {
			m.Status = domain.MatchExpired
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubMatchStore) status(matchID string) domain.MatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches[matchID].Status
}

type stubConvoStore struct {
	mu          sync.Mutex
	convos      map[string]*domain.Conversation // keyed by sorted pair
	partners    map[string][]string
	creates     int
	failCreates int
}

func newStubConvoStore() *stubConvoStore {
	return &stubConvoStore{
		convos:   make(map[string]*domain.Conversation),
		partners: make(map[string][]string),
	}
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func (s *stubConvoStore) FindOneToOne(_ context.Context, userA, userB string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convos[pairKey(userA, userB)], nil
}

func (s *stubConvoStore) CreateOneToOne(_ context.Context, name, userA, userB string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreates > 0 {
		s.failCreates--
		return nil, errors.New("connection refused")
	}
	key := pairKey(userA, userB)
	if _, exists := s.convos[key]; exists {
		return nil, &pgconn.PgError{Code: "23505"}
	}
	s.creates++
	conv := &domain.Conversation{
		ID:           "conv-" + key,
		Name:         name,
		Participants: []string{userA, userB},
	}
	s.convos[key] = conv
	return conv, nil
}

func (s *stubConvoStore) ListPartners(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partners[userID], nil
}

func (s *stubConvoStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

type dispatched struct {
	userID string
	typ    domain.NotificationType
}

type stubDispatcher struct {
	mu   sync.Mutex
	sent []dispatched
}

func (d *stubDispatcher) Dispatch(_ context.Context, userID string, payload domain.NotificationPayload, _ string, _ *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, dispatched{userID: userID, typ: payload.NotificationType()})
	return nil
}

func (d *stubDispatcher) countFor(userID string, typ domain.NotificationType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sent {
		if s.userID == userID && s.typ == typ {
			n++
		}
	}
	return n
}

type stubDiscarder struct {
	mu      sync.Mutex
	deleted int64
}

func (s *stubDiscarder) DeleteUnsentOffersBy(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted++
	return s.deleted, nil
}

type matchFixture struct {
	uc       *MatchUsecase
	users    *stubUserStore
	matches  *stubMatchStore
	convos   *stubConvoStore
	notifier *stubDispatcher
	clock    *time.Time
}

func newMatchFixture(t *testing.T, users *stubUserStore, matches *stubMatchStore) *matchFixture {
	t.Helper()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	convos := newStubConvoStore()
	notifier := &stubDispatcher{}
	uc := NewMatchUsecase(users, matches, convos, notifier, &stubDiscarder{}, nil, nil)
	uc.now = func() time.Time { return clock }
	return &matchFixture{uc: uc, users: users, matches: matches, convos: convos, notifier: notifier, clock: &clock}
}

func pendingMatch(id, user1, user2 string, createdAt time.Time) *domain.Match {
	return &domain.Match{
		ID:        id,
		User1ID:   user1,
		User2ID:   user2,
		Status:    domain.MatchPending,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(MatchWindow),
	}
}

func TestStartMatchingFiltersAndOffers(t *testing.T) {
	// A in Gangnam; B about 1.2 km due north; D already chats with A;
	// E has an incomplete profile; F fails the age filter. Distance
	// cutoff itself is the radius query's job.
	a := completeUser("a", "alice", 37.50, 127.03, 30, "F")
	b := completeUser("b", "bob", 37.5107918, 127.03, 28, "M")
	d := completeUser("d", "dan", 37.501, 127.031, 31, "M")
	e := completeUser("e", "eve", 37.502, 127.032, 27, "F")
	e.Address = nil
	f := completeUser("f", "frank", 37.503, 127.029, 55, "M")

	users := newStubUserStore(a, b, d, e, f)
	users.inRange = []*domain.User{a, b, d, e, f}
	fx := newMatchFixture(t, users, newStubMatchStore())
	fx.convos.partners["a"] = []string{"d"}

	prefs := domain.MatchPreferences{MaxDistanceKm: 2, MinAge: intPtr(20), MaxAge: intPtr(40)}
	offers, err := fx.uc.StartMatching(context.Background(), "a", prefs)
	require.NoError(t, err)

	require.Len(t, offers, 1)
	assert.Equal(t, "b", offers[0].Candidate.UserID)
	assert.InDelta(t, 1.2, offers[0].DistanceKm, 0.05)
	assert.Equal(t, fx.clock.Add(MatchWindow), offers[0].ExpiresAt)

	assert.Equal(t, domain.MatchPending, fx.matches.status(offers[0].MatchID))
	assert.Equal(t, prefs, fx.users.prefs["a"])

	// The candidate hears about it off the request path.
	require.Eventually(t, func() bool {
		return fx.notifier.countFor("b", domain.NotificationMatchOffered) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStartMatchingRequiresCompleteProfile(t *testing.T) {
	a := completeUser("a", "alice", 37.50, 127.03, 30, "F")
	a.Interests = nil
	fx := newMatchFixture(t, newStubUserStore(a), newStubMatchStore())

	_, err := fx.uc.StartMatching(context.Background(), "a", domain.MatchPreferences{MaxDistanceKm: 2})
	assert.ErrorIs(t, err, xerrors.ErrIncompleteProfile)
}

func TestStartMatchingRejectsStalePending(t *testing.T) {
	a := completeUser("a", "alice", 37.50, 127.03, 30, "F")
	users := newStubUserStore(a)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := pendingMatch("old", "a", "z", clock.Add(-time.Hour))
	fx := newMatchFixture(t, users, newStubMatchStore(stale))

	_, err := fx.uc.StartMatching(context.Background(), "a", domain.MatchPreferences{MaxDistanceKm: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.MatchRejected, fx.matches.status("old"))
}

func TestAcceptMatchHalfThenComplete(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))
	ctx := context.Background()

	res, err := fx.uc.AcceptMatch(ctx, "m1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchUser1Accepted, res.Status)
	assert.Nil(t, res.Conversation)

	require.Eventually(t, func() bool {
		return fx.notifier.countFor("b", domain.NotificationMatchAcceptedByOther) == 1
	}, time.Second, 5*time.Millisecond)

	// Same party again is a no-op error, not a transition.
	_, err = fx.uc.AcceptMatch(ctx, "m1", "a")
	assert.ErrorIs(t, err, xerrors.ErrAlreadyProcessed)

	res, err = fx.uc.AcceptMatch(ctx, "m1", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchBothAccepted, res.Status)
	require.NotNil(t, res.Conversation)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Conversation.Participants)

	require.Eventually(t, func() bool {
		return fx.notifier.countFor("a", domain.NotificationMatchCompleted) == 1 &&
			fx.notifier.countFor("b", domain.NotificationMatchCompleted) == 1
	}, time.Second, 5*time.Millisecond)

	// Accepting a completed match is idempotent: same conversation back,
	// no second create, no duplicate notices.
	again, err := fx.uc.AcceptMatch(ctx, "m1", "a")
	require.NoError(t, err)
	assert.Equal(t, res.Conversation.ID, again.Conversation.ID)
	assert.Equal(t, 1, fx.convos.createCount())
	assert.Equal(t, 1, fx.notifier.countFor("a", domain.NotificationMatchCompleted))
}

func timePtrHelper() *time.Time {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &ts
}

func TestAcceptMatchConcurrentBothAccept(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*AcceptResult, 2)
	errs := make([]error, 2)
	for i, caller := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, caller string) {
			defer wg.Done()
			results[i], errs[i] = fx.uc.AcceptMatch(ctx, "m1", caller)
		}(i, caller)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, domain.MatchBothAccepted, fx.matches.status("m1"))

	// Exactly one of the two observes the completion with the
	// conversation in hand; exactly one conversation row exists.
	completions := 0
	for _, r := range results {
		if r.Status == domain.MatchBothAccepted {
			completions++
			require.NotNil(t, r.Conversation)
		}
	}
	assert.Equal(t, 1, completions)
	assert.Equal(t, 1, fx.convos.createCount())
}

func TestAcceptMatchRepairsFailedConversationCreate(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))
	ctx := context.Background()

	_, err := fx.uc.AcceptMatch(ctx, "m1", "a")
	require.NoError(t, err)

	// The second accept commits BOTH_ACCEPTED but the conversation
	// create fails behind it.
	fx.convos.failCreates = 1
	_, err = fx.uc.AcceptMatch(ctx, "m1", "b")
	require.Error(t, err)
	assert.True(t, xerrors.IsInfrastructure(err))
	assert.Equal(t, domain.MatchBothAccepted, fx.matches.status("m1"))
	assert.Equal(t, 0, fx.convos.createCount())

	// A retry by either party repairs the orphan: the conversation is
	// created and the held-back completion notices go out.
	res, err := fx.uc.AcceptMatch(ctx, "m1", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchBothAccepted, res.Status)
	require.NotNil(t, res.Conversation)
	assert.Equal(t, 1, fx.convos.createCount())

	require.Eventually(t, func() bool {
		return fx.notifier.countFor("a", domain.NotificationMatchCompleted) == 1 &&
			fx.notifier.countFor("b", domain.NotificationMatchCompleted) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRejectMatchRepairsFailedConversationCreate(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))
	ctx := context.Background()

	_, err := fx.uc.AcceptMatch(ctx, "m1", "a")
	require.NoError(t, err)
	fx.convos.failCreates = 1
	_, err = fx.uc.AcceptMatch(ctx, "m1", "b")
	require.Error(t, err)
	require.Equal(t, 0, fx.convos.createCount())

	// Even a reject against the completed match restores the missing
	// conversation before reporting the terminal state.
	err = fx.uc.RejectMatch(ctx, "m1", "b")
	assert.ErrorIs(t, err, xerrors.ErrAlreadyProcessed)
	assert.Equal(t, 1, fx.convos.createCount())
	assert.Equal(t, domain.MatchBothAccepted, fx.matches.status("m1"))
}

func TestAcceptMatchLazilyExpiresLapsed(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))

	*fx.clock = fx.clock.Add(MatchWindow + time.Minute)
	_, err := fx.uc.AcceptMatch(context.Background(), "m1", "a")
	assert.ErrorIs(t, err, xerrors.ErrMatchExpired)
	assert.Equal(t, domain.MatchExpired, fx.matches.status("m1"))
}

func TestAcceptMatchRejectsNonParty(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))

	_, err := fx.uc.AcceptMatch(context.Background(), "m1", "intruder")
	assert.ErrorIs(t, err, xerrors.ErrNotMatchParty)
}

func TestRejectMatchNotifiesOtherParty(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))
	ctx := context.Background()

	require.NoError(t, fx.uc.RejectMatch(ctx, "m1", "b"))
	assert.Equal(t, domain.MatchRejected, fx.matches.status("m1"))

	require.Eventually(t, func() bool {
		return fx.notifier.countFor("a", domain.NotificationMatchRejectedByOther) == 1
	}, time.Second, 5*time.Millisecond)

	err := fx.uc.RejectMatch(ctx, "m1", "a")
	assert.ErrorIs(t, err, xerrors.ErrAlreadyProcessed)
}

func TestRejectAfterHalfAccept(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))
	ctx := context.Background()

	_, err := fx.uc.AcceptMatch(ctx, "m1", "a")
	require.NoError(t, err)
	require.NoError(t, fx.uc.RejectMatch(ctx, "m1", "b"))
	assert.Equal(t, domain.MatchRejected, fx.matches.status("m1"))
}

func TestStopMatchingRejectsOpenMatches(t *testing.T) {
	base := *timePtrHelper()
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(
		pendingMatch("m1", "a", "b", base),
		pendingMatch("m2", "a", "c", base),
		pendingMatch("m3", "x", "y", base),
	))

	n, err := fx.uc.StopMatching(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.MatchRejected, fx.matches.status("m1"))
	assert.Equal(t, domain.MatchRejected, fx.matches.status("m2"))
	assert.Equal(t, domain.MatchPending, fx.matches.status("m3"))
}

func TestExpireSweepNotifiesBothParties(t *testing.T) {
	fx := newMatchFixture(t, newStubUserStore(), newStubMatchStore(pendingMatch("m1", "a", "b", *timePtrHelper())))

	*fx.clock = fx.clock.Add(MatchWindow + time.Minute)
	n, err := fx.uc.ExpireSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.MatchExpired, fx.matches.status("m1"))

	require.Eventually(t, func() bool {
		return fx.notifier.countFor("a", domain.NotificationMatchExpired) == 1 &&
			fx.notifier.countFor("b", domain.NotificationMatchExpired) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRankByInterests(t *testing.T) {
	u := &domain.User{ID: "u", Interests: []string{"hiking", "coffee", "books"}}
	best := &domain.User{ID: "best", Interests: []string{"hiking", "coffee", "books"}}
	mid := &domain.User{ID: "mid", Interests: []string{"hiking", "games"}}
	none := &domain.User{ID: "none", Interests: []string{"games"}}

	ranked := RankByInterests(u, []*domain.User{none, mid, best})
	require.Len(t, ranked, 3)
	assert.Equal(t, "best", ranked[0].ID)
	assert.Equal(t, "mid", ranked[1].ID)
	assert.Equal(t, "none", ranked[2].ID)
}
