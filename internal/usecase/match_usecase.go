package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"match-service/internal/domain"
	"match-service/internal/service/kafka"
	xerrors "match-service/pkg/utils/errors"
	"match-service/pkg/utils/geo"
	"match-service/pkg/utils/id"

	"go.uber.org/zap"
)

const (
	// MatchWindow is how long a PENDING match stays answerable.
	MatchWindow = 24 * time.Hour

	notifyTimeout  = 10 * time.Second
	casMaxAttempts = 3
)

// UserStore is the read-only slice of the account subsystem the match
// engine needs, plus preference persistence and the geo lookup.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (*domain.User, error)
	SavePreferences(ctx context.Context, userID string, prefs domain.MatchPreferences) error
	FindWithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]*domain.User, error)
}

// MatchStore owns Match rows; all writes go through conditional updates.
type MatchStore interface {
	GetByID(ctx context.Context, matchID string) (*domain.Match, error)
	CreateBatch(ctx context.Context, matches []*domain.Match) error
	UpdateStatusIf(ctx context.Context, matchID string, from, to domain.MatchStatus, respondedAt *time.Time) (bool, error)
	RejectAllPending(ctx context.Context, userID string, at time.Time) ([]*domain.Match, error)
	ExpireLapsed(ctx context.Context, now time.Time) ([]*domain.Match, error)
}

// ConversationStore is the external conversation collaborator.
type ConversationStore interface {
	FindOneToOne(ctx context.Context, userA, userB string) (*domain.Conversation, error)
	CreateOneToOne(ctx context.Context, name, userA, userB string) (*domain.Conversation, error)
	ListPartners(ctx context.Context, userID string) ([]string, error)
}

// Dispatcher is the outbox's live-or-queued delivery surface.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, payload domain.NotificationPayload, message string, actionRef *string) error
}

// OfferDiscarder drops queued, unseen MATCH_OFFERED rows when the
// initiator stops matching.
type OfferDiscarder interface {
	DeleteUnsentOffersBy(ctx context.Context, initiatorID string) (int64, error)
}

// AcceptResult is the synchronous outcome of an accept call.
type AcceptResult struct {
	Status       domain.MatchStatus   `json:"status"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
}

type MatchUsecase struct {
	users    UserStore
	matches  MatchStore
	convos   ConversationStore
	notifier Dispatcher
	offers   OfferDiscarder
	events   *kafka.Producer // nil-tolerant
	logger   *zap.Logger
	now      func() time.Time
}

func NewMatchUsecase(
	users UserStore,
	matches MatchStore,
	convos ConversationStore,
	notifier Dispatcher,
	offers OfferDiscarder,
	events *kafka.Producer,
	logger *zap.Logger,
) *MatchUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchUsecase{
		users:    users,
		matches:  matches,
		convos:   convos,
		notifier: notifier,
		offers:   offers,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// StartMatching restarts the caller's matching round: rejects leftover
// PENDING matches, persists preferences, finds candidates in radius that
// the caller does not already talk to, creates one PENDING match per
// candidate and fans out MATCH_OFFERED to each. The initiator gets the
// summary synchronously; candidates are notified off the request path.
func (uc *MatchUsecase) StartMatching(ctx context.Context, userID string, prefs domain.MatchPreferences) ([]domain.MatchOffer, error) {
	u, err := uc.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.ProfileComplete() {
		return nil, xerrors.ErrIncompleteProfile
	}
	if prefs.MaxDistanceKm <= 0 {
		return nil, xerrors.ErrInvalidInput
	}

	now := uc.now().UTC()

	// Restart guard: a new round invalidates whatever was still open.
	if _, err := uc.matches.RejectAllPending(ctx, userID, now); err != nil {
		return nil, xerrors.Infrastructure("reject pending matches", err)
	}
	if _, err := uc.offers.DeleteUnsentOffersBy(ctx, userID); err != nil {
		uc.logger.Warn("stale offer discard failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	if err := uc.users.SavePreferences(ctx, userID, prefs); err != nil {
		return nil, xerrors.Infrastructure("save preferences", err)
	}

	partners, err := uc.convos.ListPartners(ctx, userID)
	if err != nil {
		return nil, xerrors.Infrastructure("list conversation partners", err)
	}
	known := make(map[string]struct{}, len(partners))
	for _, p := range partners {
		known[p] = struct{}{}
	}

	candidates, err := uc.users.FindWithinRadius(ctx, *u.Latitude, *u.Longitude, prefs.MaxDistanceKm)
	if err != nil {
		return nil, xerrors.Infrastructure("radius lookup", err)
	}

	var (
		created []*domain.Match
		offers  []domain.MatchOffer
		targets []*domain.User
	)
	for _, cand := range candidates {
		if cand.ID == userID {
			continue
		}
		if _, talking := known[cand.ID]; talking {
			continue
		}
		if !matchesPreferences(cand, prefs) {
			continue
		}

		m := &domain.Match{
			ID:        id.New("match"),
			User1ID:   userID,
			User2ID:   cand.ID,
			Status:    domain.MatchPending,
			CreatedAt: now,
			ExpiresAt: now.Add(MatchWindow),
		}
		created = append(created, m)
		targets = append(targets, cand)
		offers = append(offers, domain.MatchOffer{
			MatchID:    m.ID,
			Candidate:  cand.Summary(),
			DistanceKm: geo.HaversineKm(*u.Latitude, *u.Longitude, *cand.Latitude, *cand.Longitude),
			ExpiresAt:  m.ExpiresAt,
		})
	}

	if err := uc.matches.CreateBatch(ctx, created); err != nil {
		return nil, xerrors.Infrastructure("persist matches", err)
	}

	initiator := u.Summary()
	go uc.fanOutOffers(initiator, created, targets, offers)

	return offers, nil
}

func (uc *MatchUsecase) fanOutOffers(initiator domain.ProfileSummary, created []*domain.Match, targets []*domain.User, offers []domain.MatchOffer) {
	for i, m := range created {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		payload := domain.MatchOfferedPayload{
			MatchID:    m.ID,
			Initiator:  initiator,
			DistanceKm: offers[i].DistanceKm,
			ExpiresAt:  m.ExpiresAt,
		}
		msg := fmt.Sprintf("%s nearby wants to match with you", initiator.Username)
		if err := uc.notifier.Dispatch(ctx, targets[i].ID, payload, msg, &m.ID); err != nil {
			uc.logger.Error("match offer dispatch failed",
				zap.String("match_id", m.ID),
				zap.String("user_id", targets[i].ID),
				zap.Error(err))
		}
		cancel()

		uc.publishEvent("created", m, &initiator.UserID)
	}
}

// AcceptMatch applies the two-party transition table. Concurrent accepts
// on the same row serialize through the status compare-and-set; the loser
// re-reads and retries against the fresh state.
func (uc *MatchUsecase) AcceptMatch(ctx context.Context, matchID, userID string) (*AcceptResult, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		m, err := uc.matches.GetByID(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if !m.IsParty(userID) {
			return nil, xerrors.ErrNotMatchParty
		}

		now := uc.now().UTC()
		if handled, err := uc.lazyExpire(ctx, m, now); handled {
			return nil, err
		}
		if m.Status == domain.MatchBothAccepted {
			// Idempotent: a late or repeated accept resolves to the same
			// conversation. This also repairs a match whose conversation
			// create failed after the transition committed.
			conv, err := uc.completeMatch(ctx, m, userID)
			if err != nil {
				return nil, err
			}
			return &AcceptResult{Status: m.Status, Conversation: conv}, nil
		}
		if m.Status.Terminal() {
			return nil, terminalError(m.Status)
		}

		target, err := acceptTarget(m.Status, m.User1ID == userID)
		if err != nil {
			return nil, err
		}

		ok, err := uc.matches.UpdateStatusIf(ctx, m.ID, m.Status, target, &now)
		if err != nil {
			return nil, xerrors.Infrastructure("match transition", err)
		}
		if !ok {
			continue // lost the race; retry against fresh state
		}
		m.Status = target
		m.RespondedAt = &now

		if target == domain.MatchBothAccepted {
			conv, err := uc.completeMatch(ctx, m, userID)
			if err != nil {
				return nil, err
			}
			return &AcceptResult{Status: target, Conversation: conv}, nil
		}

		other := m.OtherParty(userID)
		uc.notifyAsync(other, domain.MatchAcceptedByOtherPayload{
			MatchID: m.ID, ByUser: userID,
		}, "Your neighbor accepted the match", &m.ID)

		uc.publishEvent("accepted", m, &userID)
		return &AcceptResult{Status: target}, nil
	}
	return nil, xerrors.ErrInvalidTransition
}

// RejectMatch moves the match to REJECTED from any non-terminal state and
// tells the other party.
func (uc *MatchUsecase) RejectMatch(ctx context.Context, matchID, userID string) error {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		m, err := uc.matches.GetByID(ctx, matchID)
		if err != nil {
			return err
		}
		if !m.IsParty(userID) {
			return xerrors.ErrNotMatchParty
		}

		now := uc.now().UTC()
		if handled, err := uc.lazyExpire(ctx, m, now); handled {
			return err
		}
		if m.Status == domain.MatchBothAccepted {
			// Too late to reject, but the touch still repairs a missing
			// conversation before reporting the terminal state.
			if _, cerr := uc.completeMatch(ctx, m, userID); cerr != nil {
				return cerr
			}
			return xerrors.ErrAlreadyProcessed
		}
		if m.Status.Terminal() {
			return terminalError(m.Status)
		}

		ok, err := uc.matches.UpdateStatusIf(ctx, m.ID, m.Status, domain.MatchRejected, &now)
		if err != nil {
			return xerrors.Infrastructure("match transition", err)
		}
		if !ok {
			continue
		}
		m.Status = domain.MatchRejected
		m.RespondedAt = &now

		other := m.OtherParty(userID)
		uc.notifyAsync(other, domain.MatchRejectedByOtherPayload{
			MatchID: m.ID, ByUser: userID,
		}, "Your neighbor declined the match", &m.ID)

		uc.publishEvent("rejected", m, &userID)
		return nil
	}
	return xerrors.ErrInvalidTransition
}

// StopMatching bulk-rejects the caller's open matches and discards any
// queued offers nobody has seen. Only future dispatches are prevented;
// in-flight sends finish on their own.
func (uc *MatchUsecase) StopMatching(ctx context.Context, userID string) (int, error) {
	now := uc.now().UTC()
	rejected, err := uc.matches.RejectAllPending(ctx, userID, now)
	if err != nil {
		return 0, xerrors.Infrastructure("reject pending matches", err)
	}

	discarded, err := uc.offers.DeleteUnsentOffersBy(ctx, userID)
	if err != nil {
		uc.logger.Warn("queued offer discard failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	uc.logger.Info("matching stopped",
		zap.String("user_id", userID),
		zap.Int("rejected", len(rejected)),
		zap.Int64("offers_discarded", discarded))

	for _, m := range rejected {
		uc.publishEvent("rejected", m, &userID)
	}
	return len(rejected), nil
}

// ExpireSweep actively transitions lapsed non-terminal matches and
// notifies both parties. Safe to run concurrently with request-triggered
// transitions: the bulk update is conditional on the same status column.
func (uc *MatchUsecase) ExpireSweep(ctx context.Context) (int, error) {
	expired, err := uc.matches.ExpireLapsed(ctx, uc.now().UTC())
	if err != nil {
		return 0, xerrors.Infrastructure("expire sweep", err)
	}

	for _, m := range expired {
		payload := domain.MatchExpiredPayload{MatchID: m.ID}
		uc.notifyAsync(m.User1ID, payload, "A match offer expired unanswered", &m.ID)
		uc.notifyAsync(m.User2ID, payload, "A match offer expired unanswered", &m.ID)
		uc.publishEvent("expired", m, nil)
	}
	return len(expired), nil
}

// RankByInterests orders candidates by Jaccard interest overlap with the
// user, best first. Available as a secondary ranking; the primary
// matching path is distance-only.
func RankByInterests(u *domain.User, candidates []*domain.User) []*domain.User {
	ranked := make([]*domain.User, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return geo.JaccardSimilarity(u.Interests, ranked[i].Interests) >
			geo.JaccardSimilarity(u.Interests, ranked[j].Interests)
	})
	return ranked
}

// lazyExpire converts a lapsed non-terminal match to EXPIRED before the
// caller's operation is judged. Returns handled=true when the caller
// should stop with the returned error.
func (uc *MatchUsecase) lazyExpire(ctx context.Context, m *domain.Match, now time.Time) (bool, error) {
	if m.Status.Terminal() || !m.Lapsed(now) {
		return false, nil
	}
	ok, err := uc.matches.UpdateStatusIf(ctx, m.ID, m.Status, domain.MatchExpired, nil)
	if err != nil {
		return true, xerrors.Infrastructure("lazy expire", err)
	}
	if ok {
		uc.publishEvent("expired", m, nil)
	}
	// Whether we or a concurrent sweep persisted it, the match is gone.
	return true, xerrors.ErrMatchExpired
}

// completeMatch secures the pair's single conversation. When it was just
// created, both parties get MATCH_COMPLETED; a repeat call reuses the
// existing conversation without re-notifying. Called by the accepting
// transition and by any later touch of a BOTH_ACCEPTED match, so a
// conversation create that failed after the transition committed is
// repaired on the next attempt.
func (uc *MatchUsecase) completeMatch(ctx context.Context, m *domain.Match, actorID string) (*domain.Conversation, error) {
	conv, created, err := uc.ensureConversation(ctx, m)
	if err != nil {
		return nil, err
	}
	if created {
		uc.notifyAsync(m.User1ID, domain.MatchCompletedPayload{
			MatchID: m.ID, ConversationID: conv.ID, PartnerID: m.User2ID,
		}, "It's a match! Say hello to your neighbor", &m.ID)
		uc.notifyAsync(m.User2ID, domain.MatchCompletedPayload{
			MatchID: m.ID, ConversationID: conv.ID, PartnerID: m.User1ID,
		}, "It's a match! Say hello to your neighbor", &m.ID)
		uc.publishEvent("completed", m, &actorID)
	}
	return conv, nil
}

func (uc *MatchUsecase) ensureConversation(ctx context.Context, m *domain.Match) (*domain.Conversation, bool, error) {
	conv, err := uc.convos.FindOneToOne(ctx, m.User1ID, m.User2ID)
	if err != nil {
		return nil, false, xerrors.Infrastructure("find conversation", err)
	}
	if conv != nil {
		return conv, false, nil
	}

	name := fmt.Sprintf("match-%s", m.ID)
	conv, err = uc.convos.CreateOneToOne(ctx, name, m.User1ID, m.User2ID)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			// Concurrent creator won; reuse their conversation.
			conv, ferr := uc.convos.FindOneToOne(ctx, m.User1ID, m.User2ID)
			if ferr != nil {
				return nil, false, xerrors.Infrastructure("find conversation", ferr)
			}
			return conv, false, nil
		}
		return nil, false, xerrors.Infrastructure("create conversation", err)
	}
	return conv, true, nil
}

func (uc *MatchUsecase) notifyAsync(userID string, payload domain.NotificationPayload, message string, actionRef *string) {
	ref := actionRef
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := uc.notifier.Dispatch(ctx, userID, payload, message, ref); err != nil {
			uc.logger.Error("notification dispatch failed",
				zap.String("user_id", userID),
				zap.String("type", string(payload.NotificationType())),
				zap.Error(err))
		}
	}()
}

func (uc *MatchUsecase) publishEvent(eventType string, m *domain.Match, actorID *string) {
	if uc.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	uc.events.Publish(ctx, kafka.MatchEventMessage{
		EventType: eventType,
		MatchID:   m.ID,
		User1ID:   m.User1ID,
		User2ID:   m.User2ID,
		Status:    m.Status,
		ActorID:   actorID,
	})
}

func acceptTarget(current domain.MatchStatus, callerIsUser1 bool) (domain.MatchStatus, error) {
	switch current {
	case domain.MatchPending:
		if callerIsUser1 {
			return domain.MatchUser1Accepted, nil
		}
		return domain.MatchUser2Accepted, nil
	case domain.MatchUser1Accepted:
		if callerIsUser1 {
			return "", xerrors.ErrAlreadyProcessed
		}
		return domain.MatchBothAccepted, nil
	case domain.MatchUser2Accepted:
		if !callerIsUser1 {
			return "", xerrors.ErrAlreadyProcessed
		}
		return domain.MatchBothAccepted, nil
	}
	return "", xerrors.ErrInvalidTransition
}

func terminalError(s domain.MatchStatus) error {
	if s == domain.MatchExpired {
		return xerrors.ErrMatchExpired
	}
	return xerrors.ErrAlreadyProcessed
}

func matchesPreferences(cand *domain.User, prefs domain.MatchPreferences) bool {
	if !cand.ProfileComplete() {
		return false
	}
	if prefs.MinAge != nil && (cand.Age == nil || *cand.Age < *prefs.MinAge) {
		return false
	}
	if prefs.MaxAge != nil && (cand.Age == nil || *cand.Age > *prefs.MaxAge) {
		return false
	}
	if prefs.Gender != nil && *prefs.Gender != "" {
		if cand.Gender == nil || *cand.Gender != *prefs.Gender {
			return false
		}
	}
	return true
}
