package domain

import "time"

type MatchStatus string

const (
	MatchPending       MatchStatus = "PENDING"
	MatchUser1Accepted MatchStatus = "USER1_ACCEPTED"
	MatchUser2Accepted MatchStatus = "USER2_ACCEPTED"
	MatchBothAccepted  MatchStatus = "BOTH_ACCEPTED"
	MatchRejected      MatchStatus = "REJECTED"
	MatchExpired       MatchStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s MatchStatus) Terminal() bool {
	switch s {
	case MatchBothAccepted, MatchRejected, MatchExpired:
		return true
	}
	return false
}

type Match struct {
	ID          string      `json:"id"`
	User1ID     string      `json:"user1_id"`
	User2ID     string      `json:"user2_id"`
	Status      MatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	RespondedAt *time.Time  `json:"responded_at,omitempty"`
}

func (m *Match) IsParty(userID string) bool {
	return m.User1ID == userID || m.User2ID == userID
}

func (m *Match) OtherParty(userID string) string {
	if m.User1ID == userID {
		return m.User2ID
	}
	return m.User1ID
}

func (m *Match) Lapsed(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// MatchOffer is the initiator's synchronous view of one created match.
type MatchOffer struct {
	MatchID    string         `json:"match_id"`
	Candidate  ProfileSummary `json:"candidate"`
	DistanceKm float64        `json:"distance_km"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Conversation is the handle returned by the conversation collaborator.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}
