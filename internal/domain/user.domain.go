package domain

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Online       bool       `json:"online"`
	LastOnlineAt *time.Time `json:"last_online_at,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Age          *int       `json:"age,omitempty"`
	Gender       *string    `json:"gender,omitempty"`
	Interests    []string   `json:"interests,omitempty"`
	Address      *string    `json:"address,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ProfileComplete reports whether the profile carries everything the
// matching flow needs: age, gender, at least one interest, a location
// and an address.
func (u *User) ProfileComplete() bool {
	return u.Age != nil &&
		u.Gender != nil && *u.Gender != "" &&
		len(u.Interests) > 0 &&
		u.Latitude != nil && u.Longitude != nil &&
		u.Address != nil && *u.Address != ""
}

// ProfileSummary is the slice of a profile shared with a match candidate.
type ProfileSummary struct {
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Age       *int     `json:"age,omitempty"`
	Gender    *string  `json:"gender,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

func (u *User) Summary() ProfileSummary {
	return ProfileSummary{
		UserID:    u.ID,
		Username:  u.Username,
		Age:       u.Age,
		Gender:    u.Gender,
		Interests: u.Interests,
	}
}

// MatchPreferences is persisted when a user starts matching.
type MatchPreferences struct {
	MaxDistanceKm float64  `json:"max_distance_km"`
	MinAge        *int     `json:"min_age,omitempty"`
	MaxAge        *int     `json:"max_age,omitempty"`
	Gender        *string  `json:"gender,omitempty"`
	Interests     []string `json:"interests,omitempty"`
}
