// Package room provides room metadata, the Redis-backed repository for
// (state, meta, lock) triples, and the global room registry.
package room

import (
	"sort"
	"strconv"

	apperrors "github.com/louisbranch/parlor/internal/errors"
)

// Meta is the mutable room record stored alongside the game state. Seats
// maps user ids to dense seat indices in [0, len(Seats)); the same user
// never holds two seats and len(Seats) never exceeds MaxPlayers.
type Meta struct {
	GameType   string            `json:"gameType"`
	MaxPlayers int               `json:"maxPlayers"`
	IsPublic   bool              `json:"isPublic"`
	EntryFee   int64             `json:"entryFee"`
	Seats      map[string]int    `json:"seats"`
	Config     map[string]string `json:"config,omitempty"`
}

// NewMeta returns an empty meta record for a game type.
func NewMeta(gameType string, maxPlayers int) Meta {
	return Meta{
		GameType:   gameType,
		MaxPlayers: maxPlayers,
		Seats:      make(map[string]int),
	}
}

// AddPlayer seats a user on the lowest free seat index. Joining twice is
// idempotent and returns the existing seat. A full room is an illegal
// action.
func (m *Meta) AddPlayer(userID string) (int, error) {
	if seat, ok := m.Seats[userID]; ok {
		return seat, nil
	}

	if len(m.Seats) >= m.MaxPlayers {
		return 0, apperrors.WithMetadata(apperrors.CodeIllegalAction, "room is full", map[string]string{
			"maxPlayers": strconv.Itoa(m.MaxPlayers),
		})
	}

	if m.Seats == nil {
		m.Seats = make(map[string]int)
	}

	seat := len(m.Seats)
	m.Seats[userID] = seat

	return seat, nil
}

// RemovePlayer unseats a user and compacts the remaining seat indices so
// they stay dense. It returns the seat the user held.
func (m *Meta) RemovePlayer(userID string) (int, error) {
	seat, ok := m.Seats[userID]
	if !ok {
		return 0, apperrors.New(apperrors.CodeNotFound, "user is not seated in this room")
	}

	delete(m.Seats, userID)
	for user, s := range m.Seats {
		if s > seat {
			m.Seats[user] = s - 1
		}
	}

	return seat, nil
}

// Seat returns the seat index held by a user.
func (m Meta) Seat(userID string) (int, bool) {
	seat, ok := m.Seats[userID]

	return seat, ok
}

// UserAtSeat returns the user holding a seat index.
func (m Meta) UserAtSeat(seat int) (string, bool) {
	for user, s := range m.Seats {
		if s == seat {
			return user, true
		}
	}

	return "", false
}

// Users lists seated user ids ordered by seat index.
func (m Meta) Users() []string {
	users := make([]string, 0, len(m.Seats))
	for user := range m.Seats {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return m.Seats[users[i]] < m.Seats[users[j]] })

	return users
}

// PlayerCount returns the number of seated users.
func (m Meta) PlayerCount() int { return len(m.Seats) }

// IsFull reports whether every seat is taken.
func (m Meta) IsFull() bool { return len(m.Seats) >= m.MaxPlayers }

// Clone returns a deep copy safe to mutate independently.
func (m Meta) Clone() Meta {
	out := m
	out.Seats = make(map[string]int, len(m.Seats))
	for user, seat := range m.Seats {
		out.Seats[user] = seat
	}
	if m.Config != nil {
		out.Config = make(map[string]string, len(m.Config))
		for key, value := range m.Config {
			out.Config[key] = value
		}
	}

	return out
}

// ConfigInt parses an integer room option stored as a string. Absent or
// malformed values fall back to the provided default; range clamping is
// the game's responsibility.
func (m Meta) ConfigInt(key string, fallback int) int {
	raw, ok := m.Config[key]
	if !ok {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
