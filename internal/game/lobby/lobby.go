// Package lobby is the read side of room discovery: paged, filterable
// listings per game type and the user→room reconnect lookup.
package lobby

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/lobby/filter"
)

// Page size bounds for ListRooms.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Constructor validation errors.
var (
	ErrDirectoryRequired = errors.New("lobby: directory is required")
	ErrSourceRequired    = errors.New("lobby: at least one state source is required")
)

// RoomFields are the AIP-160 fields ListRooms accepts in filter
// expressions.
var RoomFields = filter.Fields{
	"game_type":   filter.FieldString,
	"is_public":   filter.FieldBool,
	"entry_fee":   filter.FieldInt,
	"players":     filter.FieldInt,
	"max_players": filter.FieldInt,
}

// Directory is the room index the lobby pages through.
type Directory interface {
	RoomIDsPaged(ctx context.Context, gameType string, cursor, pageSize int64) ([]string, int64, error)
	UserRoom(ctx context.Context, userID string) (string, error)
	GameType(ctx context.Context, roomID string) (string, error)
}

// StateSource loads room snapshots for one game type.
type StateSource interface {
	GameType() string
	States(ctx context.Context, roomIDs []string) ([]engine.StateResponse, error)
}

// Service serves lobby reads. It holds no state of its own.
type Service struct {
	directory Directory
	sources   map[string]StateSource
}

// New wires a lobby over the directory and one state source per game
// type.
func New(directory Directory, sources ...StateSource) (*Service, error) {
	if directory == nil {
		return nil, ErrDirectoryRequired
	}
	if len(sources) == 0 {
		return nil, ErrSourceRequired
	}

	byType := make(map[string]StateSource, len(sources))
	for _, source := range sources {
		gameType := source.GameType()
		if _, dup := byType[gameType]; dup {
			return nil, fmt.Errorf("lobby: duplicate state source for %s", gameType)
		}
		byType[gameType] = source
	}

	return &Service{directory: directory, sources: byType}, nil
}

// ListRoomsRequest selects one page of one game type's rooms.
type ListRoomsRequest struct {
	GameType string
	Filter   string
	Cursor   int64
	PageSize int64
}

// RoomSummary is the lobby view of a room.
type RoomSummary struct {
	RoomID     string `json:"roomId"`
	GameType   string `json:"gameType"`
	IsPublic   bool   `json:"isPublic"`
	EntryFee   int64  `json:"entryFee"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
}

func (r RoomSummary) resolve(name string) (any, bool) {
	switch name {
	case "game_type":
		return r.GameType, true
	case "is_public":
		return r.IsPublic, true
	case "entry_fee":
		return r.EntryFee, true
	case "players":
		return r.Players, true
	case "max_players":
		return r.MaxPlayers, true
	default:
		return nil, false
	}
}

// ListRoomsResponse is one page of summaries. NextCursor is zero when
// the listing is exhausted.
type ListRoomsResponse struct {
	Rooms      []RoomSummary `json:"rooms"`
	NextCursor int64         `json:"nextCursor,omitempty"`
}

// ListRooms pages a game type's rooms newest first. The filter narrows
// each page after it is cut, so a filtered page may carry fewer rooms
// than PageSize while NextCursor still advances; rooms deleted since
// registration are skipped the same way.
func (s *Service) ListRooms(ctx context.Context, req ListRoomsRequest) (*ListRoomsResponse, error) {
	source, ok := s.sources[req.GameType]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown game type", map[string]string{
			"gameType": req.GameType,
		})
	}

	filterExpr, err := filter.Parse(req.Filter, RoomFields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse room filter", err)
	}

	ids, next, err := s.directory.RoomIDsPaged(ctx, req.GameType, req.Cursor, clampPageSize(req.PageSize))
	if err != nil {
		return nil, err
	}

	states, err := source.States(ctx, ids)
	if err != nil {
		return nil, err
	}

	rooms := make([]RoomSummary, 0, len(states))
	for _, state := range states {
		summary := RoomSummary{
			RoomID:     state.RoomID,
			GameType:   state.GameType,
			IsPublic:   state.Meta.IsPublic,
			EntryFee:   state.Meta.EntryFee,
			Players:    state.Meta.PlayerCount(),
			MaxPlayers: state.Meta.MaxPlayers,
		}

		match, err := filter.Evaluate(filterExpr, summary.resolve)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "evaluate room filter", err)
		}
		if match {
			rooms = append(rooms, summary)
		}
	}

	return &ListRoomsResponse{Rooms: rooms, NextCursor: next}, nil
}

// Binding is a resolved user→room association.
type Binding struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	GameType string `json:"gameType"`
}

// ResolveUserRoom follows the advisory binding back to a live room. A
// user without a binding, or whose room is gone, gets a not-found.
func (s *Service) ResolveUserRoom(ctx context.Context, userID string) (Binding, error) {
	roomID, err := s.directory.UserRoom(ctx, userID)
	if err != nil {
		return Binding{}, err
	}

	gameType, err := s.directory.GameType(ctx, roomID)
	if err != nil {
		return Binding{}, err
	}

	return Binding{UserID: userID, RoomID: roomID, GameType: gameType}, nil
}

func clampPageSize(size int64) int64 {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}

	return size
}
