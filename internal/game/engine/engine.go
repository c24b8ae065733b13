// Package engine provides the framework shared by every game: the command
// execution pipeline, lock-guarded mutation, read paths for clients and
// the lobby, and broadcast shaping.
package engine

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

// Event is one (name, payload) pair emitted by a game decision. Events
// are immutable once emitted; the runtime stamps the timestamp when the
// game leaves it zero.
type Event struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event; the timestamp is assigned by the runtime.
func NewEvent(name string, data map[string]any) Event {
	return Event{Name: name, Data: data}
}

// GameOverInfo summarizes a finished room for settlement and the lobby.
type GameOverInfo struct {
	RoomID        string         `json:"roomId"`
	GameType      string         `json:"gameType"`
	Seats         map[string]int `json:"seats"`
	WinnerUserID  string         `json:"winnerUserId,omitempty"`
	EntryFee      int64          `json:"entryFee"`
	TurnStartedAt int64          `json:"turnStartedAt,omitempty"`
	Winners       []string       `json:"winners,omitempty"`
}

// StateResponse is the read model served to clients and the lobby. State
// holds the game-specific DTO, which never exposes hidden information
// such as unrevealed mines.
type StateResponse struct {
	RoomID     string    `json:"roomId"`
	GameType   string    `json:"gameType"`
	Meta       room.Meta `json:"meta"`
	State      any       `json:"state"`
	LegalMoves []string  `json:"legalMoves,omitempty"`
}

// ActionResult is the outcome of one mutation. Recoverable conditions
// (busy, not found, illegal action, invalid argument) are reported here
// with Success false; corrupt state and infrastructure failures surface
// as Go errors instead.
type ActionResult struct {
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	Code            apperrors.Code `json:"code,omitempty"`
	ShouldBroadcast bool           `json:"shouldBroadcast"`
	State           *StateResponse `json:"state,omitempty"`
	Events          []Event        `json:"events,omitempty"`
	GameOver        *GameOverInfo  `json:"gameOver,omitempty"`
}

// Decision is what a game returns from a successful evaluation: the next
// state and meta to persist, the events to push, and lifecycle flags.
type Decision[S any] struct {
	State     S
	Meta      room.Meta
	Events    []Event
	Broadcast bool
	GameOver  *GameOverInfo
	Archive   bool
}

// CreateRoomOptions carries the caller-controlled knobs for a new room.
// Game-specific options travel in Config as strings and are clamped by
// the game.
type CreateRoomOptions struct {
	RoomID   string
	HostID   string
	IsPublic bool
	EntryFee int64
	Config   map[string]string
}

// Game implements one game's rules. Implementations are stateless
// singletons: every method works on the room context it is handed and
// randomness comes only from the provided source. LegalActions with an
// empty user id reports the current actor's actions.
type Game[S any] interface {
	GameType() string
	NewRoom(roomID string, opts CreateRoomOptions, src random.Source) (*room.Context[S], error)
	Join(rc *room.Context[S], userID string, now time.Time) (Decision[S], error)
	Leave(rc *room.Context[S], userID string, now time.Time) (Decision[S], error)
	Evaluate(rc *room.Context[S], cmd command.Command, src random.Source, now time.Time) (Decision[S], error)
	LegalActions(rc *room.Context[S], userID string) []string
	StateDTO(rc *room.Context[S]) any
	Tick(rc *room.Context[S], now time.Time) (Decision[S], bool, error)
}

// Store persists room triples and serializes mutations. room.Repository
// is the Redis implementation.
type Store[S any] interface {
	Load(ctx context.Context, roomID string) (*room.Context[S], error)
	Save(ctx context.Context, rc *room.Context[S]) error
	Delete(ctx context.Context, roomID string) error
	LoadMany(ctx context.Context, roomIDs []string) ([]room.Context[S], error)
	AcquireLock(ctx context.Context, roomID string) error
	Unlock(ctx context.Context, roomID string)
}

// Broadcaster pushes state and events to a room's subscribers. Result
// delivery pushes state first, then each event in emission order.
type Broadcaster interface {
	BroadcastState(ctx context.Context, roomID string, state *StateResponse) error
	BroadcastEvent(ctx context.Context, roomID string, event Event) error
	BroadcastResult(ctx context.Context, roomID string, result ActionResult) error
}

// Journal is the asynchronous fan-out seam for wallet and profile side
// effects. Implementations pick the events they care about.
type Journal interface {
	RecordResult(ctx context.Context, gameType, roomID string, result ActionResult) error
}

// UserBindings maintains the advisory user→room map.
type UserBindings interface {
	SetUserRoom(ctx context.Context, userID, roomID string) error
	RemoveUserRoom(ctx context.Context, userID string) error
}

// Engine is the type-erased surface the edge dispatches to.
type Engine interface {
	GameType() string
	Execute(ctx context.Context, roomID string, cmd command.Command) (ActionResult, error)
	LegalActions(ctx context.Context, roomID, userID string) ([]string, error)
	State(ctx context.Context, roomID string) (*StateResponse, error)
	States(ctx context.Context, roomIDs []string) ([]StateResponse, error)
	Tick(ctx context.Context, roomID string) (ActionResult, error)
}

// RoomService manages room lifecycle for one game type.
type RoomService interface {
	GameType() string
	CreateRoom(ctx context.Context, opts CreateRoomOptions) (*StateResponse, error)
	Join(ctx context.Context, roomID, userID string) (ActionResult, error)
	Leave(ctx context.Context, roomID, userID string) (ActionResult, error)
}
