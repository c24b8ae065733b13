// Package ludo implements the four-seat board game: a 52-square shared
// track with capture on unsafe squares, dice with re-roll grants, a
// private six-square home column per seat and packed win ranking.
package ludo

import (
	"time"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

// Actions accepted by Evaluate.
const (
	ActionRoll = "Roll"
	ActionMove = "Move"
	ActionSkip = "Skip"
)

// Event names pushed to room subscribers.
const (
	EventDiceRolled    = "DiceRolled"
	EventTokenMoved    = "TokenMoved"
	EventTokenCaptured = "TokenCaptured"
	EventTokenFinished = "TokenFinished"
	EventTurnChanged   = "TurnChanged"
	EventGameEnded     = "GameEnded"
	EventPlayerJoined  = "PlayerJoined"
	EventPlayerLeft    = "PlayerLeft"
)

// DefaultTurnTimeout bounds a turn before the tick loop may skip it.
const DefaultTurnTimeout = 30 * time.Second

// minSeatsToPlay gates dice actions until an opponent is present.
const minSeatsToPlay = 2

// Config carries server-wide Ludo settings; rooms take no per-room
// options.
type Config struct {
	// TurnTimeout caps how long a seat may hold its turn. Zero
	// disables the auto-skip.
	TurnTimeout time.Duration
}

// Game evaluates Ludo commands. One stateless instance serves every
// room of the type.
type Game struct {
	turnTimeout time.Duration
	actions     *command.Registry
}

// New builds the Ludo rules engine.
func New(cfg Config) *Game {
	actions := command.NewRegistry()
	actions.Register(ActionRoll)
	actions.Register(ActionMove)
	actions.Register(ActionSkip)

	return &Game{turnTimeout: cfg.TurnTimeout, actions: actions}
}

func (g *Game) GameType() string { return Type }

// NewRoom sets up an empty table. Seats activate as players join and
// the turn clock starts once a second player arrives.
func (g *Game) NewRoom(roomID string, opts engine.CreateRoomOptions, src random.Source) (*room.Context[State], error) {
	meta := room.NewMeta(Type, maxSeats)
	meta.IsPublic = opts.IsPublic
	meta.EntryFee = opts.EntryFee

	state := State{TurnTimeoutSeconds: uint16(g.turnTimeout / time.Second)}

	return &room.Context[State]{RoomID: roomID, State: state, Meta: meta}, nil
}

// Join seats the user and activates their seat.
func (g *Game) Join(rc *room.Context[State], userID string, now time.Time) (engine.Decision[State], error) {
	if rc.State.GameOver == 1 {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "game already ended")
	}

	seat, err := rc.Meta.AddPlayer(userID)
	if err != nil {
		return engine.Decision[State]{}, err
	}

	st := rc.State
	st.ActiveSeats |= seatBit(seat)
	if st.activeCount() == minSeatsToPlay && st.TurnID == 0 {
		st.TurnID = 1
		st.TurnStartedAt = now.UnixMilli()
	}

	return engine.Decision[State]{
		State:     st,
		Meta:      rc.Meta,
		Broadcast: true,
		Events: []engine.Event{engine.NewEvent(EventPlayerJoined, map[string]any{
			"userId": userID,
			"seat":   seat,
		})},
	}, nil
}

// Leave unseats the user. Once tokens are on the board the table is
// committed: leaving is only possible again after the game ends. The
// room is archived when the last player walks away.
func (g *Game) Leave(rc *room.Context[State], userID string, now time.Time) (engine.Decision[State], error) {
	if rc.State.started() && rc.State.GameOver == 0 {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "cannot leave a running game")
	}

	seat, err := rc.Meta.RemovePlayer(userID)
	if err != nil {
		return engine.Decision[State]{}, err
	}

	st := rc.State
	if st.GameOver == 0 {
		// Seats above the leaver shifted down; nothing is on the
		// board yet, so only the dense seat bits need rebuilding.
		st.ActiveSeats = uint8(1<<rc.Meta.PlayerCount()) - 1
		if st.activeCount() < minSeatsToPlay {
			st.TurnStartedAt = 0
		}
	} else {
		st.ActiveSeats &^= seatBit(seat)
	}

	return engine.Decision[State]{
		State:     st,
		Meta:      rc.Meta,
		Broadcast: true,
		Archive:   rc.Meta.PlayerCount() == 0,
		Events: []engine.Event{engine.NewEvent(EventPlayerLeft, map[string]any{
			"userId": userID,
			"seat":   seat,
		})},
	}, nil
}

// Tick auto-skips a seat that sat on its turn past the timeout. An
// external loop drives this; the game itself never watches clocks.
func (g *Game) Tick(rc *room.Context[State], now time.Time) (engine.Decision[State], bool, error) {
	st := rc.State
	if st.GameOver == 1 || st.TurnTimeoutSeconds == 0 || st.TurnStartedAt == 0 {
		return engine.Decision[State]{}, false, nil
	}
	if st.activeCount() < minSeatsToPlay {
		return engine.Decision[State]{}, false, nil
	}

	deadline := st.TurnStartedAt + int64(st.TurnTimeoutSeconds)*1000
	if now.UnixMilli() < deadline {
		return engine.Decision[State]{}, false, nil
	}

	next := st.advanceTurn(now)

	return engine.Decision[State]{
		State:     st,
		Meta:      rc.Meta,
		Broadcast: true,
		Events:    []engine.Event{turnChangedEvent(next)},
	}, true, nil
}

// LegalActions reports what the user may do right now. An empty user id
// reports on the seat holding the turn.
func (g *Game) LegalActions(rc *room.Context[State], userID string) []string {
	st := &rc.State
	if st.GameOver == 1 || st.activeCount() < minSeatsToPlay {
		return nil
	}
	if userID != "" {
		seat, ok := rc.Meta.Seat(userID)
		if !ok || seat != int(st.CurrentPlayer) {
			return nil
		}
	}

	switch {
	case st.LastRoll == 0:
		return []string{ActionRoll, ActionSkip}
	case st.LastRoll == 6:
		// The six grants a re-roll that may be taken instead of moving.
		return []string{ActionRoll, ActionMove, ActionSkip}
	default:
		return []string{ActionMove, ActionSkip}
	}
}

// Snapshot is the client-facing view of a room.
type Snapshot struct {
	CurrentPlayer      int     `json:"currentPlayer"`
	LastRoll           int     `json:"lastRoll"`
	ConsecutiveSixes   int     `json:"consecutiveSixes"`
	TurnID             uint32  `json:"turnId"`
	TurnStartedAt      int64   `json:"turnStartedAt"`
	TurnTimeoutSeconds int     `json:"turnTimeoutSeconds"`
	GameOver           bool    `json:"gameOver"`
	ActiveSeats        []int   `json:"activeSeats"`
	FinishedSeats      []int   `json:"finishedSeats"`
	MovableTokens      []int   `json:"movableTokens,omitempty"`
	Positions          [][]int `json:"positions"`
	Ranking            []int   `json:"ranking,omitempty"`
}

// StateDTO renders the state for clients; the board hides nothing.
func (g *Game) StateDTO(rc *room.Context[State]) any {
	st := &rc.State

	positions := make([][]int, maxSeats)
	for seat := range positions {
		row := make([]int, tokensPerSeat)
		for t := range row {
			row[t] = int(st.position(seat, t))
		}
		positions[seat] = row
	}

	var movable []int
	for t := 0; t < tokensPerSeat; t++ {
		if st.MovableTokens&(1<<uint(t)) != 0 {
			movable = append(movable, t)
		}
	}

	return Snapshot{
		CurrentPlayer:      int(st.CurrentPlayer),
		LastRoll:           int(st.LastRoll),
		ConsecutiveSixes:   int(st.ConsecutiveSixes),
		TurnID:             st.TurnID,
		TurnStartedAt:      st.TurnStartedAt,
		TurnTimeoutSeconds: int(st.TurnTimeoutSeconds),
		GameOver:           st.GameOver == 1,
		ActiveSeats:        maskSeats(st.ActiveSeats),
		FinishedSeats:      maskSeats(st.FinishedSeats),
		MovableTokens:      movable,
		Positions:          positions,
		Ranking:            ranking(st.Winners),
	}
}

var _ engine.Game[State] = (*Game)(nil)
