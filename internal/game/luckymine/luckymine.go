// Package luckymine implements the single-seat reveal game: a grid of
// hidden tiles seeded with mines, a payout that grows with every safe
// reveal, and a cashout that banks the current winnings. Hitting a mine
// ends the round with nothing.
package luckymine

import (
	"math"
	"time"

	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

// Actions accepted by Evaluate. Click and Reveal are synonyms.
const (
	ActionClick   = "Click"
	ActionReveal  = "Reveal"
	ActionCashout = "Cashout"
)

// Event names pushed to room subscribers. Transaction is the only
// channel through which the ledger learns of a payout.
const (
	EventTileSafe     = "TileSafe"
	EventHitMine      = "HitMine"
	EventCashedOut    = "CashedOut"
	EventGameOver     = "GameOver"
	EventTransaction  = "Transaction"
	EventPlayerJoined = "PlayerJoined"
	EventPlayerLeft   = "PlayerLeft"
)

// Room config keys; values are integers as strings and get clamped.
const (
	ConfigTotalTiles = "TotalTiles"
	ConfigTotalMines = "TotalMines"
)

// Game evaluates LuckyMine commands. One stateless instance serves
// every room of the type.
type Game struct {
	actions *command.Registry
}

// New builds the LuckyMine rules engine.
func New() *Game {
	actions := command.NewRegistry()
	actions.Register(ActionClick, ActionReveal)
	actions.Register(ActionCashout)

	return &Game{actions: actions}
}

func (g *Game) GameType() string { return Type }

// NewRoom clamps the board config, places the mines and opens the
// round. The random source decides mine placement, so tests seed it.
func (g *Game) NewRoom(roomID string, opts engine.CreateRoomOptions, src random.Source) (*room.Context[State], error) {
	meta := room.NewMeta(Type, 1)
	meta.IsPublic = opts.IsPublic
	meta.EntryFee = opts.EntryFee
	meta.Config = opts.Config

	tiles := clamp(meta.ConfigInt(ConfigTotalTiles, defaultTiles), minTiles, maxTiles)
	mines := clamp(meta.ConfigInt(ConfigTotalMines, defaultMines), 1, tiles-1)

	entry := opts.EntryFee
	if entry < 0 {
		entry = 0
	}
	if entry > math.MaxUint32 {
		entry = math.MaxUint32
	}

	state := State{
		MineMask:    placeMines(tiles, mines, src),
		TotalTiles:  uint8(tiles),
		TotalMines:  uint8(mines),
		Status:      StatusActive,
		EntryCost:   uint32(entry),
		RewardSlope: defaultRewardSlope,
	}

	return &room.Context[State]{RoomID: roomID, State: state, Meta: meta}, nil
}

// Join seats the single player.
func (g *Game) Join(rc *room.Context[State], userID string, now time.Time) (engine.Decision[State], error) {
	seat, err := rc.Meta.AddPlayer(userID)
	if err != nil {
		return engine.Decision[State]{}, err
	}

	return engine.Decision[State]{
		State:     rc.State,
		Meta:      rc.Meta,
		Broadcast: true,
		Events: []engine.Event{engine.NewEvent(EventPlayerJoined, map[string]any{
			"userId": userID,
			"seat":   seat,
		})},
	}, nil
}

// Leave unseats the player. An active round is simply abandoned: the
// entry stays with the house and no Transaction is emitted. The room is
// archived once empty.
func (g *Game) Leave(rc *room.Context[State], userID string, now time.Time) (engine.Decision[State], error) {
	seat, err := rc.Meta.RemovePlayer(userID)
	if err != nil {
		return engine.Decision[State]{}, err
	}

	return engine.Decision[State]{
		State:     rc.State,
		Meta:      rc.Meta,
		Broadcast: true,
		Archive:   rc.Meta.PlayerCount() == 0,
		Events: []engine.Event{engine.NewEvent(EventPlayerLeft, map[string]any{
			"userId": userID,
			"seat":   seat,
		})},
	}, nil
}

// Tick does nothing: the round has no clock.
func (g *Game) Tick(rc *room.Context[State], now time.Time) (engine.Decision[State], bool, error) {
	return engine.Decision[State]{}, false, nil
}

// LegalActions reports what the user may do right now.
func (g *Game) LegalActions(rc *room.Context[State], userID string) []string {
	st := &rc.State
	if st.Status != StatusActive || rc.Meta.PlayerCount() == 0 {
		return nil
	}
	if userID != "" {
		seat, ok := rc.Meta.Seat(userID)
		if !ok || seat != int(st.CurrentPlayer) {
			return nil
		}
	}

	if st.RevealedSafe == 0 {
		return []string{ActionClick}
	}

	return []string{ActionClick, ActionCashout}
}

// Snapshot is the client-facing view of a room. Mine positions stay
// hidden until the round is over.
type Snapshot struct {
	TotalTiles      int    `json:"totalTiles"`
	TotalMines      int    `json:"totalMines"`
	Revealed        []int  `json:"revealed"`
	RevealedSafe    int    `json:"revealedSafe"`
	EntryCost       uint32 `json:"entryCost"`
	CurrentWinnings uint64 `json:"currentWinnings"`
	NextWinnings    uint64 `json:"nextWinnings"`
	Status          string `json:"status"`
	JackpotCounter  uint32 `json:"jackpotCounter"`
	Mines           []int  `json:"mines,omitempty"`
}

// StateDTO renders the state for clients without leaking live mines.
func (g *Game) StateDTO(rc *room.Context[State]) any {
	st := &rc.State

	snapshot := Snapshot{
		TotalTiles:      int(st.TotalTiles),
		TotalMines:      int(st.TotalMines),
		Revealed:        maskTiles(st.RevealedMask, int(st.TotalTiles)),
		RevealedSafe:    int(st.RevealedSafe),
		EntryCost:       st.EntryCost,
		CurrentWinnings: st.CurrentWinnings,
		NextWinnings:    st.winningsAt(int(st.RevealedSafe) + 1),
		Status:          statusLabel(st.Status),
		JackpotCounter:  st.JackpotCounter,
	}
	if st.Status != StatusActive {
		snapshot.Mines = maskTiles(st.MineMask, int(st.TotalTiles))
	}

	return snapshot
}

func statusLabel(status uint8) string {
	switch status {
	case StatusHitMine:
		return "HitMine"
	case StatusCashedOut:
		return "CashedOut"
	default:
		return "Active"
	}
}

var _ engine.Game[State] = (*Game)(nil)
