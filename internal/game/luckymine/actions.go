package luckymine

import (
	"strconv"
	"time"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

// Evaluate runs one command for the seated player.
func (g *Game) Evaluate(rc *room.Context[State], cmd command.Command, src random.Source, now time.Time) (engine.Decision[State], error) {
	action, ok := g.actions.Resolve(cmd.Action)
	if !ok {
		return engine.Decision[State]{}, apperrors.WithMetadata(apperrors.CodeIllegalAction, "unknown action", map[string]string{
			"action": cmd.Action,
		})
	}

	seat, seated := rc.Meta.Seat(cmd.UserID)
	if !seated {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "user is not seated in this room")
	}
	if seat != int(rc.State.CurrentPlayer) {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "not your turn")
	}
	if rc.State.Status != StatusActive {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "round is over")
	}

	switch action {
	case ActionClick:
		tile, err := cmd.IntField("tileIndex")
		if err != nil {
			return engine.Decision[State]{}, err
		}

		return g.click(rc, tile)
	default:
		return g.cashout(rc)
	}
}

// click reveals one tile. A mine ends the round with nothing; a safe
// tile grows the winnings. Clearing every safe tile banks automatically
// and bumps the jackpot counter.
func (g *Game) click(rc *room.Context[State], tile int) (engine.Decision[State], error) {
	st := rc.State
	if tile < 0 || tile >= int(st.TotalTiles) {
		return engine.Decision[State]{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "tile index out of range", map[string]string{
			"tileIndex": strconv.Itoa(tile),
		})
	}
	if maskHas(st.RevealedMask, tile) {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "tile already revealed")
	}

	maskSet(&st.RevealedMask, tile)

	if maskHas(st.MineMask, tile) {
		st.Status = StatusHitMine
		st.CurrentWinnings = 0
		events := []engine.Event{
			engine.NewEvent(EventHitMine, map[string]any{
				"seat": int(st.CurrentPlayer),
				"tile": tile,
			}),
			engine.NewEvent(EventGameOver, map[string]any{
				"result": "Lost",
				"final":  uint64(0),
			}),
		}

		return g.decide(rc, st, events, g.gameOverInfo(rc, "")), nil
	}

	st.RevealedSafe++
	reveals := int(st.RevealedSafe)
	st.CurrentWinnings = st.winningsAt(reveals)
	events := []engine.Event{engine.NewEvent(EventTileSafe, map[string]any{
		"tile":    tile,
		"count":   reveals,
		"current": st.CurrentWinnings,
		"next":    st.winningsAt(reveals + 1),
	})}

	if reveals == st.safeTiles() {
		st.JackpotCounter++

		return g.settle(rc, st, events), nil
	}

	return g.decide(rc, st, events, nil), nil
}

// cashout banks the current winnings. At least one safe reveal is
// required; an untouched board can only be played or abandoned.
func (g *Game) cashout(rc *room.Context[State]) (engine.Decision[State], error) {
	st := rc.State
	if st.RevealedSafe == 0 {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "reveal a tile before cashing out")
	}

	return g.settle(rc, st, nil), nil
}

// settle finalizes a won round: CashedOut, GameOver and the Transaction
// the ledger settles against.
func (g *Game) settle(rc *room.Context[State], st State, lead []engine.Event) engine.Decision[State] {
	st.Status = StatusCashedOut
	winnings := st.CurrentWinnings
	userID, _ := rc.Meta.UserAtSeat(int(st.CurrentPlayer))

	events := append(lead,
		engine.NewEvent(EventCashedOut, map[string]any{
			"winnings": winnings,
		}),
		engine.NewEvent(EventGameOver, map[string]any{
			"result": "Won",
			"final":  winnings,
		}),
		engine.NewEvent(EventTransaction, map[string]any{
			"amount": winnings,
			"userId": userID,
		}),
	)

	return g.decide(rc, st, events, g.gameOverInfo(rc, userID))
}

func (g *Game) decide(rc *room.Context[State], st State, events []engine.Event, over *engine.GameOverInfo) engine.Decision[State] {
	return engine.Decision[State]{
		State:     st,
		Meta:      rc.Meta,
		Events:    events,
		Broadcast: true,
		GameOver:  over,
	}
}

func (g *Game) gameOverInfo(rc *room.Context[State], winner string) *engine.GameOverInfo {
	info := &engine.GameOverInfo{
		RoomID:   rc.RoomID,
		GameType: Type,
		Seats:    rc.Meta.Seats,
		EntryFee: rc.Meta.EntryFee,
	}
	if winner != "" {
		info.WinnerUserID = winner
		info.Winners = []string{winner}
	}

	return info
}
