package ludo

import (
	"strconv"
	"time"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

// Evaluate runs one command for the seat holding the turn.
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

	st := &rc.State
	switch {
	case st.GameOver == 1:
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "game already ended")
	case st.activeCount() < minSeatsToPlay:
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "waiting for players")
	case seat != int(st.CurrentPlayer):
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "not your turn")
	}

	switch action {
	case ActionRoll:
		return g.roll(rc, seat, src, now)
	case ActionMove:
		token, err := cmd.IntField("tokenIndex")
		if err != nil {
			return engine.Decision[State]{}, err
		}

		return g.move(rc, seat, token, now)
	default:
		return g.skip(rc, now)
	}
}

// roll throws the dice. A pending six may be re-rolled instead of moved;
// any other pending value must be resolved first. The third six in a
// row voids the turn without a move.
func (g *Game) roll(rc *room.Context[State], seat int, src random.Source, now time.Time) (engine.Decision[State], error) {
	st := rc.State
	if st.LastRoll != 0 && st.LastRoll != 6 {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "resolve the current roll first")
	}

	value := 1 + src.IntN(6)
	events := []engine.Event{engine.NewEvent(EventDiceRolled, map[string]any{
		"seat":  seat,
		"value": value,
	})}

	if value == 6 {
		st.ConsecutiveSixes++
		if st.ConsecutiveSixes >= 3 {
			next := st.advanceTurn(now)

			return g.decide(rc, st, append(events, turnChangedEvent(next)), nil), nil
		}
	} else {
		st.ConsecutiveSixes = 0
	}

	st.LastRoll = uint8(value)
	st.MovableTokens = st.movableMask(seat, value)
	st.TurnStartedAt = now.UnixMilli()

	if st.MovableTokens == 0 {
		// Nothing can move, including the all-overshoot case.
		next := st.advanceTurn(now)
		events = append(events, turnChangedEvent(next))
	}

	return g.decide(rc, st, events, nil), nil
}

// move resolves the pending roll on one token.
func (g *Game) move(rc *room.Context[State], seat, token int, now time.Time) (engine.Decision[State], error) {
	st := rc.State
	if st.LastRoll == 0 {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "roll the dice first")
	}
	if token < 0 || token >= tokensPerSeat {
		return engine.Decision[State]{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "token index out of range", map[string]string{
			"tokenIndex": strconv.Itoa(token),
		})
	}
	if st.MovableTokens&(1<<uint(token)) == 0 {
		return engine.Decision[State]{}, apperrors.New(apperrors.CodeIllegalAction, "token cannot move")
	}

	value := int(st.LastRoll)
	from := st.position(seat, token)
	dest, _ := destination(from, value, seat)

	st.setPosition(seat, token, dest)
	events := []engine.Event{engine.NewEvent(EventTokenMoved, map[string]any{
		"seat":  seat,
		"token": token,
		"from":  int(from),
		"to":    int(dest),
	})}

	captured := false
	if dest >= 1 && dest <= trackSize && !isSafe(dest) {
		if victimSeat, victimToken, ok := st.soleOpponentAt(dest, seat); ok {
			st.setPosition(victimSeat, victimToken, posBase)
			captured = true
			events = append(events, engine.NewEvent(EventTokenCaptured, map[string]any{
				"seat":  victimSeat,
				"token": victimToken,
			}))
		}
	}

	if dest == posFinished {
		events = append(events, engine.NewEvent(EventTokenFinished, map[string]any{
			"seat":  seat,
			"token": token,
		}))
	}

	seatJustDone := false
	if !st.seatFinished(seat) && st.seatDone(seat) {
		st.FinishedSeats |= seatBit(seat)
		st.Winners = appendWinner(st.Winners, seat)
		seatJustDone = true
	}

	if st.activeCount()-st.finishedCount() <= 1 {
		st.GameOver = 1
		st.LastRoll = 0
		st.MovableTokens = 0
		seats := ranking(st.Winners)
		events = append(events, engine.NewEvent(EventGameEnded, map[string]any{
			"ranking": seats,
		}))

		return g.decide(rc, st, events, g.gameOverInfo(rc, &st, seats)), nil
	}

	if !seatJustDone && (value == 6 || captured) {
		// Extra roll in the same turn.
		st.LastRoll = 0
		st.MovableTokens = 0
		st.TurnStartedAt = now.UnixMilli()
	} else {
		next := st.advanceTurn(now)
		events = append(events, turnChangedEvent(next))
	}

	return g.decide(rc, st, events, nil), nil
}

// skip passes the turn voluntarily, forfeiting any pending roll.
func (g *Game) skip(rc *room.Context[State], now time.Time) (engine.Decision[State], error) {
	st := rc.State
	next := st.advanceTurn(now)

	return g.decide(rc, st, []engine.Event{turnChangedEvent(next)}, nil), nil
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

func (g *Game) gameOverInfo(rc *room.Context[State], st *State, seats []int) *engine.GameOverInfo {
	winners := make([]string, 0, len(seats))
	for _, seat := range seats {
		if userID, ok := rc.Meta.UserAtSeat(seat); ok {
			winners = append(winners, userID)
		}
	}

	info := &engine.GameOverInfo{
		RoomID:        rc.RoomID,
		GameType:      Type,
		Seats:         rc.Meta.Seats,
		EntryFee:      rc.Meta.EntryFee,
		TurnStartedAt: st.TurnStartedAt,
		Winners:       winners,
	}
	if len(winners) > 0 {
		info.WinnerUserID = winners[0]
	}

	return info
}

func turnChangedEvent(next int) engine.Event {
	return engine.NewEvent(EventTurnChanged, map[string]any{"seat": next})
}
