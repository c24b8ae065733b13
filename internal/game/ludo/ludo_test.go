package ludo

import (
	"fmt"
	"testing"
	"time"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

var testClock = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func testRoom(t *testing.T, players int) (*Game, *room.Context[State]) {
	t.Helper()

	g := New(Config{TurnTimeout: 30 * time.Second})
	rc, err := g.NewRoom("LUDO01", engine.CreateRoomOptions{}, random.Fixed(0))
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	for i := 0; i < players; i++ {
		decision, err := g.Join(rc, testUser(i), testClock)
		if err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
		apply(rc, decision)
	}

	return g, rc
}

func testUser(seat int) string { return fmt.Sprintf("user-%d", seat) }

func apply(rc *room.Context[State], decision engine.Decision[State]) {
	rc.State = decision.State
	if decision.Meta.GameType != "" {
		rc.Meta = decision.Meta
	}
}

func eventNames(events []engine.Event) []string {
	out := make([]string, len(events))
	for i, event := range events {
		out[i] = event.Name
	}

	return out
}

func mustEvaluate(t *testing.T, g *Game, rc *room.Context[State], userID, action string, payload map[string]any, src random.Source) engine.Decision[State] {
	t.Helper()

	decision, err := g.Evaluate(rc, command.Command{UserID: userID, Action: action, Payload: payload}, src, testClock)
	if err != nil {
		t.Fatalf("%s %s: %v", userID, action, err)
	}
	apply(rc, decision)

	return decision
}

func TestStartOnSix(t *testing.T) {
	g, rc := testRoom(t, 4)

	rolled := mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(5))
	names := eventNames(rolled.Events)
	if len(names) != 1 || names[0] != EventDiceRolled {
		t.Fatalf("roll events = %v, want [DiceRolled]", names)
	}
	if rolled.Events[0].Data["value"] != 6 || rolled.Events[0].Data["seat"] != 0 {
		t.Errorf("DiceRolled data = %v", rolled.Events[0].Data)
	}
	if rc.State.MovableTokens != 0b1111 {
		t.Errorf("movable mask = %04b, want 1111", rc.State.MovableTokens)
	}

	moved := mustEvaluate(t, g, rc, testUser(0), "move", map[string]any{"tokenIndex": 0}, random.Fixed(0))
	if rc.State.position(0, 0) != 1 {
		t.Errorf("token position = %d, want entry square 1", rc.State.position(0, 0))
	}
	move := moved.Events[0]
	if move.Name != EventTokenMoved || move.Data["from"] != 0 || move.Data["to"] != 1 {
		t.Errorf("TokenMoved = %v", move)
	}

	// The six grants a fresh roll in the same turn.
	if rc.State.CurrentPlayer != 0 || rc.State.LastRoll != 0 {
		t.Errorf("turn state = player %d roll %d, want player 0 with pending roll cleared",
			rc.State.CurrentPlayer, rc.State.LastRoll)
	}
}

func TestCaptureGrantsExtraRoll(t *testing.T) {
	g, rc := testRoom(t, 2)
	rc.State.setPosition(0, 0, 10)
	rc.State.setPosition(1, 0, 12)

	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(1))
	decision := mustEvaluate(t, g, rc, testUser(0), "Move", map[string]any{"tokenIndex": 0}, random.Fixed(0))

	if rc.State.position(0, 0) != 12 {
		t.Errorf("attacker at %d, want 12", rc.State.position(0, 0))
	}
	if rc.State.position(1, 0) != posBase {
		t.Errorf("victim at %d, want base", rc.State.position(1, 0))
	}

	names := eventNames(decision.Events)
	if len(names) != 2 || names[0] != EventTokenMoved || names[1] != EventTokenCaptured {
		t.Fatalf("events = %v, want [TokenMoved TokenCaptured]", names)
	}
	captured := decision.Events[1]
	if captured.Data["seat"] != 1 || captured.Data["token"] != 0 {
		t.Errorf("TokenCaptured data = %v", captured.Data)
	}

	if rc.State.CurrentPlayer != 0 || rc.State.LastRoll != 0 {
		t.Error("capture did not grant an extra roll")
	}
}

func TestThreeSixesVoidTurn(t *testing.T) {
	g, rc := testRoom(t, 2)

	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(5))
	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(5))
	third := mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(5))

	names := eventNames(third.Events)
	if len(names) != 2 || names[0] != EventDiceRolled || names[1] != EventTurnChanged {
		t.Fatalf("third roll events = %v, want [DiceRolled TurnChanged]", names)
	}
	if rc.State.CurrentPlayer != 1 {
		t.Errorf("current player = %d, want 1", rc.State.CurrentPlayer)
	}
	if rc.State.LastRoll != 0 || rc.State.ConsecutiveSixes != 0 {
		t.Errorf("turn not voided: roll=%d sixes=%d", rc.State.LastRoll, rc.State.ConsecutiveSixes)
	}

	// No move is permitted after the void.
	_, err := g.Evaluate(rc, command.Command{UserID: testUser(0), Action: "Move", Payload: map[string]any{"tokenIndex": 0}}, random.Fixed(0), testClock)
	if apperrors.CodeOf(err) != apperrors.CodeIllegalAction {
		t.Errorf("move after void = %v, want illegal action", err)
	}
}

func TestAllOvershootEndsTurn(t *testing.T) {
	g, rc := testRoom(t, 2)
	// Token deep in the home column, the rest still in base: a 4 moves
	// nothing.
	rc.State.setPosition(0, 0, 57)

	decision := mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(3))

	names := eventNames(decision.Events)
	if len(names) != 2 || names[1] != EventTurnChanged {
		t.Fatalf("events = %v, want [DiceRolled TurnChanged]", names)
	}
	if rc.State.CurrentPlayer != 1 {
		t.Errorf("current player = %d, want 1", rc.State.CurrentPlayer)
	}
	if rc.State.position(0, 0) != 57 {
		t.Errorf("token moved to %d on a void roll", rc.State.position(0, 0))
	}
}

func TestNoCaptureOnSafeSquare(t *testing.T) {
	g, rc := testRoom(t, 2)
	rc.State.setPosition(0, 0, 7)
	rc.State.setPosition(1, 0, 9) // star square

	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(1))
	decision := mustEvaluate(t, g, rc, testUser(0), "Move", map[string]any{"tokenIndex": 0}, random.Fixed(0))

	for _, name := range eventNames(decision.Events) {
		if name == EventTokenCaptured {
			t.Fatal("capture happened on a safe square")
		}
	}
	if rc.State.position(1, 0) != 9 {
		t.Errorf("victim moved to %d, want 9", rc.State.position(1, 0))
	}
	// No capture, no six: the turn passes.
	if rc.State.CurrentPlayer != 1 {
		t.Errorf("current player = %d, want 1", rc.State.CurrentPlayer)
	}
}

func TestFinishWinsTwoPlayerGame(t *testing.T) {
	g, rc := testRoom(t, 2)
	rc.State.setPosition(0, 0, posFinished)
	rc.State.setPosition(0, 1, posFinished)
	rc.State.setPosition(0, 2, posFinished)
	rc.State.setPosition(0, 3, 55)

	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(3))
	decision := mustEvaluate(t, g, rc, testUser(0), "Move", map[string]any{"tokenIndex": 3}, random.Fixed(0))

	names := eventNames(decision.Events)
	want := []string{EventTokenMoved, EventTokenFinished, EventGameEnded}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events = %v, want %v", names, want)
		}
	}

	if rc.State.GameOver != 1 {
		t.Error("game over flag not set")
	}
	got := ranking(rc.State.Winners)
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("ranking = %v, want [0]; the loser is never appended", got)
	}

	if decision.GameOver == nil {
		t.Fatal("game over info missing")
	}
	if decision.GameOver.WinnerUserID != testUser(0) {
		t.Errorf("winner = %q, want %q", decision.GameOver.WinnerUserID, testUser(0))
	}
	if len(decision.GameOver.Winners) != 1 || decision.GameOver.Winners[0] != testUser(0) {
		t.Errorf("winners = %v", decision.GameOver.Winners)
	}

	// The finished table accepts no further dice actions.
	_, err := g.Evaluate(rc, command.Command{UserID: testUser(1), Action: "Roll"}, random.Fixed(0), testClock)
	if apperrors.CodeOf(err) != apperrors.CodeIllegalAction {
		t.Errorf("roll after game end = %v, want illegal action", err)
	}
}

func TestEvaluateRejections(t *testing.T) {
	g, rc := testRoom(t, 2)

	tcs := []struct {
		name    string
		userID  string
		action  string
		payload map[string]any
		code    apperrors.Code
	}{
		{name: "unknown action", userID: testUser(0), action: "Teleport", code: apperrors.CodeIllegalAction},
		{name: "not seated", userID: "stranger", action: "Roll", code: apperrors.CodeIllegalAction},
		{name: "not your turn", userID: testUser(1), action: "Roll", code: apperrors.CodeIllegalAction},
		{name: "move before roll", userID: testUser(0), action: "Move", payload: map[string]any{"tokenIndex": 0}, code: apperrors.CodeIllegalAction},
		{name: "missing token index", userID: testUser(0), action: "Move", code: apperrors.CodeInvalidArgument},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Evaluate(rc, command.Command{UserID: tc.userID, Action: tc.action, Payload: tc.payload}, random.Fixed(0), testClock)
			if apperrors.CodeOf(err) != tc.code {
				t.Errorf("code = %q, want %q", apperrors.CodeOf(err), tc.code)
			}
		})
	}

	t.Run("token out of range", func(t *testing.T) {
		mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(5))
		_, err := g.Evaluate(rc, command.Command{UserID: testUser(0), Action: "Move", Payload: map[string]any{"tokenIndex": 9}}, random.Fixed(0), testClock)
		if apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
			t.Errorf("code = %q, want invalid argument", apperrors.CodeOf(err))
		}
	})
}

func TestSoloTableWaitsForPlayers(t *testing.T) {
	g, rc := testRoom(t, 1)

	_, err := g.Evaluate(rc, command.Command{UserID: testUser(0), Action: "Roll"}, random.Fixed(5), testClock)
	if apperrors.CodeOf(err) != apperrors.CodeIllegalAction {
		t.Errorf("solo roll = %v, want illegal action", err)
	}
	if actions := g.LegalActions(rc, testUser(0)); len(actions) != 0 {
		t.Errorf("solo legal actions = %v, want none", actions)
	}
}

func TestLegalActionsFollowTurnPhases(t *testing.T) {
	g, rc := testRoom(t, 2)

	if got := g.LegalActions(rc, testUser(0)); len(got) != 2 || got[0] != ActionRoll {
		t.Errorf("pre-roll actions = %v, want [Roll Skip]", got)
	}
	if got := g.LegalActions(rc, testUser(1)); got != nil {
		t.Errorf("off-turn actions = %v, want none", got)
	}

	rc.State.setPosition(0, 0, 10)
	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(2))
	if got := g.LegalActions(rc, ""); len(got) != 2 || got[0] != ActionMove {
		t.Errorf("post-roll actions = %v, want [Move Skip]", got)
	}

	mustEvaluate(t, g, rc, testUser(0), "Move", map[string]any{"tokenIndex": 0}, random.Fixed(0))
	mustEvaluate(t, g, rc, testUser(1), "Roll", nil, random.Fixed(5))
	if got := g.LegalActions(rc, testUser(1)); len(got) != 3 || got[0] != ActionRoll {
		t.Errorf("pending-six actions = %v, want [Roll Move Skip]", got)
	}
}

func TestSkipPassesTurn(t *testing.T) {
	g, rc := testRoom(t, 3)

	decision := mustEvaluate(t, g, rc, testUser(0), "skip", nil, random.Fixed(0))
	if rc.State.CurrentPlayer != 1 {
		t.Errorf("current player = %d, want 1", rc.State.CurrentPlayer)
	}
	if names := eventNames(decision.Events); len(names) != 1 || names[0] != EventTurnChanged {
		t.Errorf("events = %v, want [TurnChanged]", names)
	}
}

func TestTickSkipsTimedOutTurn(t *testing.T) {
	g, rc := testRoom(t, 2)
	rc.State.TurnStartedAt = testClock.Add(-31 * time.Second).UnixMilli()

	decision, acted, err := g.Tick(rc, testClock)
	if err != nil || !acted {
		t.Fatalf("Tick = acted %v, err %v", acted, err)
	}
	apply(rc, decision)
	if rc.State.CurrentPlayer != 1 {
		t.Errorf("current player = %d, want 1", rc.State.CurrentPlayer)
	}

	// Fresh turn: nothing to do yet.
	if _, acted, _ := g.Tick(rc, testClock); acted {
		t.Error("tick acted on a fresh turn")
	}
}

func TestTickIgnoresUnstartedAndFinishedGames(t *testing.T) {
	g, rc := testRoom(t, 1)
	if _, acted, _ := g.Tick(rc, testClock.Add(time.Hour)); acted {
		t.Error("tick acted while waiting for players")
	}

	_, full := testRoom(t, 2)
	full.State.GameOver = 1
	full.State.TurnStartedAt = testClock.Add(-time.Hour).UnixMilli()
	if _, acted, _ := g.Tick(full, testClock); acted {
		t.Error("tick acted on a finished game")
	}
}

func TestLeaveOnlyBeforeStart(t *testing.T) {
	g, rc := testRoom(t, 3)

	decision, err := g.Leave(rc, testUser(2), testClock)
	if err != nil {
		t.Fatalf("pre-start leave: %v", err)
	}
	apply(rc, decision)
	if rc.State.ActiveSeats != 0b11 {
		t.Errorf("active seats = %04b, want 11", rc.State.ActiveSeats)
	}

	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(5))
	if _, err := g.Leave(rc, testUser(1), testClock); apperrors.CodeOf(err) != apperrors.CodeIllegalAction {
		t.Errorf("mid-game leave = %v, want illegal action", err)
	}
}

func TestLastLeaveArchivesRoom(t *testing.T) {
	g, rc := testRoom(t, 1)

	decision, err := g.Leave(rc, testUser(0), testClock)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !decision.Archive {
		t.Error("empty room not archived")
	}
}

func TestStateRoundTrip(t *testing.T) {
	g, rc := testRoom(t, 4)
	rc.State.setPosition(0, 0, 10)
	rc.State.setPosition(2, 3, 55)
	mustEvaluate(t, g, rc, testUser(0), "Roll", nil, random.Fixed(2))

	data, err := Codec().Encode(rc.State)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Codec().Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != rc.State {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, rc.State)
	}
}

func TestRandomPlayoutKeepsInvariants(t *testing.T) {
	g, rc := testRoom(t, 4)
	src := random.NewSeeded(42)
	now := testClock

	for step := 0; step < 4000; step++ {
		if rc.State.GameOver == 1 {
			break
		}
		now = now.Add(time.Second)

		seat := int(rc.State.CurrentPlayer)
		cmd := command.Command{UserID: testUser(seat), Action: ActionRoll}
		if rc.State.LastRoll != 0 {
			token := 0
			for candidate := 0; candidate < tokensPerSeat; candidate++ {
				if rc.State.MovableTokens&(1<<uint(candidate)) != 0 {
					token = candidate
					break
				}
			}
			cmd = command.Command{UserID: testUser(seat), Action: ActionMove, Payload: map[string]any{"tokenIndex": token}}
		}

		decision, err := g.Evaluate(rc, cmd, src, now)
		if err != nil {
			t.Fatalf("step %d %s: %v", step, cmd.Action, err)
		}
		apply(rc, decision)

		for i, pos := range rc.State.Positions {
			if pos > posFinished {
				t.Fatalf("step %d: position[%d] = %d out of range", step, i, pos)
			}
		}
		if rc.State.CurrentPlayer >= maxSeats {
			t.Fatalf("step %d: current player %d", step, rc.State.CurrentPlayer)
		}
	}
}
