package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/louisbranch/parlor/internal/game/broadcast"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/room"
)

func sampleResult() engine.ActionResult {
	return engine.ActionResult{
		Success:         true,
		ShouldBroadcast: true,
		State:           &engine.StateResponse{RoomID: "r1", GameType: "ludo"},
		Events: []engine.Event{
			engine.NewEvent("DiceRolled", map[string]any{"seat": 0, "value": 6}),
			engine.NewEvent("TurnChanged", map[string]any{"seat": 1}),
		},
	}
}

func TestRedisPublishesStateThenEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, room.FeedChannel("ludo", "r1"))
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	caster, err := broadcast.NewRedis(client, "ludo")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	if err := caster.BroadcastResult(ctx, "r1", sampleResult()); err != nil {
		t.Fatalf("BroadcastResult: %v", err)
	}

	var kinds []string
	var names []string
	messages := sub.Channel()
	for i := 0; i < 3; i++ {
		select {
		case msg := <-messages:
			var envelope broadcast.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if envelope.RoomID != "r1" {
				t.Errorf("envelope room = %q, want r1", envelope.RoomID)
			}
			kinds = append(kinds, envelope.Kind)
			if envelope.Event != nil {
				names = append(names, envelope.Event.Name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d messages", i)
		}
	}

	wantKinds := []string{broadcast.KindState, broadcast.KindEvent, broadcast.KindEvent}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("kinds = %v, want %v", kinds, wantKinds)
		}
	}
	if len(names) != 2 || names[0] != "DiceRolled" || names[1] != "TurnChanged" {
		t.Errorf("event order = %v, want [DiceRolled TurnChanged]", names)
	}
}

func TestRedisRequiresClientAndGameType(t *testing.T) {
	if _, err := broadcast.NewRedis(nil, "ludo"); !errors.Is(err, broadcast.ErrClientRequired) {
		t.Errorf("nil client error = %v, want ErrClientRequired", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if _, err := broadcast.NewRedis(client, ""); !errors.Is(err, broadcast.ErrGameTypeRequired) {
		t.Errorf("empty game type error = %v, want ErrGameTypeRequired", err)
	}
}

func TestRecorderExpandsResults(t *testing.T) {
	recorder := &broadcast.Recorder{}

	if err := recorder.BroadcastResult(context.Background(), "r1", sampleResult()); err != nil {
		t.Fatalf("BroadcastResult: %v", err)
	}

	if len(recorder.States()) != 1 {
		t.Fatalf("states = %d, want 1", len(recorder.States()))
	}
	names := recorder.EventNames()
	if len(names) != 2 || names[0] != "DiceRolled" || names[1] != "TurnChanged" {
		t.Errorf("event order = %v, want [DiceRolled TurnChanged]", names)
	}
	if len(recorder.Results()) != 1 {
		t.Errorf("results = %d, want 1", len(recorder.Results()))
	}
}

func TestRecorderKeepsQuietResults(t *testing.T) {
	recorder := &broadcast.Recorder{}

	quiet := sampleResult()
	quiet.ShouldBroadcast = false
	if err := recorder.BroadcastResult(context.Background(), "r1", quiet); err != nil {
		t.Fatalf("BroadcastResult: %v", err)
	}

	if len(recorder.Results()) != 1 {
		t.Fatalf("results = %d, want 1", len(recorder.Results()))
	}
	if len(recorder.States()) != 0 || len(recorder.Events()) != 0 {
		t.Errorf("quiet result still fanned out: %d states, %d events",
			len(recorder.States()), len(recorder.Events()))
	}
}

type failingCaster struct{ err error }

func (f failingCaster) BroadcastState(context.Context, string, *engine.StateResponse) error {
	return f.err
}
func (f failingCaster) BroadcastEvent(context.Context, string, engine.Event) error { return f.err }
func (f failingCaster) BroadcastResult(context.Context, string, engine.ActionResult) error {
	return f.err
}

func TestMultiReachesAllChildren(t *testing.T) {
	recorder := &broadcast.Recorder{}
	boom := errors.New("transport down")
	multi := broadcast.Multi{failingCaster{err: boom}, recorder}

	err := multi.BroadcastResult(context.Background(), "r1", sampleResult())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want transport failure surfaced", err)
	}
	if len(recorder.Results()) != 1 {
		t.Errorf("second child skipped after first failed")
	}
}

func TestNopDiscards(t *testing.T) {
	var nop broadcast.Nop
	if err := nop.BroadcastResult(context.Background(), "r1", sampleResult()); err != nil {
		t.Fatalf("BroadcastResult: %v", err)
	}
}
