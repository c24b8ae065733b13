// Package broadcast delivers room state and events to subscribers. The
// engine hands every committed result to a Broadcaster; implementations
// here cover the common transports: a Redis feed publisher for cross-node
// fanout, an in-memory recorder for tests, a fanout combinator, and a
// no-op for workers that only need persistence.
//
// Delivery order is part of the contract: the full state snapshot goes
// out first, then the result's events in the order the game recorded
// them, so a subscriber can apply events on top of a consistent base.
package broadcast

import (
	"context"
	"errors"

	"github.com/louisbranch/parlor/internal/game/engine"
)

// Envelope kinds published on a room feed channel.
const (
	KindState = "state"
	KindEvent = "event"
)

// Envelope is the wire shape of one feed message.
type Envelope struct {
	Kind   string                `json:"kind"`
	RoomID string                `json:"roomId"`
	State  *engine.StateResponse `json:"state,omitempty"`
	Event  *engine.Event         `json:"event,omitempty"`
}

// Nop discards every broadcast.
type Nop struct{}

func (Nop) BroadcastState(context.Context, string, *engine.StateResponse) error { return nil }
func (Nop) BroadcastEvent(context.Context, string, engine.Event) error          { return nil }
func (Nop) BroadcastResult(context.Context, string, engine.ActionResult) error  { return nil }

// Multi fans a broadcast out to several transports. Every child is
// attempted even when an earlier one fails; errors are joined.
type Multi []engine.Broadcaster

func (m Multi) BroadcastState(ctx context.Context, roomID string, state *engine.StateResponse) error {
	var errs []error
	for _, b := range m {
		if err := b.BroadcastState(ctx, roomID, state); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m Multi) BroadcastEvent(ctx context.Context, roomID string, event engine.Event) error {
	var errs []error
	for _, b := range m {
		if err := b.BroadcastEvent(ctx, roomID, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m Multi) BroadcastResult(ctx context.Context, roomID string, result engine.ActionResult) error {
	var errs []error
	for _, b := range m {
		if err := b.BroadcastResult(ctx, roomID, result); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// fanoutResult expands a result into the ordered state-then-events calls.
// Shared by transports that publish discrete messages.
func fanoutResult(ctx context.Context, b engine.Broadcaster, roomID string, result engine.ActionResult) error {
	if !result.ShouldBroadcast {
		return nil
	}

	if result.State != nil {
		if err := b.BroadcastState(ctx, roomID, result.State); err != nil {
			return err
		}
	}
	for _, event := range result.Events {
		if err := b.BroadcastEvent(ctx, roomID, event); err != nil {
			return err
		}
	}

	return nil
}

var (
	_ engine.Broadcaster = Nop{}
	_ engine.Broadcaster = Multi{}
)
