package broadcast

import (
	"context"
	"sync"

	"github.com/louisbranch/parlor/internal/game/engine"
)

// Recorder keeps every broadcast in memory. Tests assert against the
// captured slices; nothing is ever dropped, including results the game
// marked as not broadcastable.
type Recorder struct {
	mu      sync.Mutex
	states  []*engine.StateResponse
	events  []engine.Event
	results []engine.ActionResult
}

func (r *Recorder) BroadcastState(ctx context.Context, roomID string, state *engine.StateResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)

	return nil
}

func (r *Recorder) BroadcastEvent(ctx context.Context, roomID string, event engine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)

	return nil
}

func (r *Recorder) BroadcastResult(ctx context.Context, roomID string, result engine.ActionResult) error {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()

	return fanoutResult(ctx, r, roomID, result)
}

// States returns the captured snapshots in delivery order.
func (r *Recorder) States() []*engine.StateResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*engine.StateResponse, len(r.states))
	copy(out, r.states)

	return out
}

// Events returns the captured events in delivery order.
func (r *Recorder) Events() []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.Event, len(r.events))
	copy(out, r.events)

	return out
}

// Results returns every result handed to the recorder.
func (r *Recorder) Results() []engine.ActionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.ActionResult, len(r.results))
	copy(out, r.results)

	return out
}

// EventNames returns the names of captured events in delivery order.
func (r *Recorder) EventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, event := range r.events {
		out[i] = event.Name
	}

	return out
}

// Reset clears everything captured so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = nil
	r.events = nil
	r.results = nil
}

var _ engine.Broadcaster = (*Recorder)(nil)
