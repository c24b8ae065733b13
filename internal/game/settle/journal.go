package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/parlor/internal/game/engine"
)

// DefaultLedgerEvents are the event names journaled when none are
// configured: payouts and each game's terminal standings event.
var DefaultLedgerEvents = []string{"GameEnded", "GameOver", "Transaction"}

// ErrStoreRequired is returned when a journal is built without a store.
var ErrStoreRequired = errors.New("settle: store is required")

// Journal tees ledger-relevant events off engine results into the
// outbox. It runs on the engine's side-effect path, so failures are
// logged by the caller rather than failing the action.
type Journal struct {
	store  *Store
	events map[string]struct{}
}

// NewJournal wires a journal over the store. Event names default to
// DefaultLedgerEvents.
func NewJournal(store *Store, eventNames ...string) (*Journal, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if len(eventNames) == 0 {
		eventNames = DefaultLedgerEvents
	}

	events := make(map[string]struct{}, len(eventNames))
	for _, name := range eventNames {
		events[name] = struct{}{}
	}

	return &Journal{store: store, events: events}, nil
}

// RecordResult enqueues the result's ledger events. Results without
// them are a no-op.
func (j *Journal) RecordResult(ctx context.Context, gameType, roomID string, result engine.ActionResult) error {
	if !result.Success {
		return nil
	}

	var entries []Entry
	for _, event := range result.Events {
		if _, ok := j.events[event.Name]; !ok {
			continue
		}

		var payload json.RawMessage
		if event.Data != nil {
			encoded, err := json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("encode %s payload for room %s: %w", event.Name, roomID, err)
			}
			payload = encoded
		}
		entries = append(entries, Entry{
			RoomID:    roomID,
			GameType:  gameType,
			EventName: event.Name,
			Payload:   payload,
		})
	}
	if len(entries) == 0 {
		return nil
	}

	return j.store.Enqueue(ctx, entries...)
}

var _ engine.Journal = (*Journal)(nil)
