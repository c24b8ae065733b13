package settle

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/parlor/internal/game/engine"
)

func TestJournalRecordsLedgerEvents(t *testing.T) {
	store := openTestStore(t)
	journal, err := NewJournal(store)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	result := engine.ActionResult{
		Success: true,
		Events: []engine.Event{
			engine.NewEvent("CashedOut", map[string]any{"winnings": uint64(95)}),
			engine.NewEvent("GameOver", map[string]any{"result": "Won", "final": uint64(95)}),
			engine.NewEvent("Transaction", map[string]any{"amount": uint64(95), "userId": "miner"}),
		},
	}
	if err := journal.RecordResult(context.Background(), "luckymine", "MINE01", result); err != nil {
		t.Fatalf("record result: %v", err)
	}

	entries, err := store.List(context.Background(), StatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want game over and transaction", len(entries))
	}
	if entries[0].EventName != "GameOver" || entries[1].EventName != "Transaction" {
		t.Fatalf("event names = %q, %q", entries[0].EventName, entries[1].EventName)
	}
	if entries[0].RoomID != "MINE01" || entries[0].GameType != "luckymine" {
		t.Errorf("entry = %+v", entries[0])
	}
	if got := string(entries[0].Payload); got != `{"final":95,"result":"Won"}` {
		t.Errorf("game over payload = %s", got)
	}
	if got := string(entries[1].Payload); got != `{"amount":95,"userId":"miner"}` {
		t.Errorf("transaction payload = %s", got)
	}
}

func TestJournalSkipsFailedResults(t *testing.T) {
	store := openTestStore(t)
	journal, err := NewJournal(store)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	result := engine.ActionResult{
		Success: false,
		Events: []engine.Event{
			engine.NewEvent("Transaction", map[string]any{"amount": uint64(95)}),
		},
	}
	if err := journal.RecordResult(context.Background(), "luckymine", "MINE01", result); err != nil {
		t.Fatalf("record result: %v", err)
	}

	assertEmptyOutbox(t, store)
}

func TestJournalSkipsNonLedgerEvents(t *testing.T) {
	store := openTestStore(t)
	journal, err := NewJournal(store)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	result := engine.ActionResult{
		Success: true,
		Events: []engine.Event{
			engine.NewEvent("DiceRolled", map[string]any{"value": 6}),
			engine.NewEvent("TurnChanged", map[string]any{"seat": 1}),
		},
	}
	if err := journal.RecordResult(context.Background(), "ludo", "LUDO01", result); err != nil {
		t.Fatalf("record result: %v", err)
	}

	assertEmptyOutbox(t, store)
}

func TestJournalCustomEventNames(t *testing.T) {
	store := openTestStore(t)
	journal, err := NewJournal(store, "JackpotHit")
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	result := engine.ActionResult{
		Success: true,
		Events: []engine.Event{
			engine.NewEvent("Transaction", map[string]any{"amount": uint64(10)}),
			engine.NewEvent("JackpotHit", nil),
		},
	}
	if err := journal.RecordResult(context.Background(), "luckymine", "MINE02", result); err != nil {
		t.Fatalf("record result: %v", err)
	}

	entries, err := store.List(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].EventName != "JackpotHit" {
		t.Fatalf("entries = %+v", entries)
	}
	if got := string(entries[0].Payload); got != "{}" {
		t.Errorf("empty payload = %s, want {}", got)
	}
}

func TestNewJournalRequiresStore(t *testing.T) {
	if _, err := NewJournal(nil); !errors.Is(err, ErrStoreRequired) {
		t.Fatalf("err = %v, want ErrStoreRequired", err)
	}
}

func assertEmptyOutbox(t *testing.T, store *Store) {
	t.Helper()

	var count int
	if err := store.sqlDB.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM settlements`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("rows = %d, want empty outbox", count)
	}
}
