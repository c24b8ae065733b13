package scenario

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestHarness(t *testing.T) *Harness {
	t.Helper()

	h, err := NewHarness(context.Background(), Config{})
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	t.Cleanup(h.Close)

	return h
}

func TestRunLudoWalkthrough(t *testing.T) {
	script, err := Load(filepath.Join("testdata", "ludo_walkthrough.lua"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	h := newTestHarness(t)
	report, err := h.Run(context.Background(), script)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Steps) != len(script.Steps) {
		t.Fatalf("completed %d of %d steps", len(report.Steps), len(script.Steps))
	}

	names := h.Recorder().EventNames()
	var turnChanges int
	for _, name := range names {
		if name == "TurnChanged" {
			turnChanges++
		}
	}
	if turnChanges < 3 {
		t.Errorf("broadcast %d TurnChanged events, want at least 3: %v", turnChanges, names)
	}
}

func TestRunLuckyMineRounds(t *testing.T) {
	report, err := RunFile(context.Background(), Config{}, filepath.Join("testdata", "luckymine_rounds.lua"))
	if err != nil {
		t.Fatalf("run file: %v", err)
	}
	if report.Name != "luckymine rounds" {
		t.Errorf("report name = %q", report.Name)
	}
	if len(report.Steps) == 0 {
		t.Fatal("no steps completed")
	}
}

func TestRunStopsOnFailedExpectation(t *testing.T) {
	script := &Script{
		Name: "failing",
		Steps: []Step{
			{Kind: "create_room", Args: map[string]any{"game": "luckymine", "host": "dana"}},
			{Kind: "expect_event", Args: map[string]any{"name": "Nope"}},
			{Kind: "tick", Args: map[string]any{}},
		},
	}

	h := newTestHarness(t)
	report, err := h.Run(context.Background(), script)
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if !strings.Contains(err.Error(), "step 2 (expect_event)") {
		t.Errorf("err = %v", err)
	}
	if len(report.Steps) != 1 {
		t.Errorf("completed steps = %d, want 1", len(report.Steps))
	}
}

func TestRunRejectsUnknownGame(t *testing.T) {
	script := &Script{
		Name: "unknown",
		Steps: []Step{
			{Kind: "create_room", Args: map[string]any{"game": "chess"}},
		},
	}

	h := newTestHarness(t)
	if _, err := h.Run(context.Background(), script); err == nil || !strings.Contains(err.Error(), "unknown game type") {
		t.Fatalf("err = %v", err)
	}
}

func TestRigMinesNeedsMineRoom(t *testing.T) {
	script := &Script{
		Name: "wrong game",
		Steps: []Step{
			{Kind: "create_room", Args: map[string]any{"game": "ludo", "host": "alice"}},
			{Kind: "rig_mines", Args: map[string]any{"tiles": []any{1}}},
		},
	}

	h := newTestHarness(t)
	if _, err := h.Run(context.Background(), script); err == nil || !strings.Contains(err.Error(), "requires a luckymine room") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRequiresRoomBeforeActions(t *testing.T) {
	script := &Script{
		Name: "orphan command",
		Steps: []Step{
			{Kind: "command", Args: map[string]any{"user": "alice", "action": "Roll"}},
		},
	}

	h := newTestHarness(t)
	if _, err := h.Run(context.Background(), script); err == nil || !strings.Contains(err.Error(), "no room created yet") {
		t.Fatalf("err = %v", err)
	}
}
