package room

import "testing"

func TestMetaAddPlayerAssignsDenseSeats(t *testing.T) {
	meta := NewMeta("ludo", 4)

	seatA, err := meta.AddPlayer("alice")
	if err != nil {
		t.Fatalf("AddPlayer alice: %v", err)
	}
	seatB, err := meta.AddPlayer("bob")
	if err != nil {
		t.Fatalf("AddPlayer bob: %v", err)
	}

	if seatA != 0 || seatB != 1 {
		t.Errorf("seats = %d, %d, want 0, 1", seatA, seatB)
	}

	again, err := meta.AddPlayer("alice")
	if err != nil {
		t.Fatalf("AddPlayer alice twice: %v", err)
	}
	if again != seatA {
		t.Errorf("re-join seat = %d, want %d", again, seatA)
	}
	if meta.PlayerCount() != 2 {
		t.Errorf("PlayerCount = %d, want 2", meta.PlayerCount())
	}
}

func TestMetaAddPlayerRejectsFullRoom(t *testing.T) {
	meta := NewMeta("mine", 1)
	if _, err := meta.AddPlayer("alice"); err != nil {
		t.Fatalf("AddPlayer alice: %v", err)
	}

	if _, err := meta.AddPlayer("bob"); err == nil {
		t.Fatal("AddPlayer on a full room succeeded")
	}
	if !meta.IsFull() {
		t.Error("IsFull = false for a full room")
	}
}

func TestMetaRemovePlayerCompactsSeats(t *testing.T) {
	meta := NewMeta("ludo", 4)
	for _, user := range []string{"a", "b", "c", "d"} {
		if _, err := meta.AddPlayer(user); err != nil {
			t.Fatalf("AddPlayer %s: %v", user, err)
		}
	}

	seat, err := meta.RemovePlayer("b")
	if err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if seat != 1 {
		t.Errorf("removed seat = %d, want 1", seat)
	}

	want := map[string]int{"a": 0, "c": 1, "d": 2}
	for user, wantSeat := range want {
		got, ok := meta.Seat(user)
		if !ok || got != wantSeat {
			t.Errorf("Seat(%s) = %d, %v, want %d", user, got, ok, wantSeat)
		}
	}

	if _, err := meta.RemovePlayer("b"); err == nil {
		t.Error("RemovePlayer on absent user succeeded")
	}
}

func TestMetaUsersOrderedBySeat(t *testing.T) {
	meta := NewMeta("ludo", 4)
	for _, user := range []string{"c", "a", "b"} {
		if _, err := meta.AddPlayer(user); err != nil {
			t.Fatalf("AddPlayer %s: %v", user, err)
		}
	}

	got := meta.Users()
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Users = %v, want %v", got, want)
		}
	}
}

func TestMetaConfigInt(t *testing.T) {
	meta := NewMeta("mine", 1)
	meta.Config = map[string]string{"TotalTiles": "25", "TotalMines": "many"}

	if got := meta.ConfigInt("TotalTiles", 10); got != 25 {
		t.Errorf("ConfigInt(TotalTiles) = %d, want 25", got)
	}
	if got := meta.ConfigInt("TotalMines", 5); got != 5 {
		t.Errorf("ConfigInt(TotalMines) = %d, want fallback 5", got)
	}
	if got := meta.ConfigInt("Missing", 7); got != 7 {
		t.Errorf("ConfigInt(Missing) = %d, want fallback 7", got)
	}
}

func TestMetaCloneIsIndependent(t *testing.T) {
	meta := NewMeta("ludo", 4)
	if _, err := meta.AddPlayer("alice"); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	meta.Config = map[string]string{"k": "v"}

	clone := meta.Clone()
	if _, err := clone.AddPlayer("bob"); err != nil {
		t.Fatalf("AddPlayer on clone: %v", err)
	}
	clone.Config["k"] = "changed"

	if meta.PlayerCount() != 1 {
		t.Errorf("original PlayerCount = %d after clone mutation, want 1", meta.PlayerCount())
	}
	if meta.Config["k"] != "v" {
		t.Errorf("original Config mutated through clone")
	}
}
