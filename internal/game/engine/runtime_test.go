package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
)

type testState struct {
	Counter uint32
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)

	return out
}

type fakeStore struct {
	log      *callLog
	rooms    map[string]room.Context[testState]
	lockErr  error
	saveErr  error
	saveCtx  []error // ctx.Err() observed at each Save
	deleted  []string
	unlocked int
}

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{log: log, rooms: make(map[string]room.Context[testState])}
}

func (s *fakeStore) Load(ctx context.Context, roomID string) (*room.Context[testState], error) {
	s.log.add("load")
	rc, ok := s.rooms[roomID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "room not found")
	}

	out := rc

	return &out, nil
}

func (s *fakeStore) Save(ctx context.Context, rc *room.Context[testState]) error {
	s.log.add("save")
	s.saveCtx = append(s.saveCtx, ctx.Err())
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rooms[rc.RoomID] = *rc

	return nil
}

func (s *fakeStore) Delete(ctx context.Context, roomID string) error {
	s.log.add("delete")
	delete(s.rooms, roomID)
	s.deleted = append(s.deleted, roomID)

	return nil
}

func (s *fakeStore) LoadMany(ctx context.Context, roomIDs []string) ([]room.Context[testState], error) {
	out := make([]room.Context[testState], 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if rc, ok := s.rooms[roomID]; ok {
			out = append(out, rc)
		}
	}

	return out, nil
}

func (s *fakeStore) AcquireLock(ctx context.Context, roomID string) error {
	if s.lockErr != nil {
		return s.lockErr
	}
	s.log.add("lock")

	return nil
}

func (s *fakeStore) Unlock(ctx context.Context, roomID string) {
	s.log.add("unlock")
	s.unlocked++
}

type fakeCaster struct {
	log     *callLog
	results []engine.ActionResult
}

func (c *fakeCaster) BroadcastState(ctx context.Context, roomID string, state *engine.StateResponse) error {
	c.log.add("broadcast_state")

	return nil
}

func (c *fakeCaster) BroadcastEvent(ctx context.Context, roomID string, event engine.Event) error {
	c.log.add("broadcast_event")

	return nil
}

func (c *fakeCaster) BroadcastResult(ctx context.Context, roomID string, result engine.ActionResult) error {
	c.log.add("broadcast_result")
	c.results = append(c.results, result)

	return nil
}

type fakeJournal struct {
	log     *callLog
	results []engine.ActionResult
}

func (j *fakeJournal) RecordResult(ctx context.Context, gameType, roomID string, result engine.ActionResult) error {
	j.log.add("journal")
	j.results = append(j.results, result)

	return nil
}

type fakeUsers struct {
	bound   map[string]string
	removed []string
}

func (u *fakeUsers) SetUserRoom(ctx context.Context, userID, roomID string) error {
	if u.bound == nil {
		u.bound = make(map[string]string)
	}
	u.bound[userID] = roomID

	return nil
}

func (u *fakeUsers) RemoveUserRoom(ctx context.Context, userID string) error {
	u.removed = append(u.removed, userID)

	return nil
}

type fakeGame struct {
	evaluate func(rc *room.Context[testState], cmd command.Command, src random.Source, now time.Time) (engine.Decision[testState], error)
	tick     func(rc *room.Context[testState], now time.Time) (engine.Decision[testState], bool, error)
	join     func(rc *room.Context[testState], userID string, now time.Time) (engine.Decision[testState], error)
	leave    func(rc *room.Context[testState], userID string, now time.Time) (engine.Decision[testState], error)
	newRoom  func(roomID string, opts engine.CreateRoomOptions, src random.Source) (*room.Context[testState], error)
}

func (g *fakeGame) GameType() string { return "faketype" }

func (g *fakeGame) NewRoom(roomID string, opts engine.CreateRoomOptions, src random.Source) (*room.Context[testState], error) {
	if g.newRoom != nil {
		return g.newRoom(roomID, opts, src)
	}
	meta := room.NewMeta("faketype", 2)
	meta.IsPublic = opts.IsPublic
	meta.EntryFee = opts.EntryFee

	return &room.Context[testState]{RoomID: roomID, Meta: meta}, nil
}

func (g *fakeGame) Join(rc *room.Context[testState], userID string, now time.Time) (engine.Decision[testState], error) {
	if g.join != nil {
		return g.join(rc, userID, now)
	}
	if _, err := rc.Meta.AddPlayer(userID); err != nil {
		return engine.Decision[testState]{}, err
	}

	return engine.Decision[testState]{
		State:     rc.State,
		Meta:      rc.Meta,
		Broadcast: true,
		Events:    []engine.Event{engine.NewEvent("PlayerJoined", map[string]any{"userId": userID})},
	}, nil
}

func (g *fakeGame) Leave(rc *room.Context[testState], userID string, now time.Time) (engine.Decision[testState], error) {
	if g.leave != nil {
		return g.leave(rc, userID, now)
	}
	if _, err := rc.Meta.RemovePlayer(userID); err != nil {
		return engine.Decision[testState]{}, err
	}

	return engine.Decision[testState]{State: rc.State, Meta: rc.Meta, Broadcast: true}, nil
}

func (g *fakeGame) Evaluate(rc *room.Context[testState], cmd command.Command, src random.Source, now time.Time) (engine.Decision[testState], error) {
	if g.evaluate != nil {
		return g.evaluate(rc, cmd, src, now)
	}

	next := rc.State
	next.Counter++

	return engine.Decision[testState]{
		State:     next,
		Meta:      rc.Meta,
		Broadcast: true,
		Events:    []engine.Event{engine.NewEvent("Counted", map[string]any{"value": next.Counter})},
	}, nil
}

func (g *fakeGame) LegalActions(rc *room.Context[testState], userID string) []string {
	return []string{"Count"}
}

func (g *fakeGame) StateDTO(rc *room.Context[testState]) any {
	return map[string]any{"counter": rc.State.Counter}
}

func (g *fakeGame) Tick(rc *room.Context[testState], now time.Time) (engine.Decision[testState], bool, error) {
	if g.tick != nil {
		return g.tick(rc, now)
	}

	return engine.Decision[testState]{}, false, nil
}

type fixture struct {
	game    *fakeGame
	store   *fakeStore
	caster  *fakeCaster
	journal *fakeJournal
	users   *fakeUsers
	log     *callLog
	runtime *engine.Runtime[testState]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := &callLog{}
	f := &fixture{
		game:    &fakeGame{},
		store:   newFakeStore(log),
		caster:  &fakeCaster{log: log},
		journal: &fakeJournal{log: log},
		users:   &fakeUsers{},
		log:     log,
	}

	rt, err := engine.New(engine.Config[testState]{
		Game:    f.game,
		Store:   f.store,
		Caster:  f.caster,
		Journal: f.journal,
		Users:   f.users,
		Random:  func() (random.Source, error) { return random.Fixed(0), nil },
		Now:     func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	f.runtime = rt

	return f
}

func (f *fixture) seedRoom(roomID string) {
	meta := room.NewMeta("faketype", 2)
	f.store.rooms[roomID] = room.Context[testState]{RoomID: roomID, Meta: meta}
}

func TestExecutePipelineOrder(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")

	result, err := f.runtime.Execute(context.Background(), "r1", command.Command{UserID: "u1", Action: "Count"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.State == nil || result.State.RoomID != "r1" {
		t.Fatalf("result state = %+v, want room r1", result.State)
	}
	if len(result.Events) != 1 || result.Events[0].Name != "Counted" {
		t.Fatalf("events = %+v, want one Counted", result.Events)
	}
	if result.Events[0].Timestamp.IsZero() {
		t.Error("event timestamp not stamped")
	}

	want := []string{"lock", "load", "save", "unlock", "broadcast_result", "journal"}
	got := f.log.list()
	if len(got) != len(want) {
		t.Fatalf("call order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call order = %v, want %v", got, want)
		}
	}

	if f.store.rooms["r1"].State.Counter != 1 {
		t.Errorf("saved counter = %d, want 1", f.store.rooms["r1"].State.Counter)
	}
}

func TestExecuteBusyDoesNotTouchState(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	f.store.lockErr = apperrors.New(apperrors.CodeBusy, "room is busy")

	result, err := f.runtime.Execute(context.Background(), "r1", command.Command{Action: "Count"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("busy execute reported success")
	}
	if result.Code != apperrors.CodeBusy {
		t.Errorf("code = %q, want %q", result.Code, apperrors.CodeBusy)
	}
	if entries := f.log.list(); len(entries) != 0 {
		t.Errorf("calls made while busy: %v", entries)
	}
}

func TestExecuteMissingRoom(t *testing.T) {
	f := newFixture(t)

	result, err := f.runtime.Execute(context.Background(), "ghost", command.Command{Action: "Count"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || result.Code != apperrors.CodeNotFound {
		t.Errorf("result = %+v, want not-found failure", result)
	}
	if f.store.unlocked != 1 {
		t.Errorf("unlock count = %d, want 1", f.store.unlocked)
	}
}

func TestExecuteCorruptStateBubbles(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	f.game.evaluate = func(rc *room.Context[testState], cmd command.Command, src random.Source, now time.Time) (engine.Decision[testState], error) {
		return engine.Decision[testState]{}, apperrors.New(apperrors.CodeCorrupt, "unreadable state")
	}

	_, err := f.runtime.Execute(context.Background(), "r1", command.Command{Action: "Count"})
	if err == nil {
		t.Fatal("corrupt state did not bubble as error")
	}
	if apperrors.CodeOf(err) != apperrors.CodeCorrupt {
		t.Errorf("code = %q, want corrupt", apperrors.CodeOf(err))
	}
	if f.store.unlocked != 1 {
		t.Errorf("unlock count = %d, want 1", f.store.unlocked)
	}
}

func TestExecuteIllegalActionFailsResultWithoutSave(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	f.game.evaluate = func(rc *room.Context[testState], cmd command.Command, src random.Source, now time.Time) (engine.Decision[testState], error) {
		return engine.Decision[testState]{}, apperrors.New(apperrors.CodeIllegalAction, "not your turn")
	}

	result, err := f.runtime.Execute(context.Background(), "r1", command.Command{Action: "Count"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("illegal action reported success")
	}
	if result.Error != "not your turn" || result.Code != apperrors.CodeIllegalAction {
		t.Errorf("result = %+v, want illegal-action failure", result)
	}

	for _, entry := range f.log.list() {
		if entry == "save" || entry == "broadcast_result" {
			t.Errorf("unexpected %s after rejection", entry)
		}
	}
}

func TestExecuteFinishesSaveAfterCancellation(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")

	ctx, cancel := context.WithCancel(context.Background())
	f.game.evaluate = func(rc *room.Context[testState], cmd command.Command, src random.Source, now time.Time) (engine.Decision[testState], error) {
		cancel()
		next := rc.State
		next.Counter++

		return engine.Decision[testState]{State: next, Meta: rc.Meta, Broadcast: true}, nil
	}

	result, err := f.runtime.Execute(ctx, "r1", command.Command{Action: "Count"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}

	if len(f.store.saveCtx) != 1 || f.store.saveCtx[0] != nil {
		t.Errorf("save saw ctx errors %v, want [nil]", f.store.saveCtx)
	}
	if f.store.unlocked != 1 {
		t.Errorf("unlock count = %d, want 1", f.store.unlocked)
	}
	if f.store.rooms["r1"].State.Counter != 1 {
		t.Errorf("state not saved after cancellation")
	}
}

func TestExecuteArchiveDeletesRoom(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	f.game.evaluate = func(rc *room.Context[testState], cmd command.Command, src random.Source, now time.Time) (engine.Decision[testState], error) {
		return engine.Decision[testState]{
			State:     rc.State,
			Meta:      rc.Meta,
			Broadcast: true,
			GameOver:  &engine.GameOverInfo{RoomID: rc.RoomID, GameType: "faketype"},
			Archive:   true,
		}, nil
	}

	result, err := f.runtime.Execute(context.Background(), "r1", command.Command{Action: "Count"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.GameOver == nil {
		t.Fatal("game over info missing")
	}
	if len(f.store.deleted) != 1 || f.store.deleted[0] != "r1" {
		t.Errorf("deleted = %v, want [r1]", f.store.deleted)
	}

	// Broadcast must happen before the room is archived.
	entries := f.log.list()
	broadcastAt, deleteAt := -1, -1
	for i, entry := range entries {
		switch entry {
		case "broadcast_result":
			broadcastAt = i
		case "delete":
			deleteAt = i
		}
	}
	if broadcastAt == -1 || deleteAt == -1 || broadcastAt > deleteAt {
		t.Errorf("call order = %v, want broadcast before delete", entries)
	}
}

func TestTickWithoutTimeoutLeavesRoomUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")

	result, err := f.runtime.Tick(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !result.Success || result.ShouldBroadcast {
		t.Errorf("result = %+v, want quiet success", result)
	}

	for _, entry := range f.log.list() {
		if entry == "save" || entry == "broadcast_result" {
			t.Errorf("unexpected %s on idle tick", entry)
		}
	}
}

func TestTickActsThroughPipeline(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	f.game.tick = func(rc *room.Context[testState], now time.Time) (engine.Decision[testState], bool, error) {
		next := rc.State
		next.Counter += 10

		return engine.Decision[testState]{
			State:     next,
			Meta:      rc.Meta,
			Broadcast: true,
			Events:    []engine.Event{engine.NewEvent("TurnChanged", map[string]any{"seat": 1})},
		}, true, nil
	}

	result, err := f.runtime.Tick(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !result.Success || len(result.Events) != 1 {
		t.Fatalf("result = %+v, want success with one event", result)
	}
	if f.store.rooms["r1"].State.Counter != 10 {
		t.Errorf("saved counter = %d, want 10", f.store.rooms["r1"].State.Counter)
	}
}

func TestJoinBindsUser(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")

	result, err := f.runtime.Join(context.Background(), "r1", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if f.users.bound["alice"] != "r1" {
		t.Errorf("user binding = %v, want alice→r1", f.users.bound)
	}

	if seat, ok := f.store.rooms["r1"].Meta.Seat("alice"); !ok || seat != 0 {
		t.Errorf("alice seat = %d, %v, want 0", seat, ok)
	}
}

func TestJoinFullRoomFails(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	rc := f.store.rooms["r1"]
	rc.Meta.AddPlayer("a")
	rc.Meta.AddPlayer("b")
	f.store.rooms["r1"] = rc

	result, err := f.runtime.Join(context.Background(), "r1", "charlie")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Success || result.Code != apperrors.CodeIllegalAction {
		t.Errorf("result = %+v, want illegal-action failure", result)
	}
	if _, ok := f.users.bound["charlie"]; ok {
		t.Error("failed join still bound user")
	}
}

func TestLeaveUnbindsUser(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	rc := f.store.rooms["r1"]
	rc.Meta.AddPlayer("alice")
	f.store.rooms["r1"] = rc

	result, err := f.runtime.Leave(context.Background(), "r1", "alice")
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if len(f.users.removed) != 1 || f.users.removed[0] != "alice" {
		t.Errorf("removed = %v, want [alice]", f.users.removed)
	}
}

func TestCreateRoomGeneratesIDAndSeatsHost(t *testing.T) {
	f := newFixture(t)

	response, err := f.runtime.CreateRoom(context.Background(), engine.CreateRoomOptions{
		HostID:   "alice",
		IsPublic: true,
		EntryFee: 100,
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if response.RoomID == "" {
		t.Fatal("room id not generated")
	}
	if response.GameType != "faketype" {
		t.Errorf("game type = %q, want faketype", response.GameType)
	}
	if seat, ok := response.Meta.Seat("alice"); !ok || seat != 0 {
		t.Errorf("host seat = %d, %v, want 0", seat, ok)
	}
	if f.users.bound["alice"] != response.RoomID {
		t.Errorf("host binding = %v, want %s", f.users.bound, response.RoomID)
	}
	if _, ok := f.store.rooms[response.RoomID]; !ok {
		t.Error("room not saved")
	}
}

func TestCreateRoomRejectsExistingID(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("taken")

	_, err := f.runtime.CreateRoom(context.Background(), engine.CreateRoomOptions{RoomID: "taken"})
	if err == nil {
		t.Fatal("CreateRoom succeeded on existing id")
	}
	if apperrors.CodeOf(err) != apperrors.CodeIllegalAction {
		t.Errorf("code = %q, want illegal action", apperrors.CodeOf(err))
	}
}

func TestStateAndLegalActionsBypassLock(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")

	if _, err := f.runtime.State(context.Background(), "r1"); err != nil {
		t.Fatalf("State: %v", err)
	}
	actions, err := f.runtime.LegalActions(context.Background(), "r1", "alice")
	if err != nil {
		t.Fatalf("LegalActions: %v", err)
	}
	if len(actions) != 1 || actions[0] != "Count" {
		t.Errorf("actions = %v, want [Count]", actions)
	}

	for _, entry := range f.log.list() {
		if entry == "lock" || entry == "unlock" {
			t.Errorf("read path touched the lock: %v", f.log.list())
		}
	}
}

func TestStatesOmitsMissingRooms(t *testing.T) {
	f := newFixture(t)
	f.seedRoom("r1")
	f.seedRoom("r2")

	responses, err := f.runtime.States(context.Background(), []string{"r1", "ghost", "r2"})
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("States returned %d, want 2", len(responses))
	}
}
