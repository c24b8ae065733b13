package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/louisbranch/parlor/internal/game/broadcast"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/luckymine"
	"github.com/louisbranch/parlor/internal/game/ludo"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
	"github.com/louisbranch/parlor/internal/game/systems"
	platformredis "github.com/louisbranch/parlor/internal/platform/redis"
)

// Config tunes a harness. The zero value runs against an embedded store
// silently.
type Config struct {
	// RedisAddr points the harness at an existing Redis; empty runs an
	// embedded one for the lifetime of the harness.
	RedisAddr string
	// Logger receives step-by-step progress when Verbose is set.
	Logger *log.Logger
	// Verbose enables per-step logging.
	Verbose bool
}

// Harness owns the room store and one runtime per game type. Scripts
// run through the same lock/load/evaluate/save pipeline production
// traffic does; only the clock and the dice are scripted.
type Harness struct {
	cfg      Config
	mini     *miniredis.Miniredis
	client   *goredis.Client
	recorder *broadcast.Recorder
	clock    *clock
	dice     *dice
	games    *systems.Registry
	mines    *room.Repository[luckymine.State]
}

// NewHarness wires runtimes for every playable game type.
func NewHarness(ctx context.Context, cfg Config) (*Harness, error) {
	addr := cfg.RedisAddr
	var mini *miniredis.Miniredis
	if addr == "" {
		server, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		mini = server
		addr = server.Addr()
	}

	client, err := platformredis.Open(ctx, platformredis.Config{Addr: addr})
	if err != nil {
		if mini != nil {
			mini.Close()
		}
		return nil, err
	}

	h := &Harness{
		cfg:      cfg,
		mini:     mini,
		client:   client,
		recorder: &broadcast.Recorder{},
		clock:    &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		dice:     &dice{fallback: random.NewSeeded(1)},
		games:    systems.NewRegistry(),
	}

	registry := room.NewRegistry(client)

	ludoRepo := room.NewRepository(client, registry, ludo.Type, ludo.Codec(), "scenario", room.Options{})
	ludoRT, err := engine.New(engine.Config[ludo.State]{
		Game:   ludo.New(ludo.Config{TurnTimeout: ludo.DefaultTurnTimeout}),
		Store:  ludoRepo,
		Caster: h.recorder,
		Random: h.dice.provide,
		Now:    h.clock.Now,
	})
	if err != nil {
		h.Close()
		return nil, err
	}
	h.games.Register(ludoRT)

	mineRepo := room.NewRepository(client, registry, luckymine.Type, luckymine.Codec(), "scenario", room.Options{})
	mineRT, err := engine.New(engine.Config[luckymine.State]{
		Game:   luckymine.New(),
		Store:  mineRepo,
		Caster: h.recorder,
		Random: h.dice.provide,
		Now:    h.clock.Now,
	})
	if err != nil {
		h.Close()
		return nil, err
	}
	h.games.Register(mineRT)
	h.mines = mineRepo

	return h, nil
}

// Close releases the store connection and the embedded server, if any.
func (h *Harness) Close() {
	if h.client != nil {
		_ = h.client.Close()
	}
	if h.mini != nil {
		h.mini.Close()
	}
}

// Recorder exposes the captured broadcasts for assertions beyond the
// script's own expectations.
func (h *Harness) Recorder() *broadcast.Recorder { return h.recorder }

func (h *Harness) service(gameType string) (systems.System, error) {
	svc := h.games.Get(gameType)
	if svc == nil {
		return nil, fmt.Errorf("unknown game type %q", gameType)
	}
	return svc, nil
}

func (h *Harness) logf(format string, args ...any) {
	if !h.cfg.Verbose || h.cfg.Logger == nil {
		return
	}
	h.cfg.Logger.Printf(format, args...)
}

// Report lists what a script did, step by step.
type Report struct {
	Name  string
	Steps []StepResult
}

// StepResult is one executed step and its short outcome line.
type StepResult struct {
	Kind   string
	Detail string
}

// Run replays the script. The first failed expectation or infrastructure
// error stops the run; the report covers the steps that completed.
func (h *Harness) Run(ctx context.Context, script *Script) (*Report, error) {
	if script == nil {
		return nil, fmt.Errorf("script is required")
	}

	r := &run{harness: h}
	report := &Report{Name: script.Name}
	for i, step := range script.Steps {
		detail, err := r.execute(ctx, step)
		if err != nil {
			return report, fmt.Errorf("step %d (%s): %w", i+1, step.Kind, err)
		}
		report.Steps = append(report.Steps, StepResult{Kind: step.Kind, Detail: detail})
		h.logf("step %d %s: %s", i+1, step.Kind, detail)
	}
	return report, nil
}

// RunFile loads and executes one scenario file on a fresh harness.
func RunFile(ctx context.Context, cfg Config, path string) (*Report, error) {
	script, err := Load(path)
	if err != nil {
		return nil, err
	}

	h, err := NewHarness(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	return h.Run(ctx, script)
}

// run is the mutable cursor of one script execution: the room being
// driven and the last action result expectations look at.
type run struct {
	harness *Harness
	roomID  string
	game    string
	last    engine.ActionResult
}

func (r *run) execute(ctx context.Context, step Step) (string, error) {
	switch step.Kind {
	case "create_room":
		return r.createRoom(ctx, step.Args)
	case "join":
		return r.join(ctx, step.Args)
	case "leave":
		return r.leave(ctx, step.Args)
	case "command":
		return r.command(ctx, step.Args)
	case "rig_mines":
		return r.rigMines(ctx, step.Args)
	case "advance":
		return r.advance(step.Args)
	case "tick":
		return r.tick(ctx)
	case "expect_success":
		return r.expectSuccess()
	case "expect_error":
		return r.expectError(step.Args)
	case "expect_event":
		return r.expectEvent(step.Args)
	case "expect_turn":
		return r.expectTurn(step.Args)
	case "expect_state":
		return r.expectState(step.Args)
	case "expect_game_over":
		return r.expectGameOver(step.Args)
	case "expect_legal":
		return r.expectLegal(ctx, step.Args)
	default:
		return "", fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func (r *run) service() (systems.System, error) {
	if r.roomID == "" {
		return nil, fmt.Errorf("no room created yet")
	}
	return r.harness.service(r.game)
}

func (r *run) createRoom(ctx context.Context, args map[string]any) (string, error) {
	gameType := stringArg(args, "game")
	svc, err := r.harness.service(gameType)
	if err != nil {
		return "", err
	}

	opts := engine.CreateRoomOptions{
		RoomID:   stringArg(args, "room"),
		HostID:   stringArg(args, "host"),
		IsPublic: boolArg(args, "public"),
	}
	if fee, ok := intArg(args, "entry_fee"); ok {
		opts.EntryFee = int64(fee)
	}
	if cfg := tableArg(args, "config"); len(cfg) > 0 {
		opts.Config = make(map[string]string, len(cfg))
		for key, value := range cfg {
			opts.Config[key] = fmt.Sprint(value)
		}
	}

	state, err := svc.CreateRoom(ctx, opts)
	if err != nil {
		return "", err
	}

	r.roomID = state.RoomID
	r.game = gameType
	r.last = engine.ActionResult{Success: true, State: state}
	return gameType + " room " + state.RoomID, nil
}

func (r *run) join(ctx context.Context, args map[string]any) (string, error) {
	svc, err := r.service()
	if err != nil {
		return "", err
	}
	user := stringArg(args, "user")
	result, err := svc.Join(ctx, r.roomID, user)
	if err != nil {
		return "", err
	}
	r.last = result
	return outcome(result, "join "+user), nil
}

func (r *run) leave(ctx context.Context, args map[string]any) (string, error) {
	svc, err := r.service()
	if err != nil {
		return "", err
	}
	user := stringArg(args, "user")
	result, err := svc.Leave(ctx, r.roomID, user)
	if err != nil {
		return "", err
	}
	r.last = result
	return outcome(result, "leave "+user), nil
}

func (r *run) command(ctx context.Context, args map[string]any) (string, error) {
	svc, err := r.service()
	if err != nil {
		return "", err
	}
	user := stringArg(args, "user")
	action := stringArg(args, "action")
	if die, ok := intArg(args, "die"); ok {
		// The die value is 1-based; the source hands out IntN results.
		r.harness.dice.push(die - 1)
	}

	result, err := svc.Execute(ctx, r.roomID, command.Command{
		UserID:  user,
		Action:  action,
		Payload: tableArg(args, "payload"),
	})
	if err != nil {
		return "", err
	}
	r.last = result
	return outcome(result, user+" "+action), nil
}

// rigMines pins the mine layout of the current LuckyMine room so
// scripted clicks land deterministically.
func (r *run) rigMines(ctx context.Context, args map[string]any) (string, error) {
	if r.game != luckymine.Type || r.roomID == "" {
		return "", fmt.Errorf("rig_mines requires a luckymine room")
	}

	tiles, err := intList(args["tiles"])
	if err != nil {
		return "", fmt.Errorf("rig_mines tiles: %w", err)
	}
	if len(tiles) == 0 {
		return "", fmt.Errorf("rig_mines needs at least one tile")
	}

	repo := r.harness.mines
	if err := repo.AcquireLock(ctx, r.roomID); err != nil {
		return "", err
	}
	defer repo.Unlock(ctx, r.roomID)

	rc, err := repo.Load(ctx, r.roomID)
	if err != nil {
		return "", err
	}

	var mask [2]uint64
	for _, tile := range tiles {
		if tile < 0 || tile >= int(rc.State.TotalTiles) {
			return "", fmt.Errorf("mine tile %d outside board of %d", tile, rc.State.TotalTiles)
		}
		mask[tile/64] |= 1 << (uint(tile) % 64)
	}
	rc.State.MineMask = mask
	rc.State.TotalMines = uint8(len(tiles))

	if err := repo.Save(ctx, rc); err != nil {
		return "", err
	}
	return fmt.Sprintf("mines pinned to %v", tiles), nil
}

func (r *run) advance(args map[string]any) (string, error) {
	seconds, ok := intArg(args, "seconds")
	if !ok || seconds <= 0 {
		return "", fmt.Errorf("advance needs a positive seconds argument")
	}
	d := time.Duration(seconds) * time.Second
	r.harness.clock.Advance(d)
	return "clock +" + d.String(), nil
}

func (r *run) tick(ctx context.Context) (string, error) {
	svc, err := r.service()
	if err != nil {
		return "", err
	}
	result, err := svc.Tick(ctx, r.roomID)
	if err != nil {
		return "", err
	}
	r.last = result
	return outcome(result, "tick"), nil
}

func (r *run) expectSuccess() (string, error) {
	if !r.last.Success {
		return "", fmt.Errorf("last action failed: %s (%s)", r.last.Error, r.last.Code)
	}
	return "ok", nil
}

func (r *run) expectError(args map[string]any) (string, error) {
	code := stringArg(args, "code")
	if r.last.Success {
		return "", fmt.Errorf("expected %s, last action succeeded", code)
	}
	if string(r.last.Code) != code {
		return "", fmt.Errorf("expected %s, got %s (%s)", code, r.last.Code, r.last.Error)
	}
	return code, nil
}

func (r *run) expectEvent(args map[string]any) (string, error) {
	name := stringArg(args, "name")
	for _, event := range r.last.Events {
		if event.Name == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("event %s not emitted, got %v", name, eventNames(r.last.Events))
}

func (r *run) expectTurn(args map[string]any) (string, error) {
	seat, ok := intArg(args, "seat")
	if !ok {
		return "", fmt.Errorf("expect_turn needs a seat")
	}
	snapshot, err := r.snapshot()
	if err != nil {
		return "", err
	}
	got, ok := snapshot["currentPlayer"].(float64)
	if !ok || int(got) != seat {
		return "", fmt.Errorf("current player = %v, want seat %d", snapshot["currentPlayer"], seat)
	}
	return fmt.Sprintf("turn held by seat %d", seat), nil
}

func (r *run) expectState(args map[string]any) (string, error) {
	key := stringArg(args, "key")
	want := args["value"]
	snapshot, err := r.snapshot()
	if err != nil {
		return "", err
	}
	got, ok := snapshot[key]
	if !ok {
		return "", fmt.Errorf("state has no field %q", key)
	}
	if !looselyEqual(got, want) {
		return "", fmt.Errorf("state %s = %v, want %v", key, got, want)
	}
	return fmt.Sprintf("%s = %v", key, want), nil
}

func (r *run) expectGameOver(args map[string]any) (string, error) {
	if r.last.GameOver == nil {
		return "", fmt.Errorf("game is not over")
	}
	winner := stringArg(args, "winner")
	if winner != "" && r.last.GameOver.WinnerUserID != winner {
		return "", fmt.Errorf("winner = %q, want %q", r.last.GameOver.WinnerUserID, winner)
	}
	return "game over", nil
}

func (r *run) expectLegal(ctx context.Context, args map[string]any) (string, error) {
	svc, err := r.service()
	if err != nil {
		return "", err
	}
	user := stringArg(args, "user")
	want, err := stringList(args["actions"])
	if err != nil {
		return "", fmt.Errorf("expect_legal actions: %w", err)
	}

	got, err := svc.LegalActions(ctx, r.roomID, user)
	if err != nil {
		return "", err
	}
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return "", fmt.Errorf("legal actions for %s = %v, want %v", user, got, want)
	}
	return fmt.Sprintf("%s may %v", user, want), nil
}

// snapshot decodes the last result's client state into a generic map so
// expectations stay game-agnostic.
func (r *run) snapshot() (map[string]any, error) {
	if r.last.State == nil {
		return nil, fmt.Errorf("last action carried no state")
	}
	raw, err := json.Marshal(r.last.State.State)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return snapshot, nil
}

func outcome(result engine.ActionResult, what string) string {
	if result.Success {
		return what
	}
	return fmt.Sprintf("%s rejected: %s", what, result.Code)
}

func eventNames(events []engine.Event) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	return names
}

// looselyEqual compares a JSON-decoded value against a Lua-decoded one:
// numbers compare across int and float, everything else by rendering.
func looselyEqual(got, want any) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf == wf
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringArg(args map[string]any, key string) string {
	if value, ok := args[key].(string); ok {
		return value
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	value, _ := args[key].(bool)
	return value
}

func intArg(args map[string]any, key string) (int, bool) {
	switch value := args[key].(type) {
	case int:
		return value, true
	case float64:
		return int(value), true
	default:
		return 0, false
	}
}

func tableArg(args map[string]any, key string) map[string]any {
	if value, ok := args[key].(map[string]any); ok {
		return value
	}
	return nil
}

func intList(value any) ([]int, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case int:
			out = append(out, n)
		case float64:
			out = append(out, int(n))
		default:
			return nil, fmt.Errorf("expected numbers, got %T", item)
		}
	}
	return out, nil
}

func stringList(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected strings, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// clock is the harness wall clock; advance steps move it forward.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// dice feeds scripted IntN results ahead of a seeded fallback. Queued
// values are clamped into the requested range.
type dice struct {
	mu       sync.Mutex
	queued   []int
	fallback random.Source
}

func (d *dice) push(values ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = append(d.queued, values...)
}

func (d *dice) IntN(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queued) > 0 {
		value := d.queued[0]
		d.queued = d.queued[1:]
		if value < 0 {
			value = 0
		}
		if value >= n {
			value = n - 1
		}
		return value
	}
	return d.fallback.IntN(n)
}

func (d *dice) provide() (random.Source, error) { return d, nil }
