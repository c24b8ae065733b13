package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/command"
	"github.com/louisbranch/parlor/internal/game/random"
	"github.com/louisbranch/parlor/internal/game/room"
	"github.com/louisbranch/parlor/internal/platform/id"
	"github.com/louisbranch/parlor/internal/telemetry"
)

var (
	// ErrGameRequired indicates a runtime was built without game rules.
	ErrGameRequired = errors.New("game is required")
	// ErrStoreRequired indicates a runtime was built without a store.
	ErrStoreRequired = errors.New("store is required")
)

// Config wires a runtime. Game and Store are required; every other
// collaborator is optional and skipped when nil.
type Config[S any] struct {
	Game      Game[S]
	Store     Store[S]
	Caster    Broadcaster
	Journal   Journal
	Users     UserBindings
	Emitter   *telemetry.Emitter
	Random    func() (random.Source, error)
	Now       func() time.Time
	NewRoomID func() (string, error)
}

// Runtime drives one game type through the shared execution pipeline:
// acquire the room lock, load, evaluate, save, release, then broadcast.
// Reads bypass the lock; they may observe a pre-commit value but never a
// torn one because state is written as a single key.
type Runtime[S any] struct {
	game      Game[S]
	store     Store[S]
	caster    Broadcaster
	journal   Journal
	users     UserBindings
	emitter   *telemetry.Emitter
	random    func() (random.Source, error)
	now       func() time.Time
	newRoomID func() (string, error)
}

// New validates the wiring and returns a runtime.
func New[S any](cfg Config[S]) (*Runtime[S], error) {
	if cfg.Game == nil {
		return nil, ErrGameRequired
	}
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Random == nil {
		cfg.Random = random.New
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = id.NewRoomID
	}

	return &Runtime[S]{
		game:      cfg.Game,
		store:     cfg.Store,
		caster:    cfg.Caster,
		journal:   cfg.Journal,
		users:     cfg.Users,
		emitter:   cfg.Emitter,
		random:    cfg.Random,
		now:       cfg.Now,
		newRoomID: cfg.NewRoomID,
	}, nil
}

// GameType returns the stable tag of the game this runtime drives.
func (rt *Runtime[S]) GameType() string { return rt.game.GameType() }

// Execute runs one command through the mutation pipeline.
func (rt *Runtime[S]) Execute(ctx context.Context, roomID string, cmd command.Command) (ActionResult, error) {
	result, err := rt.mutate(ctx, roomID, func(rc *room.Context[S], src random.Source, now time.Time) (Decision[S], error) {
		return rt.game.Evaluate(rc, cmd, src, now)
	})
	rt.emit(ctx, "engine.execute", roomID, map[string]string{
		"action": cmd.Action,
		"userId": cmd.UserID,
	}, result, err)

	return result, err
}

// Tick lets the game observe wall-clock progress, e.g. to auto-skip a
// timed-out Ludo turn. When the game reports nothing to do the room is
// left untouched and nothing is broadcast.
func (rt *Runtime[S]) Tick(ctx context.Context, roomID string) (ActionResult, error) {
	if err := rt.store.AcquireLock(ctx, roomID); err != nil {
		return rt.resultFromError(err)
	}

	opCtx := context.WithoutCancel(ctx)
	unlock := rt.unlockOnce(opCtx, roomID)
	defer unlock()

	rc, err := rt.store.Load(opCtx, roomID)
	if err != nil {
		return rt.resultFromError(err)
	}

	decision, acted, err := rt.game.Tick(rc, rt.now())
	if err != nil {
		return rt.resultFromError(err)
	}
	if !acted {
		unlock()

		return ActionResult{Success: true}, nil
	}

	result, err := rt.commit(opCtx, rc, decision, unlock)
	rt.emit(ctx, "engine.tick", roomID, nil, result, err)

	return result, err
}

// LegalActions reports the actions a user may take right now. Pure read.
func (rt *Runtime[S]) LegalActions(ctx context.Context, roomID, userID string) ([]string, error) {
	rc, err := rt.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}

	return rt.game.LegalActions(rc, userID), nil
}

// State returns the read model for one room. Pure read.
func (rt *Runtime[S]) State(ctx context.Context, roomID string) (*StateResponse, error) {
	rc, err := rt.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}

	return rt.stateResponse(rc), nil
}

// States returns read models for many rooms in one round trip. Rooms that
// are absent or corrupt are omitted.
func (rt *Runtime[S]) States(ctx context.Context, roomIDs []string) ([]StateResponse, error) {
	contexts, err := rt.store.LoadMany(ctx, roomIDs)
	if err != nil {
		return nil, err
	}

	out := make([]StateResponse, 0, len(contexts))
	for i := range contexts {
		out = append(out, *rt.stateResponse(&contexts[i]))
	}

	return out, nil
}

// CreateRoom initializes a fresh room and, when a host is named, seats
// them before the first save.
func (rt *Runtime[S]) CreateRoom(ctx context.Context, opts CreateRoomOptions) (*StateResponse, error) {
	roomID := opts.RoomID
	if roomID == "" {
		generated, err := rt.newRoomID()
		if err != nil {
			return nil, err
		}
		roomID = generated
	}

	if err := rt.store.AcquireLock(ctx, roomID); err != nil {
		return nil, err
	}

	opCtx := context.WithoutCancel(ctx)
	defer rt.store.Unlock(opCtx, roomID)

	if _, err := rt.store.Load(opCtx, roomID); err == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeIllegalAction, "room already exists", map[string]string{
			"roomId": roomID,
		})
	} else if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		return nil, err
	}

	src, err := rt.random()
	if err != nil {
		return nil, err
	}

	rc, err := rt.game.NewRoom(roomID, opts, src)
	if err != nil {
		return nil, err
	}

	if opts.HostID != "" {
		decision, err := rt.game.Join(rc, opts.HostID, rt.now())
		if err != nil {
			return nil, err
		}
		rt.apply(rc, decision)
	}

	if err := rt.store.Save(opCtx, rc); err != nil {
		return nil, err
	}

	if opts.HostID != "" {
		rt.bindUser(opCtx, opts.HostID, roomID)
	}

	response := rt.stateResponse(rc)
	rt.emit(ctx, "engine.create_room", roomID, map[string]string{"userId": opts.HostID}, ActionResult{Success: true}, nil)

	return response, nil
}

// Join seats a user and binds them to the room for reconnect lookup.
func (rt *Runtime[S]) Join(ctx context.Context, roomID, userID string) (ActionResult, error) {
	result, err := rt.mutate(ctx, roomID, func(rc *room.Context[S], _ random.Source, now time.Time) (Decision[S], error) {
		return rt.game.Join(rc, userID, now)
	})
	if err == nil && result.Success {
		rt.bindUser(context.WithoutCancel(ctx), userID, roomID)
	}
	rt.emit(ctx, "engine.join", roomID, map[string]string{"userId": userID}, result, err)

	return result, err
}

// Leave unseats a user and clears their advisory binding.
func (rt *Runtime[S]) Leave(ctx context.Context, roomID, userID string) (ActionResult, error) {
	result, err := rt.mutate(ctx, roomID, func(rc *room.Context[S], _ random.Source, now time.Time) (Decision[S], error) {
		return rt.game.Leave(rc, userID, now)
	})
	if err == nil && result.Success && rt.users != nil {
		if uerr := rt.users.RemoveUserRoom(context.WithoutCancel(ctx), userID); uerr != nil {
			log.Printf("engine %s: unbind user %s: %v", rt.game.GameType(), userID, uerr)
		}
	}
	rt.emit(ctx, "engine.leave", roomID, map[string]string{"userId": userID}, result, err)

	return result, err
}

type evaluator[S any] func(rc *room.Context[S], src random.Source, now time.Time) (Decision[S], error)

// mutate is the lock-guarded pipeline every mutation goes through.
func (rt *Runtime[S]) mutate(ctx context.Context, roomID string, evaluate evaluator[S]) (ActionResult, error) {
	if err := rt.store.AcquireLock(ctx, roomID); err != nil {
		return rt.resultFromError(err)
	}

	// Past this point the lock is held: the save and the release must
	// finish even when the handler is cancelled mid-flight. The lock TTL
	// remains the backstop if the process dies.
	opCtx := context.WithoutCancel(ctx)
	unlock := rt.unlockOnce(opCtx, roomID)
	defer unlock()

	rc, err := rt.store.Load(opCtx, roomID)
	if err != nil {
		return rt.resultFromError(err)
	}

	src, err := rt.random()
	if err != nil {
		return ActionResult{}, err
	}

	decision, err := evaluate(rc, src, rt.now())
	if err != nil {
		return rt.resultFromError(err)
	}

	return rt.commit(opCtx, rc, decision, unlock)
}

// commit saves the decision, releases the lock, and only then delivers
// broadcasts so subscribers never observe an unsaved state.
func (rt *Runtime[S]) commit(ctx context.Context, rc *room.Context[S], decision Decision[S], unlock func()) (ActionResult, error) {
	rt.apply(rc, decision)
	if err := rt.store.Save(ctx, rc); err != nil {
		return ActionResult{}, err
	}

	unlock()

	result := rt.successResult(rc, decision)
	rt.deliver(ctx, rc.RoomID, result)

	if decision.Archive {
		if err := rt.store.Delete(ctx, rc.RoomID); err != nil {
			log.Printf("engine %s: archive room %s: %v", rt.game.GameType(), rc.RoomID, err)
		}
	}

	return result, nil
}

// apply folds a decision into the room context. Games that leave Meta at
// its zero value keep the loaded meta.
func (rt *Runtime[S]) apply(rc *room.Context[S], decision Decision[S]) {
	rc.State = decision.State
	if decision.Meta.GameType != "" {
		rc.Meta = decision.Meta
	}
}

func (rt *Runtime[S]) unlockOnce(ctx context.Context, roomID string) func() {
	released := false

	return func() {
		if released {
			return
		}
		released = true
		rt.store.Unlock(ctx, roomID)
	}
}

// resultFromError folds recoverable conditions into a failed result;
// corrupt state and infrastructure failures stay errors.
func (rt *Runtime[S]) resultFromError(err error) (ActionResult, error) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeBusy, apperrors.CodeNotFound, apperrors.CodeIllegalAction, apperrors.CodeInvalidArgument:
		return ActionResult{Error: err.Error(), Code: code}, nil
	default:
		return ActionResult{}, err
	}
}

func (rt *Runtime[S]) successResult(rc *room.Context[S], decision Decision[S]) ActionResult {
	now := rt.now().UTC()
	events := make([]Event, len(decision.Events))
	copy(events, decision.Events)
	for i := range events {
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = now
		}
	}

	return ActionResult{
		Success:         true,
		ShouldBroadcast: decision.Broadcast,
		State:           rt.stateResponse(rc),
		Events:          events,
		GameOver:        decision.GameOver,
	}
}

func (rt *Runtime[S]) stateResponse(rc *room.Context[S]) *StateResponse {
	return &StateResponse{
		RoomID:     rc.RoomID,
		GameType:   rt.game.GameType(),
		Meta:       rc.Meta,
		State:      rt.game.StateDTO(rc),
		LegalMoves: rt.game.LegalActions(rc, ""),
	}
}

// deliver pushes the result to subscribers and hands it to the journal.
// Both are after-commit side effects: failures are logged, never unwound.
func (rt *Runtime[S]) deliver(ctx context.Context, roomID string, result ActionResult) {
	if rt.caster != nil {
		if err := rt.caster.BroadcastResult(ctx, roomID, result); err != nil {
			log.Printf("engine %s: broadcast room %s: %v", rt.game.GameType(), roomID, err)
		}
	}
	if rt.journal != nil {
		if err := rt.journal.RecordResult(ctx, rt.game.GameType(), roomID, result); err != nil {
			log.Printf("engine %s: journal room %s: %v", rt.game.GameType(), roomID, err)
		}
	}
}

func (rt *Runtime[S]) bindUser(ctx context.Context, userID, roomID string) {
	if rt.users == nil {
		return
	}
	if err := rt.users.SetUserRoom(ctx, userID, roomID); err != nil {
		log.Printf("engine %s: bind user %s to room %s: %v", rt.game.GameType(), userID, roomID, err)
	}
}

func (rt *Runtime[S]) emit(ctx context.Context, name, roomID string, attrs map[string]string, result ActionResult, err error) {
	if rt.emitter == nil {
		return
	}

	eventAttrs := map[string]string{
		"gameType": rt.game.GameType(),
		"roomId":   roomID,
	}
	for k, v := range attrs {
		if v != "" {
			eventAttrs[k] = v
		}
	}

	severity := telemetry.SeverityInfo
	switch {
	case err != nil:
		severity = telemetry.SeverityError
		eventAttrs["error"] = err.Error()
	case !result.Success:
		severity = telemetry.SeverityWarn
		eventAttrs["code"] = string(result.Code)
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		eventAttrs["traceId"] = sc.TraceID().String()
		eventAttrs["spanId"] = sc.SpanID().String()
	}

	if emitErr := rt.emitter.Emit(ctx, telemetry.Event{Name: name, Severity: severity, Attrs: eventAttrs}); emitErr != nil {
		log.Printf("engine %s: emit %s: %v", rt.game.GameType(), name, emitErr)
	}
}

var (
	_ Engine      = (*Runtime[struct{}])(nil)
	_ RoomService = (*Runtime[struct{}])(nil)
)
