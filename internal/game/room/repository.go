package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/codec"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a room.
	DefaultLockTTL = 5 * time.Second
	// DefaultLockWait bounds how long an acquire waits before reporting busy.
	DefaultLockWait = 2 * time.Second

	lockPollInterval = 50 * time.Millisecond
)

// Options tune a repository. Zero values fall back to package defaults.
type Options struct {
	// LockTTL is the expiry on the room mutation lock.
	LockTTL time.Duration
	// LockWait bounds AcquireLock's total wait.
	LockWait time.Duration
	// DefaultMeta is the recovery record used when a room has state but no
	// readable meta.
	DefaultMeta Meta
}

// Repository stores one game type's (state, meta, lock) triples in Redis.
// State is written as a versioned binary record, meta as JSON; both keys
// share a hash-tag so pipelined batches stay on one cluster slot.
type Repository[S any] struct {
	client      *redis.Client
	registry    *Registry
	gameType    string
	codec       *codec.Codec[S]
	nodeID      string
	lockTTL     time.Duration
	lockWait    time.Duration
	defaultMeta Meta
}

// NewRepository builds a repository for gameType. The nodeID is written as
// the lock value so expired locks identify their holder.
func NewRepository[S any](client *redis.Client, registry *Registry, gameType string, c *codec.Codec[S], nodeID string, opts Options) *Repository[S] {
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	lockWait := opts.LockWait
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	defaultMeta := opts.DefaultMeta
	if defaultMeta.GameType == "" {
		defaultMeta = NewMeta(gameType, defaultMeta.MaxPlayers)
	}

	return &Repository[S]{
		client:      client,
		registry:    registry,
		gameType:    gameType,
		codec:       c,
		nodeID:      nodeID,
		lockTTL:     lockTTL,
		lockWait:    lockWait,
		defaultMeta: defaultMeta,
	}
}

// GameType returns the key namespace this repository serves.
func (r *Repository[S]) GameType() string { return r.gameType }

// Load fetches state and meta in one pipelined batch and decodes them.
// A missing room is a not-found error; a room with state but unreadable
// meta is recovered with the default meta so the game stays reachable.
func (r *Repository[S]) Load(ctx context.Context, roomID string) (*Context[S], error) {
	pipe := r.client.Pipeline()
	stateCmd := pipe.Get(ctx, StateKey(r.gameType, roomID))
	metaCmd := pipe.Get(ctx, MetaKey(r.gameType, roomID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "load room", err)
	}

	raw, err := stateCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "room not found", map[string]string{
			"roomId": roomID,
		})
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "read room state", err)
	}

	state, err := r.codec.Decode(raw)
	if err != nil {
		return nil, err
	}

	meta := r.recoveryMeta()
	metaRaw, err := metaCmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		log.Printf("room %s (%s): meta missing, recovering with defaults", roomID, r.gameType)
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "read room meta", err)
	default:
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			log.Printf("room %s (%s): unreadable meta, recovering with defaults: %v", roomID, r.gameType, err)
			meta = r.recoveryMeta()
		}
	}

	return &Context[S]{RoomID: roomID, State: state, Meta: meta}, nil
}

// Save writes state and meta in one pipelined batch and registers the
// room. Registration is idempotent so repeated saves are cheap.
func (r *Repository[S]) Save(ctx context.Context, rc *Context[S]) error {
	data, err := r.codec.Encode(rc.State)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(rc.Meta)
	if err != nil {
		return fmt.Errorf("marshal room meta: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, StateKey(r.gameType, rc.RoomID), data, 0)
	pipe.Set(ctx, MetaKey(r.gameType, rc.RoomID), metaJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "save room", err)
	}

	return r.registry.Register(ctx, rc.RoomID, r.gameType)
}

// Delete removes state, meta, and lock, then unregisters the room.
func (r *Repository[S]) Delete(ctx context.Context, roomID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, StateKey(r.gameType, roomID))
	pipe.Del(ctx, MetaKey(r.gameType, roomID))
	pipe.Del(ctx, LockKey(r.gameType, roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "delete room", err)
	}

	return r.registry.Unregister(ctx, roomID)
}

// LoadMany fetches many rooms in one round trip. Absent rooms are omitted;
// corrupt states are logged and dropped rather than failing the batch.
func (r *Repository[S]) LoadMany(ctx context.Context, roomIDs []string) ([]Context[S], error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}

	stateKeys := make([]string, len(roomIDs))
	metaKeys := make([]string, len(roomIDs))
	for i, roomID := range roomIDs {
		stateKeys[i] = StateKey(r.gameType, roomID)
		metaKeys[i] = MetaKey(r.gameType, roomID)
	}

	pipe := r.client.Pipeline()
	statesCmd := pipe.MGet(ctx, stateKeys...)
	metasCmd := pipe.MGet(ctx, metaKeys...)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "load rooms", err)
	}

	states := statesCmd.Val()
	metas := metasCmd.Val()

	out := make([]Context[S], 0, len(roomIDs))
	for i, roomID := range roomIDs {
		raw, ok := asBytes(states[i])
		if !ok {
			continue
		}

		state, err := r.codec.Decode(raw)
		if err != nil {
			log.Printf("room %s (%s): dropping corrupt state: %v", roomID, r.gameType, err)
			continue
		}

		meta := r.recoveryMeta()
		if metaRaw, ok := asBytes(metas[i]); ok {
			if err := json.Unmarshal(metaRaw, &meta); err != nil {
				log.Printf("room %s (%s): unreadable meta, recovering with defaults: %v", roomID, r.gameType, err)
				meta = r.recoveryMeta()
			}
		}

		out = append(out, Context[S]{RoomID: roomID, State: state, Meta: meta})
	}

	return out, nil
}

// TryLock attempts a single set-if-absent with TTL. The stored value is
// the node identity so an expired lock self-heals and names its holder.
func (r *Repository[S]) TryLock(ctx context.Context, roomID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = r.lockTTL
	}

	ok, err := r.client.SetNX(ctx, LockKey(r.gameType, roomID), r.nodeID, ttl).Result()
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeUnknown, "acquire room lock", err)
	}

	return ok, nil
}

// AcquireLock polls TryLock until it succeeds or the wait bound passes,
// in which case the room is reported busy and no state has been touched.
func (r *Repository[S]) AcquireLock(ctx context.Context, roomID string) error {
	deadline := time.Now().Add(r.lockWait)
	for {
		ok, err := r.TryLock(ctx, roomID, r.lockTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.WithMetadata(apperrors.CodeBusy, "room is busy", map[string]string{
				"roomId": roomID,
			})
		}

		select {
		case <-ctx.Done():
			return apperrors.Wrap(apperrors.CodeBusy, "room is busy", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Unlock is a best-effort lock release. Failures are logged only; the
// lock TTL guarantees eventual recovery.
func (r *Repository[S]) Unlock(ctx context.Context, roomID string) {
	if err := r.client.Del(ctx, LockKey(r.gameType, roomID)).Err(); err != nil {
		log.Printf("room %s (%s): release lock: %v", roomID, r.gameType, err)
	}
}

func (r *Repository[S]) recoveryMeta() Meta {
	return r.defaultMeta.Clone()
}

func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case string:
		return []byte(b), true
	case []byte:
		return b, true
	default:
		return nil, false
	}
}
