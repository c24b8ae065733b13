package room

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/louisbranch/parlor/internal/errors"
)

// DefaultPageSize is used when a paged listing asks for zero or fewer ids.
const DefaultPageSize = 20

// Registry is the global room index: a hash from room id to game type, a
// per-type sorted set scored by creation unix-seconds, and an advisory
// hash binding users to their active room.
type Registry struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRegistry returns a registry over the given client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client, clock: time.Now}
}

// GameType resolves the game type a room was registered under.
func (g *Registry) GameType(ctx context.Context, roomID string) (string, error) {
	gameType, err := g.client.HGet(ctx, roomsKey, roomID).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.WithMetadata(apperrors.CodeNotFound, "room is not registered", map[string]string{
			"roomId": roomID,
		})
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "resolve room game type", err)
	}

	return gameType, nil
}

// Register adds a room to the global map and its type index. The index
// entry is added NX so re-registering keeps the original creation score.
func (g *Registry) Register(ctx context.Context, roomID, gameType string) error {
	now := float64(g.clock().Unix())

	pipe := g.client.Pipeline()
	pipe.HSet(ctx, roomsKey, roomID, gameType)
	pipe.ZAddNX(ctx, typeIndexKey(gameType), redis.Z{Score: now, Member: roomID})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "register room", err)
	}

	return nil
}

// Unregister removes a room from the global map and its type index.
// Unregistering an unknown room is a no-op.
func (g *Registry) Unregister(ctx context.Context, roomID string) error {
	gameType, err := g.GameType(ctx, roomID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return nil
		}

		return err
	}

	pipe := g.client.Pipeline()
	pipe.HDel(ctx, roomsKey, roomID)
	pipe.ZRem(ctx, typeIndexKey(gameType), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "unregister room", err)
	}

	return nil
}

// AllRoomIDs lists every registered room id across game types.
func (g *Registry) AllRoomIDs(ctx context.Context) ([]string, error) {
	ids, err := g.client.HKeys(ctx, roomsKey).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list rooms", err)
	}

	return ids, nil
}

// RoomIDsByType lists a type's rooms newest first.
func (g *Registry) RoomIDsByType(ctx context.Context, gameType string) ([]string, error) {
	ids, err := g.client.ZRevRange(ctx, typeIndexKey(gameType), 0, -1).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list rooms by type", err)
	}

	return ids, nil
}

// RoomIDsPaged returns one page of a type's rooms, newest first, using
// rank ranges on the sorted index. The returned cursor addresses the next
// page and is zero when the listing is exhausted.
func (g *Registry) RoomIDsPaged(ctx context.Context, gameType string, cursor, pageSize int64) ([]string, int64, error) {
	if cursor < 0 {
		cursor = 0
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	ids, err := g.client.ZRevRange(ctx, typeIndexKey(gameType), cursor, cursor+pageSize-1).Result()
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeUnknown, "page rooms by type", err)
	}

	var next int64
	if int64(len(ids)) == pageSize {
		next = cursor + pageSize
	}

	return ids, next, nil
}

// SetUserRoom binds a user to their active room. The binding is advisory:
// it serves reconnect lookups, never authorization.
func (g *Registry) SetUserRoom(ctx context.Context, userID, roomID string) error {
	if err := g.client.HSet(ctx, usersKey, userID, roomID).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "bind user room", err)
	}

	return nil
}

// UserRoom resolves the advisory room binding for a user.
func (g *Registry) UserRoom(ctx context.Context, userID string) (string, error) {
	roomID, err := g.client.HGet(ctx, usersKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.WithMetadata(apperrors.CodeNotFound, "user has no active room", map[string]string{
			"userId": userID,
		})
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "resolve user room", err)
	}

	return roomID, nil
}

// RemoveUserRoom clears the advisory binding for a user.
func (g *Registry) RemoveUserRoom(ctx context.Context, userID string) error {
	if err := g.client.HDel(ctx, usersKey, userID).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "unbind user room", err)
	}

	return nil
}
