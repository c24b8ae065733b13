package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/louisbranch/parlor/internal/errors"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/room"
)

var (
	// ErrClientRequired indicates a publisher was built without a Redis client.
	ErrClientRequired = errors.New("redis client is required")
	// ErrGameTypeRequired indicates a publisher was built without a game type.
	ErrGameTypeRequired = errors.New("game type is required")
)

// Redis publishes feed envelopes on the room's pub/sub channel so any
// node holding a subscriber connection can relay them. One publisher
// serves one game type, mirroring the per-type key layout.
type Redis struct {
	client   redis.UniversalClient
	gameType string
}

// NewRedis returns a feed publisher for one game type.
func NewRedis(client redis.UniversalClient, gameType string) (*Redis, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if gameType == "" {
		return nil, ErrGameTypeRequired
	}

	return &Redis{client: client, gameType: gameType}, nil
}

func (r *Redis) BroadcastState(ctx context.Context, roomID string, state *engine.StateResponse) error {
	return r.publish(ctx, roomID, Envelope{Kind: KindState, RoomID: roomID, State: state})
}

func (r *Redis) BroadcastEvent(ctx context.Context, roomID string, event engine.Event) error {
	return r.publish(ctx, roomID, Envelope{Kind: KindEvent, RoomID: roomID, Event: &event})
}

// BroadcastResult publishes the snapshot first, then each event in
// order. Results the game marked as not broadcastable are dropped here;
// the journal still sees them upstream.
func (r *Redis) BroadcastResult(ctx context.Context, roomID string, result engine.ActionResult) error {
	return fanoutResult(ctx, r, roomID, result)
}

func (r *Redis) publish(ctx context.Context, roomID string, envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "encode feed envelope", err)
	}

	channel := room.FeedChannel(r.gameType, roomID)
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeUnknown, "publish feed envelope", map[string]string{
			"channel": channel,
		}, err)
	}

	return nil
}

var _ engine.Broadcaster = (*Redis)(nil)
