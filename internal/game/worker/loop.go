package worker

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/parlor/internal/game/settle"
	"github.com/louisbranch/parlor/internal/game/systems"
)

// Loop cadence defaults.
const (
	defaultTickInterval  = time.Second
	defaultDrainInterval = 2 * time.Second
	defaultDrainBatch    = 32
	defaultSweepPage     = 128
)

// roomPager pages room ids per game type, newest first. room.Registry
// implements it.
type roomPager interface {
	RoomIDsPaged(ctx context.Context, gameType string, cursor, pageSize int64) ([]string, int64, error)
}

// loopConfig wires the upkeep loop.
type loopConfig struct {
	Games         *systems.Registry
	Rooms         roomPager
	Store         *settle.Store
	Publisher     settle.Publisher
	TickInterval  time.Duration
	DrainInterval time.Duration
	DrainBatch    int
	SweepPageSize int64
	Clock         func() time.Time
	Logf          func(format string, args ...any)
}

func (c loopConfig) normalized() loopConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = defaultDrainInterval
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = defaultDrainBatch
	}
	if c.SweepPageSize <= 0 {
		c.SweepPageSize = defaultSweepPage
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logf == nil {
		c.Logf = log.Printf
	}

	return c
}

// loop sweeps room turn deadlines and drains the settlement outbox.
type loop struct {
	cfg loopConfig
}

func newLoop(cfg loopConfig) *loop {
	return &loop{cfg: cfg.normalized()}
}

// run blocks until ctx is canceled. Cancellation is a normal shutdown,
// not an error.
func (l *loop) run(ctx context.Context) error {
	tick := time.NewTicker(l.cfg.TickInterval)
	defer tick.Stop()
	drain := time.NewTicker(l.cfg.DrainInterval)
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			l.sweep(ctx)
		case <-drain.C:
			l.drain(ctx)
		}
	}
}

// sweep fires the turn timer on every registered room of every game.
// Per-room failures are logged and skipped so one wedged room cannot
// stall the rest of the pass. Rooms locked by another node fold into
// quiet no-ops the same way commands do.
func (l *loop) sweep(ctx context.Context) (visited, advanced int) {
	for _, eng := range l.cfg.Games.All() {
		gameType := eng.GameType()
		var cursor int64
		for {
			ids, next, err := l.cfg.Rooms.RoomIDsPaged(ctx, gameType, cursor, l.cfg.SweepPageSize)
			if err != nil {
				l.cfg.Logf("sweep %s rooms: %v", gameType, err)
				break
			}
			for _, roomID := range ids {
				if ctx.Err() != nil {
					return visited, advanced
				}
				visited++
				result, err := eng.Tick(ctx, roomID)
				if err != nil {
					l.cfg.Logf("tick %s room %s: %v", gameType, roomID, err)
					continue
				}
				if len(result.Events) > 0 {
					advanced++
				}
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}

	return visited, advanced
}

// drain hands due settlement entries to the publisher. The count covers
// every claimed entry; failed publishes stay queued and count too.
func (l *loop) drain(ctx context.Context) int {
	processed, err := l.cfg.Store.Process(ctx, l.cfg.Clock().UTC(), l.cfg.DrainBatch, l.cfg.Publisher.Publish)
	if err != nil {
		l.cfg.Logf("drain settlements: %v", err)
		return processed
	}
	if processed > 0 {
		l.cfg.Logf("drained %d settlement entries", processed)
	}

	return processed
}
