// Package worker hosts the standalone upkeep process for game rooms.
// It sweeps turn deadlines across every registered room and drains the
// settlement outbox toward the wallet publisher. The process exposes a
// gRPC health endpoint so orchestrators can probe it, but takes no
// traffic of its own.
package worker

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/parlor/internal/game/broadcast"
	"github.com/louisbranch/parlor/internal/game/engine"
	"github.com/louisbranch/parlor/internal/game/luckymine"
	"github.com/louisbranch/parlor/internal/game/ludo"
	"github.com/louisbranch/parlor/internal/game/room"
	"github.com/louisbranch/parlor/internal/game/settle"
	"github.com/louisbranch/parlor/internal/game/systems"
	platformredis "github.com/louisbranch/parlor/internal/platform/redis"
	"github.com/louisbranch/parlor/internal/telemetry"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls worker startup, dependencies, and loop cadence.
type RuntimeConfig struct {
	Port          int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DBPath        string
	NodeID        string
	TickInterval  time.Duration
	DrainInterval time.Duration
	DrainBatch    int
	SweepPageSize int64
	TurnTimeout   time.Duration
}

const (
	defaultWorkerPort = 8091
	defaultWorkerDB   = "data/settlements.db"
)

// Run starts worker runtime dependencies and the foreground upkeep
// loop. It returns once ctx is canceled and every dependency has been
// torn down.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return fmt.Errorf("redis address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "worker"
		}
		cfg.NodeID = host
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = ludo.DefaultTurnTimeout
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settlement storage dir: %w", err)
		}
	}

	settleStore, err := settle.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open settlement store: %w", err)
	}
	defer func() {
		if closeErr := settleStore.Close(); closeErr != nil {
			log.Printf("close settlement store: %v", closeErr)
		}
	}()

	client, err := platformredis.Open(ctx, platformredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Printf("close redis client: %v", closeErr)
		}
	}()

	registry := room.NewRegistry(client)
	journal, err := settle.NewJournal(settleStore)
	if err != nil {
		return fmt.Errorf("wire settlement journal: %w", err)
	}
	emitter := telemetry.NewEmitter(telemetry.LogSink{})

	games, err := buildSystems(client, registry, journal, emitter, cfg)
	if err != nil {
		return err
	}

	upkeep := newLoop(loopConfig{
		Games:         games,
		Rooms:         registry,
		Store:         settleStore,
		Publisher:     settle.LogPublisher{},
		TickInterval:  cfg.TickInterval,
		DrainInterval: cfg.DrainInterval,
		DrainBatch:    cfg.DrainBatch,
		SweepPageSize: cfg.SweepPageSize,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("parlor.worker", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("worker server listening at %v", listener.Addr())
	return upkeep.run(ctx)
}

// buildSystems wires one runtime per supported game over the shared
// Redis client and settlement journal, registered under their game-type
// tags. The registry doubles as the user→room binding store.
func buildSystems(client *goredis.Client, registry *room.Registry, journal *settle.Journal, emitter *telemetry.Emitter, cfg RuntimeConfig) (*systems.Registry, error) {
	ludoCaster, err := broadcast.NewRedis(client, ludo.Type)
	if err != nil {
		return nil, fmt.Errorf("wire %s broadcaster: %w", ludo.Type, err)
	}
	ludoEngine, err := engine.New(engine.Config[ludo.State]{
		Game:    ludo.New(ludo.Config{TurnTimeout: cfg.TurnTimeout}),
		Store:   room.NewRepository(client, registry, ludo.Type, ludo.Codec(), cfg.NodeID, room.Options{}),
		Caster:  ludoCaster,
		Journal: journal,
		Users:   registry,
		Emitter: emitter,
	})
	if err != nil {
		return nil, fmt.Errorf("wire %s engine: %w", ludo.Type, err)
	}

	mineCaster, err := broadcast.NewRedis(client, luckymine.Type)
	if err != nil {
		return nil, fmt.Errorf("wire %s broadcaster: %w", luckymine.Type, err)
	}
	mineEngine, err := engine.New(engine.Config[luckymine.State]{
		Game:    luckymine.New(),
		Store:   room.NewRepository(client, registry, luckymine.Type, luckymine.Codec(), cfg.NodeID, room.Options{}),
		Caster:  mineCaster,
		Journal: journal,
		Users:   registry,
		Emitter: emitter,
	})
	if err != nil {
		return nil, fmt.Errorf("wire %s engine: %w", luckymine.Type, err)
	}

	games := systems.NewRegistry()
	games.Register(ludoEngine)
	games.Register(mineEngine)

	return games, nil
}
