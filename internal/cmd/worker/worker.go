// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	workerserver "github.com/louisbranch/parlor/internal/game/worker"
	entrypoint "github.com/louisbranch/parlor/internal/platform/cmd"
)

// Config holds worker command configuration.
type Config struct {
	Port          int           `env:"PARLOR_WORKER_PORT" envDefault:"8091"`
	RedisAddr     string        `env:"PARLOR_WORKER_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"PARLOR_WORKER_REDIS_PASSWORD"`
	RedisDB       int           `env:"PARLOR_WORKER_REDIS_DB" envDefault:"0"`
	DBPath        string        `env:"PARLOR_WORKER_DB_PATH" envDefault:"data/settlements.db"`
	NodeID        string        `env:"PARLOR_WORKER_NODE_ID"`
	TickInterval  time.Duration `env:"PARLOR_WORKER_TICK_INTERVAL" envDefault:"1s"`
	DrainInterval time.Duration `env:"PARLOR_WORKER_DRAIN_INTERVAL" envDefault:"2s"`
	DrainBatch    int           `env:"PARLOR_WORKER_DRAIN_BATCH" envDefault:"32"`
	SweepPageSize int64         `env:"PARLOR_WORKER_SWEEP_PAGE_SIZE" envDefault:"128"`
	TurnTimeout   time.Duration `env:"PARLOR_WORKER_TURN_TIMEOUT" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "The Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "The Redis server password")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "The Redis logical database")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The settlement SQLite database path")
	fs.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "Lock owner identity; defaults to the hostname")
	fs.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "Turn timer sweep interval")
	fs.DurationVar(&cfg.DrainInterval, "drain-interval", cfg.DrainInterval, "Settlement outbox drain interval")
	fs.IntVar(&cfg.DrainBatch, "drain-batch", cfg.DrainBatch, "Settlement entries claimed per drain pass")
	fs.Int64Var(&cfg.SweepPageSize, "sweep-page-size", cfg.SweepPageSize, "Rooms fetched per registry page during sweeps")
	fs.DurationVar(&cfg.TurnTimeout, "turn-timeout", cfg.TurnTimeout, "Turn deadline applied to timed games")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Port:          cfg.Port,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
			DBPath:        cfg.DBPath,
			NodeID:        cfg.NodeID,
			TickInterval:  cfg.TickInterval,
			DrainInterval: cfg.DrainInterval,
			DrainBatch:    cfg.DrainBatch,
			SweepPageSize: cfg.SweepPageSize,
			TurnTimeout:   cfg.TurnTimeout,
		})
	})
}
