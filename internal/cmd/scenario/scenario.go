// Package scenario parses scenario command flags and replays a scripted
// walkthrough against embedded game engines.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/parlor/internal/tools/scenario"
)

// Config holds scenario command configuration.
type Config struct {
	RedisAddr string `env:"PARLOR_SCENARIO_REDIS_ADDR"`
	Scenario  string `env:"PARLOR_SCENARIO_FILE"`
	Verbose   bool   `env:"PARLOR_SCENARIO_VERBOSE"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address; empty runs an embedded instance")
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to scenario lua file")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the scenario command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Scenario == "" {
		return errors.New("scenario path is required")
	}

	logger := log.New(errOut, "", 0)
	report, err := scenario.RunFile(ctx, scenario.Config{
		RedisAddr: cfg.RedisAddr,
		Logger:    logger,
		Verbose:   cfg.Verbose,
	}, cfg.Scenario)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d steps passed\n", report.Name, len(report.Steps))
	for _, step := range report.Steps {
		fmt.Fprintf(out, "  %-16s %s\n", step.Kind, step.Detail)
	}
	return nil
}
