package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/glizzus/opusify/internal/schedule"
)

type WorkerConfig struct {
	MetricsAddr string        `env:"METRICS_ADDR, default=:9090"`
	ReaperCron  string        `env:"REAPER_CRON, default=*/5 * * * *"`
	StaleAfter  time.Duration `env:"STALE_AFTER, default=30m"`
	Stream      string        `env:"JOB_STREAM, default=opusify_jobs"`
	Group       string        `env:"JOB_GROUP, default=opusify_workers"`
	// Consumer names this worker within the group. Empty means the hostname.
	Consumer string `env:"JOB_CONSUMER"`
}

func NewWorkerConfigFromEnv() (*WorkerConfig, error) {
	return NewWorkerConfig(context.Background(), envconfig.OsLookuper())
}

func NewWorkerConfig(ctx context.Context, l envconfig.Lookuper) (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	if err := schedule.ValidateCron(cfg.ReaperCron); err != nil {
		return nil, fmt.Errorf("REAPER_CRON: %w", err)
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("STALE_AFTER must be positive, got %v", cfg.StaleAfter)
	}
	return &cfg, nil
}
