package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR, required"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

func NewRedisConfigFromEnv() (*RedisConfig, error) {
	return NewRedisConfig(context.Background(), envconfig.OsLookuper())
}

func NewRedisConfig(ctx context.Context, l envconfig.Lookuper) (*RedisConfig, error) {
	var cfg RedisConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	return &cfg, nil
}
