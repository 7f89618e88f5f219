package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"

	"github.com/glizzus/opusify/internal/opus"
)

type OpusConfig struct {
	Application string `env:"OPUS_APPLICATION, default=audio"`
	Vendor      string `env:"OPUS_VENDOR, default=opusify"`
	Bitrate     int    `env:"OPUS_BITRATE, default=0"`
	Complexity  int    `env:"OPUS_COMPLEXITY, default=0"`
}

func NewOpusConfigFromEnv() (*OpusConfig, error) {
	return NewOpusConfig(context.Background(), envconfig.OsLookuper())
}

func NewOpusConfig(ctx context.Context, l envconfig.Lookuper) (*OpusConfig, error) {
	var cfg OpusConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	if _, err := cfg.Options(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Options converts the settings to encoder options.
func (c *OpusConfig) Options() (opus.Options, error) {
	app, err := opus.ParseApplication(c.Application)
	if err != nil {
		return opus.Options{}, err
	}
	if c.Complexity < 0 || c.Complexity > 10 {
		return opus.Options{}, fmt.Errorf("OPUS_COMPLEXITY must be between 0 and 10, got %d", c.Complexity)
	}
	if c.Bitrate < 0 {
		return opus.Options{}, fmt.Errorf("OPUS_BITRATE must not be negative, got %d", c.Bitrate)
	}
	return opus.Options{
		Application: app,
		Bitrate:     c.Bitrate,
		Complexity:  c.Complexity,
	}, nil
}
