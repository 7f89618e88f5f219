package config

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/sethvargo/go-envconfig"

	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/opus"
	"github.com/glizzus/opusify/internal/window"
)

const (
	DefaultPaddingFrames = 8
	DefaultMiddleFrames  = 96
	// DefaultFrameSize is 10 ms at 48 kHz.
	DefaultFrameSize  = 480
	DefaultQueueDepth = 16
)

// WindowConfig sizes the encode windows and the pipeline around them.
type WindowConfig struct {
	PaddingFrames int
	MiddleFrames  int
	FrameSize     int
	Workers       int
	QueueDepth    int
}

// windowEnv holds the raw values. A missing or unparsable value falls back to
// its default instead of failing the process.
type windowEnv struct {
	PaddingFrames string `env:"PADDING_FRAMES"`
	MiddleFrames  string `env:"MIDDLE_FRAMES"`
	FrameSize     string `env:"FRAME_SIZE"`
	Workers       string `env:"ENCODE_WORKERS"`
	QueueDepth    string `env:"QUEUE_DEPTH"`
}

func NewWindowConfigFromEnv() (*WindowConfig, error) {
	return NewWindowConfig(context.Background(), envconfig.OsLookuper())
}

func NewWindowConfig(ctx context.Context, l envconfig.Lookuper) (*WindowConfig, error) {
	var env windowEnv
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &env, Lookuper: l}); err != nil {
		return nil, err
	}

	cfg := &WindowConfig{
		PaddingFrames: lenientInt("PADDING_FRAMES", env.PaddingFrames, DefaultPaddingFrames, 0),
		MiddleFrames:  lenientInt("MIDDLE_FRAMES", env.MiddleFrames, DefaultMiddleFrames, 1),
		FrameSize:     lenientInt("FRAME_SIZE", env.FrameSize, DefaultFrameSize, 1),
		Workers:       lenientInt("ENCODE_WORKERS", env.Workers, runtime.NumCPU(), 1),
		QueueDepth:    lenientInt("QUEUE_DEPTH", env.QueueDepth, DefaultQueueDepth, 1),
	}
	if !opus.ValidFrameSize(oggopus.OutputSampleRate, cfg.FrameSize) {
		slog.Warn("FRAME_SIZE is not an Opus frame duration, using the default",
			slog.Int("value", cfg.FrameSize),
			slog.Int("default", DefaultFrameSize),
		)
		cfg.FrameSize = DefaultFrameSize
	}
	return cfg, nil
}

func lenientInt(name, raw string, def, minimum int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		slog.Warn("ignoring invalid integer setting",
			slog.String("name", name),
			slog.String("value", raw),
			slog.Int("default", def),
		)
		return def
	}
	return v
}

// Window returns the window layout, with equal left and right padding.
func (c *WindowConfig) Window() window.Config {
	return window.Config{
		LeftPaddingFrames:  c.PaddingFrames,
		MiddleFrames:       c.MiddleFrames,
		RightPaddingFrames: c.PaddingFrames,
		FrameSize:          c.FrameSize,
		SampleRate:         oggopus.OutputSampleRate,
	}
}
