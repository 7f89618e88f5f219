package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/glizzus/opusify/internal/config"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to load .env file", slog.Any("error", err))
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "opusify",
		Usage: "Encode audio to Ogg/Opus with a parallel windowed encoder",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := parseLevel(c.String("log-level"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			slog.SetLogLoggerLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			encodeCommand(),
			toneCommand(),
			probeCommand(),
			submitCommand(),
			statusCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("opusify failed", slog.Any("error", err))
		os.Exit(1)
	}
}
