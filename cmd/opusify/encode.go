package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/glizzus/opusify/internal/audio"
	"github.com/glizzus/opusify/internal/config"
	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/opus"
	"github.com/glizzus/opusify/internal/pipeline"
	"github.com/glizzus/opusify/internal/resample"
)

// encoderFlags tune the window layout and the encoder. Unset flags fall back
// to the environment.
func encoderFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "padding", Usage: "padding frames on each side of a window (PADDING_FRAMES)"},
		&cli.IntFlag{Name: "middle", Usage: "frames emitted per window (MIDDLE_FRAMES)"},
		&cli.IntFlag{Name: "frame-size", Usage: "samples per channel in one Opus frame (FRAME_SIZE)"},
		&cli.IntFlag{Name: "workers", Usage: "windows encoded in parallel (ENCODE_WORKERS)"},
		&cli.StringFlag{Name: "application", Usage: "audio, voip or lowdelay (OPUS_APPLICATION)"},
		&cli.IntFlag{Name: "bitrate", Usage: "target bitrate in bits per second (OPUS_BITRATE)"},
		&cli.IntFlag{Name: "complexity", Usage: "encoder complexity from 1 to 10 (OPUS_COMPLEXITY)"},
		&cli.StringSliceFlag{Name: "comment", Usage: "KEY=value user comment, repeatable"},
	}
}

// newPipeline builds a pipeline from the environment overridden by flags.
func newPipeline(c *cli.Context, inputRate int) (*pipeline.Pipeline, error) {
	windowCfg, err := config.NewWindowConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if c.IsSet("padding") {
		windowCfg.PaddingFrames = c.Int("padding")
	}
	if c.IsSet("middle") {
		windowCfg.MiddleFrames = c.Int("middle")
	}
	if c.IsSet("frame-size") {
		windowCfg.FrameSize = c.Int("frame-size")
		if !opus.ValidFrameSize(oggopus.OutputSampleRate, windowCfg.FrameSize) {
			return nil, fmt.Errorf("%w: %d samples", opus.ErrFrameSize, windowCfg.FrameSize)
		}
	}
	if c.IsSet("workers") {
		windowCfg.Workers = c.Int("workers")
	}

	opusCfg, err := config.NewOpusConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if c.IsSet("application") {
		opusCfg.Application = c.String("application")
	}
	if c.IsSet("bitrate") {
		opusCfg.Bitrate = c.Int("bitrate")
	}
	if c.IsSet("complexity") {
		opusCfg.Complexity = c.Int("complexity")
	}
	opts, err := opusCfg.Options()
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Options{
		Window:     windowCfg.Window(),
		Factory:    opus.Factory(opts),
		Workers:    windowCfg.Workers,
		QueueDepth: windowCfg.QueueDepth,
		Mux: oggopus.Options{
			Serial:          oggopus.DefaultSerial,
			Vendor:          opusCfg.Vendor,
			Comments:        c.StringSlice("comment"),
			InputSampleRate: inputRate,
		},
	})
}

func encodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Encode an audio file to Ogg/Opus",
		ArgsUsage: "INPUT OUTPUT (- for stdin or stdout)",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "format", Value: "auto", Usage: "auto decodes with ffmpeg, raw reads s16le PCM"},
			&cli.IntFlag{Name: "rate", Value: 48000, Usage: "sample rate of raw input"},
			&cli.IntFlag{Name: "channels", Value: 2, Usage: "channels of raw input, or channels ffmpeg downmixes to"},
			&cli.StringFlag{Name: "ffmpeg", Value: "ffmpeg", Usage: "ffmpeg binary", EnvVars: []string{"FFMPEG_BINARY"}},
		}, encoderFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("expected INPUT and OUTPUT", 2)
			}
			input, output := c.Args().Get(0), c.Args().Get(1)

			src, inputRate, closeSrc, err := openInput(c, input)
			if err != nil {
				return err
			}
			defer closeSrc()

			p, err := newPipeline(c, inputRate)
			if err != nil {
				return err
			}
			return writeOutput(c.Context, p, src, output)
		},
	}
}

// openInput returns the PCM source for input and the sample rate to record
// as the original input rate.
func openInput(c *cli.Context, input string) (audio.Source, int, func(), error) {
	channels := c.Int("channels")
	switch c.String("format") {
	case "raw":
		r := io.Reader(os.Stdin)
		closeFn := func() {}
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return nil, 0, nil, err
			}
			r = f
			closeFn = func() { _ = f.Close() }
		}
		raw, err := audio.NewRawSource(r, channels, c.Int("rate"), audio.DefaultChunkFrames)
		if err != nil {
			closeFn()
			return nil, 0, nil, err
		}
		return resample.New(raw, oggopus.OutputSampleRate), c.Int("rate"), closeFn, nil

	case "auto":
		opts := audio.FFmpegOptions{
			Binary:     c.String("ffmpeg"),
			Channels:   channels,
			SampleRate: oggopus.OutputSampleRate,
		}
		if input == "-" {
			opts.Stdin = os.Stdin
		} else {
			opts.Input = input
		}
		src, err := audio.NewFFmpegSource(c.Context, opts)
		if err != nil {
			return nil, 0, nil, err
		}
		return src, 0, func() { _ = src.Close() }, nil
	}
	return nil, 0, nil, cli.Exit(fmt.Sprintf("unknown format %q", c.String("format")), 2)
}

// writeOutput transcodes src into output. A partially written file is removed
// on failure.
func writeOutput(ctx context.Context, p *pipeline.Pipeline, src audio.Source, output string) (err error) {
	w := io.Writer(os.Stdout)
	if output != "-" {
		f, createErr := os.Create(output)
		if createErr != nil {
			return createErr
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			if err != nil {
				_ = os.Remove(output)
			}
		}()
		w = f
	}

	stats, err := p.Transcode(ctx, src, w)
	if err != nil {
		return err
	}
	slog.Info("encoded",
		slog.String("output", output),
		slog.Int("windows", stats.Windows),
		slog.Int("packets", stats.Packets),
		slog.Int("pages", stats.Pages),
		slog.Int64("bytes", stats.Bytes),
		slog.Duration("elapsed", stats.Elapsed.Round(time.Millisecond)),
	)
	return nil
}

func toneCommand() *cli.Command {
	return &cli.Command{
		Name:      "tone",
		Usage:     "Encode a generated sine tone, for checking players and settings",
		ArgsUsage: "OUTPUT",
		Flags: append([]cli.Flag{
			&cli.Float64Flag{Name: "freq", Value: 440, Usage: "frequency in Hz"},
			&cli.Float64Flag{Name: "amplitude", Value: 0.5, Usage: "amplitude relative to full scale"},
			&cli.DurationFlag{Name: "duration", Value: 5 * time.Second},
			&cli.IntFlag{Name: "channels", Value: 2},
		}, encoderFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected OUTPUT", 2)
			}
			channels := c.Int("channels")
			samples := audio.Tone(c.Float64("freq"), c.Float64("amplitude"), c.Duration("duration"), channels, oggopus.OutputSampleRate)
			src := audio.NewSliceSource(audio.Split(samples, channels, oggopus.OutputSampleRate, audio.DefaultChunkFrames)...)

			p, err := newPipeline(c, oggopus.OutputSampleRate)
			if err != nil {
				return err
			}
			return writeOutput(c.Context, p, src, c.Args().First())
		},
	}
}
