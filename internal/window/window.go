// Package window cuts a PCM chunk stream into fixed-size overlapping encode
// windows.
//
// Every window is (left + middle + right) frames long. Consecutive windows
// overlap by left + right frames: the tail of window N is the head of window
// N+1, which lets an encoder started from scratch on window N+1 warm up on
// the same samples window N already covered.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glizzus/opusify/internal/audio"
)

// Kind tells the encoder which padding frames of a window produce output.
type Kind int

const (
	First Kind = iota
	Middle
	End
	FirstAndEnd
)

func (k Kind) String() string {
	switch k {
	case First:
		return "First"
	case Middle:
		return "Middle"
	case End:
		return "End"
	case FirstAndEnd:
		return "FirstAndEnd"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsFirst reports whether the window starts the stream, so its left padding
// frames are real output.
func (k Kind) IsFirst() bool { return k == First || k == FirstAndEnd }

// IsEnd reports whether the window finishes the stream, so its right padding
// frames are real output.
func (k Kind) IsEnd() bool { return k == End || k == FirstAndEnd }

var ErrInvalidConfig = errors.New("window: invalid configuration")

// Config sizes the windows, in frames of FrameSize samples per channel.
type Config struct {
	LeftPaddingFrames  int
	MiddleFrames       int
	RightPaddingFrames int
	FrameSize          int
	// SampleRate, when set, is the only rate accepted from the source.
	SampleRate int
}

func (c Config) Validate() error {
	switch {
	case c.LeftPaddingFrames < 0 || c.RightPaddingFrames < 0:
		return fmt.Errorf("%w: padding frames must not be negative", ErrInvalidConfig)
	case c.MiddleFrames < 1:
		return fmt.Errorf("%w: middle frames must be positive, got %d", ErrInvalidConfig, c.MiddleFrames)
	case c.FrameSize < 1:
		return fmt.Errorf("%w: frame size must be positive, got %d", ErrInvalidConfig, c.FrameSize)
	case c.SampleRate < 0:
		return fmt.Errorf("%w: negative sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	return nil
}

// Frames returns the number of frames in one window.
func (c Config) Frames() int {
	return c.LeftPaddingFrames + c.MiddleFrames + c.RightPaddingFrames
}

// Request is one window handed to the encoder pool. Samples always holds
// exactly Frames()*Channels*FrameSize interleaved samples; a short final
// window is zero-padded.
type Request struct {
	Sequence   uint64
	Kind       Kind
	Channels   int
	SampleRate int
	FrameSize  int

	LeftPaddingFrames  int
	MiddleFrames       int
	RightPaddingFrames int

	Samples []int16
}

// Frames returns the number of frames in the window.
func (r Request) Frames() int {
	return r.LeftPaddingFrames + r.MiddleFrames + r.RightPaddingFrames
}

// Frame returns the interleaved samples of frame i.
func (r Request) Frame(i int) []int16 {
	n := r.FrameSize * r.Channels
	return r.Samples[i*n : (i+1)*n]
}

type Assembler struct {
	cfg Config
}

func NewAssembler(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg}, nil
}

// Run reads chunks from in until it is closed and sends one Request per window
// to out. out is closed only when Run returns nil, so a failure is never seen
// downstream as a short input.
//
// A window is marked End once in is closed and no sample lies beyond it, so
// the stream is always finished by exactly one End or FirstAndEnd window.
// Run returns audio.ErrNoAudio when in closes without delivering a sample.
func (a *Assembler) Run(ctx context.Context, in <-chan audio.Chunk, out chan<- Request) (err error) {
	defer func() {
		if err == nil {
			close(out)
		}
	}()

	var (
		buf        []int16
		channels   int
		sampleRate int
		exhausted  bool
		sequence   uint64
	)

	for {
		// Keep one sample of lookahead beyond the window, so a window is
		// only marked End when nothing follows it.
		for !exhausted && (channels == 0 || len(buf) <= a.cfg.Frames()*channels*a.cfg.FrameSize) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, ok := <-in:
				if !ok {
					exhausted = true
					continue
				}
				if err := c.Validate(); err != nil {
					return err
				}
				if channels == 0 {
					if a.cfg.SampleRate != 0 && c.SampleRate != a.cfg.SampleRate {
						return fmt.Errorf("%w: expected %d Hz, got %d Hz", audio.ErrSampleRate, a.cfg.SampleRate, c.SampleRate)
					}
					channels, sampleRate = c.Channels, c.SampleRate
				} else if err := c.Matches(channels, sampleRate); err != nil {
					return err
				}
				buf = append(buf, c.Samples...)
			}
		}

		if len(buf) == 0 && sequence == 0 {
			return audio.ErrNoAudio
		}

		windowLen := a.cfg.Frames() * channels * a.cfg.FrameSize
		end := exhausted && len(buf) <= windowLen

		kind := Middle
		switch {
		case sequence == 0 && end:
			kind = FirstAndEnd
		case sequence == 0:
			kind = First
		case end:
			kind = End
		}

		samples := make([]int16, windowLen)
		copy(samples, buf)

		req := Request{
			Sequence:           sequence,
			Kind:               kind,
			Channels:           channels,
			SampleRate:         sampleRate,
			FrameSize:          a.cfg.FrameSize,
			LeftPaddingFrames:  a.cfg.LeftPaddingFrames,
			MiddleFrames:       a.cfg.MiddleFrames,
			RightPaddingFrames: a.cfg.RightPaddingFrames,
			Samples:            samples,
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- req:
		}
		sequence++

		if end {
			slog.Debug("window assembler finished", slog.Uint64("windows", sequence))
			return nil
		}

		drain := a.cfg.MiddleFrames * channels * a.cfg.FrameSize
		buf = append(buf[:0], buf[drain:]...)
	}
}
