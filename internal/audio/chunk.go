// Package audio models decoded PCM and the sources that produce it.
//
// A Source yields Chunks of interleaved signed 16-bit samples until it
// returns io.EOF. Every chunk of one source carries the same channel count
// and sample rate.
package audio

import (
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// MaxChannels is the largest channel count an Opus identification header
	// can describe.
	MaxChannels = 255
)

var (
	ErrNoAudio         = errors.New("audio: source produced no samples")
	ErrInvalidChunk    = errors.New("audio: invalid chunk")
	ErrChannelMismatch = errors.New("audio: channel count changed within a stream")
	ErrSampleRate      = errors.New("audio: sample rate changed within a stream")
)

// Chunk is a run of interleaved samples. A chunk is immutable once it has been
// handed to a consumer.
type Chunk struct {
	Samples    []int16
	Channels   int
	SampleRate int
}

// Frames returns the number of samples per channel.
func (c Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

func (c Chunk) Validate() error {
	if c.Channels < 1 || c.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrInvalidChunk, c.Channels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidChunk, c.SampleRate)
	}
	if len(c.Samples)%c.Channels != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d channels", ErrInvalidChunk, len(c.Samples), c.Channels)
	}
	return nil
}

// Matches reports whether c has the given layout, returning ErrChannelMismatch
// or ErrSampleRate otherwise.
func (c Chunk) Matches(channels, sampleRate int) error {
	if c.Channels != channels {
		return fmt.Errorf("%w: expected %d, got %d", ErrChannelMismatch, channels, c.Channels)
	}
	if c.SampleRate != sampleRate {
		return fmt.Errorf("%w: expected %d Hz, got %d Hz", ErrSampleRate, sampleRate, c.SampleRate)
	}
	return nil
}

// Source produces chunks in playback order. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() (Chunk, error)
}

// SliceSource replays chunks held in memory.
type SliceSource struct {
	chunks []Chunk
}

var _ Source = (*SliceSource)(nil)

func NewSliceSource(chunks ...Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

func (s *SliceSource) Next() (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// Split cuts interleaved samples into chunks of at most framesPerChunk frames.
func Split(samples []int16, channels, sampleRate, framesPerChunk int) []Chunk {
	step := framesPerChunk * channels
	if step <= 0 {
		step = len(samples)
	}
	var chunks []Chunk
	for start := 0; start < len(samples); start += step {
		end := min(start+step, len(samples))
		chunks = append(chunks, Chunk{
			Samples:    samples[start:end],
			Channels:   channels,
			SampleRate: sampleRate,
		})
	}
	return chunks
}
