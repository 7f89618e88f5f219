package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// DefaultChunkFrames is the chunk size used when a source is created with a
// non-positive frame count: 20 ms at 48 kHz.
const DefaultChunkFrames = 960

const bytesPerSample = 2

// RawSource reads interleaved little-endian signed 16-bit PCM from an
// io.Reader. A trailing partial frame at the end of the input is dropped.
type RawSource struct {
	r          io.Reader
	channels   int
	sampleRate int
	buf        []byte
	done       bool
}

var _ Source = (*RawSource)(nil)

func NewRawSource(r io.Reader, channels, sampleRate, chunkFrames int) (*RawSource, error) {
	probe := Chunk{Channels: channels, SampleRate: sampleRate}
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	return &RawSource{
		r:          r,
		channels:   channels,
		sampleRate: sampleRate,
		buf:        make([]byte, chunkFrames*channels*bytesPerSample),
	}, nil
}

func (s *RawSource) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.done = true
		return Chunk{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		frameBytes := s.channels * bytesPerSample
		if rem := n % frameBytes; rem != 0 {
			slog.Warn("dropping trailing partial frame",
				slog.Int("bytes", rem),
				slog.Int("channels", s.channels),
			)
			n -= rem
		}
		if n == 0 {
			return Chunk{}, io.EOF
		}
	default:
		return Chunk{}, fmt.Errorf("failed to read pcm: %w", err)
	}

	samples := make([]int16, n/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(s.buf[i*bytesPerSample:]))
	}
	return Chunk{Samples: samples, Channels: s.channels, SampleRate: s.sampleRate}, nil
}
