// Package resample converts a PCM source to the Opus output rate.
package resample

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/glizzus/opusify/internal/audio"
)

// Source converts every chunk of the wrapped source to a fixed output rate.
// Chunks already at that rate pass through untouched.
type Source struct {
	src    audio.Source
	target int

	started    bool
	channels   int
	inputRate  int
	resampler  resampling.Resampler
	normalized []float64
}

var _ audio.Source = (*Source)(nil)

func New(src audio.Source, targetRate int) *Source {
	return &Source{src: src, target: targetRate}
}

func (s *Source) Next() (audio.Chunk, error) {
	for {
		c, err := s.src.Next()
		if err != nil {
			return audio.Chunk{}, err
		}
		if err := c.Validate(); err != nil {
			return audio.Chunk{}, err
		}

		if !s.started {
			if err := s.start(c); err != nil {
				return audio.Chunk{}, err
			}
		} else if err := c.Matches(s.channels, s.inputRate); err != nil {
			return audio.Chunk{}, err
		}

		if s.resampler == nil {
			return c, nil
		}

		out, err := s.convert(c.Samples)
		if err != nil {
			return audio.Chunk{}, err
		}
		if len(out) == 0 {
			// The filter is still filling up.
			continue
		}
		return audio.Chunk{Samples: out, Channels: s.channels, SampleRate: s.target}, nil
	}
}

func (s *Source) start(c audio.Chunk) error {
	s.started = true
	s.channels = c.Channels
	s.inputRate = c.SampleRate
	if c.SampleRate == s.target {
		return nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.SampleRate),
		OutputRate: float64(s.target),
		Channels:   c.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return fmt.Errorf("failed to create resampler: %w", err)
	}
	s.resampler = r
	return nil
}

func (s *Source) convert(samples []int16) ([]int16, error) {
	s.normalized = s.normalized[:0]
	for _, v := range samples {
		s.normalized = append(s.normalized, float64(v)/32768.0)
	}

	output, err := s.resampler.Process(s.normalized)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	// A partial frame cannot be emitted without breaking interleaving.
	output = output[:len(output)-len(output)%s.channels]
	out := make([]int16, len(output))
	for i, v := range output {
		out[i] = int16(max(math.MinInt16, min(math.MaxInt16, math.Round(v*32768.0))))
	}
	return out, nil
}
