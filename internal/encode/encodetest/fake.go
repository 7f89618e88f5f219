// Package encodetest provides an in-memory encoder for exercising the
// encoding pipeline without libopus.
package encodetest

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glizzus/opusify/internal/encode"
)

var ErrInjected = errors.New("encodetest: injected failure")

// Fake records every encoder it creates. Each packet is the first sample of
// the frame as little-endian int16 followed by the frame size as uint16, so
// tests can tell which frames reached the output.
type Fake struct {
	LookaheadSamples int
	// FailOnSample makes Encode fail for any frame starting with this value.
	FailOnSample *int16
	// Delay is slept before every Encode, to shuffle completion order.
	Delay func(firstSample int16) time.Duration

	created atomic.Int64
	closed  atomic.Int64
	active  atomic.Int64

	mu        sync.Mutex
	maxActive int64
}

func (f *Fake) Factory() encode.Factory {
	return func(channels, sampleRate int) (encode.Encoder, error) {
		f.created.Add(1)
		n := f.active.Add(1)
		f.mu.Lock()
		f.maxActive = max(f.maxActive, n)
		f.mu.Unlock()
		return &fakeEncoder{fake: f}, nil
	}
}

// Created returns how many encoders have been created.
func (f *Fake) Created() int64 { return f.created.Load() }

// Closed returns how many encoders have been closed.
func (f *Fake) Closed() int64 { return f.closed.Load() }

// MaxActive returns the largest number of encoders open at the same time.
func (f *Fake) MaxActive() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type fakeEncoder struct {
	fake   *Fake
	closed bool
}

func (e *fakeEncoder) Encode(pcm []int16, frameSize int) ([]byte, error) {
	if e.closed {
		return nil, errors.New("encodetest: encode after close")
	}
	first := int16(0)
	if len(pcm) > 0 {
		first = pcm[0]
	}
	if e.fake.Delay != nil {
		time.Sleep(e.fake.Delay(first))
	}
	if e.fake.FailOnSample != nil && first == *e.fake.FailOnSample {
		return nil, ErrInjected
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint16(out, uint16(first))
	binary.LittleEndian.PutUint16(out[2:], uint16(frameSize))
	return out, nil
}

func (e *fakeEncoder) Lookahead() int { return e.fake.LookaheadSamples }

func (e *fakeEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.fake.closed.Add(1)
	e.fake.active.Add(-1)
	return nil
}

// FirstSample decodes the first sample recorded in a packet made by Fake.
func FirstSample(packet []byte) int16 {
	return int16(binary.LittleEndian.Uint16(packet))
}
