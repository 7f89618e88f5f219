// Package encode turns windows into Opus packets on a bounded pool of
// workers, each job owning a freshly created encoder.
package encode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glizzus/opusify/internal/window"
)

// Encoder compresses one frame at a time. Encode must return a slice the
// caller may keep.
type Encoder interface {
	Encode(pcm []int16, frameSize int) ([]byte, error)
	// Lookahead is the number of samples of delay the encoder adds.
	Lookahead() int
	Close() error
}

// Factory creates an encoder for the given layout.
type Factory func(channels, sampleRate int) (Encoder, error)

type Packet struct {
	Data      []byte
	FrameSize int
}

// Result holds the packets one window contributes to the output, in
// encoding order.
type Result struct {
	Sequence  uint64
	Kind      window.Kind
	Channels  int
	Lookahead int
	Packets   []Packet
}

// Samples returns the number of samples per channel the packets decode to.
func (r Result) Samples() int {
	n := 0
	for _, p := range r.Packets {
		n += p.FrameSize
	}
	return n
}

// EncodeError reports a window whose encoding failed. Frame is -1 when the
// encoder could not be created.
type EncodeError struct {
	Sequence uint64
	Frame    int
	Err      error
}

var _ error = (*EncodeError)(nil)

func (e *EncodeError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("failed to create encoder for window %d: %v", e.Sequence, e.Err)
	}
	return fmt.Sprintf("failed to encode frame %d of window %d: %v", e.Frame, e.Sequence, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

type Pool struct {
	factory    Factory
	workers    int
	sampleRate int

	// Observe, when set, is called from the worker after each successful
	// window.
	Observe func(res Result, elapsed time.Duration)
}

// NewPool returns a pool running at most workers jobs at once. Encoders are
// created at sampleRate.
func NewPool(factory Factory, workers, sampleRate int) *Pool {
	return &Pool{
		factory:    factory,
		workers:    max(workers, 1),
		sampleRate: sampleRate,
	}
}

// Run encodes every request received from in and sends one Result per
// request to out, in completion order. out is closed only when Run returns nil.
//
// The first failed job cancels the others and is returned; results of
// unfinished jobs are dropped.
func (p *Pool) Run(ctx context.Context, in <-chan window.Request, out chan<- Result) (err error) {
	defer func() {
		if err == nil {
			close(out)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case req, ok := <-in:
			if !ok {
				break loop
			}
			g.Go(func() error {
				start := time.Now()
				res, err := p.Encode(req)
				if err != nil {
					return err
				}
				if p.Observe != nil {
					p.Observe(res, time.Since(start))
				}
				select {
				case out <- res:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Encode runs one window through a new encoder. Right padding frames of a
// window that is not the last are never encoded; left padding frames of a
// window that is not the first are encoded only to prime the encoder.
func (p *Pool) Encode(req window.Request) (Result, error) {
	enc, err := p.factory(req.Channels, p.sampleRate)
	if err != nil {
		return Result{}, &EncodeError{Sequence: req.Sequence, Frame: -1, Err: err}
	}
	defer func() {
		if err := enc.Close(); err != nil {
			slog.Warn("failed to close encoder", slog.Uint64("sequence", req.Sequence), slog.Any("error", err))
		}
	}()

	res := Result{
		Sequence:  req.Sequence,
		Kind:      req.Kind,
		Channels:  req.Channels,
		Lookahead: enc.Lookahead(),
		Packets:   make([]Packet, 0, req.Frames()),
	}

	kept := req.LeftPaddingFrames + req.MiddleFrames
	for i := range req.Frames() {
		if i >= kept && !req.Kind.IsEnd() {
			break
		}
		data, err := enc.Encode(req.Frame(i), req.FrameSize)
		if err != nil {
			return Result{}, &EncodeError{Sequence: req.Sequence, Frame: i, Err: err}
		}
		if i < req.LeftPaddingFrames && !req.Kind.IsFirst() {
			continue
		}
		res.Packets = append(res.Packets, Packet{Data: data, FrameSize: req.FrameSize})
	}

	slog.Debug("encoded window",
		slog.Uint64("sequence", req.Sequence),
		slog.String("kind", req.Kind.String()),
		slog.Int("packets", len(res.Packets)),
	)
	return res, nil
}
