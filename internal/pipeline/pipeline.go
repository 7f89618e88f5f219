// Package pipeline wires the transcoding stages together:
//
//	source -> window assembler -> encoder pool -> reorder buffer -> ogg muxer
//
// Stages run in their own goroutines and are joined by bounded channels, so
// memory use does not grow with the input. Each stage closes its output when
// it finishes, which shuts the next stage down. The first fatal error cancels
// every stage and is reported by Stream.Err.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glizzus/opusify/internal/audio"
	"github.com/glizzus/opusify/internal/encode"
	"github.com/glizzus/opusify/internal/metrics"
	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/reorder"
	"github.com/glizzus/opusify/internal/window"
)

const DefaultQueueDepth = 16

// SourceError reports a failure to read from the audio source.
type SourceError struct {
	Err error
}

var _ error = (*SourceError)(nil)

func (e *SourceError) Error() string {
	return fmt.Sprintf("failed to read audio source: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

type Options struct {
	Window  window.Config
	Factory encode.Factory
	// Workers bounds the number of windows encoded at once. Zero means
	// runtime.NumCPU().
	Workers int
	// QueueDepth is the capacity of every channel between stages.
	QueueDepth int
	Mux        oggopus.Options
	Metrics    *metrics.Metrics
}

type Pipeline struct {
	opts Options
}

func New(opts Options) (*Pipeline, error) {
	if opts.Factory == nil {
		return nil, errors.New("pipeline: no encoder factory")
	}
	if opts.Window.SampleRate == 0 {
		opts.Window.SampleRate = oggopus.OutputSampleRate
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	return &Pipeline{opts: opts}, nil
}

// Stats describes a finished stream.
type Stats struct {
	Windows int
	Packets int
	Pages   int
	Bytes   int64
	// Granule is the granule position of the last packet, pre-skip included.
	Granule uint64
	PreSkip int
	Elapsed time.Duration
}

// Stream is a running pipeline. Drain Pages until it is closed, then call Err.
type Stream struct {
	pages chan []byte
	done  chan struct{}

	err   error
	stats Stats
}

// Pages yields every Ogg page in output order. It is closed when the muxer
// stops, on success or failure.
func (s *Stream) Pages() <-chan []byte { return s.pages }

// Err waits for every stage to stop and returns the first fatal error, or
// nil if the stream ended cleanly.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Stats waits for every stage to stop and returns the stream totals.
func (s *Stream) Stats() Stats {
	<-s.done
	return s.stats
}

// Start launches the stages reading from src. Cancelling ctx stops them.
func (p *Pipeline) Start(ctx context.Context, src audio.Source) *Stream {
	depth := p.opts.QueueDepth
	s := &Stream{
		pages: make(chan []byte, depth),
		done:  make(chan struct{}),
	}

	assembler, err := window.NewAssembler(p.opts.Window)
	if err != nil {
		s.err = err
		close(s.pages)
		close(s.done)
		return s
	}

	var windows atomic.Int64
	pool := encode.NewPool(p.opts.Factory, p.opts.Workers, oggopus.OutputSampleRate)
	pool.Observe = func(res encode.Result, elapsed time.Duration) {
		windows.Add(1)
		p.opts.Metrics.ObserveWindow(res.Kind.String(), elapsed)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	chunks := make(chan audio.Chunk, depth)
	requests := make(chan window.Request, depth)
	results := make(chan encode.Result, depth)
	batches := make(chan reorder.Batch, depth)

	sink := &pageSink{ctx: gctx, pages: s.pages, metrics: p.opts.Metrics}
	muxer := oggopus.NewMuxer(sink, p.opts.Mux)

	started := time.Now()
	p.stage(g, "source", func() error { return readSource(gctx, src, chunks) })
	p.stage(g, "window", func() error { return assembler.Run(gctx, chunks, requests) })
	p.stage(g, "encode", func() error { return pool.Run(gctx, requests, results) })
	p.stage(g, "reorder", func() error { return reorder.Run(gctx, results, batches) })
	p.stage(g, "mux", func() error {
		defer close(s.pages)
		return muxer.Run(gctx, batches)
	})

	go func() {
		defer close(s.done)
		defer cancel()

		s.err = g.Wait()
		s.stats = Stats{
			Windows: int(windows.Load()),
			Packets: muxer.Packets(),
			Pages:   muxer.Pages(),
			Bytes:   muxer.BytesWritten(),
			Granule: muxer.Granule(),
			PreSkip: muxer.PreSkip(),
			Elapsed: time.Since(started),
		}
	}()
	return s
}

// stage runs fn in g. Errors after the first are logged here, since the
// group only keeps the first.
func (p *Pipeline) stage(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() error {
		err := fn()
		if err != nil && !errors.Is(err, context.Canceled) {
			p.opts.Metrics.ObserveStageError(name)
			slog.Error("pipeline stage failed", slog.String("stage", name), slog.Any("error", err))
		}
		return err
	})
}

// readSource pulls chunks until the source is exhausted. chunks is closed
// only on a clean end, so a failed read never looks like a short input.
func readSource(ctx context.Context, src audio.Source, chunks chan<- audio.Chunk) error {
	for {
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			close(chunks)
			return nil
		}
		if err != nil {
			return &SourceError{Err: err}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunks <- c:
		}
	}
}

// pageSink hands each page written by the muxer to the stream consumer.
type pageSink struct {
	ctx     context.Context
	pages   chan<- []byte
	metrics *metrics.Metrics
}

func (w *pageSink) Write(p []byte) (int, error) {
	page := make([]byte, len(p))
	copy(page, p)
	select {
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	case w.pages <- page:
	}
	w.metrics.ObservePage(len(page))
	return len(p), nil
}

// Transcode runs the pipeline to completion, writing every page to w.
func (p *Pipeline) Transcode(ctx context.Context, src audio.Source, w io.Writer) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := p.Start(ctx, src)
	var writeErr error
	for page := range stream.Pages() {
		if writeErr != nil {
			continue
		}
		if _, err := w.Write(page); err != nil {
			writeErr = &oggopus.MuxWriteError{Err: err}
			cancel()
		}
	}
	err := stream.Err()
	if writeErr != nil {
		err = writeErr
	}
	return stream.Stats(), err
}
