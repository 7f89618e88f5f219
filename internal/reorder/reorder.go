// Package reorder restores window order after parallel encoding.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glizzus/opusify/internal/encode"
)

var (
	// ErrSequenceGap means the input ended while a window was still missing.
	ErrSequenceGap = errors.New("reorder: missing window sequence")
	// ErrDuplicateSequence means a window arrived twice.
	ErrDuplicateSequence = errors.New("reorder: duplicate window sequence")
	// ErrAfterEnd means a window arrived after the final window was released.
	ErrAfterEnd = errors.New("reorder: window after end of stream")
)

// Buffer holds results until every earlier sequence number has been released.
type Buffer struct {
	pending map[uint64]encode.Result
	next    uint64
	ended   bool
}

func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[uint64]encode.Result)}
}

// Insert adds r and returns the results that are now releasable, in order.
func (b *Buffer) Insert(r encode.Result) ([]encode.Result, error) {
	if b.ended {
		return nil, fmt.Errorf("%w: window %d", ErrAfterEnd, r.Sequence)
	}
	if _, ok := b.pending[r.Sequence]; ok || r.Sequence < b.next {
		return nil, fmt.Errorf("%w: window %d", ErrDuplicateSequence, r.Sequence)
	}
	b.pending[r.Sequence] = r

	var released []encode.Result
	for {
		next, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		b.next++
		released = append(released, next)
		if next.Kind.IsEnd() {
			b.ended = true
			break
		}
	}

	if b.ended && len(b.pending) > 0 {
		return released, fmt.Errorf("%w: %d windows beyond window %d", ErrAfterEnd, len(b.pending), b.next-1)
	}
	return released, nil
}

// Finish checks that the stream was complete: the final window was released
// and nothing is left waiting.
func (b *Buffer) Finish() error {
	if len(b.pending) > 0 {
		return fmt.Errorf("%w: waiting for window %d with %d later windows held", ErrSequenceGap, b.next, len(b.pending))
	}
	if !b.ended {
		return fmt.Errorf("%w: input ended before the final window, next expected %d", ErrSequenceGap, b.next)
	}
	return nil
}

// Pending returns the number of results waiting for an earlier one.
func (b *Buffer) Pending() int { return len(b.pending) }

// Batch is one result released in order. EndOfStream is set on the final
// window.
type Batch struct {
	Result      encode.Result
	EndOfStream bool
}

// Run forwards results from in to out in sequence order. out is closed only
// when Run returns nil. Once in is closed Run reports any window that never
// arrived.
func Run(ctx context.Context, in <-chan encode.Result, out chan<- Batch) (err error) {
	defer func() {
		if err == nil {
			close(out)
		}
	}()

	buf := NewBuffer()
	for {
		var (
			res encode.Result
			ok  bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok = <-in:
		}
		if !ok {
			break
		}

		released, err := buf.Insert(res)
		for _, r := range released {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- Batch{Result: r, EndOfStream: r.Kind.IsEnd()}:
			}
		}
		if err != nil {
			return err
		}
		if n := buf.Pending(); n > 0 {
			slog.Debug("holding out of order windows", slog.Int("pending", n))
		}
	}
	return buf.Finish()
}
