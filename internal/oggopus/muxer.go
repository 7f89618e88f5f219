package oggopus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/glizzus/opusify/internal/ogg"
	"github.com/glizzus/opusify/internal/reorder"
)

const (
	// DefaultSerial is the serial number of every stream the muxer writes.
	DefaultSerial uint32 = 12345
	// OutputSampleRate is the rate Opus granule positions count in.
	OutputSampleRate = 48000
)

// ErrIncomplete is returned when the input ends before the final window.
var ErrIncomplete = errors.New("oggopus: stream ended without an end of stream batch")

// MuxWriteError reports a failure of the destination writer.
type MuxWriteError struct {
	Err error
}

var _ error = (*MuxWriteError)(nil)

func (e *MuxWriteError) Error() string {
	return fmt.Sprintf("failed to write ogg page: %v", e.Err)
}

func (e *MuxWriteError) Unwrap() error {
	return e.Err
}

type Options struct {
	Serial uint32
	Vendor string
	// Comments are written to the comment header, "KEY=value" each.
	Comments []string
	// InputSampleRate is recorded in the identification header. Zero means
	// OutputSampleRate.
	InputSampleRate int
}

// Muxer writes the two header packets followed by the audio packets of each
// batch. Headers are written when the first batch arrives, since the channel
// count and pre-skip come from the encoder.
type Muxer struct {
	pw   *ogg.PacketWriter
	opts Options

	started bool
	ended   bool
	preSkip int
	granule uint64
	packets int
}

func NewMuxer(w io.Writer, opts Options) *Muxer {
	if opts.InputSampleRate <= 0 {
		opts.InputSampleRate = OutputSampleRate
	}
	return &Muxer{pw: ogg.NewPacketWriter(w), opts: opts}
}

// WriteBatch writes the packets of one in-order batch. The last packet of an
// end of stream batch finishes the Ogg stream.
func (m *Muxer) WriteBatch(b reorder.Batch) error {
	if m.ended {
		return fmt.Errorf("%w: serial %d", ogg.ErrStreamEnded, m.opts.Serial)
	}
	if b.EndOfStream && len(b.Result.Packets) == 0 {
		return fmt.Errorf("oggopus: final window %d carried no packets", b.Result.Sequence)
	}
	if !m.started {
		if err := m.writeHeaders(b.Result.Channels, b.Result.Lookahead); err != nil {
			return err
		}
	}

	last := len(b.Result.Packets) - 1
	for i, p := range b.Result.Packets {
		m.granule += uint64(p.FrameSize)
		end := ogg.NormalPacket
		if b.EndOfStream && i == last {
			end = ogg.EndStream
		}
		if err := m.put(p.Data, end, m.granule); err != nil {
			return err
		}
		m.packets++
	}
	if b.EndOfStream {
		m.ended = true
	}
	return nil
}

func (m *Muxer) writeHeaders(channels, lookahead int) error {
	if lookahead < 0 || lookahead > 0xffff {
		return fmt.Errorf("oggopus: pre-skip %d out of range", lookahead)
	}
	id, err := IDHeader{
		Channels:        uint8(channels),
		PreSkip:         uint16(lookahead),
		InputSampleRate: uint32(m.opts.InputSampleRate),
	}.MarshalBinary()
	if err != nil {
		return err
	}
	tags, err := CommentHeader{Vendor: m.opts.Vendor, Comments: m.opts.Comments}.MarshalBinary()
	if err != nil {
		return err
	}

	m.started = true
	m.preSkip = lookahead
	m.granule = uint64(lookahead)
	if err := m.put(id, ogg.EndPage, 0); err != nil {
		return err
	}
	return m.put(tags, ogg.EndPage, 0)
}

func (m *Muxer) put(data []byte, end ogg.EndInfo, granule uint64) error {
	if err := m.pw.WritePacket(data, m.opts.Serial, end, granule); err != nil {
		if errors.Is(err, ogg.ErrStreamEnded) {
			return err
		}
		return &MuxWriteError{Err: err}
	}
	return nil
}

// Run writes every batch from in. It returns ErrIncomplete if in closes
// before an end of stream batch.
func (m *Muxer) Run(ctx context.Context, in <-chan reorder.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				if !m.ended {
					return ErrIncomplete
				}
				slog.Debug("muxer finished",
					slog.Int("packets", m.packets),
					slog.Int("pages", m.pw.Pages()),
					slog.Uint64("granule", m.granule),
				)
				return nil
			}
			if err := m.WriteBatch(b); err != nil {
				return err
			}
		}
	}
}

// Granule returns the granule position of the last packet written.
func (m *Muxer) Granule() uint64 { return m.granule }

// PreSkip returns the pre-skip written to the identification header.
func (m *Muxer) PreSkip() int { return m.preSkip }

// Packets returns the number of audio packets written.
func (m *Muxer) Packets() int { return m.packets }

// Pages returns the number of pages written, headers included.
func (m *Muxer) Pages() int { return m.pw.Pages() }

// BytesWritten returns the number of bytes written, headers included.
func (m *Muxer) BytesWritten() int64 { return m.pw.BytesWritten() }
