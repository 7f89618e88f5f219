// Package probe inspects Ogg/Opus files: page layout, headers and the stream
// duration implied by the final granule position.
package probe

import (
	"errors"
	"fmt"
	"io"
	"time"

	jogg "github.com/jonas747/ogg"

	"github.com/glizzus/opusify/internal/ogg"
	"github.com/glizzus/opusify/internal/oggopus"
)

var (
	ErrNotOpus         = errors.New("probe: first packet is not an OpusHead")
	ErrMultipleStreams = errors.New("probe: more than one logical stream")
	ErrMissingTags     = errors.New("probe: stream ended before OpusTags")
)

// PageInfo summarises one page.
type PageInfo struct {
	Sequence uint32
	Granule  uint64
	Flags    byte
	Segments int
	Size     int
	// Finished is the number of packets that end on this page.
	Finished int
}

type Report struct {
	Serial uint32
	Head   oggopus.IDHeader
	Tags   oggopus.CommentHeader
	Pages  []PageInfo
	// Packets counts audio packets, headers excluded.
	Packets int
	Bytes   int64
	// Granule is the granule position of the last page that finished a
	// packet.
	Granule uint64
	// Ended reports whether the last page carried the end of stream flag.
	Ended bool
}

// Duration is the playable length of the stream at 48 kHz, pre-skip removed.
func (r *Report) Duration() time.Duration {
	samples := int64(r.Granule) - int64(r.Head.PreSkip)
	if samples <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / oggopus.OutputSampleRate
}

// Inspect reads every page from r, verifying checksums and page sequence
// numbers, and parses the two Opus header packets.
func Inspect(r io.Reader) (*Report, error) {
	rep := &Report{}
	var (
		partial []byte
		headers [][]byte
		packets int
	)

	for {
		page, err := ogg.ReadPage(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", len(rep.Pages), err)
		}

		if len(rep.Pages) == 0 {
			rep.Serial = page.Serial
		} else if page.Serial != rep.Serial {
			return nil, fmt.Errorf("%w: serials %d and %d", ErrMultipleStreams, rep.Serial, page.Serial)
		}
		if want := uint32(len(rep.Pages)); page.Sequence != want {
			return nil, fmt.Errorf("probe: page sequence %d, expected %d", page.Sequence, want)
		}

		info := PageInfo{
			Sequence: page.Sequence,
			Granule:  page.Granule,
			Flags:    page.Flags,
			Segments: len(page.Lacing),
			Size:     page.Size(),
		}

		offset := 0
		for _, v := range page.Lacing {
			partial = append(partial, page.Payload[offset:offset+int(v)]...)
			offset += int(v)
			if v == ogg.MaxSegmentSize {
				continue
			}
			info.Finished++
			if len(headers) < 2 {
				headers = append(headers, partial)
				partial = nil
				continue
			}
			packets++
			partial = partial[:0]
		}
		if info.Finished > 0 {
			rep.Granule = page.Granule
		}

		rep.Pages = append(rep.Pages, info)
		rep.Bytes += int64(info.Size)
		rep.Ended = page.LastPage()
	}

	if len(headers) == 0 {
		return nil, ErrNotOpus
	}
	head, err := oggopus.ParseIDHeader(headers[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotOpus, err)
	}
	rep.Head = head
	if len(headers) < 2 {
		return nil, ErrMissingTags
	}
	tags, err := oggopus.ParseCommentHeader(headers[1])
	if err != nil {
		return nil, err
	}
	rep.Tags = tags
	rep.Packets = packets
	return rep, nil
}

// CountPackets counts every packet in r, headers included, with an Ogg reader
// independent of this module's own page parser.
func CountPackets(r io.Reader) (int, error) {
	decoder := jogg.NewPacketDecoder(jogg.NewDecoder(r))
	n := 0
	for {
		_, _, err := decoder.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return n, nil
			}
			return n, fmt.Errorf("failed to decode packet %d: %w", n, err)
		}
		n++
	}
}
