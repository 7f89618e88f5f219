package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// EndInfo tells WritePacket whether the packet closes a page or the stream.
type EndInfo int

const (
	// NormalPacket leaves the page open for further packets.
	NormalPacket EndInfo = iota
	// EndPage forces the page holding the end of this packet to be flushed.
	EndPage
	// EndStream flushes the page and marks it as the last page of the stream.
	EndStream
)

func (e EndInfo) String() string {
	switch e {
	case NormalPacket:
		return "NormalPacket"
	case EndPage:
		return "EndPage"
	case EndStream:
		return "EndStream"
	}
	return fmt.Sprintf("EndInfo(%d)", int(e))
}

// ErrStreamEnded is returned when a packet is written to a serial whose
// end-of-stream page has already been flushed.
var ErrStreamEnded = errors.New("ogg: logical stream already ended")

// PacketWriter segments packets into pages and writes each finished page to
// the underlying writer with a single Write call.
//
// A PacketWriter is not safe for concurrent use.
type PacketWriter struct {
	w       io.Writer
	streams map[uint32]*logicalStream
	retired map[uint32]struct{}

	pages int
	bytes int64
}

type pendingPacket struct {
	data    []byte
	granule uint64
}

// logicalStream holds the page being filled for one serial number.
type logicalStream struct {
	firstPage bool
	sequence  uint32

	lacing   [MaxSegments]byte
	segments int
	packets  []pendingPacket

	// thisOverflow is the offset in the last pending packet where this page's
	// data stops, or -1 when the packet ends on this page.
	thisOverflow int
	// lastOverflow is the offset in the first pending packet where this page's
	// data starts, or -1 when the packet starts on this page.
	lastOverflow int
}

func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{
		w:       w,
		streams: make(map[uint32]*logicalStream),
		retired: make(map[uint32]struct{}),
	}
}

// Pages returns the number of pages written so far.
func (pw *PacketWriter) Pages() int { return pw.pages }

// BytesWritten returns the number of bytes handed to the underlying writer.
func (pw *PacketWriter) BytesWritten() int64 { return pw.bytes }

// WritePacket appends a packet to the logical stream identified by serial.
// granule is the granule position at the end of this packet; it is only
// written on the page where the packet finishes.
//
// The writer keeps a reference to data until the page holding its last byte
// has been written, so callers must not modify it afterwards.
func (pw *PacketWriter) WritePacket(data []byte, serial uint32, end EndInfo, granule uint64) error {
	if _, ok := pw.retired[serial]; ok {
		return fmt.Errorf("%w: serial %d", ErrStreamEnded, serial)
	}

	s, ok := pw.streams[serial]
	if !ok {
		s = &logicalStream{firstPage: true, thisOverflow: -1, lastOverflow: -1}
		pw.streams[serial] = s
	}

	s.packets = append(s.packets, pendingPacket{data: data, granule: granule})

	endStream := end == EndStream
	needed := len(data)/MaxSegmentSize + 1
	atPageEnd := false
	for i := range needed {
		atPageEnd = false
		if i+1 < needed {
			s.lacing[s.segments] = MaxSegmentSize
		} else {
			s.lacing[s.segments] = byte(len(data) % MaxSegmentSize)
		}
		s.segments++

		if s.segments < MaxSegments {
			continue
		}
		if i+1 < needed {
			// The packet carries on into the next page.
			s.thisOverflow = (i + 1) * MaxSegmentSize
			if err := pw.flush(serial, s, false); err != nil {
				return err
			}
		} else {
			if err := pw.flush(serial, s, endStream); err != nil {
				return err
			}
		}
		atPageEnd = true
	}

	if end != NormalPacket && !atPageEnd {
		if err := pw.flush(serial, s, endStream); err != nil {
			return err
		}
	}

	if endStream {
		delete(pw.streams, serial)
		pw.retired[serial] = struct{}{}
	}
	return nil
}

// flush writes the page currently held by s and resets it for the next one.
func (pw *PacketWriter) flush(serial uint32, s *logicalStream, lastPage bool) error {
	var flags byte
	if s.lastOverflow >= 0 {
		flags |= FlagContinued
	}
	if s.firstPage {
		flags |= FlagFirstPage
	}
	if lastPage {
		flags |= FlagLastPage
	}

	granule := NoGranule
	last := len(s.packets) - 1
	for i, p := range s.packets {
		if i == last && s.thisOverflow >= 0 {
			break
		}
		granule = p.granule
	}

	size := HeaderSize + s.segments
	for i := range s.packets {
		start, end := s.span(i)
		size += end - start
	}

	page := make([]byte, size)
	putHeader(page, flags, granule, serial, s.sequence, s.segments)
	off := copy(page[HeaderSize:], s.lacing[:s.segments]) + HeaderSize
	for i, p := range s.packets {
		start, end := s.span(i)
		off += copy(page[off:], p.data[start:end])
	}
	binary.LittleEndian.PutUint32(page[checksumOffset:], Checksum(page))

	if _, err := pw.w.Write(page); err != nil {
		return err
	}
	pw.pages++
	pw.bytes += int64(len(page))

	s.firstPage = false
	s.sequence++
	s.segments = 0
	if s.thisOverflow >= 0 {
		carried := s.packets[last]
		clear(s.packets)
		s.packets = append(s.packets[:0], carried)
	} else {
		clear(s.packets)
		s.packets = s.packets[:0]
	}
	s.lastOverflow = s.thisOverflow
	s.thisOverflow = -1
	return nil
}

// span returns the byte range of pending packet i that belongs to the current
// page.
func (s *logicalStream) span(i int) (start, end int) {
	end = len(s.packets[i].data)
	if i == 0 && s.lastOverflow >= 0 {
		start = s.lastOverflow
	}
	if i == len(s.packets)-1 && s.thisOverflow >= 0 {
		end = s.thisOverflow
	}
	return start, end
}
