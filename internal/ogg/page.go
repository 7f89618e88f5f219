package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the fixed part of a page header.
	HeaderSize = 27
	// MaxSegments is the maximum number of lacing values in one page.
	MaxSegments = 255
	// MaxSegmentSize is the largest lacing value. A lacing value below it
	// terminates the packet.
	MaxSegmentSize = 255

	capturePattern = "OggS"
	checksumOffset = 22
)

// Header type flags.
const (
	FlagContinued byte = 0x01
	FlagFirstPage byte = 0x02
	FlagLastPage  byte = 0x04
)

// NoGranule is written as the granule position of a page on which no packet
// finishes.
const NoGranule = ^uint64(0)

var (
	ErrCapturePattern = errors.New("ogg: missing capture pattern")
	ErrVersion        = errors.New("ogg: unsupported stream structure version")
	ErrChecksum       = errors.New("ogg: page checksum mismatch")
)

// Page is a single decoded Ogg page.
type Page struct {
	Flags    byte
	Granule  uint64
	Serial   uint32
	Sequence uint32
	Checksum uint32
	Lacing   []byte
	Payload  []byte
}

func (p *Page) Continued() bool { return p.Flags&FlagContinued != 0 }
func (p *Page) FirstPage() bool { return p.Flags&FlagFirstPage != 0 }
func (p *Page) LastPage() bool  { return p.Flags&FlagLastPage != 0 }

// Size returns the encoded size of the page in bytes.
func (p *Page) Size() int {
	return HeaderSize + len(p.Lacing) + len(p.Payload)
}

// PacketLengths returns the lengths of the packet pieces on the page. When the
// last lacing value is 255 the final piece continues on the next page and
// complete is false.
func (p *Page) PacketLengths() (lengths []int, complete bool) {
	n := 0
	complete = true
	for _, v := range p.Lacing {
		n += int(v)
		complete = v < MaxSegmentSize
		if complete {
			lengths = append(lengths, n)
			n = 0
		}
	}
	if !complete {
		lengths = append(lengths, n)
	}
	return lengths, complete
}

// LacingValues returns the segment table entries for a packet of length n:
// n/255 values of 255 followed by one terminating value of n%255.
func LacingValues(n int) []byte {
	values := bytes.Repeat([]byte{MaxSegmentSize}, n/MaxSegmentSize)
	return append(values, byte(n%MaxSegmentSize))
}

// putHeader writes the fixed header into b with a zero checksum.
func putHeader(b []byte, flags byte, granule uint64, serial, sequence uint32, segments int) {
	copy(b, capturePattern)
	b[4] = 0
	b[5] = flags
	binary.LittleEndian.PutUint64(b[6:14], granule)
	binary.LittleEndian.PutUint32(b[14:18], serial)
	binary.LittleEndian.PutUint32(b[18:22], sequence)
	binary.LittleEndian.PutUint32(b[checksumOffset:checksumOffset+4], 0)
	b[26] = byte(segments)
}

// Bytes encodes the page, computing a fresh checksum. The Checksum field is
// ignored and updated.
func (p *Page) Bytes() []byte {
	b := make([]byte, p.Size())
	putHeader(b, p.Flags, p.Granule, p.Serial, p.Sequence, len(p.Lacing))
	copy(b[HeaderSize:], p.Lacing)
	copy(b[HeaderSize+len(p.Lacing):], p.Payload)
	p.Checksum = Checksum(b)
	binary.LittleEndian.PutUint32(b[checksumOffset:], p.Checksum)
	return b
}

// ReadPage reads and verifies the next page from r. It returns io.EOF when r
// is exhausted exactly on a page boundary.
func ReadPage(r io.Reader) (*Page, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if string(header[:4]) != capturePattern {
		return nil, ErrCapturePattern
	}
	if header[4] != 0 {
		return nil, fmt.Errorf("%w: %d", ErrVersion, header[4])
	}

	p := &Page{
		Flags:    header[5],
		Granule:  binary.LittleEndian.Uint64(header[6:14]),
		Serial:   binary.LittleEndian.Uint32(header[14:18]),
		Sequence: binary.LittleEndian.Uint32(header[18:22]),
		Checksum: binary.LittleEndian.Uint32(header[22:26]),
		Lacing:   make([]byte, header[26]),
	}
	if _, err := io.ReadFull(r, p.Lacing); err != nil {
		return nil, unexpected(err)
	}

	size := 0
	for _, v := range p.Lacing {
		size += int(v)
	}
	p.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, p.Payload); err != nil {
		return nil, unexpected(err)
	}

	binary.LittleEndian.PutUint32(header[checksumOffset:], 0)
	crc := crcUpdate(0, header[:])
	crc = crcUpdate(crc, p.Lacing)
	crc = crcUpdate(crc, p.Payload)
	if crc != p.Checksum {
		return nil, fmt.Errorf("%w: page %d has %08x, computed %08x", ErrChecksum, p.Sequence, p.Checksum, crc)
	}
	return p, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
