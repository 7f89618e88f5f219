// Package oggopus maps an Opus packet stream onto an Ogg logical stream.
package oggopus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	idMagic      = "OpusHead"
	commentMagic = "OpusTags"

	// IDHeaderSize is the size of an identification header with channel
	// mapping family 0.
	IDHeaderSize = 19
	version      = 1
)

var (
	ErrBadMagic  = errors.New("oggopus: unexpected header magic")
	ErrTruncated = errors.New("oggopus: truncated header")
	ErrChannels  = errors.New("oggopus: unsupported channel count")
)

// IDHeader is the identification header, the first packet of the stream.
type IDHeader struct {
	Channels uint8
	// PreSkip is the number of samples to drop from the start of decoded
	// output, the encoder lookahead.
	PreSkip uint16
	// InputSampleRate is informational: the rate of the audio before it was
	// converted for encoding.
	InputSampleRate uint32
	OutputGain      int16
	MappingFamily   uint8
}

func (h IDHeader) MarshalBinary() ([]byte, error) {
	if h.MappingFamily != 0 {
		return nil, fmt.Errorf("oggopus: channel mapping family %d is not supported", h.MappingFamily)
	}
	if h.Channels < 1 || h.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrChannels, h.Channels)
	}

	b := make([]byte, IDHeaderSize)
	copy(b, idMagic)
	b[8] = version
	b[9] = h.Channels
	binary.LittleEndian.PutUint16(b[10:12], h.PreSkip)
	binary.LittleEndian.PutUint32(b[12:16], h.InputSampleRate)
	binary.LittleEndian.PutUint16(b[16:18], uint16(h.OutputGain))
	b[18] = h.MappingFamily
	return b, nil
}

func ParseIDHeader(b []byte) (IDHeader, error) {
	if len(b) < IDHeaderSize {
		return IDHeader{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	if string(b[:8]) != idMagic {
		return IDHeader{}, fmt.Errorf("%w: %q", ErrBadMagic, b[:8])
	}
	if b[8]>>4 != 0 {
		return IDHeader{}, fmt.Errorf("oggopus: unsupported version %d", b[8])
	}
	return IDHeader{
		Channels:        b[9],
		PreSkip:         binary.LittleEndian.Uint16(b[10:12]),
		InputSampleRate: binary.LittleEndian.Uint32(b[12:16]),
		OutputGain:      int16(binary.LittleEndian.Uint16(b[16:18])),
		MappingFamily:   b[18],
	}, nil
}

// CommentHeader is the second packet of the stream. Comments are
// "KEY=value" strings.
type CommentHeader struct {
	Vendor   string
	Comments []string
}

func (h CommentHeader) MarshalBinary() ([]byte, error) {
	size := len(commentMagic) + 4 + len(h.Vendor) + 4
	for _, c := range h.Comments {
		size += 4 + len(c)
	}

	b := make([]byte, 0, size)
	b = append(b, commentMagic...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(h.Vendor)))
	b = append(b, h.Vendor...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(h.Comments)))
	for _, c := range h.Comments {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(c)))
		b = append(b, c...)
	}
	return b, nil
}

func ParseCommentHeader(b []byte) (CommentHeader, error) {
	if len(b) < len(commentMagic) || string(b[:len(commentMagic)]) != commentMagic {
		return CommentHeader{}, ErrBadMagic
	}
	r := b[len(commentMagic):]

	next := func() (string, error) {
		if len(r) < 4 {
			return "", ErrTruncated
		}
		n := binary.LittleEndian.Uint32(r)
		r = r[4:]
		if uint64(n) > uint64(len(r)) {
			return "", ErrTruncated
		}
		s := string(r[:n])
		r = r[n:]
		return s, nil
	}

	var h CommentHeader
	vendor, err := next()
	if err != nil {
		return CommentHeader{}, err
	}
	h.Vendor = vendor

	if len(r) < 4 {
		return CommentHeader{}, ErrTruncated
	}
	count := binary.LittleEndian.Uint32(r)
	r = r[4:]
	for range count {
		c, err := next()
		if err != nil {
			return CommentHeader{}, err
		}
		h.Comments = append(h.Comments, c)
	}
	return h, nil
}
