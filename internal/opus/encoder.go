package opus

import (
	"errors"
	"fmt"
	"strings"

	libopus "gopkg.in/hraban/opus.v2"

	"github.com/glizzus/opusify/internal/encode"
)

// MaxPacketSize is the largest packet libopus is asked to produce.
const MaxPacketSize = 4000

var (
	ErrClosed      = errors.New("opus: encoder closed")
	ErrFrameSize   = errors.New("opus: invalid frame size")
	ErrApplication = errors.New("opus: unknown application")
)

// Application selects the libopus tuning.
type Application int

const (
	Audio Application = iota
	VoIP
	LowDelay
)

func (a Application) String() string {
	switch a {
	case Audio:
		return "audio"
	case VoIP:
		return "voip"
	case LowDelay:
		return "lowdelay"
	}
	return fmt.Sprintf("Application(%d)", int(a))
}

func ParseApplication(s string) (Application, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "audio":
		return Audio, nil
	case "voip":
		return VoIP, nil
	case "lowdelay", "restricted-lowdelay":
		return LowDelay, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrApplication, s)
}

func (a Application) native() libopus.Application {
	switch a {
	case VoIP:
		return libopus.AppVoIP
	case LowDelay:
		return libopus.AppRestrictedLowdelay
	}
	return libopus.AppAudio
}

type Options struct {
	Application Application
	// Bitrate in bits per second. Zero leaves the libopus default.
	Bitrate int
	// Complexity from 1 to 10. Zero leaves the libopus default.
	Complexity int
}

// Encoder is a single-owner libopus encoder.
type Encoder struct {
	enc        *libopus.Encoder
	channels   int
	sampleRate int
	lookahead  int
	buf        []byte
}

var _ encode.Encoder = (*Encoder)(nil)

func NewEncoder(sampleRate, channels int, opts Options) (*Encoder, error) {
	enc, err := libopus.NewEncoder(sampleRate, channels, opts.Application.native())
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if opts.Bitrate > 0 {
		if err := enc.SetBitrate(opts.Bitrate); err != nil {
			return nil, fmt.Errorf("failed to set bitrate %d: %w", opts.Bitrate, err)
		}
	}
	if opts.Complexity > 0 {
		if err := enc.SetComplexity(opts.Complexity); err != nil {
			return nil, fmt.Errorf("failed to set complexity %d: %w", opts.Complexity, err)
		}
	}

	return &Encoder{
		enc:        enc,
		channels:   channels,
		sampleRate: sampleRate,
		lookahead:  Lookahead(sampleRate, opts.Application),
		buf:        make([]byte, MaxPacketSize),
	}, nil
}

// Encode compresses one frame of interleaved samples. The returned packet is
// a fresh slice.
func (e *Encoder) Encode(pcm []int16, frameSize int) ([]byte, error) {
	if e.enc == nil {
		return nil, ErrClosed
	}
	if !ValidFrameSize(e.sampleRate, frameSize) {
		return nil, fmt.Errorf("%w: %d samples at %d Hz", ErrFrameSize, frameSize, e.sampleRate)
	}
	if len(pcm) != frameSize*e.channels {
		return nil, fmt.Errorf("%w: got %d samples, expected %d", ErrFrameSize, len(pcm), frameSize*e.channels)
	}

	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	packet := make([]byte, n)
	copy(packet, e.buf[:n])
	return packet, nil
}

func (e *Encoder) Lookahead() int { return e.lookahead }

// Close releases the native encoder. It is safe to call more than once.
func (e *Encoder) Close() error {
	e.enc = nil
	e.buf = nil
	return nil
}

// Lookahead returns the samples of delay libopus adds at sampleRate: 2.5 ms
// of analysis delay plus, outside restricted low delay mode, 4 ms of delay
// compensation.
func Lookahead(sampleRate int, app Application) int {
	if app == LowDelay {
		return sampleRate / 400
	}
	return sampleRate/400 + sampleRate/250
}

// ValidFrameSize reports whether frameSize samples per channel is one of the
// Opus frame durations (2.5, 5, 10, 20, 40 or 60 ms) at sampleRate.
func ValidFrameSize(sampleRate, frameSize int) bool {
	if sampleRate <= 0 || frameSize <= 0 {
		return false
	}
	// Durations in units of 2.5 ms.
	for _, units := range []int{1, 2, 4, 8, 16, 24} {
		if frameSize*400 == sampleRate*units {
			return true
		}
	}
	return false
}

// Factory returns an encode.Factory creating encoders with opts.
func Factory(opts Options) encode.Factory {
	return func(channels, sampleRate int) (encode.Encoder, error) {
		return NewEncoder(sampleRate, channels, opts)
	}
}
