package window_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/glizzus/opusify/internal/audio"
	"github.com/glizzus/opusify/internal/window"
)

const frameSize = 4

var smallConfig = window.Config{
	LeftPaddingFrames:  1,
	MiddleFrames:       2,
	RightPaddingFrames: 1,
	FrameSize:          frameSize,
}

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i + 1)
	}
	return s
}

func assemble(t *testing.T, cfg window.Config, chunks []audio.Chunk) ([]window.Request, error) {
	t.Helper()
	a, err := window.NewAssembler(cfg)
	if err != nil {
		t.Fatalf("NewAssembler returned error: %v", err)
	}

	in := make(chan audio.Chunk, len(chunks))
	for _, c := range chunks {
		in <- c
	}
	close(in)

	out := make(chan window.Request, 1024)
	runErr := a.Run(t.Context(), in, out)

	var reqs []window.Request
	for len(out) > 0 {
		reqs = append(reqs, <-out)
	}
	select {
	case _, ok := <-out:
		if ok || runErr != nil {
			t.Errorf("out must be closed only after a clean run, run returned %v", runErr)
		}
	default:
		if runErr == nil {
			t.Errorf("expected out to be closed after a clean run")
		}
	}
	return reqs, runErr
}

func kinds(reqs []window.Request) []window.Kind {
	var k []window.Kind
	for _, r := range reqs {
		k = append(k, r.Kind)
	}
	return k
}

func TestAssemblerKinds(t *testing.T) {
	tc := []struct {
		name      string
		frames    int
		chunkSize int
		want      []window.Kind
	}{
		{"exactly one window", 4, 4 * frameSize, []window.Kind{window.FirstAndEnd}},
		{"one window in small chunks", 4, 3, []window.Kind{window.FirstAndEnd}},
		{"short input", 1, frameSize, []window.Kind{window.FirstAndEnd}},
		{"five frames", 5, 5 * frameSize, []window.Kind{window.First, window.End}},
		{"six frames", 6, frameSize, []window.Kind{window.First, window.End}},
		{"eight frames", 8, 8 * frameSize, []window.Kind{window.First, window.Middle, window.End}},
		{"long input", 20, 7, []window.Kind{
			window.First, window.Middle, window.Middle, window.Middle,
			window.Middle, window.Middle, window.Middle, window.Middle, window.End,
		}},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			chunks := audio.Split(ramp(test.frames*frameSize), 1, 48000, test.chunkSize)
			reqs, err := assemble(t, smallConfig, chunks)
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if diff := cmp.Diff(test.want, kinds(reqs)); diff != "" {
				t.Errorf("kinds mismatch (-want +got):\n%s", diff)
			}
			for i, r := range reqs {
				if r.Sequence != uint64(i) {
					t.Errorf("window %d has sequence %d", i, r.Sequence)
				}
				if len(r.Samples) != 4*frameSize {
					t.Errorf("window %d has %d samples, expected %d", i, len(r.Samples), 4*frameSize)
				}
			}
		})
	}
}

func TestAssemblerSingleWindowHoldsInput(t *testing.T) {
	input := ramp(4 * frameSize)
	reqs, err := assemble(t, smallConfig, audio.Split(input, 1, 48000, 4*frameSize))
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 window, got %d", len(reqs))
	}
	if diff := cmp.Diff(input, reqs[0].Samples); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemblerOverlap(t *testing.T) {
	input := ramp(8 * frameSize)
	reqs, err := assemble(t, smallConfig, audio.Split(input, 1, 48000, 8*frameSize))
	if err != nil {
		t.Fatal(err)
	}

	overlap := (smallConfig.LeftPaddingFrames + smallConfig.RightPaddingFrames) * frameSize
	for i := 1; i < len(reqs); i++ {
		prev, next := reqs[i-1].Samples, reqs[i].Samples
		if diff := cmp.Diff(prev[len(prev)-overlap:], next[:overlap]); diff != "" {
			t.Errorf("windows %d and %d do not overlap (-tail +head):\n%s", i-1, i, diff)
		}
	}
}

func TestAssemblerZeroPadsLastWindow(t *testing.T) {
	input := ramp(5 * frameSize)
	reqs, err := assemble(t, smallConfig, audio.Split(input, 1, 48000, 5*frameSize))
	if err != nil {
		t.Fatal(err)
	}
	last := reqs[len(reqs)-1]
	want := append(append([]int16{}, input[2*frameSize:]...), make([]int16, frameSize)...)
	if diff := cmp.Diff(want, last.Samples); diff != "" {
		t.Errorf("last window mismatch (-want +got):\n%s", diff)
	}
}

// emitted returns the samples of the frames an encoder would keep from r.
func emitted(r window.Request) []int16 {
	start := 0
	if !r.Kind.IsFirst() {
		start = r.LeftPaddingFrames
	}
	stop := r.Frames()
	if !r.Kind.IsEnd() {
		stop = r.LeftPaddingFrames + r.MiddleFrames
	}
	n := r.FrameSize * r.Channels
	return r.Samples[start*n : stop*n]
}

func TestAssemblerCoversInputExactlyOnce(t *testing.T) {
	cfg := window.Config{LeftPaddingFrames: 2, MiddleFrames: 3, RightPaddingFrames: 1, FrameSize: 3}
	for _, channels := range []int{1, 2} {
		for length := 1; length < 40; length++ {
			input := ramp(length * cfg.FrameSize * channels)
			reqs, err := assemble(t, cfg, audio.Split(input, channels, 48000, 5))
			if err != nil {
				t.Fatalf("length %d: %v", length, err)
			}

			var got []int16
			for _, r := range reqs {
				got = append(got, emitted(r)...)
			}
			if len(got) < len(input) {
				t.Fatalf("channels %d length %d: covered %d of %d samples", channels, length, len(got), len(input))
			}
			if diff := cmp.Diff(input, got[:len(input)]); diff != "" {
				t.Errorf("channels %d length %d: coverage mismatch (-want +got):\n%s", channels, length, diff)
			}
			for i, v := range got[len(input):] {
				if v != 0 {
					t.Errorf("channels %d length %d: padding sample %d is %d", channels, length, i, v)
					break
				}
			}
		}
	}
}

func TestAssemblerErrors(t *testing.T) {
	tc := []struct {
		name    string
		cfg     window.Config
		chunks  []audio.Chunk
		wantErr error
	}{
		{
			name:    "no chunks",
			cfg:     smallConfig,
			wantErr: audio.ErrNoAudio,
		},
		{
			name:    "only empty chunks",
			cfg:     smallConfig,
			chunks:  []audio.Chunk{{Channels: 1, SampleRate: 48000}},
			wantErr: audio.ErrNoAudio,
		},
		{
			name: "channel change",
			cfg:  smallConfig,
			chunks: []audio.Chunk{
				{Samples: []int16{1}, Channels: 1, SampleRate: 48000},
				{Samples: []int16{1, 2}, Channels: 2, SampleRate: 48000},
			},
			wantErr: audio.ErrChannelMismatch,
		},
		{
			name: "unexpected rate",
			cfg: window.Config{
				LeftPaddingFrames: 1, MiddleFrames: 2, RightPaddingFrames: 1,
				FrameSize: frameSize, SampleRate: 48000,
			},
			chunks:  []audio.Chunk{{Samples: []int16{1}, Channels: 1, SampleRate: 44100}},
			wantErr: audio.ErrSampleRate,
		},
		{
			name:    "malformed chunk",
			cfg:     smallConfig,
			chunks:  []audio.Chunk{{Samples: []int16{1}, Channels: 2, SampleRate: 48000}},
			wantErr: audio.ErrInvalidChunk,
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			_, err := assemble(t, test.cfg, test.chunks)
			if !errors.Is(err, test.wantErr) {
				t.Errorf("expected %v, got %v", test.wantErr, err)
			}
		})
	}
}

func TestAssemblerLeavesOutputOpenOnCancel(t *testing.T) {
	a, err := window.NewAssembler(smallConfig)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	in := make(chan audio.Chunk)
	out := make(chan window.Request)
	if err := a.Run(ctx, in, out); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	select {
	case <-out:
		t.Errorf("a cancelled assembler must not close out")
	default:
	}
}

func TestConfigValidate(t *testing.T) {
	tc := []struct {
		name    string
		cfg     window.Config
		wantErr bool
	}{
		{"defaults", window.Config{LeftPaddingFrames: 8, MiddleFrames: 96, RightPaddingFrames: 8, FrameSize: 480}, false},
		{"no padding", window.Config{MiddleFrames: 1, FrameSize: 480}, false},
		{"no middle", window.Config{LeftPaddingFrames: 8, RightPaddingFrames: 8, FrameSize: 480}, true},
		{"negative padding", window.Config{LeftPaddingFrames: -1, MiddleFrames: 1, FrameSize: 480}, true},
		{"no frame size", window.Config{MiddleFrames: 1}, true},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			_, err := window.NewAssembler(test.cfg)
			if (err != nil) != test.wantErr {
				t.Errorf("expected error=%v, got %v", test.wantErr, err)
			}
			if err != nil && !errors.Is(err, window.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
