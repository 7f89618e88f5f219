package audio_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/glizzus/opusify/internal/audio"
)

func drain(t *testing.T, src audio.Source) []int16 {
	t.Helper()
	var all []int16
	for {
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			return all
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		all = append(all, c.Samples...)
	}
}

func TestRawSource(t *testing.T) {
	tc := []struct {
		name  string
		input []byte
		want  []int16
	}{
		{
			name:  "whole frames",
			input: []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0xff, 0x7f},
			want:  []int16{1, -1, -32768, 32767},
		},
		{
			name:  "trailing partial frame dropped",
			input: []byte{0x02, 0x00, 0x03, 0x00, 0x04},
			want:  []int16{2, 3},
		},
		{
			name:  "empty",
			input: nil,
			want:  nil,
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			src, err := audio.NewRawSource(bytes.NewReader(test.input), 2, 48000, 1)
			if err != nil {
				t.Fatalf("NewRawSource returned error: %v", err)
			}
			if diff := cmp.Diff(test.want, drain(t, src)); diff != "" {
				t.Errorf("samples mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRawSourceChunking(t *testing.T) {
	input := make([]byte, 2*2*5)
	src, err := audio.NewRawSource(bytes.NewReader(input), 2, 48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	var frames []int
	for {
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, c.Frames())
	}
	if diff := cmp.Diff([]int{2, 2, 1}, frames); diff != "" {
		t.Errorf("chunk frames mismatch (-want +got):\n%s", diff)
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestRawSourceReadError(t *testing.T) {
	src, err := audio.NewRawSource(brokenReader{}, 1, 48000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected a read error, got %v", err)
	}
}

func TestNewRawSourceRejectsLayout(t *testing.T) {
	if _, err := audio.NewRawSource(bytes.NewReader(nil), 0, 48000, 0); !errors.Is(err, audio.ErrInvalidChunk) {
		t.Errorf("expected ErrInvalidChunk, got %v", err)
	}
}
