package audio_test

import (
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/glizzus/opusify/internal/audio"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

func TestFFmpegSourceDecodesSine(t *testing.T) {
	requireFFmpeg(t)

	src, err := audio.NewFFmpegSource(t.Context(), audio.FFmpegOptions{
		InputFormat: "lavfi",
		Input:       "sine=frequency=440:sample_rate=48000:duration=0.5",
		Channels:    2,
		SampleRate:  48000,
	})
	if err != nil {
		t.Fatalf("NewFFmpegSource returned error: %v", err)
	}
	defer src.Close()

	samples := drain(t, src)
	if len(samples) != 2*24000 {
		t.Errorf("expected %d samples, got %d", 2*24000, len(samples))
	}
}

func TestFFmpegSourceReportsExitStatus(t *testing.T) {
	requireFFmpeg(t)

	src, err := audio.NewFFmpegSource(t.Context(), audio.FFmpegOptions{
		Input:      filepath.Join(t.TempDir(), "missing.mp3"),
		Channels:   1,
		SampleRate: 48000,
	})
	if err != nil {
		t.Fatalf("NewFFmpegSource returned error: %v", err)
	}
	defer src.Close()

	for {
		_, err := src.Next()
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			t.Fatal("expected ffmpeg failure, got clean EOF")
		}
		return
	}
}
