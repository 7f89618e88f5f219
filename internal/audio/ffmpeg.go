package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegOptions selects what FFmpeg decodes and the PCM layout it produces.
type FFmpegOptions struct {
	// Binary is the ffmpeg executable, "ffmpeg" when empty.
	Binary string
	// Input is a path or URL understood by ffmpeg. When empty, Stdin is
	// decoded instead.
	Input string
	Stdin io.Reader
	// InputFormat forces the demuxer, e.g. "lavfi" or "s16le".
	InputFormat string

	Channels    int
	SampleRate  int
	ChunkFrames int
}

// FFmpegSource decodes any input FFmpeg understands into PCM. Close must be
// called to reap the process.
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	raw    *RawSource
	stderr bytes.Buffer

	waitOnce sync.Once
	waitErr  error
}

var _ Source = (*FFmpegSource)(nil)

// NewFFmpegSource starts ffmpeg. The process is killed when ctx is done.
func NewFFmpegSource(ctx context.Context, opts FFmpegOptions) (*FFmpegSource, error) {
	binary := opts.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	input := opts.Input
	if input == "" {
		input = "pipe:0"
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if opts.InputFormat != "" {
		args = append(args, "-f", opts.InputFormat)
	}
	args = append(args,
		"-i", input,
		"-vn",
		"-map", "0:a:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(opts.SampleRate),
		"-ac", strconv.Itoa(opts.Channels),
		"pipe:1",
	)
	ffmpeg := exec.CommandContext(ctx, binary, args...)
	if opts.Input == "" {
		ffmpeg.Stdin = opts.Stdin
	}

	s := &FFmpegSource{cmd: ffmpeg}
	ffmpeg.Stderr = &s.stderr

	stdout, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to pipe output of ffmpeg to stdout: %w", err)
	}
	s.stdout = stdout

	raw, err := NewRawSource(stdout, opts.Channels, opts.SampleRate, opts.ChunkFrames)
	if err != nil {
		return nil, err
	}
	s.raw = raw

	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("unable to start ffmpeg process: %w", err)
	}
	return s, nil
}

// Next returns the next chunk of decoded PCM. A non-zero ffmpeg exit status is
// reported in place of io.EOF.
func (s *FFmpegSource) Next() (Chunk, error) {
	c, err := s.raw.Next()
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return Chunk{}, werr
		}
	}
	return c, err
}

// Close kills ffmpeg if it is still running and waits for it to exit.
func (s *FFmpegSource) Close() error {
	if s.cmd.Process != nil {
		// Kill fails harmlessly once the process has exited.
		_ = s.cmd.Process.Kill()
	}
	s.wait()
	return nil
}

func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(s.stderr.String())
			if len(msg) > 512 {
				msg = msg[len(msg)-512:]
			}
			s.waitErr = fmt.Errorf("ffmpeg exited: %w: %s", err, msg)
		}
	})
	return s.waitErr
}
