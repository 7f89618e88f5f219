package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glizzus/opusify/internal/audio"
	"github.com/glizzus/opusify/internal/datalayer"
	"github.com/glizzus/opusify/internal/metrics"
	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/pipeline"
	"github.com/glizzus/opusify/internal/repository"
	"github.com/glizzus/opusify/internal/resample"
)

// OggContentType is stored with every output object.
const OggContentType = "audio/ogg"

// SourceOpener decodes a stored source into PCM. If the returned source is
// also an io.Closer it is closed when the job ends.
type SourceOpener func(ctx context.Context, r io.Reader) (audio.Source, error)

// FFmpegOpener decodes any format ffmpeg understands straight to the Opus
// rate.
func FFmpegOpener(binary string, channels int) SourceOpener {
	return func(ctx context.Context, r io.Reader) (audio.Source, error) {
		return audio.NewFFmpegSource(ctx, audio.FFmpegOptions{
			Binary:     binary,
			Stdin:      r,
			Channels:   channels,
			SampleRate: oggopus.OutputSampleRate,
		})
	}
}

// RawOpener reads headerless s16le PCM, resampling when sampleRate is not the
// Opus rate.
func RawOpener(channels, sampleRate int) SourceOpener {
	return func(ctx context.Context, r io.Reader) (audio.Source, error) {
		raw, err := audio.NewRawSource(r, channels, sampleRate, audio.DefaultChunkFrames)
		if err != nil {
			return nil, err
		}
		return resample.New(raw, oggopus.OutputSampleRate), nil
	}
}

// Processor runs one transcode job: it reads the source object, encodes it
// and streams the Ogg/Opus result into the output object while recording the
// job's progress.
type Processor struct {
	Jobs     repository.TranscodeJobRepository
	Storage  datalayer.BlobStorage
	Pipeline *pipeline.Pipeline
	Open     SourceOpener
	Metrics  *metrics.Metrics
}

// Process claims the job and runs it. A job that cannot be claimed is left
// untouched. Any later failure is recorded on the job and returned.
func (p *Processor) Process(ctx context.Context, req TranscodeRequest) error {
	log := slog.With(slog.String("jobID", req.JobID))
	if err := p.Jobs.MarkProcessing(ctx, req.JobID); err != nil {
		return fmt.Errorf("failed to claim job %s: %w", req.JobID, err)
	}

	started := time.Now()
	log.Info("transcoding", slog.String("source", req.SourceKey), slog.String("output", req.OutputKey))
	result, err := p.transcode(ctx, req)

	// The outcome is recorded even when ctx was cancelled mid-job.
	recordCtx := context.WithoutCancel(ctx)
	status := repository.StatusCompleted
	if err != nil {
		status = repository.StatusFailed
		if ferr := p.Jobs.MarkFailed(recordCtx, req.JobID, err.Error()); ferr != nil {
			err = errors.Join(err, ferr)
		}
	} else if cerr := p.Jobs.MarkCompleted(recordCtx, req.JobID, result); cerr != nil {
		status = repository.StatusFailed
		err = cerr
	}

	elapsed := time.Since(started)
	p.Metrics.ObserveJob(string(status), elapsed)
	if err != nil {
		log.Error("transcode failed", slog.Duration("elapsed", elapsed), slog.Any("error", err))
		return err
	}
	log.Info("transcode completed",
		slog.Duration("elapsed", elapsed),
		slog.Duration("audio", result.Duration),
		slog.Int("windows", result.Windows),
		slog.Int64("bytes", result.Bytes),
	)
	return nil
}

func (p *Processor) transcode(ctx context.Context, req TranscodeRequest) (repository.JobResult, error) {
	obj, err := p.Storage.Get(ctx, req.SourceKey)
	if err != nil {
		return repository.JobResult{}, err
	}
	defer obj.Close()

	src, err := p.Open(ctx, obj)
	if err != nil {
		return repository.JobResult{}, fmt.Errorf("failed to open source: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	var stats pipeline.Stats
	g.Go(func() error {
		var err error
		stats, err = p.Pipeline.Transcode(gctx, src, pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := p.Storage.Put(gctx, req.OutputKey, pr, datalayer.PutOptions{Size: -1, ContentType: OggContentType})
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return repository.JobResult{}, err
	}

	return repository.JobResult{
		Windows:  stats.Windows,
		Packets:  stats.Packets,
		Bytes:    stats.Bytes,
		Duration: playable(stats),
	}, nil
}

func playable(s pipeline.Stats) time.Duration {
	samples := int64(s.Granule) - int64(s.PreSkip)
	if samples <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / oggopus.OutputSampleRate
}
