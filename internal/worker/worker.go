package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/glizzus/opusify/internal/metrics"
	"github.com/glizzus/opusify/internal/repository"
	"github.com/glizzus/opusify/internal/schedule"
)

// Worker feeds requests from a queue to a Processor one at a time.
type Worker struct {
	Queue     JobReceiver
	Processor *Processor
}

// Poll receives one batch of requests and processes them. Every delivery is
// acknowledged, failed or not, since job failures are recorded on the job.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	deliveries, err := w.Queue.Receive(ctx)
	if err != nil {
		return 0, err
	}
	for i, d := range deliveries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := w.Processor.Process(ctx, d.Request); err != nil {
			slog.Warn("transcode request not completed",
				slog.String("jobID", d.Request.JobID),
				slog.String("messageID", d.MessageID),
				slog.Any("error", err),
			)
		}
		if err := w.Queue.Ack(context.WithoutCancel(ctx), d); err != nil {
			return i, err
		}
	}
	return len(deliveries), nil
}

// Run polls until ctx is done or the queue fails.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Reaper fails jobs left processing by a worker that died mid-job.
type Reaper struct {
	Jobs       repository.TranscodeJobRepository
	StaleAfter time.Duration
	Metrics    *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Reaper) Reap(ctx context.Context) (int, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	n, err := r.Jobs.FailStale(ctx, now().Add(-r.StaleAfter))
	if err != nil {
		return 0, err
	}
	r.Metrics.ObserveStaleJobs(n)
	if n > 0 {
		slog.Warn("failed stale transcode jobs", slog.Int("count", n), slog.Duration("staleAfter", r.StaleAfter))
	}
	return n, nil
}

// Run reaps on every tick of cron until ctx is done.
func (r *Reaper) Run(ctx context.Context, cron string) error {
	return schedule.Every(ctx, cron, func(ctx context.Context) {
		if _, err := r.Reap(ctx); err != nil {
			slog.Error("failed to reap stale jobs", slog.Any("error", err))
		}
	})
}
