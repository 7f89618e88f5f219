package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunAt executes fn in a new goroutine at runAt, or immediately if runAt has
// passed. Nothing runs if ctx is done first. The returned channel is closed
// once the goroutine exits.
func RunAt(ctx context.Context, runAt time.Time, execute func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if !sleepUntil(ctx, runAt) {
			return
		}
		execute(ctx)
	}()
	return done
}

// Every runs execute at each time matched by the cron expression until ctx is
// done. Runs never overlap: a tick that passes while execute is running is
// skipped. It returns ctx.Err() once ctx is done.
func Every(ctx context.Context, cron string, execute func(ctx context.Context)) error {
	c, err := ParseCron(cron)
	if err != nil {
		return err
	}
	for {
		next := c.Next(time.Now())
		if next.IsZero() {
			return fmt.Errorf("cron expression %q has no upcoming run", cron)
		}
		slog.Debug("scheduled run", slog.String("cron", cron), slog.Time("at", next))
		if !sleepUntil(ctx, next) {
			return ctx.Err()
		}
		execute(ctx)
	}
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
