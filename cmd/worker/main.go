package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/glizzus/opusify/internal/config"
	"github.com/glizzus/opusify/internal/datalayer"
	"github.com/glizzus/opusify/internal/metrics"
	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/opus"
	"github.com/glizzus/opusify/internal/pipeline"
	"github.com/glizzus/opusify/internal/repository"
	"github.com/glizzus/opusify/internal/schedule"
	"github.com/glizzus/opusify/internal/worker"
)

var (
	ffmpegBinary = flag.String("ffmpeg", "ffmpeg", "ffmpeg binary used to decode sources")
	channels     = flag.Int("channels", 2, "channels every source is mixed to")
	logLevel     = flag.String("log-level", "info", "debug, info, warn or error")
)

func runWorkerForever(ctx context.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", *logLevel)
	}
	slog.SetLogLoggerLevel(level)

	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	workerCfg, err := config.NewWorkerConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load worker config: %w", err)
	}
	windowCfg, err := config.NewWindowConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load window config: %w", err)
	}
	opusCfg, err := config.NewOpusConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load opus config: %w", err)
	}
	redisCfg, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}

	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()
	if err := datalayer.MigratePostgres(pool); err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}
	jobs := repository.NewPostgresTranscodeJobRepository(pool)

	storage, err := datalayer.NewMinioStorageFromEnv()
	if err != nil {
		return fmt.Errorf("failed to create minio storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure minio bucket: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	consumer := workerCfg.Consumer
	if consumer == "" {
		consumer, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
	}
	queue, err := worker.NewRedisJobQueue(ctx, rdb, workerCfg.Stream, workerCfg.Group, consumer)
	if err != nil {
		return err
	}

	opts, err := opusCfg.Options()
	if err != nil {
		return err
	}
	m := metrics.New()
	p, err := pipeline.New(pipeline.Options{
		Window:     windowCfg.Window(),
		Factory:    opus.Factory(opts),
		Workers:    windowCfg.Workers,
		QueueDepth: windowCfg.QueueDepth,
		Mux:        oggopus.Options{Serial: oggopus.DefaultSerial, Vendor: opusCfg.Vendor},
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	w := &worker.Worker{
		Queue: queue,
		Processor: &worker.Processor{
			Jobs:     jobs,
			Storage:  storage,
			Pipeline: p,
			Open:     worker.FFmpegOpener(*ffmpegBinary, *channels),
			Metrics:  m,
		},
	}
	reaper := &worker.Reaper{Jobs: jobs, StaleAfter: workerCfg.StaleAfter, Metrics: m}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              workerCfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if upcoming, err := schedule.NextRunTimes(workerCfg.ReaperCron, 3); err == nil {
		slog.Info("stale job reaper scheduled",
			slog.String("cron", workerCfg.ReaperCron),
			slog.Any("next", upcoming),
		)
	}
	slog.Info("worker started",
		slog.String("consumer", consumer),
		slog.String("stream", workerCfg.Stream),
		slog.String("metrics", workerCfg.MetricsAddr),
		slog.Int("encodeWorkers", windowCfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return reaper.Run(gctx, workerCfg.ReaperCron) })
	g.Go(func() error { return w.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWorkerForever(ctx); err != nil {
		slog.Error("Worker encountered an error", slog.Any("error", err))
		os.Exit(1)
	}
}
