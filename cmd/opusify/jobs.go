package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/glizzus/opusify/internal/config"
	"github.com/glizzus/opusify/internal/datalayer"
	"github.com/glizzus/opusify/internal/generator"
	"github.com/glizzus/opusify/internal/repository"
	"github.com/glizzus/opusify/internal/worker"
)

func connectJobs(ctx context.Context) (*pgxpool.Pool, *repository.PostgresTranscodeJobRepository, error) {
	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := datalayer.MigratePostgres(pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return pool, repository.NewPostgresTranscodeJobRepository(pool), nil
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Upload a source file and queue a transcode job for the workers",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefix", Usage: "object key prefix"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected FILE", 2)
			}
			ctx := c.Context

			f, err := os.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			pool, jobs, err := connectJobs(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			storage, err := datalayer.NewMinioStorageFromEnv()
			if err != nil {
				return fmt.Errorf("failed to create minio storage: %w", err)
			}
			if err := storage.EnsureBucket(ctx); err != nil {
				return fmt.Errorf("failed to ensure minio bucket: %w", err)
			}

			redisCfg, err := config.NewRedisConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load redis config: %w", err)
			}
			workerCfg, err := config.NewWorkerConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load worker config: %w", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB})
			defer rdb.Close()
			queue, err := worker.NewRedisJobQueue(ctx, rdb, workerCfg.Stream, workerCfg.Group, "opusify-cli")
			if err != nil {
				return err
			}

			keys, err := (&generator.JobKeyGenerator{Prefix: c.String("prefix")}).Next()
			if err != nil {
				return err
			}
			if err := storage.Put(ctx, keys.SourceKey, f, datalayer.PutOptions{
				Size:        info.Size(),
				ContentType: "application/octet-stream",
			}); err != nil {
				return err
			}
			if err := jobs.Create(ctx, repository.TranscodeJob{
				ID:        keys.ID,
				SourceKey: keys.SourceKey,
				OutputKey: keys.OutputKey,
			}); err != nil {
				return err
			}
			if err := queue.Enqueue(ctx, worker.TranscodeRequest{
				JobID:     keys.ID,
				SourceKey: keys.SourceKey,
				OutputKey: keys.OutputKey,
			}); err != nil {
				return err
			}

			fmt.Println(keys.ID)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of a transcode job",
		ArgsUsage: "JOB_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected JOB_ID", 2)
			}
			pool, jobs, err := connectJobs(c.Context)
			if err != nil {
				return err
			}
			defer pool.Close()

			job, err := jobs.Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s\n", job.ID, job.Status, job.UpdatedAt.Format(time.RFC3339))
			switch job.Status {
			case repository.StatusCompleted:
				fmt.Printf("output %s: %v of audio, %d bytes in %d packets\n",
					job.OutputKey, job.Result.Duration, job.Result.Bytes, job.Result.Packets)
			case repository.StatusFailed:
				fmt.Printf("error: %s\n", job.Error)
			}
			return nil
		},
	}
}
