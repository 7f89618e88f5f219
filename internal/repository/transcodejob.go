package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

var (
	ErrJobNotFound = errors.New("repository: transcode job not found")
	// ErrJobState is returned when a job is not in the state a transition
	// starts from.
	ErrJobState = errors.New("repository: transcode job is in the wrong state")
)

// StaleReason is the error recorded on jobs failed by FailStale.
const StaleReason = "timed out while processing"

type TranscodeJob struct {
	ID        string
	SourceKey string
	OutputKey string
	Status    JobStatus
	Error     string
	Result    JobResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobResult summarises a finished transcode.
type JobResult struct {
	Windows  int
	Packets  int
	Bytes    int64
	Duration time.Duration
}

type TranscodeJobRepository interface {
	Create(ctx context.Context, job TranscodeJob) error
	Get(ctx context.Context, id string) (TranscodeJob, error)
	// MarkProcessing moves a pending job to processing.
	MarkProcessing(ctx context.Context, id string) error
	// MarkCompleted moves a processing job to completed.
	MarkCompleted(ctx context.Context, id string, result JobResult) error
	// MarkFailed moves a pending or processing job to failed.
	MarkFailed(ctx context.Context, id string, reason string) error
	// FailStale fails every job that has been processing since before cutoff
	// and returns how many it failed.
	FailStale(ctx context.Context, cutoff time.Time) (int, error)
}

type PostgresTranscodeJobRepository struct {
	db *pgxpool.Pool
}

func NewPostgresTranscodeJobRepository(db *pgxpool.Pool) *PostgresTranscodeJobRepository {
	return &PostgresTranscodeJobRepository{db: db}
}

var _ TranscodeJobRepository = (*PostgresTranscodeJobRepository)(nil)

func (r *PostgresTranscodeJobRepository) Create(ctx context.Context, job TranscodeJob) error {
	const query = `
	INSERT INTO transcode_job (id, source_key, output_key, status)
	VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, job.ID, job.SourceKey, job.OutputKey, StatusPending); err != nil {
		return fmt.Errorf("failed to insert transcode job: %w", err)
	}
	return nil
}

func (r *PostgresTranscodeJobRepository) Get(ctx context.Context, id string) (TranscodeJob, error) {
	const query = `
	SELECT id, source_key, output_key, status, error,
		windows, packets, bytes, duration_ms, created_at, updated_at
	FROM transcode_job
	WHERE id = $1
	`
	var (
		job        TranscodeJob
		durationMS int64
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.SourceKey,
		&job.OutputKey,
		&job.Status,
		&job.Error,
		&job.Result.Windows,
		&job.Result.Packets,
		&job.Result.Bytes,
		&durationMS,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return TranscodeJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return TranscodeJob{}, fmt.Errorf("failed to query transcode job: %w", err)
	}
	job.Result.Duration = time.Duration(durationMS) * time.Millisecond
	return job, nil
}

func (r *PostgresTranscodeJobRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `
	UPDATE transcode_job
	SET status = 'processing', updated_at = now()
	WHERE id = $1 AND status = 'pending'
	`
	return r.transition(ctx, id, query, id)
}

func (r *PostgresTranscodeJobRepository) MarkCompleted(ctx context.Context, id string, result JobResult) error {
	const query = `
	UPDATE transcode_job
	SET status = 'completed', error = '',
		windows = $2, packets = $3, bytes = $4, duration_ms = $5,
		updated_at = now()
	WHERE id = $1 AND status = 'processing'
	`
	return r.transition(ctx, id, query,
		id,
		result.Windows,
		result.Packets,
		result.Bytes,
		result.Duration.Milliseconds(),
	)
}

func (r *PostgresTranscodeJobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	const query = `
	UPDATE transcode_job
	SET status = 'failed', error = $2, updated_at = now()
	WHERE id = $1 AND status IN ('pending', 'processing')
	`
	return r.transition(ctx, id, query, id, reason)
}

// transition runs a conditional update and tells a missing job apart from
// one in the wrong state when nothing was updated.
func (r *PostgresTranscodeJobRepository) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transcode job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrJobState, id, job.Status)
}

func (r *PostgresTranscodeJobRepository) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
	UPDATE transcode_job
	SET status = 'failed', error = $2, updated_at = now()
	WHERE status = 'processing' AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff, StaleReason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale transcode jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
