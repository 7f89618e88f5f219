package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryTranscodeJobRepository keeps jobs in memory with the same state rules
// as the Postgres repository.
type MemoryTranscodeJobRepository struct {
	mu   sync.Mutex
	jobs map[string]TranscodeJob
	now  func() time.Time
}

func NewMemoryTranscodeJobRepository() *MemoryTranscodeJobRepository {
	return &MemoryTranscodeJobRepository{
		jobs: make(map[string]TranscodeJob),
		now:  time.Now,
	}
}

// WithClock replaces the clock used for timestamps.
func (r *MemoryTranscodeJobRepository) WithClock(now func() time.Time) *MemoryTranscodeJobRepository {
	r.now = now
	return r
}

var _ TranscodeJobRepository = (*MemoryTranscodeJobRepository)(nil)

func (r *MemoryTranscodeJobRepository) Create(ctx context.Context, job TranscodeJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("failed to insert transcode job: duplicate id %s", job.ID)
	}
	now := r.now()
	job.Status = StatusPending
	job.Error = ""
	job.Result = JobResult{}
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = job
	return nil
}

func (r *MemoryTranscodeJobRepository) Get(ctx context.Context, id string) (TranscodeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return TranscodeJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

func (r *MemoryTranscodeJobRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.transition(id, []JobStatus{StatusPending}, func(job *TranscodeJob) {
		job.Status = StatusProcessing
	})
}

func (r *MemoryTranscodeJobRepository) MarkCompleted(ctx context.Context, id string, result JobResult) error {
	return r.transition(id, []JobStatus{StatusProcessing}, func(job *TranscodeJob) {
		job.Status = StatusCompleted
		job.Error = ""
		job.Result = result
	})
}

func (r *MemoryTranscodeJobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.transition(id, []JobStatus{StatusPending, StatusProcessing}, func(job *TranscodeJob) {
		job.Status = StatusFailed
		job.Error = reason
	})
}

func (r *MemoryTranscodeJobRepository) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, job := range r.jobs {
		if job.Status == StatusProcessing && job.UpdatedAt.Before(cutoff) {
			job.Status = StatusFailed
			job.Error = StaleReason
			job.UpdatedAt = r.now()
			r.jobs[id] = job
			n++
		}
	}
	return n, nil
}

func (r *MemoryTranscodeJobRepository) transition(id string, from []JobStatus, apply func(*TranscodeJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !slices.Contains(from, job.Status) {
		return fmt.Errorf("%w: %s is %s", ErrJobState, id, job.Status)
	}
	apply(&job)
	job.UpdatedAt = r.now()
	r.jobs[id] = job
	return nil
}
