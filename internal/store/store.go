package store

import (
	"context"
	"errors"
	"time"

	"github.com/Popie52/jobscheduler/internal/model"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrDatasetNotFound = errors.New("dataset not found")
)

// JobStore is the scheduler's view of the persisted queue.
type JobStore interface {
	// FetchEligible returns up to limit queued jobs under the retry limit,
	// ordered by priority then age. It never mutates state.
	FetchEligible(ctx context.Context, limit int) ([]*model.Job, error)

	// Claim moves a job from queued to running and increments attempts in a
	// single conditional write. It reports whether this caller won.
	Claim(ctx context.Context, jobID string) (bool, error)

	RecordOutcome(ctx context.Context, jobID string, outcome model.Outcome) error

	Ping(ctx context.Context) error
}

type DatasetStore interface {
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
}

// Admin covers operator tooling that sits outside the scheduling path.
type Admin interface {
	Enqueue(ctx context.Context, job *model.Job) error

	// CountStaleRunning reports jobs left in running since before cutoff.
	CountStaleRunning(ctx context.Context, cutoff time.Time) (int, error)
}

type Store interface {
	JobStore
	DatasetStore
	Admin
	Close() error
}

// prepareEnqueue fills the fields a fresh job must carry.
func prepareEnqueue(job *model.Job, now time.Time) {
	if job.Status == "" {
		job.Status = model.StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
}
