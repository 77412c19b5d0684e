package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"soilscope/internal/models"
)

// ListFilter narrows ListJobs. An empty Status matches every job.
type ListFilter struct {
	Status models.JobStatus
	Limit  int
	Offset int
}

// DefaultListLimit applies when ListFilter.Limit is not positive.
const DefaultListLimit = 50

// Normalize fills in defaults.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// JobStore is the durable job record. Every status write goes through
// CheckTransition, so stored statuses only move forward.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]*models.Job, error)

	// MarkQueued records the task id and moves a pending job to queued.
	MarkQueued(ctx context.Context, id uuid.UUID, taskID string) error
	// SetStatus moves the job to status. errMsg is stored for failed jobs.
	SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error
	// SaveResult stores the bundle and marks the job completed in one
	// transaction. The job must be processing.
	SaveResult(ctx context.Context, bundle *models.ResultBundle) error
	GetResult(ctx context.Context, id uuid.UUID) (*models.ResultBundle, error)

	// FailStaleJobs fails processing jobs not updated since cutoff and
	// returns how many were changed.
	FailStaleJobs(ctx context.Context, cutoff time.Time, errMsg string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// JobClient hands analysis jobs to the task queue.
type JobClient interface {
	EnqueueAnalysis(ctx context.Context, job *models.Job) (string, error)
	EnqueueReconcile(ctx context.Context) error
	Close() error
}
