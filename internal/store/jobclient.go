package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"soilscope/internal/models"
	"soilscope/internal/tasks"
)

// Enqueuer is the subset of *asynq.Client the job client uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AsynqJobClient enqueues analysis tasks and records them in the JobStore.
type AsynqJobClient struct {
	client      Enqueuer
	jobStore    JobStore
	maxRetry    int
	taskTimeout time.Duration
}

var _ JobClient = (*AsynqJobClient)(nil)

func NewAsynqJobClient(redis asynq.RedisClientOpt, js JobStore, maxRetry int, taskTimeout time.Duration) (*AsynqJobClient, error) {
	return NewJobClientWithEnqueuer(asynq.NewClient(redis), js, maxRetry, taskTimeout)
}

func NewJobClientWithEnqueuer(client Enqueuer, js JobStore, maxRetry int, taskTimeout time.Duration) (*AsynqJobClient, error) {
	if js == nil {
		return nil, fmt.Errorf("JobStore cannot be nil for AsynqJobClient")
	}
	if client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	return &AsynqJobClient{client: client, jobStore: js, maxRetry: maxRetry, taskTimeout: taskTimeout}, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// EnqueueAnalysis enqueues the job and moves it to queued. A second enqueue
// of the same job fails with ErrDuplicate.
func (jc *AsynqJobClient) EnqueueAnalysis(ctx context.Context, job *models.Job) (string, error) {
	task, err := tasks.NewAnalysisTask(job.ID, jc.maxRetry, jc.taskTimeout)
	if err != nil {
		return "", err
	}
	logger := log.WithFields(log.Fields{"job_id": job.ID, "type": task.Type()})

	info, err := jc.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", fmt.Errorf("job %s already enqueued: %w", job.ID, ErrDuplicate)
		}
		return "", fmt.Errorf("enqueue analysis job %s: %w", job.ID, err)
	}
	logger.WithFields(log.Fields{"task_id": info.ID, "queue": info.Queue}).Debug("Enqueued analysis task")

	if err := jc.jobStore.MarkQueued(ctx, job.ID, info.ID); err != nil {
		// The task is already in the queue; the worker tolerates a pending
		// record, so this is logged rather than returned.
		logger.WithError(err).Error("Failed to record queued status")
	}
	return info.ID, nil
}

// EnqueueReconcile schedules an immediate stale-job sweep.
func (jc *AsynqJobClient) EnqueueReconcile(ctx context.Context) error {
	if _, err := jc.client.EnqueueContext(ctx, tasks.NewReconcileTask()); err != nil {
		return fmt.Errorf("enqueue reconcile task: %w", err)
	}
	return nil
}
