// Package worker holds the asynq task handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"soilscope/internal/models"
	"soilscope/internal/store"
	"soilscope/internal/tasks"
)

// Runner executes one analysis job.
type Runner interface {
	Run(ctx context.Context, d models.JobDescriptor) (*models.ResultBundle, error)
}

// Deps are the handler dependencies.
type Deps struct {
	Store      store.JobStore
	Runner     Runner
	StaleAfter time.Duration
	Now        func() time.Time
}

// StaleJobMessage is stored on jobs failed by the reconciler.
const StaleJobMessage = "processing timed out: worker stopped before the job finished"

// RegisterHandlers wires every task type onto mux.
func RegisterHandlers(mux *asynq.ServeMux, deps Deps) {
	mux.HandleFunc(tasks.TypeAnalysisRun, HandleAnalysisRun(deps))
	mux.HandleFunc(tasks.TypeReconcileStale, HandleReconcile(deps))
}

// HandleAnalysisRun runs the pipeline for the job in the payload. Pipeline
// failures and state conflicts are final and skip asynq retries; only
// infrastructure errors are retried.
func HandleAnalysisRun(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := tasks.ParseAnalysisPayload(t.Payload())
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger := log.WithField("job_id", p.JobID)
		if taskID, ok := asynq.GetTaskID(ctx); ok {
			logger = logger.WithField("task_id", taskID)
		}

		job, err := deps.Store.GetJob(ctx, p.JobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logger.Warn("Analysis task for unknown job, dropping")
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return fmt.Errorf("load job %s: %w", p.JobID, err)
		}
		d, err := job.Descriptor()
		if err != nil {
			msg := models.NewPipelineError(models.StageIngestion, err).Error()
			if serr := deps.Store.SetStatus(ctx, job.ID, models.JobStatusFailed, msg); serr != nil {
				logger.WithError(serr).Error("Failed to record invalid job")
			}
			return fmt.Errorf("%s: %w", msg, asynq.SkipRetry)
		}

		_, err = deps.Runner.Run(ctx, d)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrConflict):
			logger.WithError(err).Info("Skipping analysis task")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		case isPipelineError(err):
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		default:
			return err
		}
	}
}

func isPipelineError(err error) bool {
	_, ok := models.StageOf(err)
	return ok
}

// HandleReconcile fails processing jobs not updated within StaleAfter.
func HandleReconcile(deps Deps) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := Reconcile(ctx, deps)
		if err != nil {
			return err
		}
		log.WithField("failed_jobs", n).Info("Stale job reconciliation finished")
		return nil
	}
}

// Reconcile is the task-independent body of HandleReconcile, shared with
// the reconcile command.
func Reconcile(ctx context.Context, deps Deps) (int64, error) {
	if deps.StaleAfter <= 0 {
		return 0, fmt.Errorf("stale_after must be positive, got %s", deps.StaleAfter)
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	n, err := deps.Store.FailStaleJobs(ctx, now().Add(-deps.StaleAfter), StaleJobMessage)
	if err != nil {
		return 0, fmt.Errorf("reconcile stale jobs: %w", err)
	}
	return n, nil
}
