// Package tasks defines the asynq task types and payloads.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// TypeAnalysisRun runs the full pipeline for one job.
	TypeAnalysisRun = "analysis:run"
	// TypeReconcileStale fails jobs stuck in processing.
	TypeReconcileStale = "analysis:reconcile"

	QueueAnalysis    = "analysis"
	QueueMaintenance = "maintenance"
)

// AnalysisPayload carries the job id. The worker reloads the job record, so
// the payload never goes stale.
type AnalysisPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// NewAnalysisTask builds the task for a job. The asynq task id is the job
// id, so enqueueing the same job twice is rejected by the queue.
func NewAnalysisTask(jobID uuid.UUID, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(AnalysisPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("encode analysis payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID(jobID.String()),
		asynq.Queue(QueueAnalysis),
		asynq.MaxRetry(maxRetry),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TypeAnalysisRun, payload, opts...), nil
}

// ParseAnalysisPayload decodes an analysis task payload.
func ParseAnalysisPayload(raw []byte) (AnalysisPayload, error) {
	var p AnalysisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode analysis payload: %w", err)
	}
	if p.JobID == uuid.Nil {
		return p, fmt.Errorf("analysis payload has no job id")
	}
	return p, nil
}

// NewReconcileTask builds the periodic stale-job sweep task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeReconcileStale, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(0))
}
