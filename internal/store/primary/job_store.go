package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"soilscope/internal/models"
	"soilscope/internal/store"
)

// Ensure StoreImpl satisfies the JobStore interface
var _ store.JobStore = (*StoreImpl)(nil)

const uniqueViolation = "23505"

const jobColumns = `id, status, region_geojson, region_name, start_date, end_date, task_id, error_message, created_at, updated_at`

// CreateJob inserts a pending job record.
func (s *StoreImpl) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := s.db.Exec(ctx, `
		INSERT INTO analysis_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, string(job.Status), json.RawMessage(job.RegionGeoJSON), job.RegionName,
		job.StartDate, job.EndDate, job.TaskID, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job    models.Job
		status string
	)
	err := row.Scan(&job.ID, &status, &job.RegionGeoJSON, &job.RegionName, &job.StartDate, &job.EndDate,
		&job.TaskID, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if job.Status, err = models.ParseJobStatus(status); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob loads one job record.
func (s *StoreImpl) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *StoreImpl) ListJobs(ctx context.Context, filter store.ListFilter) ([]*models.Job, error) {
	filter = filter.Normalize()
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM analysis_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3`,
		string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return jobs, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return jobs, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// transition locks the job row, checks the move to next and runs fn in the
// same transaction.
func (s *StoreImpl) transition(ctx context.Context, id uuid.UUID, next models.JobStatus, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var raw string
		if err := tx.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
			}
			return fmt.Errorf("failed to lock job %s: %w", id, err)
		}
		cur, err := models.ParseJobStatus(raw)
		if err != nil {
			return err
		}
		if err := store.CheckTransition(cur, next); err != nil {
			return fmt.Errorf("job %s: %w", id, err)
		}
		return fn(tx)
	})
}

// MarkQueued records the asynq task id and moves the job to queued.
func (s *StoreImpl) MarkQueued(ctx context.Context, id uuid.UUID, taskID string) error {
	return s.transition(ctx, id, models.JobStatusQueued, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE analysis_jobs SET status = $1, task_id = $2, updated_at = now() WHERE id = $3`,
			string(models.JobStatusQueued), taskID, id)
		return err
	})
}

// SetStatus moves the job forward and records errMsg when non-empty.
func (s *StoreImpl) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	return s.transition(ctx, id, status, func(tx pgx.Tx) error {
		var msg *string
		if errMsg != "" {
			msg = &errMsg
		}
		_, err := tx.Exec(ctx, `UPDATE analysis_jobs SET status = $1, error_message = COALESCE($2, error_message), updated_at = now() WHERE id = $3`,
			string(status), msg, id)
		if err != nil {
			return fmt.Errorf("failed to update job status for job %s: %w", id, err)
		}
		return nil
	})
}

// SaveResult writes the result and the completed status in one transaction.
func (s *StoreImpl) SaveResult(ctx context.Context, bundle *models.ResultBundle) error {
	created := bundle.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return s.transition(ctx, bundle.JobID, models.JobStatusCompleted, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO analysis_results (job_id, soc, moisture, report, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			bundle.JobID, bundle.SOC, bundle.Moisture, bundle.Report, created); err != nil {
			return fmt.Errorf("failed to insert result for job %s: %w", bundle.JobID, err)
		}
		_, err := tx.Exec(ctx, `UPDATE analysis_jobs SET status = $1, updated_at = now() WHERE id = $2`,
			string(models.JobStatusCompleted), bundle.JobID)
		return err
	})
}

// GetResult loads the stored result bundle.
func (s *StoreImpl) GetResult(ctx context.Context, id uuid.UUID) (*models.ResultBundle, error) {
	bundle := &models.ResultBundle{JobID: id}
	err := s.db.QueryRow(ctx, `SELECT soc, moisture, report, created_at FROM analysis_results WHERE job_id = $1`, id).
		Scan(&bundle.SOC, &bundle.Moisture, &bundle.Report, &bundle.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result for job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result for job %s: %w", id, err)
	}
	return bundle, nil
}

// FailStaleJobs fails processing jobs whose last update is before cutoff.
func (s *StoreImpl) FailStaleJobs(ctx context.Context, cutoff time.Time, errMsg string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE analysis_jobs SET status = $1, error_message = $2, updated_at = now()
		WHERE status = $3 AND updated_at < $4`,
		string(models.JobStatusFailed), errMsg, string(models.JobStatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		log.WithField("count", n).Warn("Failed stale processing jobs")
	}
	return tag.RowsAffected(), nil
}
