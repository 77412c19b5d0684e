// Package sqlite is an embedded JobStore backed by mattn/go-sqlite3, used by
// the CLI for local runs without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"soilscope/internal/models"
	"soilscope/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	region_geojson TEXT NOT NULL,
	region_name    TEXT NOT NULL,
	start_date     TEXT NOT NULL,
	end_date       TEXT NOT NULL,
	task_id        TEXT,
	error_message  TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_jobs_status_idx ON analysis_jobs (status, updated_at);
CREATE TABLE IF NOT EXISTS analysis_results (
	job_id     TEXT PRIMARY KEY REFERENCES analysis_jobs (id),
	soc        TEXT NOT NULL,
	moisture   TEXT NOT NULL,
	report     TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// timeLayout is fixed-width so text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.JobStore = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps :memory: a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (id, status, region_geojson, region_name, start_date, end_date, task_id, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), string(job.Status), string(job.RegionGeoJSON), job.RegionName,
		formatTime(job.StartDate), formatTime(job.EndDate), job.TaskID, job.ErrorMessage,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, status, region_geojson, region_name, start_date, end_date, task_id, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                                    models.Job
		id, status, region, start, end, ca, ua string
		taskID, errMsg                         sql.NullString
	)
	if err := row.Scan(&id, &status, &region, &job.RegionName, &start, &end, &taskID, &errMsg, &ca, &ua); err != nil {
		return nil, err
	}
	var err error
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	if job.Status, err = models.ParseJobStatus(status); err != nil {
		return nil, err
	}
	job.RegionGeoJSON = []byte(region)
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&job.StartDate, start}, {&job.EndDate, end}, {&job.CreatedAt, ca}, {&job.UpdatedAt, ua}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", f.src, err)
		}
	}
	if taskID.Valid {
		job.TaskID = &taskID.String
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter store.ListFilter) ([]*models.Job, error) {
	filter = filter.Normalize()
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// transition runs fn inside a transaction after checking that the job may
// move to next.
func (s *Store) transition(ctx context.Context, id uuid.UUID, next models.JobStatus, fn func(tx *sql.Tx, now string) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM analysis_jobs WHERE id = ?`, id.String()).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("load job %s status: %w", id, err)
	}
	cur, err := models.ParseJobStatus(raw)
	if err != nil {
		return err
	}
	if err := store.CheckTransition(cur, next); err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	if err := fn(tx, formatTime(s.now())); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) MarkQueued(ctx context.Context, id uuid.UUID, taskID string) error {
	return s.transition(ctx, id, models.JobStatusQueued, func(tx *sql.Tx, now string) error {
		_, err := tx.ExecContext(ctx, `UPDATE analysis_jobs SET status = ?, task_id = ?, updated_at = ? WHERE id = ?`,
			string(models.JobStatusQueued), taskID, now, id.String())
		return err
	})
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	return s.transition(ctx, id, status, func(tx *sql.Tx, now string) error {
		var msg sql.NullString
		if errMsg != "" {
			msg = sql.NullString{String: errMsg, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `UPDATE analysis_jobs SET status = ?, error_message = COALESCE(?, error_message), updated_at = ? WHERE id = ?`,
			string(status), msg, now, id.String())
		return err
	})
}

func (s *Store) SaveResult(ctx context.Context, bundle *models.ResultBundle) error {
	soc, err := json.Marshal(bundle.SOC)
	if err != nil {
		return fmt.Errorf("encode soc result: %w", err)
	}
	moisture, err := json.Marshal(bundle.Moisture)
	if err != nil {
		return fmt.Errorf("encode moisture result: %w", err)
	}
	report, err := json.Marshal(bundle.Report)
	if err != nil {
		return fmt.Errorf("encode report reference: %w", err)
	}
	return s.transition(ctx, bundle.JobID, models.JobStatusCompleted, func(tx *sql.Tx, now string) error {
		created := now
		if !bundle.CreatedAt.IsZero() {
			created = formatTime(bundle.CreatedAt)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO analysis_results (job_id, soc, moisture, report, created_at) VALUES (?, ?, ?, ?, ?)`,
			bundle.JobID.String(), string(soc), string(moisture), string(report), created); err != nil {
			return fmt.Errorf("insert result for job %s: %w", bundle.JobID, err)
		}
		_, err := tx.ExecContext(ctx, `UPDATE analysis_jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(models.JobStatusCompleted), now, bundle.JobID.String())
		return err
	})
}

func (s *Store) GetResult(ctx context.Context, id uuid.UUID) (*models.ResultBundle, error) {
	var soc, moisture, report, created string
	err := s.db.QueryRowContext(ctx, `SELECT soc, moisture, report, created_at FROM analysis_results WHERE job_id = ?`, id.String()).
		Scan(&soc, &moisture, &report, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("result for job %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get result %s: %w", id, err)
	}
	bundle := &models.ResultBundle{JobID: id}
	if err := json.Unmarshal([]byte(soc), &bundle.SOC); err != nil {
		return nil, fmt.Errorf("decode soc result: %w", err)
	}
	if err := json.Unmarshal([]byte(moisture), &bundle.Moisture); err != nil {
		return nil, fmt.Errorf("decode moisture result: %w", err)
	}
	if err := json.Unmarshal([]byte(report), &bundle.Report); err != nil {
		return nil, fmt.Errorf("decode report reference: %w", err)
	}
	if bundle.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse result timestamp: %w", err)
	}
	return bundle, nil
}

func (s *Store) FailStaleJobs(ctx context.Context, cutoff time.Time, errMsg string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(models.JobStatusFailed), errMsg, formatTime(s.now()),
		string(models.JobStatusProcessing), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}
