package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"soilscope/internal/blob"
	"soilscope/internal/geo"
	"soilscope/internal/models"
	"soilscope/internal/store"
)

// ErrResultNotReady is returned for results of jobs that have not completed.
var ErrResultNotReady = fmt.Errorf("result not ready: %w", models.ErrConflict)

// JobService is the application-facing API shared by the HTTP handlers and
// the CLI.
type JobService struct {
	store  store.JobStore
	client store.JobClient
	blobs  blob.Store
}

type JobServiceDeps struct {
	Store     store.JobStore
	JobClient store.JobClient // nil: jobs are created but not enqueued
	Blobs     blob.Store
}

func NewJobService(deps JobServiceDeps) *JobService {
	return &JobService{store: deps.Store, client: deps.JobClient, blobs: deps.Blobs}
}

// SubmitParams is a raw analysis request.
type SubmitParams struct {
	Region []byte // GeoJSON Feature, Polygon, or single-part MultiPolygon
	Name   string // overrides the Feature's name property
	Start  time.Time
	End    time.Time
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, models.NewValidationError("invalid date %q, want YYYY-MM-DD", raw)
	}
	return t.UTC(), nil
}

// Submit validates the request, stores a pending job and enqueues it. The
// returned job reflects the queued state when enqueueing succeeded.
func (s *JobService) Submit(ctx context.Context, p SubmitParams) (*models.Job, error) {
	region, err := geo.ParseRegion(p.Region)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	name := region.Name
	if p.Name != "" {
		name = p.Name
	}
	job, err := models.NewJob(models.JobDescriptor{
		ID:     uuid.New(),
		Region: region.Polygon,
		Start:  p.Start,
		End:    p.End,
	}, name)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	logger := log.WithField("job_id", job.ID)
	logger.WithField("region", job.RegionName).Info("Job created")

	if s.client == nil {
		return job, nil
	}
	if _, err := s.client.EnqueueAnalysis(ctx, job); err != nil {
		if serr := s.store.SetStatus(ctx, job.ID, models.JobStatusFailed, "enqueue failed: "+err.Error()); serr != nil {
			logger.WithError(serr).Error("Failed to record enqueue failure")
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return s.store.GetJob(ctx, job.ID)
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *JobService) List(ctx context.Context, filter store.ListFilter) ([]*models.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.NewValidationError("unknown status %q", filter.Status)
	}
	return s.store.ListJobs(ctx, filter)
}

// Result returns the stored bundle of a completed job.
func (s *JobService) Result(ctx context.Context, id uuid.UUID) (*models.ResultBundle, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("job %s is %s: %w", id, job.Status, ErrResultNotReady)
	}
	return s.store.GetResult(ctx, id)
}

// OpenArtifact opens a stored report artefact of a completed job by key.
func (s *JobService) OpenArtifact(ctx context.Context, id uuid.UUID, pick func(models.ReportReference) string) (io.ReadCloser, string, error) {
	res, err := s.Result(ctx, id)
	if err != nil {
		return nil, "", err
	}
	key := pick(res.Report)
	if key == "" {
		return nil, "", fmt.Errorf("job %s has no such artefact: %w", id, models.ErrNotFound)
	}
	if s.blobs == nil {
		return nil, "", errors.New("no blob store configured")
	}
	rc, err := s.blobs.Open(key)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", key, err)
	}
	return rc, key, nil
}
