// Package storetest holds behaviour checks shared by every JobStore
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/geo"
	"soilscope/internal/models"
	"soilscope/internal/store"
)

// NewJob returns a valid pending job over the unit square.
func NewJob(t *testing.T) *models.Job {
	t.Helper()
	job, err := models.NewJob(models.JobDescriptor{
		ID:     uuid.New(),
		Region: geo.Rect(0, 0, 1, 1),
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}, "Test Field")
	require.NoError(t, err)
	return job
}

// Bundle returns a result bundle for jobID.
func Bundle(jobID uuid.UUID) *models.ResultBundle {
	return &models.ResultBundle{
		JobID: jobID,
		SOC: models.PredictionResult{
			Target: models.TargetSOC, Unit: "g/kg", ModelVersion: "soilcnn-test",
			Stats: models.Statistics{Min: 10, Max: 90, Mean: 50, Std: 12.5},
		},
		Moisture: models.PredictionResult{
			Target: models.TargetMoisture, Unit: "%", ModelVersion: "soilcnn-test",
			Stats: models.Statistics{Min: 5, Max: 45, Mean: 25, Std: 6.25},
		},
		Report: models.ReportReference{
			ReportKey:      "reports/job_" + jobID.String() + "/report.html",
			SOCMapKey:      "reports/job_" + jobID.String() + "/soc_map.png",
			MoistureMapKey: "reports/job_" + jobID.String() + "/moisture_map.png",
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// Run exercises s against the JobStore contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.JobStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, models.JobStatusPending, got.Status)
		assert.Equal(t, "Test Field", got.RegionName)
		assert.True(t, job.StartDate.Equal(got.StartDate))
		assert.True(t, job.EndDate.Equal(got.EndDate))

		d, err := got.Descriptor()
		require.NoError(t, err)
		assert.Equal(t, geo.Rect(0, 0, 1, 1), d.Region)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, job))
		assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrDuplicate)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.GetResult(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, job))

		require.NoError(t, s.MarkQueued(ctx, job.ID, job.ID.String()))
		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusQueued, got.Status)
		require.NotNil(t, got.TaskID)
		assert.Equal(t, job.ID.String(), *got.TaskID)

		require.NoError(t, s.SetStatus(ctx, job.ID, models.JobStatusProcessing, ""))
		require.NoError(t, s.SaveResult(ctx, Bundle(job.ID)))

		got, err = s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, got.Status)

		res, err := s.GetResult(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 50.0, res.SOC.Stats.Mean)
		assert.Equal(t, 25.0, res.Moisture.Stats.Mean)
		assert.Equal(t, "%", res.Moisture.Unit)
		assert.Equal(t, Bundle(job.ID).Report, res.Report)
		assert.Nil(t, res.SOC.Raster)
	})

	t.Run("CompleteRequiresProcessing", func(t *testing.T) {
		s := newStore(t)
		pending := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, pending))
		queued := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, queued))
		require.NoError(t, s.MarkQueued(ctx, queued.ID, queued.ID.String()))

		for _, job := range []*models.Job{pending, queued} {
			assert.ErrorIs(t, s.SaveResult(ctx, Bundle(job.ID)), store.ErrInvalidTransition)
			assert.ErrorIs(t, s.SetStatus(ctx, job.ID, models.JobStatusCompleted, ""), store.ErrInvalidTransition)

			_, err := s.GetResult(ctx, job.ID)
			assert.ErrorIs(t, err, store.ErrNotFound)
		}

		got, err := s.GetJob(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, got.Status)
		got, err = s.GetJob(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusQueued, got.Status)
	})

	t.Run("TerminalStatesAreFinal", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, job))
		require.NoError(t, s.SetStatus(ctx, job.ID, models.JobStatusProcessing, ""))
		require.NoError(t, s.SetStatus(ctx, job.ID, models.JobStatusFailed, "ingestion error: no scenes"))

		assert.ErrorIs(t, s.SetStatus(ctx, job.ID, models.JobStatusProcessing, ""), store.ErrInvalidTransition)
		assert.ErrorIs(t, s.SaveResult(ctx, Bundle(job.ID)), store.ErrInvalidTransition)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "ingestion error: no scenes", *got.ErrorMessage)
		_, err = s.GetResult(ctx, job.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("NoBackwardTransition", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, job))
		require.NoError(t, s.SetStatus(ctx, job.ID, models.JobStatusProcessing, ""))
		assert.ErrorIs(t, s.MarkQueued(ctx, job.ID, "x"), store.ErrInvalidTransition)
		assert.ErrorIs(t, s.SetStatus(ctx, job.ID, models.JobStatusProcessing, ""), store.ErrInvalidTransition)
	})

	t.Run("SetStatusMissing", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.SetStatus(ctx, uuid.New(), models.JobStatusProcessing, ""), store.ErrNotFound)
	})

	t.Run("ListJobs", func(t *testing.T) {
		s := newStore(t)
		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			job := NewJob(t)
			job.CreatedAt = time.Date(2024, 5, 1, i, 0, 0, 0, time.UTC)
			require.NoError(t, s.CreateJob(ctx, job))
			ids = append(ids, job.ID)
		}
		require.NoError(t, s.SetStatus(ctx, ids[1], models.JobStatusProcessing, ""))

		all, err := s.ListJobs(ctx, store.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID, "newest first")

		processing, err := s.ListJobs(ctx, store.ListFilter{Status: models.JobStatusProcessing})
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, ids[1], processing[0].ID)

		page, err := s.ListJobs(ctx, store.ListFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[1], page[0].ID)
	})

	t.Run("FailStaleJobs", func(t *testing.T) {
		s := newStore(t)
		stale := NewJob(t)
		pending := NewJob(t)
		require.NoError(t, s.CreateJob(ctx, stale))
		require.NoError(t, s.CreateJob(ctx, pending))
		require.NoError(t, s.SetStatus(ctx, stale.ID, models.JobStatusProcessing, ""))

		n, err := s.FailStaleJobs(ctx, time.Now().Add(-time.Hour), "stale")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.FailStaleJobs(ctx, time.Now().Add(time.Hour), "worker lost")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.GetJob(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "worker lost", *got.ErrorMessage)

		got, err = s.GetJob(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, got.Status)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}
