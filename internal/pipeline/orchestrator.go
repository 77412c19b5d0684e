// Package pipeline drives one analysis job through ingestion,
// preprocessing, inference and reporting, and owns the job's status
// transitions while doing so.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"soilscope/internal/ingest"
	"soilscope/internal/models"
	"soilscope/internal/preprocess"
	"soilscope/internal/store"
)

var (
	// ErrTerminalStateConflict is returned, without any store writes, when a
	// job is already completed or failed.
	ErrTerminalStateConflict = fmt.Errorf("job already in a terminal state: %w", models.ErrConflict)
	// ErrJobInProgress is returned, without any store writes, when a job is
	// already processing.
	ErrJobInProgress = fmt.Errorf("job is already processing: %w", models.ErrConflict)
)

// State is the scratch space the stages share for one run.
type State struct {
	Job         *models.Job
	Descriptor  models.JobDescriptor
	Raw         *ingest.Result
	Scenes      []preprocess.Scene
	Processed   []preprocess.Processed
	Stack       *preprocess.FeatureStack
	Predictions map[models.Target]*models.PredictionResult
	Report      models.ReportReference
}

// Stage is one step of the pipeline. Errors that are not already
// PipelineErrors are tagged with Name by the orchestrator.
type Stage interface {
	Name() models.Stage
	Run(ctx context.Context, st *State) error
}

// Orchestrator runs the stages in order for one job at a time. It holds no
// locks; at-most-once execution comes from the task queue.
type Orchestrator struct {
	store  store.JobStore
	stages []Stage
	now    func() time.Time
}

func NewOrchestrator(js store.JobStore, stages ...Stage) *Orchestrator {
	return &Orchestrator{store: js, stages: stages, now: time.Now}
}

// Run executes the pipeline for d. On success the result bundle and the
// completed status are written together; on failure the job is marked failed
// with the stage-tagged error message. Either way exactly one terminal write
// happens.
func (o *Orchestrator) Run(ctx context.Context, d models.JobDescriptor) (*models.ResultBundle, error) {
	logger := log.WithField("job_id", d.ID)

	job, err := o.store.GetJob(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", d.ID, err)
	}
	switch {
	case job.Status.IsTerminal():
		logger.WithField("status", job.Status).Warn("Job already finished, refusing to run again")
		return nil, fmt.Errorf("job %s is %s: %w", d.ID, job.Status, ErrTerminalStateConflict)
	case job.Status == models.JobStatusProcessing:
		return nil, fmt.Errorf("job %s: %w", d.ID, ErrJobInProgress)
	}

	if err := o.store.SetStatus(ctx, d.ID, models.JobStatusProcessing, ""); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("job %s: %w", d.ID, ErrJobInProgress)
		}
		return nil, fmt.Errorf("mark job %s processing: %w", d.ID, err)
	}
	logger.Info("Job processing started")
	started := o.now()

	st := &State{
		Job:         job,
		Descriptor:  d,
		Predictions: make(map[models.Target]*models.PredictionResult),
	}
	for _, stage := range o.stages {
		if err := o.runStage(ctx, stage, st); err != nil {
			return nil, o.fail(ctx, d, err)
		}
	}

	bundle, err := assembleBundle(st, o.now().UTC())
	if err != nil {
		return nil, o.fail(ctx, d, err)
	}
	if err := o.store.SaveResult(ctx, bundle); err != nil {
		return nil, o.fail(ctx, d, fmt.Errorf("persist result: %w", err))
	}

	logger.WithFields(log.Fields{
		"duration":      o.now().Sub(started).Round(time.Millisecond),
		"soc_mean":      bundle.SOC.Stats.Mean,
		"moisture_mean": bundle.Moisture.Stats.Mean,
		"report_key":    bundle.Report.ReportKey,
	}).Info("Job completed")
	return bundle, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, st *State) (err error) {
	name := stage.Name()
	logger := log.WithFields(log.Fields{"job_id": st.Descriptor.ID, "stage": name})
	defer func() {
		if r := recover(); r != nil {
			err = models.StageErrorf(name, "panic: %v", r)
		}
		if err != nil {
			if _, tagged := models.StageOf(err); !tagged {
				err = models.NewPipelineError(name, err)
			}
			logger.WithError(err).Error("Stage failed")
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	start := o.now()
	logger.Info("Stage started")
	if err := stage.Run(ctx, st); err != nil {
		return err
	}
	logger.WithField("duration", o.now().Sub(start).Round(time.Millisecond)).Info("Stage finished")
	return nil
}

// fail writes the failed status once and returns cause. The write uses a
// context detached from cancellation so a cancelled run is still recorded.
func (o *Orchestrator) fail(ctx context.Context, d models.JobDescriptor, cause error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.SetStatus(writeCtx, d.ID, models.JobStatusFailed, cause.Error()); err != nil {
		log.WithField("job_id", d.ID).WithError(err).Error("Failed to record job failure")
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	log.WithField("job_id", d.ID).WithError(cause).Warn("Job failed")
	return cause
}

func assembleBundle(st *State, now time.Time) (*models.ResultBundle, error) {
	soc, ok := st.Predictions[models.TargetSOC]
	if !ok || soc == nil {
		return nil, models.StageErrorf(models.StageInference, "no %s prediction produced", models.TargetSOC)
	}
	moisture, ok := st.Predictions[models.TargetMoisture]
	if !ok || moisture == nil {
		return nil, models.StageErrorf(models.StageInference, "no %s prediction produced", models.TargetMoisture)
	}
	if st.Report.ReportKey == "" {
		return nil, models.StageErrorf(models.StageReporting, "no report produced")
	}
	return &models.ResultBundle{
		JobID:     st.Descriptor.ID,
		SOC:       *soc,
		Moisture:  *moisture,
		Report:    st.Report,
		CreatedAt: now,
	}, nil
}
