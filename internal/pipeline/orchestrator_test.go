package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"soilscope/internal/blob"
	"soilscope/internal/geo"
	"soilscope/internal/inference"
	"soilscope/internal/ingest"
	"soilscope/internal/models"
	"soilscope/internal/preprocess"
	"soilscope/internal/raster"
	"soilscope/internal/report"
	"soilscope/internal/store"
	"soilscope/internal/store/memory"
)

func unitSquareJob(t *testing.T, js store.JobStore) models.JobDescriptor {
	t.Helper()
	d := models.JobDescriptor{
		ID:     uuid.New(),
		Region: geo.Rect(0, 0, 1, 1),
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	job, err := models.NewJob(d, "")
	require.NoError(t, err)
	require.NoError(t, js.CreateJob(context.Background(), job))
	return d
}

func defaultDeps(t *testing.T, adapter ingest.Adapter) (Deps, blob.Store) {
	t.Helper()
	engine, err := inference.NewSeededEngine(inference.DefaultScaleFactor, 42)
	require.NoError(t, err)
	blobs := blob.LocalFS{Root: t.TempDir()}
	return Deps{
		Adapter:   adapter,
		Processor: preprocess.NewProcessor(preprocess.NewIndexCalculator(42), 2),
		Engine:    engine,
		Composer:  report.NewHTMLComposer(blobs, nil),
	}, blobs
}

func TestRun_UnitSquareEndToEnd(t *testing.T) {
	ctx := context.Background()
	js := memory.New()
	d := unitSquareJob(t, js)
	deps, blobs := defaultDeps(t, ingest.NewSyntheticAdapter(100, 100, 42))

	var stack *preprocess.FeatureStack
	stages := append(DefaultStages(deps), stageFunc(models.StageReporting, func(_ context.Context, st *State) error {
		stack = st.Stack
		return nil
	}))

	bundle, err := NewOrchestrator(js, stages...).Run(ctx, d)
	require.NoError(t, err)

	require.NotNil(t, stack)
	assert.Equal(t, 7, stack.Channels())
	assert.Equal(t, 100, stack.Width)
	assert.Equal(t, 100, stack.Height)
	assert.Equal(t, []raster.BandLabel{raster.BandRed, raster.BandGreen, raster.BandBlue, raster.BandNIR,
		raster.BandNDVI, raster.BandEVI, raster.BandNDMI}, stack.Labels())

	soc := bundle.SOC.Stats
	assert.GreaterOrEqual(t, soc.Min, 0.0)
	assert.LessOrEqual(t, soc.Max, 100.0)
	assert.LessOrEqual(t, soc.Min, soc.Mean)
	assert.LessOrEqual(t, soc.Mean, soc.Max)
	moisture := bundle.Moisture.Stats
	assert.GreaterOrEqual(t, moisture.Min, 0.0)
	assert.LessOrEqual(t, moisture.Max, 50.0)
	assert.GreaterOrEqual(t, moisture.Std, 0.0)

	assert.True(t, blobs.Exists(bundle.Report.ReportKey))
	assert.True(t, strings.HasPrefix(bundle.Report.ReportKey, "reports/job_"+d.ID.String()))

	job, err := js.GetJob(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Nil(t, job.ErrorMessage)

	stored, err := js.GetResult(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, soc, stored.SOC.Stats)
}

type emptyAdapter struct{}

func (emptyAdapter) Fetch(context.Context, orb.Polygon, time.Time, time.Time) (*ingest.Result, error) {
	return &ingest.Result{Soil: &raster.Image{}}, nil
}

func TestRun_IngestionFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	js := memory.New()
	d := unitSquareJob(t, js)
	deps, _ := defaultDeps(t, emptyAdapter{})

	bundle, err := NewOrchestrator(js, DefaultStages(deps)...).Run(ctx, d)
	require.Error(t, err)
	assert.Nil(t, bundle)
	assert.True(t, models.IsStage(err, models.StageIngestion))

	job, err := js.GetJob(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.True(t, strings.HasPrefix(*job.ErrorMessage, "ingestion error"), *job.ErrorMessage)

	_, err = js.GetResult(ctx, d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type stageFn struct {
	name models.Stage
	fn   func(context.Context, *State) error
}

func (s stageFn) Name() models.Stage                       { return s.name }
func (s stageFn) Run(ctx context.Context, st *State) error { return s.fn(ctx, st) }

func stageFunc(name models.Stage, fn func(context.Context, *State) error) Stage {
	return stageFn{name: name, fn: fn}
}

func TestRun_ProcessingIsNeverFinal(t *testing.T) {
	cases := map[string]Stage{
		"error": stageFunc(models.StageInference, func(context.Context, *State) error {
			return errors.New("boom")
		}),
		"pipeline error": stageFunc(models.StageInference, func(context.Context, *State) error {
			return models.StageErrorf(models.StagePreprocessing, "mismatch")
		}),
		"panic": stageFunc(models.StageReporting, func(context.Context, *State) error {
			panic("nil map")
		}),
		"no predictions": stageFunc(models.StageReporting, func(context.Context, *State) error {
			return nil
		}),
	}
	for name, stage := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			js := memory.New()
			d := unitSquareJob(t, js)

			_, err := NewOrchestrator(js, stage).Run(ctx, d)
			require.Error(t, err)
			_, tagged := models.StageOf(err)
			assert.True(t, tagged, "error should carry a stage: %v", err)

			job, err := js.GetJob(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusFailed, job.Status)
			require.NotNil(t, job.ErrorMessage)
		})
	}
}

func TestRun_UntaggedErrorGetsRunningStage(t *testing.T) {
	js := memory.New()
	d := unitSquareJob(t, js)
	_, err := NewOrchestrator(js, stageFunc(models.StageInference, func(context.Context, *State) error {
		return errors.New("model file missing")
	})).Run(context.Background(), d)
	assert.True(t, models.IsStage(err, models.StageInference))
	assert.Equal(t, "inference error: model file missing", err.Error())
}

func TestRun_PanicIsTaggedWithRunningStage(t *testing.T) {
	js := memory.New()
	d := unitSquareJob(t, js)
	_, err := NewOrchestrator(js, stageFunc(models.StageReporting, func(context.Context, *State) error {
		panic("template exploded")
	})).Run(context.Background(), d)
	assert.True(t, models.IsStage(err, models.StageReporting))
	assert.Contains(t, err.Error(), "template exploded")
}

func TestRun_StagesRunInOrderAndStopAtFirstFailure(t *testing.T) {
	js := memory.New()
	d := unitSquareJob(t, js)
	var ran []models.Stage
	record := func(name models.Stage, err error) Stage {
		return stageFunc(name, func(context.Context, *State) error {
			ran = append(ran, name)
			return err
		})
	}
	_, err := NewOrchestrator(js,
		record(models.StageIngestion, nil),
		record(models.StagePreprocessing, errors.New("bad grid")),
		record(models.StageInference, nil),
	).Run(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, []models.Stage{models.StageIngestion, models.StagePreprocessing}, ran)
}

func TestRun_CancelledContextStillRecordsFailure(t *testing.T) {
	js := memory.New()
	d := unitSquareJob(t, js)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := NewOrchestrator(js, stageFunc(models.StageIngestion, func(context.Context, *State) error {
		cancel()
		return nil
	}), stageFunc(models.StagePreprocessing, func(context.Context, *State) error {
		t.Fatal("stage after cancellation must not run")
		return nil
	})).Run(ctx, d)
	require.ErrorIs(t, err, context.Canceled)

	job, err := js.GetJob(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestRun_SecondRunConflicts(t *testing.T) {
	ctx := context.Background()
	js := memory.New()
	d := unitSquareJob(t, js)
	deps, _ := defaultDeps(t, ingest.NewSyntheticAdapter(8, 8, 1))
	o := NewOrchestrator(js, DefaultStages(deps)...)

	_, err := o.Run(ctx, d)
	require.NoError(t, err)
	before, err := js.GetJob(ctx, d.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = o.Run(ctx, d)
		assert.ErrorIs(t, err, ErrTerminalStateConflict)
		assert.ErrorIs(t, err, models.ErrConflict)
	}
	after, err := js.GetJob(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type mockJobStore struct {
	mock.Mock
	store.JobStore
}

func (m *mockJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *mockJobStore) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	return m.Called(ctx, id, status, errMsg).Error(0)
}

func (m *mockJobStore) SaveResult(ctx context.Context, bundle *models.ResultBundle) error {
	return m.Called(ctx, bundle).Error(0)
}

func TestRun_RejectsWithoutWrites(t *testing.T) {
	cases := map[models.JobStatus]error{
		models.JobStatusCompleted:  ErrTerminalStateConflict,
		models.JobStatusFailed:     ErrTerminalStateConflict,
		models.JobStatusProcessing: ErrJobInProgress,
	}
	for status, want := range cases {
		t.Run(string(status), func(t *testing.T) {
			id := uuid.New()
			js := new(mockJobStore)
			js.On("GetJob", mock.Anything, id).Return(&models.Job{ID: id, Status: status}, nil)

			_, err := NewOrchestrator(js).Run(context.Background(), models.JobDescriptor{ID: id})
			assert.ErrorIs(t, err, want)
			js.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			js.AssertNotCalled(t, "SaveResult", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_WritesProcessingOnceThenOneTerminal(t *testing.T) {
	id := uuid.New()
	js := new(mockJobStore)
	js.On("GetJob", mock.Anything, id).Return(&models.Job{ID: id, Status: models.JobStatusQueued}, nil)
	js.On("SetStatus", mock.Anything, id, models.JobStatusProcessing, "").Return(nil).Once()
	js.On("SetStatus", mock.Anything, id, models.JobStatusFailed, "preprocessing error: bad grid").Return(nil).Once()

	_, err := NewOrchestrator(js, stageFunc(models.StagePreprocessing, func(context.Context, *State) error {
		return errors.New("bad grid")
	})).Run(context.Background(), models.JobDescriptor{ID: id})
	require.Error(t, err)
	js.AssertExpectations(t)
	js.AssertNumberOfCalls(t, "SetStatus", 2)
	js.AssertNotCalled(t, "SaveResult", mock.Anything, mock.Anything)
}

func TestRun_MissingJob(t *testing.T) {
	_, err := NewOrchestrator(memory.New()).Run(context.Background(), models.JobDescriptor{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
