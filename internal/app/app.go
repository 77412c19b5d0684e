package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"soilscope/internal/blob"
	"soilscope/internal/config"
	"soilscope/internal/inference"
	"soilscope/internal/ingest"
	"soilscope/internal/models"
	"soilscope/internal/pipeline"
	"soilscope/internal/preprocess"
	"soilscope/internal/raster"
	"soilscope/internal/report"
	"soilscope/internal/services"
	"soilscope/internal/store"
	"soilscope/internal/store/memory"
	"soilscope/internal/store/primary"
	"soilscope/internal/store/sqlite"
	"soilscope/internal/worker"
)

type App struct {
	Config *config.Config

	JobStore  store.JobStore
	JobClient store.JobClient
	Blobs     blob.Store

	Adapter      ingest.Adapter
	Processor    *preprocess.Processor
	Engine       *inference.Engine
	Narrator     report.Narrator
	Composer     report.Composer
	Orchestrator *pipeline.Orchestrator

	JobService *services.JobService
}

// Options adjust initialisation for commands that do not need every
// dependency.
type Options struct {
	// NoQueue skips the asynq client; submitted jobs stay pending.
	NoQueue bool
}

func NewApp(cfg *config.Config, opts Options) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg}

	if err := app.initJobStore(ctx); err != nil {
		return nil, err
	}
	if !opts.NoQueue {
		if err := app.initJobClient(); err != nil {
			app.cleanupPartialInit()
			return nil, err
		}
	}
	if err := app.initBlobStore(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initEngine(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initNarrator(ctx)
	app.initPipeline()
	app.JobService = services.NewJobService(services.JobServiceDeps{
		Store:     app.JobStore,
		JobClient: app.JobClient,
		Blobs:     app.Blobs,
	})

	log.WithField("database", cfg.Database.Driver).Debug("Application initialization complete")
	return app, nil
}

func (a *App) initJobStore(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case "postgres":
		ps, err := primary.NewPrimaryStore(ctx, a.Config.Database.Primary.DSN)
		if err != nil {
			return fmt.Errorf("init primary store: %w", err)
		}
		a.JobStore = ps
	case "sqlite":
		s, err := sqlite.Open(ctx, a.Config.Database.SQLite.Path)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.JobStore = s
	case "memory":
		a.JobStore = memory.New()
	default:
		return fmt.Errorf("unknown database driver %q", a.Config.Database.Driver)
	}
	return nil
}

// RedisOpt is the asynq connection shared by the client, server and
// scheduler.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

func (a *App) initJobClient() error {
	jc, err := store.NewAsynqJobClient(a.RedisOpt(), a.JobStore, a.Config.Worker.MaxRetry, a.Config.Worker.TaskTimeout)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	return nil
}

func (a *App) initBlobStore() error {
	dir := a.Config.Report.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report output dir %s: %w", dir, err)
	}
	a.Blobs = blob.LocalFS{Root: dir}
	return nil
}

func (a *App) initEngine() error {
	cfg := a.Config.Inference
	ms := make(map[models.Target]inference.Model, len(models.Targets))
	specs := make(map[models.Target]inference.TargetSpec, len(models.Targets))
	for i, target := range models.Targets {
		tc, ok := cfg.Targets[string(target)]
		if !ok {
			return fmt.Errorf("no inference config for target %s", target)
		}
		specs[target] = inference.TargetSpec{Scale: tc.Scale, Offset: tc.Offset, Unit: tc.Unit}
		if tc.WeightsPath != "" {
			m, err := inference.LoadSoilCNN(tc.WeightsPath)
			if err != nil {
				return fmt.Errorf("load %s model: %w", target, err)
			}
			ms[target] = m
			continue
		}
		seed := cfg.ModelSeed + uint64(i)
		ms[target] = inference.NewSoilCNN(fmt.Sprintf("soilcnn-%s-seed%d", target, seed),
			inference.DefaultInputChannels, inference.DefaultHiddenChannels, seed)
	}
	if err := checkModelInputs(a.Config.Sensors(), ms); err != nil {
		return err
	}
	engine, err := inference.NewEngine(cfg.ScaleFactor, ms, specs)
	if err != nil {
		return fmt.Errorf("init inference engine: %w", err)
	}
	a.Engine = engine
	return nil
}

// checkModelInputs refuses models whose input width differs from the
// feature stack the configured sensors produce. The first sensor is the
// stack reference.
func checkModelInputs(sensors []raster.SensorKind, ms map[models.Target]inference.Model) error {
	if len(sensors) == 0 {
		return fmt.Errorf("no ingest sensors configured")
	}
	want := preprocess.StackChannels(sensors[0])
	for _, target := range models.Targets {
		m, ok := ms[target]
		if !ok {
			continue
		}
		if got := m.InputChannels(); got != want {
			return fmt.Errorf("%s model %s expects %d input channels, but ingest.sensors %v stacks %d (%d %s bands + %d indices)",
				target, m.Version(), got, sensors, want, sensors[0].SpectralBands(), sensors[0], preprocess.IndexChannels)
		}
	}
	return nil
}

func (a *App) initNarrator(ctx context.Context) {
	n := a.Config.Report.Narrative
	prompt, err := config.LoadPromptContent(n.Prompt)
	if err != nil {
		log.Warnf("Failed to load narrative prompt: %v. Using the built-in prompt.", err)
		prompt = ""
	}
	a.Narrator = report.NewNarrator(ctx, report.NarratorConfig{
		Provider:     n.Provider,
		Model:        n.Model,
		OpenAIAPIKey: n.OpenaiApiKey,
		GeminiAPIKey: n.GeminiApiKey,
		SystemPrompt: prompt,
	})
}

func (a *App) initPipeline() {
	cfg := a.Config
	a.Adapter = ingest.NewSyntheticAdapter(cfg.Ingest.Width, cfg.Ingest.Height, cfg.Ingest.Seed)
	a.Processor = preprocess.NewProcessor(preprocess.NewIndexCalculator(cfg.Preprocess.SWIRSeed), cfg.Preprocess.Parallelism)
	a.Composer = report.NewHTMLComposer(a.Blobs, a.Narrator)
	a.Orchestrator = pipeline.NewOrchestrator(a.JobStore, pipeline.DefaultStages(pipeline.Deps{
		Adapter:   a.Adapter,
		Sensors:   cfg.Sensors(),
		Processor: a.Processor,
		Engine:    a.Engine,
		Composer:  a.Composer,
	})...)
}

// WorkerDeps returns the asynq handler dependencies.
func (a *App) WorkerDeps() worker.Deps {
	return worker.Deps{
		Store:      a.JobStore,
		Runner:     a.Orchestrator,
		StaleAfter: a.Config.Reconcile.StaleAfter,
		Now:        time.Now,
	}
}

// Close releases every held resource.
func (a *App) Close() error {
	a.cleanupPartialInit()
	return nil
}

func (a *App) cleanupPartialInit() {
	if a.JobClient != nil {
		if err := a.JobClient.Close(); err != nil {
			log.Printf("Error closing job client: %v", err)
		}
	}
	if c, ok := a.Narrator.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Printf("Error closing narrator: %v", err)
		}
	}
	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			log.Printf("Error closing job store: %v", err)
		}
	}
}
