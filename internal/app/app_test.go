package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/config"
	"soilscope/internal/geo"
	"soilscope/internal/inference"
	"soilscope/internal/models"
	"soilscope/internal/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Database.Driver = "memory"
	cfg.Ingest.Width, cfg.Ingest.Height = 12, 12
	cfg.Report.OutputDir = t.TempDir()
	cfg.Report.Narrative.Provider = "none"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_MemoryRunEndToEnd(t *testing.T) {
	a, err := NewApp(testConfig(t), Options{NoQueue: true})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.JobClient)

	region, err := geo.MarshalPolygon(geo.Rect(0, 0, 1, 1))
	require.NoError(t, err)
	job, err := a.JobService.Submit(context.Background(), services.SubmitParams{
		Region: region,
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	d, err := job.Descriptor()
	require.NoError(t, err)

	bundle, err := a.Orchestrator.Run(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, a.Blobs.Exists(bundle.Report.ReportKey))

	got, err := a.JobService.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestNewApp_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err := NewApp(cfg, Options{NoQueue: true})
	assert.Error(t, err)
}

func TestNewApp_MissingWeights(t *testing.T) {
	cfg := testConfig(t)
	soc := cfg.Inference.Targets["soc"]
	soc.WeightsPath = "/nonexistent/soc.json"
	cfg.Inference.Targets["soc"] = soc
	_, err := NewApp(cfg, Options{NoQueue: true})
	assert.ErrorContains(t, err, "load soc model")
}

func TestSetupLogging(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() {
		log.SetLevel(prev)
		log.SetFormatter(&log.TextFormatter{})
	})

	cfg := testConfig(t)
	cfg.Log.Level, cfg.Log.Format = "debug", "json"
	require.NoError(t, SetupLogging(cfg))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	cfg.Log.Level = "loud"
	assert.Error(t, SetupLogging(cfg))
	cfg.Log.Level, cfg.Log.Format = "info", "xml"
	assert.Error(t, SetupLogging(cfg))
}

func TestNewApp_RejectsStackModelMismatch(t *testing.T) {
	for _, sensors := range [][]string{{"landsat", "sentinel2"}, {"landsat"}} {
		cfg := testConfig(t)
		cfg.Ingest.Sensors = sensors
		require.NoError(t, cfg.Validate())

		_, err := NewApp(cfg, Options{NoQueue: true})
		assert.ErrorContains(t, err, "expects 7 input channels", "sensors %v", sensors)
	}
}

func TestNewApp_LandsatReferenceWithMatchingWeights(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.Sensors = []string{"landsat", "sentinel2"}
	dir := t.TempDir()
	for i, name := range []string{"soc", "moisture"} {
		path := filepath.Join(dir, name+".json")
		require.NoError(t, inference.NewSoilCNN("landsat-"+name, 9, 4, uint64(i)).Save(path))
		tc := cfg.Inference.Targets[name]
		tc.WeightsPath = path
		cfg.Inference.Targets[name] = tc
	}

	a, err := NewApp(cfg, Options{NoQueue: true})
	require.NoError(t, err)
	defer a.Close()

	region, err := geo.MarshalPolygon(geo.Rect(0, 0, 1, 1))
	require.NoError(t, err)
	job, err := a.JobService.Submit(context.Background(), services.SubmitParams{
		Region: region,
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	d, err := job.Descriptor()
	require.NoError(t, err)
	_, err = a.Orchestrator.Run(context.Background(), d)
	require.NoError(t, err)
}
