package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/raster"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: memory\n")
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.Ingest.Width)
	assert.Equal(t, uint64(42), cfg.Ingest.Seed)
	assert.Equal(t, 10000.0, cfg.Inference.ScaleFactor)
	assert.Equal(t, TargetConfig{Scale: 50, Offset: 50, Unit: "g/kg"}, cfg.Inference.Targets["soc"])
	assert.Equal(t, TargetConfig{Scale: 25, Offset: 25, Unit: "%"}, cfg.Inference.Targets["moisture"])
	assert.Equal(t, time.Hour, cfg.Reconcile.StaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.Worker.TaskTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, []raster.SensorKind{raster.Sentinel2, raster.Landsat}, cfg.Sensors())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  primary:
    dsn: postgres://file
ingest:
  width: 32
  height: 16
  sensors: [landsat]
reconcile:
  stale_after: 15m
report:
  narrative:
    provider: openai
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SOILSCOPE_WORKER_CONCURRENCY", "9")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.Primary.DSN)
	assert.Equal(t, "sk-env", cfg.Report.Narrative.OpenaiApiKey)
	assert.Equal(t, 9, cfg.Worker.Concurrency)
	assert.Equal(t, 32, cfg.Ingest.Width)
	assert.Equal(t, 16, cfg.Ingest.Height)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.StaleAfter)
	assert.Equal(t, []raster.SensorKind{raster.Landsat}, cfg.Sensors())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load(viper.New(), writeConfig(t, "database:\n  driver: memory\n"))
		require.NoError(t, err)
		return cfg
	}
	cases := map[string]func(c *Config){
		"postgres without dsn": func(c *Config) { c.Database.Driver = "postgres" },
		"unknown driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"no redis":             func(c *Config) { c.Redis.Address = "" },
		"zero concurrency":     func(c *Config) { c.Worker.Concurrency = 0 },
		"bad queue priority":   func(c *Config) { c.Worker.Queues = map[string]int{"analysis": 0} },
		"empty grid":           func(c *Config) { c.Ingest.Width = 0 },
		"unknown sensor":       func(c *Config) { c.Ingest.Sensors = []string{"modis"} },
		"zero scale factor":    func(c *Config) { c.Inference.ScaleFactor = 0 },
		"missing target":       func(c *Config) { delete(c.Inference.Targets, "moisture") },
		"unknown narrator":     func(c *Config) { c.Report.Narrative.Provider = "llama" },
		"zero stale_after":     func(c *Config) { c.Reconcile.StaleAfter = 0 },
		"bad port":             func(c *Config) { c.Server.Port = 70000 },
		"bad log level":        func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadPromptContent(t *testing.T) {
	got, err := LoadPromptContent("")
	require.NoError(t, err)
	assert.Empty(t, got)

	path := filepath.Join(t.TempDir(), "narrative.txt")
	require.NoError(t, os.WriteFile(path, []byte("Be brief."), 0o600))
	got, err = LoadPromptContent(path)
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", got)

	_, err = LoadPromptContent(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
