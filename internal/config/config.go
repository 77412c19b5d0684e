package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TargetConfig maps raw model output onto physical units for one target.
type TargetConfig struct {
	Scale       float64 `mapstructure:"scale"`
	Offset      float64 `mapstructure:"offset"`
	Unit        string  `mapstructure:"unit"`
	WeightsPath string  `mapstructure:"weights_path"` // empty: seeded weights
}

type Config struct {
	Database struct {
		Driver  string `mapstructure:"driver"` // postgres, sqlite or memory
		Primary struct {
			DSN string `mapstructure:"dsn"`
		} `mapstructure:"primary"`
		SQLite struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"sqlite"`
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
		MaxRetry    int            `mapstructure:"max_retry"`
		TaskTimeout time.Duration  `mapstructure:"task_timeout"`
	} `mapstructure:"worker"`

	Ingest struct {
		Width   int      `mapstructure:"width"`
		Height  int      `mapstructure:"height"`
		Seed    uint64   `mapstructure:"seed"`
		Sensors []string `mapstructure:"sensors"`
	} `mapstructure:"ingest"`

	Preprocess struct {
		Parallelism int    `mapstructure:"parallelism"`
		SWIRSeed    uint64 `mapstructure:"swir_seed"`
	} `mapstructure:"preprocess"`

	Inference struct {
		ScaleFactor float64                 `mapstructure:"scale_factor"`
		ModelSeed   uint64                  `mapstructure:"model_seed"`
		Targets     map[string]TargetConfig `mapstructure:"targets"`
	} `mapstructure:"inference"`

	Report struct {
		OutputDir string `mapstructure:"output_dir"`
		Narrative struct {
			Provider     string `mapstructure:"provider"` // none, openai, gemini
			Model        string `mapstructure:"model"`
			Prompt       string `mapstructure:"prompt"` // optional prompt file
			OpenaiApiKey string `mapstructure:"openai_api_key"`
			GeminiApiKey string `mapstructure:"gemini_api_key"`
		} `mapstructure:"narrative"`
	} `mapstructure:"report"`

	Reconcile struct {
		StaleAfter time.Duration `mapstructure:"stale_after"`
		Schedule   string        `mapstructure:"schedule"` // asynq cron spec
	} `mapstructure:"reconcile"`

	Server struct {
		Addr string `mapstructure:"addr"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text or json
	} `mapstructure:"log"`
}

// ListenAddr is host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// SetDefaults registers every key so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.primary.dsn", "")
	v.SetDefault("database.sqlite.path", "soilscope.db")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queues", map[string]int{"analysis": 6, "maintenance": 1})
	v.SetDefault("worker.max_retry", 3)
	v.SetDefault("worker.task_timeout", 30*time.Minute)

	v.SetDefault("ingest.width", 100)
	v.SetDefault("ingest.height", 100)
	v.SetDefault("ingest.seed", 42)
	v.SetDefault("ingest.sensors", []string{"sentinel2", "landsat"})

	v.SetDefault("preprocess.parallelism", 0)
	v.SetDefault("preprocess.swir_seed", 42)

	v.SetDefault("inference.scale_factor", 10000.0)
	v.SetDefault("inference.model_seed", 42)
	v.SetDefault("inference.targets", map[string]any{
		"soc":      map[string]any{"scale": 50.0, "offset": 50.0, "unit": "g/kg"},
		"moisture": map[string]any{"scale": 25.0, "offset": 25.0, "unit": "%"},
	})

	v.SetDefault("report.output_dir", "data")
	v.SetDefault("report.narrative.provider", "none")
	v.SetDefault("report.narrative.model", "")
	v.SetDefault("report.narrative.prompt", "")
	v.SetDefault("report.narrative.openai_api_key", "")
	v.SetDefault("report.narrative.gemini_api_key", "")

	v.SetDefault("reconcile.stale_after", time.Hour)
	v.SetDefault("reconcile.schedule", "@every 10m")

	v.SetDefault("server.addr", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yaml from the working directory (optional) and
// the environment into the global viper instance.
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper(), "")
}

// Load reads configuration into v. configFile overrides the config.yaml
// search when set.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SOILSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional names work without the prefix.
	_ = v.BindEnv("report.narrative.openai_api_key", "SOILSCOPE_REPORT_NARRATIVE_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("report.narrative.gemini_api_key", "SOILSCOPE_REPORT_NARRATIVE_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.primary.dsn", "SOILSCOPE_DATABASE_PRIMARY_DSN", "DATABASE_URL")
	_ = v.BindEnv("redis.address", "SOILSCOPE_REDIS_ADDRESS", "REDIS_ADDR")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &config, nil
}
