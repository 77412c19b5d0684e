package config

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"soilscope/internal/raster"
)

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Primary.DSN == "" {
			return errors.New("database.primary.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver)
	}

	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if len(c.Worker.Queues) == 0 {
		return errors.New("worker.queues must define at least one queue")
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty queue name")
		}
		if priority <= 0 {
			return fmt.Errorf("worker.queues priority for queue '%s' must be positive", name)
		}
	}
	if c.Worker.MaxRetry < 0 {
		return errors.New("worker.max_retry must not be negative")
	}

	if c.Ingest.Width <= 0 || c.Ingest.Height <= 0 {
		return fmt.Errorf("ingest grid must be positive, got %dx%d", c.Ingest.Width, c.Ingest.Height)
	}
	if len(c.Ingest.Sensors) == 0 {
		return errors.New("ingest.sensors must list at least one sensor")
	}
	for _, s := range c.Ingest.Sensors {
		if _, err := raster.ParseSensorKind(s); err != nil {
			return fmt.Errorf("ingest.sensors: %w", err)
		}
	}

	if c.Inference.ScaleFactor <= 0 {
		return errors.New("inference.scale_factor must be positive")
	}
	for _, name := range []string{"soc", "moisture"} {
		t, ok := c.Inference.Targets[name]
		if !ok {
			return fmt.Errorf("inference.targets.%s is required", name)
		}
		if t.Scale <= 0 {
			return fmt.Errorf("inference.targets.%s.scale must be positive", name)
		}
	}

	if c.Report.OutputDir == "" {
		return errors.New("report.output_dir is required")
	}
	switch c.Report.Narrative.Provider {
	case "", "none":
	case "openai":
		if c.Report.Narrative.OpenaiApiKey == "" {
			log.Warn("report.narrative.provider is openai but no API key is set; narratives will be skipped")
		}
	case "gemini":
		if c.Report.Narrative.GeminiApiKey == "" {
			log.Warn("report.narrative.provider is gemini but no API key is set; narratives will be skipped")
		}
	default:
		return fmt.Errorf("report.narrative.provider must be none, openai or gemini, got %q", c.Report.Narrative.Provider)
	}

	if c.Reconcile.StaleAfter <= 0 {
		return errors.New("reconcile.stale_after must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Sensors returns the configured sensor kinds in order.
func (c *Config) Sensors() []raster.SensorKind {
	out := make([]raster.SensorKind, 0, len(c.Ingest.Sensors))
	for _, s := range c.Ingest.Sensors {
		if k, err := raster.ParseSensorKind(s); err == nil {
			out = append(out, k)
		}
	}
	return out
}
