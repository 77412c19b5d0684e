package models

import (
	"time"

	"github.com/google/uuid"

	"soilscope/internal/raster"
)

// Target is a soil property the inference step predicts.
type Target string

const (
	TargetSOC      Target = "soc"
	TargetMoisture Target = "moisture"
)

// Targets lists the properties every job predicts, in run order.
var Targets = []Target{TargetSOC, TargetMoisture}

// Statistics summarise a prediction raster after rescaling.
type Statistics struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// PredictionResult is the output for one target. Raster is nil when the
// result was loaded back from a store, which keeps only the statistics.
type PredictionResult struct {
	Target       Target        `json:"target"`
	Raster       *raster.Image `json:"-"`
	Stats        Statistics    `json:"stats"`
	Unit         string        `json:"unit"`
	ModelVersion string        `json:"model_version"`
}

// ReportReference is the opaque handle returned by the report composer.
type ReportReference struct {
	ReportKey      string `json:"report_key"`
	SOCMapKey      string `json:"soc_map_key,omitempty"`
	MoistureMapKey string `json:"moisture_map_key,omitempty"`
}

// ResultBundle is created once per completed job and never modified.
type ResultBundle struct {
	JobID     uuid.UUID        `json:"job_id"`
	SOC       PredictionResult `json:"soc"`
	Moisture  PredictionResult `json:"moisture"`
	Report    ReportReference  `json:"report"`
	CreatedAt time.Time        `json:"created_at"`
}
