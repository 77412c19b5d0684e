package inference

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"soilscope/internal/models"
	"soilscope/internal/preprocess"
	"soilscope/internal/raster"
)

// DefaultScaleFactor converts reflectance integers to [0, 1].
const DefaultScaleFactor = 10000.0

// TargetSpec maps raw model output in [-1, 1] to physical units:
// value = raw*Scale + Offset.
type TargetSpec struct {
	Scale  float64
	Offset float64
	Unit   string
}

// DefaultTargetSpecs puts SOC in [0, 100] g/kg and moisture in [0, 50] %.
func DefaultTargetSpecs() map[models.Target]TargetSpec {
	return map[models.Target]TargetSpec{
		models.TargetSOC:      {Scale: 50, Offset: 50, Unit: "g/kg"},
		models.TargetMoisture: {Scale: 25, Offset: 25, Unit: "%"},
	}
}

var targetBand = map[models.Target]raster.BandLabel{
	models.TargetSOC:      raster.BandSOC,
	models.TargetMoisture: raster.BandMoisture,
}

// Engine owns one model per target.
type Engine struct {
	scaleFactor float64
	models      map[models.Target]Model
	specs       map[models.Target]TargetSpec
}

// NewEngine requires a model and a spec for every target it is given.
func NewEngine(scaleFactor float64, modelsByTarget map[models.Target]Model, specs map[models.Target]TargetSpec) (*Engine, error) {
	if scaleFactor <= 0 {
		return nil, fmt.Errorf("scale factor must be positive, got %v", scaleFactor)
	}
	if len(modelsByTarget) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}
	for t, m := range modelsByTarget {
		if m == nil {
			return nil, fmt.Errorf("model for target %s is nil", t)
		}
		if _, ok := specs[t]; !ok {
			return nil, fmt.Errorf("no target spec for %s", t)
		}
	}
	return &Engine{scaleFactor: scaleFactor, models: modelsByTarget, specs: specs}, nil
}

// NewSeededEngine builds SoilCNN models for every default target from seed.
func NewSeededEngine(scaleFactor float64, seed uint64) (*Engine, error) {
	ms := make(map[models.Target]Model, len(models.Targets))
	for i, t := range models.Targets {
		ms[t] = NewSoilCNN(fmt.Sprintf("soilcnn-%s-seed%d", t, seed), DefaultInputChannels, DefaultHiddenChannels, seed+uint64(i))
	}
	return NewEngine(scaleFactor, ms, DefaultTargetSpecs())
}

// Targets lists the targets this engine can predict.
func (e *Engine) Targets() []models.Target {
	out := make([]models.Target, 0, len(e.models))
	for _, t := range models.Targets {
		if _, ok := e.models[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Predict runs the model for target over the stack. All failures are
// inference-stage pipeline errors.
func (e *Engine) Predict(ctx context.Context, stack *preprocess.FeatureStack, target models.Target) (*models.PredictionResult, error) {
	m, ok := e.models[target]
	if !ok {
		return nil, models.StageErrorf(models.StageInference, "no model loaded for target %s", target)
	}
	spec := e.specs[target]
	if stack == nil {
		return nil, models.StageErrorf(models.StageInference, "feature stack is nil")
	}
	if stack.Channels() != m.InputChannels() {
		return nil, models.StageErrorf(models.StageInference,
			"model %s expects %d channels, stack has %d (%v)", m.Version(), m.InputChannels(), stack.Channels(), stack.Labels())
	}

	input, err := FromStack(stack, e.scaleFactor)
	if err != nil {
		return nil, models.NewPipelineError(models.StageInference, err)
	}
	out, err := m.Forward(ctx, input)
	if err != nil {
		return nil, models.NewPipelineError(models.StageInference, fmt.Errorf("forward %s: %w", target, err))
	}
	plane := stack.Width * stack.Height
	if len(out.Data) != plane {
		return nil, models.StageErrorf(models.StageInference,
			"model %s returned %d values, want %d", m.Version(), len(out.Data), plane)
	}

	values := make([]float64, plane)
	for i, v := range out.Data {
		values[i] = v*spec.Scale + spec.Offset
	}
	stats, err := ComputeStatistics(values)
	if err != nil {
		return nil, models.NewPipelineError(models.StageInference, fmt.Errorf("statistics for %s: %w", target, err))
	}
	img, err := raster.New(stack.Width, stack.Height, stack.Transform, stack.CRS, 0,
		raster.Band{Label: targetBand[target], Data: values})
	if err != nil {
		return nil, models.NewPipelineError(models.StageInference, err)
	}

	log.WithFields(log.Fields{
		"target": target,
		"model":  m.Version(),
		"mean":   stats.Mean,
		"std":    stats.Std,
	}).Debug("Prediction complete")

	return &models.PredictionResult{
		Target:       target,
		Raster:       img,
		Stats:        stats,
		Unit:         spec.Unit,
		ModelVersion: m.Version(),
	}, nil
}
