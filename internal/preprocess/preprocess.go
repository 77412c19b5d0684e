package preprocess

import (
	"context"

	"golang.org/x/sync/errgroup"

	"soilscope/internal/models"
	"soilscope/internal/raster"
)

// Scene pairs a raw image with the sensor that produced it.
type Scene struct {
	Image  *raster.Image
	Sensor raster.SensorKind
}

// Processed is the per-scene output of masking and index computation.
type Processed struct {
	Masked  *MaskedImage
	Indices *SpectralIndexSet
}

// Processor runs the per-scene steps. Masking and index computation are
// pure, so scenes are processed concurrently; output order matches input.
type Processor struct {
	Indices     *IndexCalculator
	Parallelism int
}

// NewProcessor returns a processor using calc; parallelism <= 0 means one
// goroutine per scene.
func NewProcessor(calc *IndexCalculator, parallelism int) *Processor {
	return &Processor{Indices: calc, Parallelism: parallelism}
}

// Process masks each scene and computes its indices.
func (p *Processor) Process(ctx context.Context, scenes []Scene) ([]Processed, error) {
	out := make([]Processed, len(scenes))
	g, ctx := errgroup.WithContext(ctx)
	if p.Parallelism > 0 {
		g.SetLimit(p.Parallelism)
	}
	for i, sc := range scenes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return models.NewPipelineError(models.StagePreprocessing, err)
			}
			masked, err := Mask(sc.Image, sc.Sensor)
			if err != nil {
				return err
			}
			idx, err := p.Indices.Compute(masked)
			if err != nil {
				return err
			}
			out[i] = Processed{Masked: masked, Indices: idx}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
