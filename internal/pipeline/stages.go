package pipeline

import (
	"context"
	"fmt"

	"soilscope/internal/inference"
	"soilscope/internal/ingest"
	"soilscope/internal/models"
	"soilscope/internal/preprocess"
	"soilscope/internal/raster"
	"soilscope/internal/report"
)

// Deps are the collaborators of the default stage list.
type Deps struct {
	Adapter   ingest.Adapter
	Sensors   []raster.SensorKind
	Processor *preprocess.Processor
	Engine    *inference.Engine
	Composer  report.Composer
}

// DefaultStages returns ingestion, preprocessing, inference and reporting in
// that order.
func DefaultStages(d Deps) []Stage {
	sensors := d.Sensors
	if len(sensors) == 0 {
		sensors = []raster.SensorKind{raster.Sentinel2, raster.Landsat}
	}
	return []Stage{
		&IngestionStage{Adapter: d.Adapter, Sensors: sensors},
		&PreprocessingStage{Processor: d.Processor},
		&InferenceStage{Engine: d.Engine},
		&ReportingStage{Composer: d.Composer},
	}
}

// IngestionStage fetches raw inputs and enforces the ingestion contract.
type IngestionStage struct {
	Adapter ingest.Adapter
	Sensors []raster.SensorKind
}

func (s *IngestionStage) Name() models.Stage { return models.StageIngestion }

func (s *IngestionStage) Run(ctx context.Context, st *State) error {
	if err := st.Descriptor.Validate(); err != nil {
		return models.NewPipelineError(models.StageIngestion, err)
	}
	raw, err := s.Adapter.Fetch(ctx, st.Descriptor.Region, st.Descriptor.Start, st.Descriptor.End)
	if err != nil {
		return err
	}
	if err := ingest.Validate(raw, s.Sensors); err != nil {
		return err
	}
	st.Raw = raw
	st.Scenes = st.Scenes[:0]
	for _, kind := range s.Sensors {
		for _, img := range raw.Images(kind) {
			st.Scenes = append(st.Scenes, preprocess.Scene{Image: img, Sensor: kind})
		}
	}
	return nil
}

// PreprocessingStage masks clouds, computes indices and assembles the
// feature stack. The first scene of the first requested sensor is the
// stack reference.
type PreprocessingStage struct {
	Processor *preprocess.Processor
}

func (s *PreprocessingStage) Name() models.Stage { return models.StagePreprocessing }

func (s *PreprocessingStage) Run(ctx context.Context, st *State) error {
	if len(st.Scenes) == 0 {
		return models.StageErrorf(models.StagePreprocessing, "no scenes to preprocess")
	}
	processed, err := s.Processor.Process(ctx, st.Scenes)
	if err != nil {
		return err
	}
	images := make([]*raster.Image, len(processed))
	indices := make([]*preprocess.SpectralIndexSet, len(processed))
	for i, p := range processed {
		images[i] = p.Masked.Image
		indices[i] = p.Indices
	}
	stack, err := preprocess.Assemble(images, indices)
	if err != nil {
		return err
	}
	st.Processed = processed
	st.Stack = stack
	return nil
}

// InferenceStage predicts every target the engine carries.
type InferenceStage struct {
	Engine *inference.Engine
}

func (s *InferenceStage) Name() models.Stage { return models.StageInference }

func (s *InferenceStage) Run(ctx context.Context, st *State) error {
	for _, target := range models.Targets {
		pred, err := s.Engine.Predict(ctx, st.Stack, target)
		if err != nil {
			return err
		}
		st.Predictions[target] = pred
	}
	return nil
}

// ReportingStage renders and stores the report.
type ReportingStage struct {
	Composer report.Composer
}

func (s *ReportingStage) Name() models.Stage { return models.StageReporting }

func (s *ReportingStage) Run(ctx context.Context, st *State) error {
	ref, err := s.Composer.Compose(ctx, reportInput(st))
	if err != nil {
		return err
	}
	st.Report = ref
	return nil
}

func reportInput(st *State) report.Input {
	in := report.Input{
		JobID:      st.Descriptor.ID,
		RegionName: st.Job.RegionName,
		Start:      st.Descriptor.Start,
		End:        st.Descriptor.End,
		SOC:        st.Predictions[models.TargetSOC],
		Moisture:   st.Predictions[models.TargetMoisture],
	}
	if st.Stack != nil {
		for _, l := range st.Stack.Labels() {
			in.FeatureBands = append(in.FeatureBands, string(l))
		}
	}
	if st.Raw == nil {
		return in
	}

	masked := map[raster.SensorKind]int{}
	for _, p := range st.Processed {
		masked[p.Masked.Sensor] += p.Masked.MaskedCount()
	}
	if n := len(st.Raw.Sentinel); n > 0 {
		in.Sources = append(in.Sources, report.DataSource{
			Name:   "Sentinel-2",
			Detail: fmt.Sprintf("%d scene(s), %d cloud-masked pixel(s)", n, masked[raster.Sentinel2]),
		})
	}
	if n := len(st.Raw.Landsat); n > 0 {
		in.Sources = append(in.Sources, report.DataSource{
			Name:   "Landsat 8/9",
			Detail: fmt.Sprintf("%d scene(s), %d cloud-masked pixel(s)", n, masked[raster.Landsat]),
		})
	}
	if st.Raw.Soil != nil {
		in.Sources = append(in.Sources, report.DataSource{
			Name:   "SoilGrids",
			Detail: fmt.Sprintf("reference SOC grid %dx%d", st.Raw.Soil.Width, st.Raw.Soil.Height),
		})
	}
	in.Weather = report.SummarizeWeather(st.Raw.Weather)
	return in
}
