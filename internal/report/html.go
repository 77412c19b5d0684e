package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"soilscope/internal/blob"
	"soilscope/internal/models"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

const (
	reportFile      = "report.html"
	socMapFile      = "soc_map.png"
	moistureMapFile = "moisture_map.png"
	histogramBins   = 10
)

// HTMLComposer writes two PNG maps and an HTML report to a blob store.
type HTMLComposer struct {
	Store    blob.Store
	Narrator Narrator
	Now      func() time.Time
}

var _ Composer = (*HTMLComposer)(nil)

func NewHTMLComposer(store blob.Store, narrator Narrator) *HTMLComposer {
	if narrator == nil {
		narrator = NoopNarrator{}
	}
	return &HTMLComposer{Store: store, Narrator: narrator, Now: time.Now}
}

type propertyView struct {
	Name         string
	Unit         string
	Stats        models.Statistics
	ModelVersion string
	MapFile      string
	Histogram    []Bin
}

type reportView struct {
	JobID        string
	RegionName   string
	StartDate    string
	EndDate      string
	Generated    string
	Properties   []propertyView
	Narrative    string
	Sources      []DataSource
	Weather      WeatherSummary
	FeatureBands []string
}

// Compose renders and stores the report. Any failure is a reporting-stage
// error; a failing narrator only drops the narrative.
func (c *HTMLComposer) Compose(ctx context.Context, in Input) (models.ReportReference, error) {
	if err := in.Validate(); err != nil {
		return models.ReportReference{}, models.NewPipelineError(models.StageReporting, err)
	}
	prefix := Prefix(in.JobID)
	logger := log.WithField("job_id", in.JobID)

	socKey, err := c.putMap(path.Join(prefix, socMapFile), in.SOC, SOCRamp)
	if err != nil {
		return models.ReportReference{}, models.NewPipelineError(models.StageReporting, err)
	}
	moistureKey, err := c.putMap(path.Join(prefix, moistureMapFile), in.Moisture, MoistureRamp)
	if err != nil {
		return models.ReportReference{}, models.NewPipelineError(models.StageReporting, err)
	}

	narrative := ""
	if c.Narrator != nil {
		narrative, err = c.Narrator.Narrate(ctx, in)
		if err != nil {
			logger.WithField("provider", c.Narrator.Name()).Warnf("Narrative generation failed, omitting: %v", err)
			narrative = ""
		}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	view := reportView{
		JobID:      in.JobID.String(),
		RegionName: in.RegionName,
		StartDate:  in.Start.Format(DateLayout),
		EndDate:    in.End.Format(DateLayout),
		Generated:  now().Format(DateLayout),
		Properties: []propertyView{
			newPropertyView("Soil organic carbon", in.SOC, socMapFile),
			newPropertyView("Soil moisture", in.Moisture, moistureMapFile),
		},
		Narrative:    narrative,
		Sources:      in.Sources,
		Weather:      in.Weather,
		FeatureBands: in.FeatureBands,
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return models.ReportReference{}, models.StageErrorf(models.StageReporting, "render report: %v", err)
	}
	reportKey, err := c.Store.Put(path.Join(prefix, reportFile), &buf)
	if err != nil {
		return models.ReportReference{}, models.StageErrorf(models.StageReporting, "store report: %v", err)
	}

	logger.WithField("report_key", reportKey).Info("Report stored")
	return models.ReportReference{
		ReportKey:      reportKey,
		SOCMapKey:      socKey,
		MoistureMapKey: moistureKey,
	}, nil
}

func (c *HTMLComposer) putMap(key string, pred *models.PredictionResult, ramp Ramp) (string, error) {
	if pred.Raster == nil {
		return "", fmt.Errorf("%s prediction has no raster", pred.Target)
	}
	data, err := RenderMap(pred.Raster, pred.Stats, ramp)
	if err != nil {
		return "", err
	}
	stored, err := c.Store.Put(key, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store %s map: %w", pred.Target, err)
	}
	return stored, nil
}

func newPropertyView(name string, pred *models.PredictionResult, mapFile string) propertyView {
	var values []float64
	if pred.Raster != nil && len(pred.Raster.Bands) > 0 {
		values = pred.Raster.Bands[0].Data
	}
	return propertyView{
		Name:         name,
		Unit:         pred.Unit,
		Stats:        pred.Stats,
		ModelVersion: pred.ModelVersion,
		MapFile:      mapFile,
		Histogram:    Histogram(values, pred.Stats, histogramBins),
	}
}
