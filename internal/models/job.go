package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"soilscope/internal/geo"
)

// JobDescriptor is the immutable input of one pipeline run.
type JobDescriptor struct {
	ID     uuid.UUID
	Region orb.Polygon // WGS84
	Start  time.Time
	End    time.Time
}

// MaxRangeYears bounds the analysis period of one job.
const MaxRangeYears = 5

// Validate checks the descriptor before any stage sees it.
func (d JobDescriptor) Validate() error {
	if d.ID == uuid.Nil {
		return NewValidationError("job id is required")
	}
	if err := geo.ValidatePolygon(d.Region); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if d.Start.IsZero() || d.End.IsZero() {
		return NewValidationError("start and end dates are required")
	}
	if d.End.Before(d.Start) {
		return NewValidationError("end date %s is before start date %s", d.End.Format(time.DateOnly), d.Start.Format(time.DateOnly))
	}
	if d.End.After(d.Start.AddDate(MaxRangeYears, 0, 0)) {
		return NewValidationError("date range %s to %s exceeds %d years",
			d.Start.Format(time.DateOnly), d.End.Format(time.DateOnly), MaxRangeYears)
	}
	return nil
}

// Job is the durable record of an analysis request.
type Job struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Status        JobStatus `db:"status" json:"status"`
	RegionGeoJSON []byte    `db:"region_geojson" json:"-"`
	RegionName    string    `db:"region_name" json:"region_name"`
	StartDate     time.Time `db:"start_date" json:"start_date"`
	EndDate       time.Time `db:"end_date" json:"end_date"`
	TaskID        *string   `db:"task_id" json:"task_id,omitempty"`
	ErrorMessage  *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Descriptor parses the stored region and returns the pipeline input.
func (j *Job) Descriptor() (JobDescriptor, error) {
	region, err := geo.ParsePolygon(j.RegionGeoJSON)
	if err != nil {
		return JobDescriptor{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	return JobDescriptor{ID: j.ID, Region: region, Start: j.StartDate, End: j.EndDate}, nil
}

// NewJob builds a pending job record for a descriptor.
func NewJob(d JobDescriptor, regionName string) (*Job, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	raw, err := geo.MarshalPolygon(d.Region)
	if err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	if regionName == "" {
		regionName = geo.DefaultRegionName
	}
	now := time.Now().UTC()
	return &Job{
		ID:            d.ID,
		Status:        JobStatusPending,
		RegionGeoJSON: raw,
		RegionName:    regionName,
		StartDate:     d.Start.UTC(),
		EndDate:       d.End.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
