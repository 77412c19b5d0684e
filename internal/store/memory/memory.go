// Package memory is an in-process JobStore for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"soilscope/internal/models"
	"soilscope/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.Job
	results map[uuid.UUID]*models.ResultBundle
	now     func() time.Time
}

var _ store.JobStore = (*Store)(nil)

func New() *Store {
	return &Store{
		jobs:    make(map[uuid.UUID]*models.Job),
		results: make(map[uuid.UUID]*models.ResultBundle),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	c.RegionGeoJSON = append([]byte(nil), j.RegionGeoJSON...)
	if j.TaskID != nil {
		v := *j.TaskID
		c.TaskID = &v
	}
	if j.ErrorMessage != nil {
		v := *j.ErrorMessage
		c.ErrorMessage = &v
	}
	return &c
}

func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, store.ErrDuplicate)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return copyJob(j), nil
}

func (s *Store) ListJobs(_ context.Context, filter store.ListFilter) ([]*models.Job, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		all = append(all, j)
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].ID.String() < all[b].ID.String()
		}
		return all[a].CreatedAt.After(all[b].CreatedAt)
	})
	if filter.Offset >= len(all) {
		return []*models.Job{}, nil
	}
	all = all[filter.Offset:min(len(all), filter.Offset+filter.Limit)]
	out := make([]*models.Job, len(all))
	for i, j := range all {
		out[i] = copyJob(j)
	}
	return out, nil
}

// transition must be called with the lock held.
func (s *Store) transition(id uuid.UUID, next models.JobStatus) (*models.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	if err := store.CheckTransition(j.Status, next); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return j, nil
}

func (s *Store) MarkQueued(_ context.Context, id uuid.UUID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transition(id, models.JobStatusQueued)
	if err != nil {
		return err
	}
	j.Status = models.JobStatusQueued
	j.TaskID = &taskID
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetStatus(_ context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transition(id, status)
	if err != nil {
		return err
	}
	j.Status = status
	if errMsg != "" {
		j.ErrorMessage = &errMsg
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) SaveResult(_ context.Context, bundle *models.ResultBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transition(bundle.JobID, models.JobStatusCompleted)
	if err != nil {
		return err
	}
	if _, ok := s.results[bundle.JobID]; ok {
		return fmt.Errorf("result for job %s: %w", bundle.JobID, store.ErrDuplicate)
	}
	stored := *bundle
	stored.SOC.Raster = nil
	stored.Moisture.Raster = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.results[bundle.JobID] = &stored
	j.Status = models.JobStatusCompleted
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetResult(_ context.Context, id uuid.UUID) (*models.ResultBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result for job %s: %w", id, store.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (s *Store) FailStaleJobs(_ context.Context, cutoff time.Time, errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing && j.UpdatedAt.Before(cutoff) {
			msg := errMsg
			j.Status = models.JobStatusFailed
			j.ErrorMessage = &msg
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }
