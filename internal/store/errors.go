package store

import (
	"errors"
	"fmt"

	"soilscope/internal/models"
)

var (
	ErrNotFound          = fmt.Errorf("store: resource not found: %w", models.ErrNotFound)
	ErrDuplicate         = errors.New("store: duplicate resource")
	ErrInvalidTransition = fmt.Errorf("store: invalid job status transition: %w", models.ErrConflict)
)

// CheckTransition returns ErrInvalidTransition unless cur may move to next.
// Only a processing job may complete.
func CheckTransition(cur, next models.JobStatus) error {
	if !cur.CanTransitionTo(next) || (next == models.JobStatusCompleted && cur != models.JobStatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	return nil
}
