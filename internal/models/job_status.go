package models

/*
JobStatus tracks where an analysis job is in its lifecycle. Pending and Queued
are written by the submission side, Processing/Completed/Failed only by the
pipeline orchestrator (or the stale-job reconciler for Failed).
*/

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

// Rank orders statuses for the monotonic transition rule. Both terminal
// states share the highest rank. Unknown statuses rank -1.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusCompleted, JobStatusFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic: next must rank strictly higher and s must not be terminal.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.Rank() > s.Rank()
}

func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus converts a raw string (e.g. a query parameter) to a JobStatus.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.Valid() {
		return "", NewValidationError("unknown job status %q", raw)
	}
	return s, nil
}
