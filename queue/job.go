// Package queue implements the job lease engine: a persistent work queue
// where producers enqueue jobs and consumers acquire exclusive, time-bounded
// leases on them.
package queue

import (
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusLeased    JobStatus = "leased"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusLeased, JobStatusSucceeded,
		JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition is defined from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job is the persisted unit of work.
//
// Invariant: LeaseExpiresAt is non-nil if and only if Status is leased.
// RateGroup, Cron and NextRunAt are reserved for the rate-limiting and
// recurrence extensions; the engine persists and round-trips them but
// attaches no behavior beyond the optional Admission check in Acquire.
type Job struct {
	ID             int64      `json:"id"`
	Status         JobStatus  `json:"status"`
	Priority       int        `json:"priority"` // lower value = served first
	Queue          string     `json:"queue"`
	Payload        string     `json:"payload,omitempty"` // opaque, caller-serialized
	Attempt        int        `json:"attempt"`           // lease cycles that ended in failure
	MaxAttempts    int        `json:"max_attempts"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	RateGroup      string     `json:"rate_group,omitempty"`
	Cron           string     `json:"cron,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LeaseExpired reports whether the job holds a lease that has already
// lapsed at the given instant. Expiry is the sole abandonment-detection
// mechanism: an expired lease is reclaimable by the next Acquire.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobStatusLeased &&
		j.LeaseExpiresAt != nil &&
		!j.LeaseExpiresAt.After(now)
}
