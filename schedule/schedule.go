// Package schedule provides recurrence helpers for jobs carrying a cron
// expression. The lease engine persists cron and next_run_at untouched;
// recurrence lives entirely out here: after a recurring job succeeds, a
// Rescheduler enqueues its next occurrence.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
	"github.com/Mathweuzz/Andorinha-Jobs/queue"
)

// Next returns the first instant after the given one matched by the cron
// expression. Standard five-field expressions and descriptors such as
// @hourly are accepted.
func Next(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest, "invalid cron expression %q: %v", cronExpr, err)
	}
	return sched.Next(after.UTC()).UTC(), nil
}

// Rescheduler enqueues the next occurrence of recurring jobs.
type Rescheduler struct {
	engine *queue.Engine
	clock  clock.Clock
}

// NewRescheduler creates a rescheduler on the wall clock.
func NewRescheduler(engine *queue.Engine) *Rescheduler {
	return NewReschedulerWithClock(engine, clock.System())
}

// NewReschedulerWithClock creates a rescheduler with an injectable clock (for testing)
func NewReschedulerWithClock(engine *queue.Engine, clk clock.Clock) *Rescheduler {
	return &Rescheduler{engine: engine, clock: clk}
}

// Reschedule enqueues a fresh copy of a recurring job, scheduled at the next
// instant its cron expression matches. Jobs without a cron expression are
// left alone and (0, nil) is returned. The new job starts a clean attempt
// counter; priority, queue, payload, max attempts and rate group carry over.
func (r *Rescheduler) Reschedule(job *queue.Job) (int64, error) {
	if job.Cron == "" {
		return 0, nil
	}

	next, err := Next(job.Cron, r.clock.Now())
	if err != nil {
		return 0, err
	}

	return r.engine.Enqueue(queue.EnqueueRequest{
		Queue:       job.Queue,
		Priority:    job.Priority,
		Payload:     job.Payload,
		MaxAttempts: job.MaxAttempts,
		ScheduledAt: &next,
		RateGroup:   job.RateGroup,
		Cron:        job.Cron,
		NextRunAt:   &next,
	})
}
