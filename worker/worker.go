// Package worker provides the consumer loop: acquire a lease, run the
// handler, report the outcome, and keep execution history.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mathweuzz/Andorinha-Jobs/db"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
	"github.com/Mathweuzz/Andorinha-Jobs/queue"
)

// Handler executes one leased job. A nil return releases the job as
// succeeded; any error releases it as failed (the engine decides between
// requeue and terminal failure based on the attempt budget).
type Handler func(ctx context.Context, job *queue.Job) error

// Options configures a Worker. Zero values get defaults.
type Options struct {
	Queue        string        // queue partition to consume; "" consumes globally
	LeaseTTL     time.Duration // default 60s
	PollInterval time.Duration // sleep when nothing is eligible; default 1s
	Logger       *zap.SugaredLogger
}

// Worker repeatedly acquires jobs and runs them through its handler.
type Worker struct {
	engine   *queue.Engine
	runs     *RunStore
	registry *Registry
	handler  Handler
	opts     Options

	name     string
	workerID int64
}

// New creates a worker over the given database and engine.
func New(database *sql.DB, engine *queue.Engine, handler Handler, opts Options) *Worker {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	host, _ := os.Hostname()
	return &Worker{
		engine:   engine,
		runs:     NewRunStore(database),
		registry: NewRegistry(database),
		handler:  handler,
		opts:     opts,
		name:     fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Name returns the worker's registered name.
func (w *Worker) Name() string {
	return w.name
}

// Run registers the worker and consumes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	host, _ := os.Hostname()
	workerID, err := w.registry.Register(w.name, os.Getpid(), host)
	if err != nil {
		return errors.Wrap(err, "failed to register worker")
	}
	w.workerID = workerID

	if w.opts.Logger != nil {
		w.opts.Logger.Infow("Worker started",
			"worker", w.name,
			"worker_id", workerID,
			"queue", w.opts.Queue,
			"lease_ttl", w.opts.LeaseTTL,
		)
	}

	for {
		select {
		case <-ctx.Done():
			if w.opts.Logger != nil {
				w.opts.Logger.Infow("Worker stopping", "worker", w.name)
			}
			return ctx.Err()
		default:
		}

		job, err := w.engine.Acquire(w.opts.LeaseTTL, w.opts.Queue)
		if err != nil {
			if db.IsBusy(err) {
				// Lost the write lock race; back off briefly and retry
				if !w.sleep(ctx, w.opts.PollInterval) {
					return ctx.Err()
				}
				continue
			}
			return errors.Wrap(err, "failed to acquire job")
		}

		if job == nil {
			if err := w.registry.Heartbeat(workerID); err != nil && w.opts.Logger != nil {
				w.opts.Logger.Warnw("Heartbeat failed", "worker", w.name, "error", err)
			}
			if !w.sleep(ctx, w.opts.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		w.process(ctx, job)
	}
}

// process runs one leased job end to end: open a run row, execute the
// handler while keeping the lease alive, then release and close the run.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	runID, err := w.runs.StartRun(job.ID, &w.workerID)
	if err != nil && w.opts.Logger != nil {
		w.opts.Logger.Warnw("Failed to record run start", "job_id", job.ID, "error", err)
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	keepAliveDone := make(chan struct{})
	go w.keepLeaseAlive(handlerCtx, job.ID, keepAliveDone)

	handlerErr := w.handler(handlerCtx, job)
	cancel()
	<-keepAliveDone

	if err := w.engine.Release(job.ID, handlerErr == nil); err != nil {
		if w.opts.Logger != nil {
			w.opts.Logger.Errorw("Failed to release job",
				"job_id", job.ID,
				"success", handlerErr == nil,
				"error", err,
			)
		}
		return
	}

	exitCode := 0
	if handlerErr != nil {
		exitCode = 1
	}
	if runID != 0 {
		if err := w.runs.FinishRun(runID, exitCode, handlerErr, ""); err != nil && w.opts.Logger != nil {
			w.opts.Logger.Warnw("Failed to record run finish", "run_id", runID, "error", err)
		}
	}

	if w.opts.Logger != nil {
		if handlerErr != nil {
			w.opts.Logger.Warnw("Job failed",
				"job_id", job.ID,
				"queue", job.Queue,
				"attempt", job.Attempt+1,
				"max_attempts", job.MaxAttempts,
				"error", handlerErr,
			)
		} else {
			w.opts.Logger.Infow("Job succeeded",
				"job_id", job.ID,
				"queue", job.Queue,
			)
		}
	}
}

// keepLeaseAlive extends the lease by half the TTL every half-TTL, keeping
// the expiry roughly one TTL ahead while the handler runs. A false return
// from ExtendLease means the lease lapsed and was reclaimed; extension stops
// since the job is no longer ours.
func (w *Worker) keepLeaseAlive(ctx context.Context, jobID int64, done chan<- struct{}) {
	defer close(done)

	interval := w.opts.LeaseTTL / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.engine.ExtendLease(jobID, interval)
			if err != nil {
				if w.opts.Logger != nil {
					w.opts.Logger.Warnw("Lease extension errored", "job_id", jobID, "error", err)
				}
				continue
			}
			if !ok {
				if w.opts.Logger != nil {
					w.opts.Logger.Warnw("Lease no longer held, stopping extension", "job_id", jobID)
				}
				return
			}
		}
	}
}

// sleep waits for d or context cancellation; returns false when canceled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
