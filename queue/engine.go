package queue

import (
	"database/sql"
	"time"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
	"github.com/Mathweuzz/Andorinha-Jobs/logger"
)

// admissionScanLimit bounds how many eligible rows Acquire inspects per call
// when an Admission capability is configured.
const admissionScanLimit = 100

// Admission is the capability interface for per-group rate limiting.
// Implementations decide whether a job in the given rate group may be
// handed out right now; they run inside the engine's write transaction so
// any token accounting commits or rolls back together with the lease grant.
type Admission interface {
	Admit(tx *sql.Tx, rateGroup string, now time.Time) (bool, error)
}

// Engine owns all job state transitions and ordering guarantees.
//
// Every operation is wrapped in its own immediate (exclusive-write)
// transaction; no partial state is ever observable by other callers, and
// under contention two racing callers serialize on the store's write lock.
// The engine never caches job state across calls.
type Engine struct {
	db        *sql.DB
	store     *Store
	clock     clock.Clock
	admission Admission
}

// NewEngine creates an engine on the wall clock.
func NewEngine(db *sql.DB) *Engine {
	return NewEngineWithClock(db, clock.System())
}

// NewEngineWithClock creates an engine with an injectable clock (for testing)
func NewEngineWithClock(db *sql.DB, clk clock.Clock) *Engine {
	return &Engine{
		db:    db,
		store: NewStore(db),
		clock: clk,
	}
}

// SetAdmission installs the optional rate-group admission capability.
// With no Admission configured, rate_group is persisted but ignored.
func (e *Engine) SetAdmission(a Admission) {
	e.admission = a
}

// Store exposes the read-side store backed by the same database.
func (e *Engine) Store() *Store {
	return e.store
}

// inTx runs fn inside a single write transaction. Any error from fn rolls
// the transaction back in full before being returned; a rollback failure is
// logged but never masks the original error.
func (e *Engine) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := e.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Warnw("rollback failed after transaction error",
				"rollback_error", rbErr,
				"original_error", err,
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// EnqueueRequest describes a job to insert. Zero values get the documented
// defaults: Queue "default", Priority 0 (neutral), MaxAttempts 1.
type EnqueueRequest struct {
	Queue       string
	Priority    int
	Payload     string
	MaxAttempts int
	ScheduledAt *time.Time
	RateGroup   string
	Cron        string
	NextRunAt   *time.Time
}

// Enqueue inserts one job in status queued and returns its identity.
// The insert is a single atomic statement; no partial state is visible to
// other transactions.
func (e *Engine) Enqueue(req EnqueueRequest) (int64, error) {
	if req.Queue == "" {
		req.Queue = "default"
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = 1
	}
	if req.MaxAttempts < 0 {
		return 0, errors.NewInvalidRequestError("max attempts must be positive, got %d", req.MaxAttempts)
	}

	now := clock.Format(e.clock.Now())

	var jobID int64
	err := e.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO jobs (status, priority, queue, payload, attempt, max_attempts,
				scheduled_at, lease_expires_at, rate_group, cron, next_run_at,
				created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?, NULL, ?, ?, ?, ?, ?)`,
			JobStatusQueued,
			req.Priority,
			req.Queue,
			nullString(req.Payload),
			req.MaxAttempts,
			nullTime(req.ScheduledAt),
			nullString(req.RateGroup),
			nullString(req.Cron),
			nullTime(req.NextRunAt),
			now,
			now,
		)
		if err != nil {
			return errors.Wrap(err, "failed to enqueue job")
		}

		jobID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "failed to read new job id")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return jobID, nil
}

// Acquire selects at most one eligible job, transitions it to leased with
// lease_expires_at = now+ttl, and returns the full row. queueName scopes
// selection to one queue partition; the empty string selects globally.
//
// A job is eligible iff it is queued and due (scheduled_at NULL or <= now),
// or leased with an expired lease (abandoned, reclaimed here). Eligible jobs
// are ordered by priority ascending, then created_at ascending (strict FIFO
// within a priority band, ids breaking exact-timestamp ties).
//
// Returns (nil, nil) when nothing is eligible; that is not an error.
// The selection and update execute in one exclusive write transaction, so at
// most one concurrent caller can win a given row.
func (e *Engine) Acquire(ttl time.Duration, queueName string) (*Job, error) {
	if ttl <= 0 {
		return nil, errors.NewInvalidRequestError("lease TTL must be positive, got %s", ttl)
	}

	now := e.clock.Now()
	nowStr := clock.Format(now)
	leaseExp := clock.Format(now.Add(ttl))

	var acquired *Job
	err := e.inTx(func(tx *sql.Tx) error {
		jobID, found, err := e.selectEligible(tx, nowStr, queueName, now)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		if _, err := tx.Exec(
			`UPDATE jobs SET status = ?, lease_expires_at = ?, updated_at = ? WHERE id = ?`,
			JobStatusLeased, leaseExp, nowStr, jobID,
		); err != nil {
			return errors.Wrapf(err, "failed to lease job %d", jobID)
		}

		var job Job
		row := tx.QueryRow(`SELECT `+StandardJobSelectColumns()+` FROM jobs WHERE id = ?`, jobID)
		if err := ScanJobFromRow(row, &job); err != nil {
			return errors.Wrapf(err, "failed to read leased job %d", jobID)
		}
		acquired = &job
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acquired, nil
}

const eligiblePredicate = `
	(
		(status = 'queued' AND (scheduled_at IS NULL OR scheduled_at <= ?))
		OR
		(status = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
	)`

// selectEligible picks the id of the next job Acquire should lease, honoring
// the Admission capability when one is configured.
func (e *Engine) selectEligible(tx *sql.Tx, nowStr, queueName string, now time.Time) (int64, bool, error) {
	query := `SELECT id, rate_group FROM jobs WHERE` + eligiblePredicate
	args := []interface{}{nowStr, nowStr}
	if queueName != "" {
		query += ` AND queue = ?`
		args = append(args, queueName)
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC LIMIT ?`

	if e.admission == nil {
		args = append(args, 1)
		var id int64
		var rateGroup sql.NullString
		err := tx.QueryRow(query, args...).Scan(&id, &rateGroup)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, errors.Wrap(err, "failed to select eligible job")
		}
		return id, true, nil
	}

	// With admission configured, walk eligible rows in order and take the
	// first one whose rate group admits a call right now.
	args = append(args, admissionScanLimit)
	rows, err := tx.Query(query, args...)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to select eligible jobs")
	}

	type candidate struct {
		id        int64
		rateGroup string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var rateGroup sql.NullString
		if err := rows.Scan(&c.id, &rateGroup); err != nil {
			rows.Close()
			return 0, false, errors.Wrap(err, "failed to scan eligible job")
		}
		if rateGroup.Valid {
			c.rateGroup = rateGroup.String
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, false, errors.Wrap(err, "error iterating eligible jobs")
	}
	rows.Close()

	for _, c := range candidates {
		if c.rateGroup == "" {
			return c.id, true, nil
		}
		ok, err := e.admission.Admit(tx, c.rateGroup, now)
		if err != nil {
			return 0, false, errors.Wrapf(err, "admission check for rate group %q", c.rateGroup)
		}
		if ok {
			return c.id, true, nil
		}
	}

	return 0, false, nil
}

// ExtendLease adds additional to the job's current lease expiry, atomically
// checking that the job is still leased and the lease has not lapsed. The
// extension is relative to the existing expiry, not to now. Returns false
// (nothing mutated) when the job is missing, not leased, or already expired;
// that is a normal, non-exceptional outcome — an expired lease must be
// re-acquired, not extended.
func (e *Engine) ExtendLease(jobID int64, additional time.Duration) (bool, error) {
	now := e.clock.Now()
	nowStr := clock.Format(now)

	extended := false
	err := e.inTx(func(tx *sql.Tx) error {
		var expiresStr string
		err := tx.QueryRow(
			`SELECT lease_expires_at FROM jobs
			 WHERE id = ?
			   AND status = 'leased'
			   AND lease_expires_at IS NOT NULL
			   AND lease_expires_at > ?`,
			jobID, nowStr,
		).Scan(&expiresStr)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read lease for job %d", jobID)
		}

		expires, err := clock.Parse(expiresStr)
		if err != nil {
			return errors.Wrapf(err, "parse lease_expires_at for job %d", jobID)
		}

		if _, err := tx.Exec(
			`UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ?`,
			clock.Format(expires.Add(additional)), nowStr, jobID,
		); err != nil {
			return errors.Wrapf(err, "failed to extend lease for job %d", jobID)
		}
		extended = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return extended, nil
}

// Release ends a lease cycle.
//
// success=true transitions the job to succeeded (terminal) with the lease
// cleared and attempt unchanged; it is idempotent in effect on the terminal
// state. success=false increments attempt and either returns the job to
// queued (immediately re-eligible unless scheduled_at was already set) or,
// once attempt reaches max_attempts, transitions it to failed (terminal).
func (e *Engine) Release(jobID int64, success bool) error {
	nowStr := clock.Format(e.clock.Now())

	return e.inTx(func(tx *sql.Tx) error {
		if success {
			if _, err := tx.Exec(
				`UPDATE jobs
				 SET status = ?, lease_expires_at = NULL, updated_at = ?
				 WHERE id = ?`,
				JobStatusSucceeded, nowStr, jobID,
			); err != nil {
				return errors.Wrapf(err, "failed to release job %d", jobID)
			}
			return nil
		}

		var attempt, maxAttempts int
		err := tx.QueryRow(
			`SELECT attempt, max_attempts FROM jobs WHERE id = ?`, jobID,
		).Scan(&attempt, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("job %d", jobID)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read job %d", jobID)
		}

		if attempt+1 >= maxAttempts {
			// Retries exhausted: the job leaves the retry loop for good.
			if _, err := tx.Exec(
				`UPDATE jobs
				 SET status = ?, attempt = attempt + 1, lease_expires_at = NULL, updated_at = ?
				 WHERE id = ?`,
				JobStatusFailed, nowStr, jobID,
			); err != nil {
				return errors.Wrapf(err, "failed to fail job %d", jobID)
			}
			return nil
		}

		// Back to the queue, immediately re-eligible unless the caller had
		// scheduled it for later. No backoff is applied here.
		if _, err := tx.Exec(
			`UPDATE jobs
			 SET status = ?, attempt = attempt + 1, lease_expires_at = NULL,
			     scheduled_at = COALESCE(scheduled_at, ?), updated_at = ?
			 WHERE id = ?`,
			JobStatusQueued, nowStr, nowStr, jobID,
		); err != nil {
			return errors.Wrapf(err, "failed to requeue job %d", jobID)
		}
		return nil
	})
}

// Get retrieves a job by ID.
func (e *Engine) Get(jobID int64) (*Job, error) {
	return e.store.GetJob(jobID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: clock.Format(*t), Valid: true}
}
