package worker

import (
	"database/sql"
	"time"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// Run is one recorded lease cycle a worker actually executed.
type Run struct {
	ID         int64      `json:"id"`
	JobID      int64      `json:"job_id"`
	WorkerID   *int64     `json:"worker_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	Log        string     `json:"log,omitempty"`
}

// RunStore persists execution history in the runs table.
type RunStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewRunStore creates a run store on the wall clock.
func NewRunStore(db *sql.DB) *RunStore {
	return NewRunStoreWithClock(db, clock.System())
}

// NewRunStoreWithClock creates a run store with an injectable clock (for testing)
func NewRunStoreWithClock(db *sql.DB, clk clock.Clock) *RunStore {
	return &RunStore{db: db, clock: clk}
}

// StartRun opens a run row for a job the worker just leased.
func (s *RunStore) StartRun(jobID int64, workerID *int64) (int64, error) {
	var worker interface{}
	if workerID != nil {
		worker = *workerID
	}

	res, err := s.db.Exec(
		`INSERT INTO runs (job_id, worker_id, started_at) VALUES (?, ?, ?)`,
		jobID, worker, clock.Format(s.clock.Now()),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to start run for job %d", jobID)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read new run id")
	}
	return id, nil
}

// FinishRun closes a run row with its outcome. runErr may be nil.
func (s *RunStore) FinishRun(runID int64, exitCode int, runErr error, log string) error {
	var errMsg interface{}
	if runErr != nil {
		errMsg = runErr.Error()
	}
	var logVal interface{}
	if log != "" {
		logVal = log
	}

	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, exit_code = ?, error = ?, log = ? WHERE id = ?`,
		clock.Format(s.clock.Now()), exitCode, errMsg, logVal, runID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to finish run %d", runID)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("run %d", runID)
	}
	return nil
}

// ListRunsByJob returns a job's runs, oldest first.
func (s *RunStore) ListRunsByJob(jobID int64) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, worker_id, started_at, finished_at, exit_code, error, log
		 FROM runs WHERE job_id = ? ORDER BY started_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list runs for job %d", jobID)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var workerID sql.NullInt64
		var startedStr string
		var finishedStr, errMsg, logVal sql.NullString
		var exitCode sql.NullInt64

		if err := rows.Scan(&run.ID, &run.JobID, &workerID, &startedStr,
			&finishedStr, &exitCode, &errMsg, &logVal); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}

		if workerID.Valid {
			run.WorkerID = &workerID.Int64
		}
		if run.StartedAt, err = clock.Parse(startedStr); err != nil {
			return nil, errors.Wrapf(err, "parse started_at for run %d", run.ID)
		}
		if finishedStr.Valid {
			t, err := clock.Parse(finishedStr.String)
			if err != nil {
				return nil, errors.Wrapf(err, "parse finished_at for run %d", run.ID)
			}
			run.FinishedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		if logVal.Valid {
			run.Log = logVal.String
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating runs")
	}

	return runs, nil
}
