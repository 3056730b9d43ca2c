package queue

import (
	"database/sql"

	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// Store handles read-side persistence of jobs. All mutations go through the
// Engine, which owns transaction scoping; the Store only serves lookups and
// listings that need no write lock.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id int64) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return &job, nil
}

// ListJobs returns jobs ordered by creation, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListByQueue returns jobs in a single queue partition, newest first
func (s *Store) ListByQueue(queueName string, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE queue = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, queueName, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by queue")
	}
	defer rows.Close()

	return scanJobs(rows, "queue jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// Stats holds per-status job counts.
type Stats struct {
	Queued    int `json:"queued"`
	Leased    int `json:"leased"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
	Total     int `json:"total"`
}

// GetStats returns job counts grouped by status
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}

		switch status {
		case JobStatusQueued:
			stats.Queued = count
		case JobStatusLeased:
			stats.Leased = count
		case JobStatusSucceeded:
			stats.Succeeded = count
		case JobStatusFailed:
			stats.Failed = count
		case JobStatusCanceled:
			stats.Canceled = count
		}
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}

	return stats, nil
}
