package queue

import (
	"database/sql"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// JobScanArgs holds the intermediate variables needed for scanning a job row.
// Timestamps are persisted as wire-format text and decoded here.
type JobScanArgs struct {
	Payload        sql.NullString
	ScheduledAt    sql.NullString
	LeaseExpiresAt sql.NullString
	RateGroup      sql.NullString
	Cron           sql.NullString
	NextRunAt      sql.NullString
	CreatedAt      string
	UpdatedAt      string
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns a slice of pointers for the job and scan args,
// in the order expected by the standard job SELECT query
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Status,
		&job.Priority,
		&job.Queue,
		&args.Payload,
		&job.Attempt,
		&job.MaxAttempts,
		&args.ScheduledAt,
		&args.LeaseExpiresAt,
		&args.RateGroup,
		&args.Cron,
		&args.NextRunAt,
		&args.CreatedAt,
		&args.UpdatedAt,
	}
}

// ProcessJobScanArgs decodes the scanned arguments into the job struct.
// Returns an error if a persisted timestamp fails to parse, which indicates
// data corruption or a schema mismatch.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if args.Payload.Valid {
		job.Payload = args.Payload.String
	}
	if args.RateGroup.Valid {
		job.RateGroup = args.RateGroup.String
	}
	if args.Cron.Valid {
		job.Cron = args.Cron.String
	}

	var err error
	if job.CreatedAt, err = clock.Parse(args.CreatedAt); err != nil {
		return errors.Wrapf(err, "parse created_at for job %d", job.ID)
	}
	if job.UpdatedAt, err = clock.Parse(args.UpdatedAt); err != nil {
		return errors.Wrapf(err, "parse updated_at for job %d", job.ID)
	}

	if args.ScheduledAt.Valid {
		t, err := clock.Parse(args.ScheduledAt.String)
		if err != nil {
			return errors.Wrapf(err, "parse scheduled_at for job %d", job.ID)
		}
		job.ScheduledAt = &t
	}
	if args.LeaseExpiresAt.Valid {
		t, err := clock.Parse(args.LeaseExpiresAt.String)
		if err != nil {
			return errors.Wrapf(err, "parse lease_expires_at for job %d", job.ID)
		}
		job.LeaseExpiresAt = &t
	}
	if args.NextRunAt.Valid {
		t, err := clock.Parse(args.NextRunAt.String)
		if err != nil {
			return errors.Wrapf(err, "parse next_run_at for job %d", job.ID)
		}
		job.NextRunAt = &t
	}

	return nil
}

// ScanJobFromRow scans a single job from a sql.Row
func ScanJobFromRow(row *sql.Row, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, status, priority, queue, payload,
		attempt, max_attempts,
		scheduled_at, lease_expires_at,
		rate_group, cron, next_run_at,
		created_at, updated_at`
}
