package worker

import (
	"database/sql"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// Registry tracks worker processes in the workers table so operators can see
// which consumers exist and when they last checked in.
type Registry struct {
	db    *sql.DB
	clock clock.Clock
}

// NewRegistry creates a registry on the wall clock.
func NewRegistry(db *sql.DB) *Registry {
	return NewRegistryWithClock(db, clock.System())
}

// NewRegistryWithClock creates a registry with an injectable clock (for testing)
func NewRegistryWithClock(db *sql.DB, clk clock.Clock) *Registry {
	return &Registry{db: db, clock: clk}
}

// Register records a worker process and returns its identity.
func (r *Registry) Register(name string, pid int, host string) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO workers (name, last_heartbeat, pid, host) VALUES (?, ?, ?, ?)`,
		name, clock.Format(r.clock.Now()), pid, host,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to register worker %q", name)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read new worker id")
	}
	return id, nil
}

// Heartbeat refreshes the worker's last_heartbeat.
func (r *Registry) Heartbeat(workerID int64) error {
	res, err := r.db.Exec(
		`UPDATE workers SET last_heartbeat = ? WHERE id = ?`,
		clock.Format(r.clock.Now()), workerID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to heartbeat worker %d", workerID)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("worker %d", workerID)
	}
	return nil
}
