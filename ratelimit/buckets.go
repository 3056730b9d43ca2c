// Package ratelimit provides Admission implementations for per-group rate
// limiting. The lease engine itself attaches no behavior to a job's
// rate_group; installing one of these capabilities makes Acquire skip jobs
// whose group has no budget right now.
package ratelimit

import (
	"database/sql"
	"time"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// Buckets is a token-bucket admission control persisted in the rate_limits
// table, shared by every process working against the same database.
//
// Each group holds up to capacity tokens; the bucket refills to capacity
// once refill_every_sec has elapsed since the last refill. Admit consumes
// one token. Groups with no configured bucket are unlimited.
type Buckets struct {
	db    *sql.DB
	clock clock.Clock
}

// NewBuckets creates bucket admission on the wall clock.
func NewBuckets(db *sql.DB) *Buckets {
	return NewBucketsWithClock(db, clock.System())
}

// NewBucketsWithClock creates bucket admission with an injectable clock (for testing)
func NewBucketsWithClock(db *sql.DB, clk clock.Clock) *Buckets {
	return &Buckets{db: db, clock: clk}
}

// Configure creates or resets the bucket for a rate group, filled to capacity.
func (b *Buckets) Configure(rateGroup string, capacity, refillEverySec int) error {
	if capacity <= 0 || refillEverySec <= 0 {
		return errors.NewInvalidRequestError(
			"bucket for %q needs positive capacity and refill interval", rateGroup)
	}

	_, err := b.db.Exec(
		`INSERT INTO rate_limits (rate_group, capacity, refill_every_sec, tokens, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(rate_group) DO UPDATE SET
			capacity = excluded.capacity,
			refill_every_sec = excluded.refill_every_sec,
			tokens = excluded.tokens,
			updated_at = excluded.updated_at`,
		rateGroup, capacity, refillEverySec, capacity, clock.Format(b.clock.Now()),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to configure rate group %q", rateGroup)
	}
	return nil
}

// Admit implements queue.Admission. It runs on the engine's transaction so
// the token decrement commits or rolls back together with the lease grant.
func (b *Buckets) Admit(tx *sql.Tx, rateGroup string, now time.Time) (bool, error) {
	var capacity, refillEverySec, tokens int
	var updatedStr string
	err := tx.QueryRow(
		`SELECT capacity, refill_every_sec, tokens, updated_at
		 FROM rate_limits WHERE rate_group = ?`,
		rateGroup,
	).Scan(&capacity, &refillEverySec, &tokens, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		// Unconfigured groups are unlimited
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to read bucket for %q", rateGroup)
	}

	updated, err := clock.Parse(updatedStr)
	if err != nil {
		return false, errors.Wrapf(err, "parse updated_at for bucket %q", rateGroup)
	}

	// updated_at anchors the refill window; it only moves when the bucket
	// refills, so a busy group cannot starve itself of refills.
	if now.Sub(updated) >= time.Duration(refillEverySec)*time.Second {
		tokens = capacity
		updatedStr = clock.Format(now)
	}

	if tokens <= 0 {
		return false, nil
	}

	if _, err := tx.Exec(
		`UPDATE rate_limits SET tokens = ?, updated_at = ? WHERE rate_group = ?`,
		tokens-1, updatedStr, rateGroup,
	); err != nil {
		return false, errors.Wrapf(err, "failed to consume token for %q", rateGroup)
	}
	return true, nil
}
