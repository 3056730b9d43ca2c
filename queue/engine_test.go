package queue

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	andtest "github.com/Mathweuzz/Andorinha-Jobs/internal/testing"
)

// newTestEngine creates an engine over a migrated temp database, driven by a
// fake clock so every timing property is deterministic.
func newTestEngine(t *testing.T) (*Engine, *clock.Fake, *sql.DB) {
	t.Helper()
	database := andtest.CreateTestDB(t)
	clk := clock.NewFake()
	return NewEngineWithClock(database, clk), clk, database
}

func TestEnqueue(t *testing.T) {
	t.Run("inserts a queued job with defaults", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{Payload: "hello"})
		require.NoError(t, err)

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusQueued, job.Status)
		assert.Equal(t, "default", job.Queue)
		assert.Equal(t, 0, job.Priority)
		assert.Equal(t, 0, job.Attempt)
		assert.Equal(t, 1, job.MaxAttempts)
		assert.Equal(t, "hello", job.Payload)
		assert.Nil(t, job.LeaseExpiresAt)
		assert.Nil(t, job.ScheduledAt)
		assert.True(t, job.CreatedAt.Equal(job.UpdatedAt))
	})

	t.Run("assigns monotonically increasing identities", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		first, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)
		second, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)
		assert.Greater(t, second, first)
	})

	t.Run("rejects negative max attempts", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{MaxAttempts: -1})
		require.Error(t, err)
	})
}

func TestAcquireOrdering(t *testing.T) {
	t.Run("lower priority value wins", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		low, err := engine.Enqueue(EnqueueRequest{Priority: 10, Payload: "low"})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		high, err := engine.Enqueue(EnqueueRequest{Priority: 1, Payload: "high"})
		require.NoError(t, err)

		job, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, high, job.ID)

		job, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, low, job.ID)
	})

	t.Run("strict FIFO within a priority band", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		first, err := engine.Enqueue(EnqueueRequest{Priority: 5})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		second, err := engine.Enqueue(EnqueueRequest{Priority: 5})
		require.NoError(t, err)

		job, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, first, job.ID)

		job, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, second, job.ID)
	})

	t.Run("priorities 5,1,1 yield B then C then A", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		jobA, err := engine.Enqueue(EnqueueRequest{Priority: 5, Payload: "A"})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		jobB, err := engine.Enqueue(EnqueueRequest{Priority: 1, Payload: "B"})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		jobC, err := engine.Enqueue(EnqueueRequest{Priority: 1, Payload: "C"})
		require.NoError(t, err)

		var acquired []int64
		for i := 0; i < 3; i++ {
			job, err := engine.Acquire(time.Minute, "")
			require.NoError(t, err)
			require.NotNil(t, job)
			acquired = append(acquired, job.ID)
		}
		assert.Equal(t, []int64{jobB, jobC, jobA}, acquired)
	})

	t.Run("queue filter scopes selection to one partition", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{Queue: "mail", Priority: 0})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		reportJob, err := engine.Enqueue(EnqueueRequest{Queue: "reports", Priority: 10})
		require.NoError(t, err)

		job, err := engine.Acquire(time.Minute, "reports")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, reportJob, job.ID)

		job, err = engine.Acquire(time.Minute, "reports")
		require.NoError(t, err)
		assert.Nil(t, job, "reports partition should be drained")
	})
}

func TestAcquireEligibility(t *testing.T) {
	t.Run("returns nil when nothing is queued", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		job, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("future scheduled_at hides the job until due", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		scheduled := clk.Now().Add(time.Hour)
		jobID, err := engine.Enqueue(EnqueueRequest{ScheduledAt: &scheduled})
		require.NoError(t, err)

		job, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		assert.Nil(t, job, "job scheduled in the future must not be acquired")

		clk.Advance(time.Hour)
		job, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.ID)
	})

	t.Run("leased job sets expiry to now plus TTL", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		job, err := engine.Acquire(60*time.Second, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, JobStatusLeased, job.Status)
		require.NotNil(t, job.LeaseExpiresAt)
		assert.True(t, job.LeaseExpiresAt.Equal(clk.Now().Add(60*time.Second)))
	})

	t.Run("leased job is invisible while its lease is live", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		_, err = engine.Acquire(60*time.Second, "")
		require.NoError(t, err)

		clk.Advance(59 * time.Second)
		job, err := engine.Acquire(60*time.Second, "")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("expired lease is reclaimed by the next acquire", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		first, err := engine.Acquire(60*time.Second, "")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, jobID, first.ID)

		clk.Advance(61 * time.Second)

		second, err := engine.Acquire(60*time.Second, "")
		require.NoError(t, err)
		require.NotNil(t, second, "abandoned lease should be reclaimed")
		assert.Equal(t, jobID, second.ID)
		assert.Equal(t, JobStatusLeased, second.Status)
		require.NotNil(t, second.LeaseExpiresAt)
		assert.True(t, second.LeaseExpiresAt.Equal(clk.Now().Add(60*time.Second)))
	})

	t.Run("rejects a non-positive TTL", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		_, err := engine.Acquire(0, "")
		require.Error(t, err)
		_, err = engine.Acquire(-time.Second, "")
		require.Error(t, err)
	})
}

func TestAcquireConcurrency(t *testing.T) {
	t.Run("exactly one of N racing callers wins a single job", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{Payload: "contested"})
		require.NoError(t, err)

		const callers = 8
		var wg sync.WaitGroup
		results := make(chan *Job, callers)
		errs := make(chan error, callers)

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				job, err := engine.Acquire(time.Minute, "")
				if err != nil {
					errs <- err
					return
				}
				results <- job
			}()
		}
		wg.Wait()
		close(results)
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		winners := 0
		for job := range results {
			if job != nil {
				winners++
			}
		}
		assert.Equal(t, 1, winners, "exactly one caller should win the job")
	})
}

func TestExtendLease(t *testing.T) {
	t.Run("extension is relative to the existing expiry", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		job, err := engine.Acquire(60*time.Second, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		originalExpiry := *job.LeaseExpiresAt

		// Elapsed time since lease start is irrelevant to the arithmetic
		clk.Advance(10 * time.Second)

		ok, err := engine.ExtendLease(job.ID, 120*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		updated, err := engine.Get(job.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.LeaseExpiresAt)
		assert.True(t, updated.LeaseExpiresAt.Equal(originalExpiry.Add(120*time.Second)),
			"new expiry must equal prior expiry plus the extension")
	})

	t.Run("returns false for a queued job", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		ok, err := engine.ExtendLease(jobID, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("returns false once the lease expired", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		_, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		job, err := engine.Acquire(60*time.Second, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		expiry := *job.LeaseExpiresAt

		clk.Advance(61 * time.Second)

		ok, err := engine.ExtendLease(job.ID, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "expired lease must be re-acquired, not extended")

		// No mutation happened
		unchanged, err := engine.Get(job.ID)
		require.NoError(t, err)
		require.NotNil(t, unchanged.LeaseExpiresAt)
		assert.True(t, unchanged.LeaseExpiresAt.Equal(expiry))
	})

	t.Run("returns false for an unknown job", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		ok, err := engine.ExtendLease(12345, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRelease(t *testing.T) {
	t.Run("success is terminal and leaves attempt unchanged", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{MaxAttempts: 3})
		require.NoError(t, err)

		_, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)

		require.NoError(t, engine.Release(jobID, true))

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusSucceeded, job.Status)
		assert.Nil(t, job.LeaseExpiresAt)
		assert.Equal(t, 0, job.Attempt)
	})

	t.Run("success is idempotent on the terminal state", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{MaxAttempts: 3})
		require.NoError(t, err)

		_, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)

		require.NoError(t, engine.Release(jobID, true))
		require.NoError(t, engine.Release(jobID, true))

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusSucceeded, job.Status)
		assert.Nil(t, job.LeaseExpiresAt)
		assert.Equal(t, 0, job.Attempt)
	})

	t.Run("failure increments attempt and requeues immediately", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{MaxAttempts: 3})
		require.NoError(t, err)

		_, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)

		require.NoError(t, engine.Release(jobID, false))

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusQueued, job.Status)
		assert.Equal(t, 1, job.Attempt)
		assert.Nil(t, job.LeaseExpiresAt)
		require.NotNil(t, job.ScheduledAt)
		assert.True(t, job.ScheduledAt.Equal(clk.Now()), "no backoff: immediately re-eligible")

		// And the next acquire hands it right back
		again, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, jobID, again.ID)
	})

	t.Run("failure preserves a pre-existing scheduled_at", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)

		scheduled := clk.Now().Add(-time.Hour) // already due
		jobID, err := engine.Enqueue(EnqueueRequest{MaxAttempts: 3, ScheduledAt: &scheduled})
		require.NoError(t, err)

		_, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)

		require.NoError(t, engine.Release(jobID, false))

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		require.NotNil(t, job.ScheduledAt)
		assert.True(t, job.ScheduledAt.Equal(scheduled), "scheduled_at left unchanged when already set")
	})

	t.Run("failure on the last attempt transitions to failed", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{MaxAttempts: 2})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			job, err := engine.Acquire(time.Minute, "")
			require.NoError(t, err)
			require.NotNil(t, job, "attempt %d should be acquirable", i+1)
			require.NoError(t, engine.Release(jobID, false))
		}

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Equal(t, 2, job.Attempt)
		assert.Nil(t, job.LeaseExpiresAt)

		// Terminal: never handed out again
		none, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("failure with default max attempts fails immediately", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{})
		require.NoError(t, err)

		_, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)

		require.NoError(t, engine.Release(jobID, false))

		job, err := engine.Get(jobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, job.Status)
	})

	t.Run("failure release of an unknown job reports not found", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		err := engine.Release(99999, false)
		require.Error(t, err)
	})
}

// denyGroup admits every rate group except the one it names.
type denyGroup struct {
	group string
}

func (d denyGroup) Admit(_ *sql.Tx, rateGroup string, _ time.Time) (bool, error) {
	return rateGroup != d.group, nil
}

func TestAcquireAdmission(t *testing.T) {
	t.Run("without admission rate groups are ignored", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		jobID, err := engine.Enqueue(EnqueueRequest{RateGroup: "throttled"})
		require.NoError(t, err)

		job, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.ID)
	})

	t.Run("denied groups are skipped in priority order", func(t *testing.T) {
		engine, clk, _ := newTestEngine(t)
		engine.SetAdmission(denyGroup{group: "slow-api"})

		_, err := engine.Enqueue(EnqueueRequest{Priority: 1, RateGroup: "slow-api"})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
		plainJob, err := engine.Enqueue(EnqueueRequest{Priority: 5})
		require.NoError(t, err)

		job, err := engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, plainJob, job.ID, "denied higher-priority job is skipped")

		// Only the denied job remains; nothing is acquirable
		job, err = engine.Acquire(time.Minute, "")
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}
