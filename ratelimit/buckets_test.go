package ratelimit

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	andtest "github.com/Mathweuzz/Andorinha-Jobs/internal/testing"
)

// admitInTx runs one Admit call inside its own transaction, the way the
// lease engine invokes the capability.
func admitInTx(t *testing.T, database *sql.DB, b *Buckets, group string, now time.Time) bool {
	t.Helper()
	tx, err := database.Begin()
	require.NoError(t, err)
	ok, err := b.Admit(tx, group, now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return ok
}

func TestBuckets(t *testing.T) {
	t.Run("unconfigured groups are unlimited", func(t *testing.T) {
		database := andtest.CreateTestDB(t)
		clk := clock.NewFake()
		buckets := NewBucketsWithClock(database, clk)

		for i := 0; i < 10; i++ {
			assert.True(t, admitInTx(t, database, buckets, "anything", clk.Now()))
		}
	})

	t.Run("consumes one token per admit until empty", func(t *testing.T) {
		database := andtest.CreateTestDB(t)
		clk := clock.NewFake()
		buckets := NewBucketsWithClock(database, clk)

		require.NoError(t, buckets.Configure("api", 2, 60))

		assert.True(t, admitInTx(t, database, buckets, "api", clk.Now()))
		assert.True(t, admitInTx(t, database, buckets, "api", clk.Now()))
		assert.False(t, admitInTx(t, database, buckets, "api", clk.Now()), "bucket drained")
	})

	t.Run("refills to capacity after the interval", func(t *testing.T) {
		database := andtest.CreateTestDB(t)
		clk := clock.NewFake()
		buckets := NewBucketsWithClock(database, clk)

		require.NoError(t, buckets.Configure("api", 1, 60))

		assert.True(t, admitInTx(t, database, buckets, "api", clk.Now()))
		assert.False(t, admitInTx(t, database, buckets, "api", clk.Now()))

		clk.Advance(59 * time.Second)
		assert.False(t, admitInTx(t, database, buckets, "api", clk.Now()), "interval not yet elapsed")

		clk.Advance(time.Second)
		assert.True(t, admitInTx(t, database, buckets, "api", clk.Now()), "bucket refilled")
	})

	t.Run("a rolled-back admit returns the token", func(t *testing.T) {
		database := andtest.CreateTestDB(t)
		clk := clock.NewFake()
		buckets := NewBucketsWithClock(database, clk)

		require.NoError(t, buckets.Configure("api", 1, 60))

		tx, err := database.Begin()
		require.NoError(t, err)
		ok, err := buckets.Admit(tx, "api", clk.Now())
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, tx.Rollback())

		// Token accounting rolled back with the lease grant
		assert.True(t, admitInTx(t, database, buckets, "api", clk.Now()))
	})

	t.Run("configure rejects non-positive parameters", func(t *testing.T) {
		database := andtest.CreateTestDB(t)
		buckets := NewBuckets(database)

		require.Error(t, buckets.Configure("api", 0, 60))
		require.Error(t, buckets.Configure("api", 5, 0))
	})
}
