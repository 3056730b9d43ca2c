package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	t.Run("renders UTC with millisecond precision and Z suffix", func(t *testing.T) {
		instant := time.Date(2025, 8, 14, 12, 34, 56, 123_000_000, time.UTC)
		assert.Equal(t, "2025-08-14T12:34:56.123Z", Format(instant))
	})

	t.Run("converts non-UTC instants before rendering", func(t *testing.T) {
		loc := time.FixedZone("BRT", -3*60*60)
		instant := time.Date(2025, 8, 14, 9, 0, 0, 0, loc)
		assert.Equal(t, "2025-08-14T12:00:00.000Z", Format(instant))
	})

	t.Run("truncates sub-millisecond precision", func(t *testing.T) {
		instant := time.Date(2025, 1, 1, 0, 0, 0, 999_999, time.UTC) // just under 1ms
		assert.Equal(t, "2025-01-01T00:00:00.000Z", Format(instant))
	})
}

func TestParse(t *testing.T) {
	t.Run("round-trips the wire format", func(t *testing.T) {
		instant := time.Date(2025, 8, 14, 12, 34, 56, 123_000_000, time.UTC)
		parsed, err := Parse(Format(instant))
		require.NoError(t, err)
		assert.True(t, parsed.Equal(instant))
	})

	t.Run("rejects explicit numeric offsets", func(t *testing.T) {
		_, err := Parse("2025-08-14T12:34:56.123+00:00")
		require.Error(t, err)
	})

	t.Run("rejects missing Z suffix", func(t *testing.T) {
		_, err := Parse("2025-08-14T12:34:56.123")
		require.Error(t, err)
	})

	t.Run("rejects second precision", func(t *testing.T) {
		_, err := Parse("2025-08-14T12:34:56Z")
		require.Error(t, err)
	})
}

func TestSystemClock(t *testing.T) {
	t.Run("reports UTC", func(t *testing.T) {
		now := System().Now()
		_, offset := now.Zone()
		assert.Equal(t, 0, offset)
	})
}

func TestFakeClock(t *testing.T) {
	t.Run("starts at 2000-01-01T00:00:00Z", func(t *testing.T) {
		clk := NewFake()
		assert.Equal(t, "2000-01-01T00:00:00.000Z", Format(clk.Now()))
	})

	t.Run("advance moves the clock forward", func(t *testing.T) {
		clk := NewFake()
		t0 := clk.Now()
		clk.Advance(30 * time.Second)
		assert.Equal(t, 30*time.Second, clk.Now().Sub(t0))
	})

	t.Run("set pins the clock to a UTC instant", func(t *testing.T) {
		clk := NewFake()
		target := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, clk.Set(target))
		assert.True(t, clk.Now().Equal(target))
	})

	t.Run("set rejects non-UTC instants", func(t *testing.T) {
		clk := NewFake()
		loc := time.FixedZone("CET", 60*60)
		err := clk.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, loc))
		require.Error(t, err)

		// Clock unchanged after the rejected set
		assert.Equal(t, "2000-01-01T00:00:00.000Z", Format(clk.Now()))
	})

	t.Run("NewFakeAt starts at the given instant", func(t *testing.T) {
		target := time.Date(2030, 6, 15, 8, 0, 0, 0, time.UTC)
		clk, err := NewFakeAt(target)
		require.NoError(t, err)
		assert.True(t, clk.Now().Equal(target))
	})
}
