package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	t.Run("console mode", func(t *testing.T) {
		require.NoError(t, Initialize(false))
		assert.False(t, JSONOutput)
		assert.NotNil(t, Logger)
	})

	t.Run("json mode", func(t *testing.T) {
		require.NoError(t, Initialize(true))
		assert.True(t, JSONOutput)
		assert.NotNil(t, Logger)
	})
}

func TestHelpersAreNilSafe(t *testing.T) {
	saved := Logger
	Logger = nil
	defer func() { Logger = saved }()

	assert.NotPanics(t, func() {
		Infow("info", "k", "v")
		Warnw("warn")
		Errorw("error")
		Debugw("debug")
		Cleanup()
	})
}
