package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitBuildsGlobalLogger(t *testing.T) {
	err := Init(&Config{
		Level:       "debug",
		ServiceName: "test-service",
		Development: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, Get())
	assert.True(t, Get().Core().Enabled(-1)) // debug level
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(&Config{Level: "shout", ServiceName: "test-service"})
	assert.Error(t, err)
}

func TestGetAndSyncNeverPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Get().Info("quiet")
		Sync()
	})
}
