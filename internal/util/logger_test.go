package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerProductionCarriesServiceIdentity(t *testing.T) {
	require.NoError(t, InitLogger("production"))

	got := GetLogger()
	require.NotNil(t, got)
	assert.True(t, got.Core().Enabled(zapcore.InfoLevel))

	SyncLogger()
}

func TestInitLoggerDevelopment(t *testing.T) {
	require.NoError(t, InitLogger("development"))
	assert.NotNil(t, GetLogger())
}
