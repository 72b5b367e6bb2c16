package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("production logger ready")
}

func TestNewWithOptionsLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewWithOptions(Options{Level: "warn"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewWithOptions(Options{Development: true, Level: "error"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewWithOptionsRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := NewWithOptions(Options{Level: "chatty"})
	require.ErrorContains(t, err, "parse log level")
}
