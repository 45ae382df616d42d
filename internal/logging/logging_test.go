package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetup(t *testing.T) {
	done, err := Setup(false)
	require.NoError(t, err)
	assert.False(t, zap.L().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	done()

	done, err = Setup(true)
	require.NoError(t, err)
	assert.True(t, zap.L().Core().Enabled(zapcore.DebugLevel))
	done()
}
