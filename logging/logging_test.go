package logging

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceCapturesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Info("connected", Server("web1"), String("host", "10.0.0.5"))
	Warn("listing failed", Path("/etc"), Err(errors.New("permission denied")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "connected", entries[0].Message)
	assert.Equal(t, "web1", entries[0].ContextMap()["server"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "permission denied", entries[1].ContextMap()["error"])
}

func TestInitWritesToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sshdeck.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", OutputPath: out}))
	defer InitDefault()

	Debug("debug line")
	_ = Sync()

	assert.FileExists(t, out)
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", Format: "console"}))
	defer InitDefault()

	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))
	SetLevel("debug")
	assert.True(t, L().Core().Enabled(zapcore.DebugLevel))
	SetLevel("not-a-level")
	assert.True(t, L().Core().Enabled(zapcore.DebugLevel), "invalid level is ignored")
}
