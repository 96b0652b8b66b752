package utilities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nonsense"))
}

func TestInitWithSizeRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "api.log")
	lg, err := Init(Config{Level: "info", File: path, Rotate: RotateSize})
	require.NoError(t, err)

	lg.Info("hello")
	_ = lg.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestInitRejectsUnknownRotation(t *testing.T) {
	_, err := Init(Config{File: filepath.Join(t.TempDir(), "a.log"), Rotate: "weekly"})
	require.Error(t, err)
}

func TestIDGeneratorUnique(t *testing.T) {
	g := NewIDGenerator(3)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := g.Next()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	var nilGen *IDGenerator
	assert.Len(t, nilGen.Next(), 27)
	assert.Len(t, NewKSUID(), 27)
}
