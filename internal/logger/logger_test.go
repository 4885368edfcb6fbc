package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestFileSafeTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 5, 7, 123456000, time.UTC)
	assert.Equal(t, "2026-03-01_09-05-07-123456", FileSafeTimestamp(ts))
	assert.Equal(t, filepath.Join("logs", "dedup_2026-03-01_09-05-07-123456.log"), RunLogPath("logs", "dedup", ts))
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := New(Config{Level: "warn", OutputPaths: []string{path}})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, path, err := NewRun(Config{}, dir, "capture")
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "capture_"))

	log.Info("beginning site")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "beginning site")
	assert.Contains(t, string(data), `"command":"capture"`)
}
