package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_ParsesKnownNamesDefaultsInfo(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Level("debug"))
	assert.Equal(t, slog.LevelWarn, Level("WARN"))
	assert.Equal(t, slog.LevelWarn, Level("warning"))
	assert.Equal(t, slog.LevelError, Level("error"))
	assert.Equal(t, slog.LevelInfo, Level("info"))
	assert.Equal(t, slog.LevelInfo, Level("chatty"))
}

func TestSetup_WritesJSONLinesWithServiceAttr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemd.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path})
	require.NoError(t, err)

	logger.Info("snapshot committed", slog.Uint64("snapshot_id", 7))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"msg":"snapshot committed"`)
	assert.Contains(t, line, `"snapshot_id":7`)
	assert.Contains(t, line, `"service":"mnemd"`)
}

func TestSetup_LevelFiltersBelowThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemd.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	logger.Debug("invisible")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "invisible")
	assert.Contains(t, string(data), "visible")
}

func TestForComponent_LabelsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemd.log")
	logger, cleanup, err := Setup(Config{FilePath: path})
	require.NoError(t, err)

	ForComponent(logger, "pipeline").Info("ingest accepted")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"pipeline"`)
}

func TestRotatingWriter_ShiftsCascade(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemd.log")
	w, err := newRotatingWriter(path, 64, 3)
	require.NoError(t, err)
	defer w.Close()

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 6; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	// Live file plus at least one rotated slot, nothing past the cap.
	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "cascade must drop slots past maxKeep-1")
}

func TestRotatingWriter_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemd.log")
	w, err := newRotatingWriter(path, 1024, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = newRotatingWriter(path, 1024, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
