package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupConfig_NothingToBackUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mnemosyne.yaml")
	backup, err := BackupConfig(path)
	require.NoError(t, err)
	assert.Empty(t, backup, "a missing config yields no backup, not an error")
}

func TestBackupConfig_PreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mnemosyne.yaml")
	content := "version: 1\nindex:\n  backend: sql\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	backup, err := BackupConfig(path)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestListConfigBackups_NewestFirstAndPruned(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mnemosyne.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	// More backups than the cap; each call prunes past maxConfigBackups.
	var last string
	for i := 0; i < maxConfigBackups+2; i++ {
		b, err := BackupConfig(path)
		require.NoError(t, err)
		last = b
	}

	backups, err := ListConfigBackups(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), maxConfigBackups)
	require.NotEmpty(t, backups)
	assert.Equal(t, last, backups[0], "newest revision listed first")
}

func TestListConfigBackups_EmptyDirIsFine(t *testing.T) {
	backups, err := ListConfigBackups(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRestoreConfig_RoundTripsAndIsUndoable(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mnemosyne.yaml")
	original := "version: 1\nindex:\n  backend: bolt\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	backup, err := BackupConfig(path)
	require.NoError(t, err)

	// Clobber, then restore.
	clobbered := "version: 1\nindex:\n  backend: sql\n"
	require.NoError(t, os.WriteFile(path, []byte(clobbered), 0o644))
	require.NoError(t, RestoreConfig(backup, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))

	// The restore backed up the clobbered content, so it is recoverable
	// too.
	backups, err := ListConfigBackups(path)
	require.NoError(t, err)
	found := false
	for _, b := range backups {
		d, err := os.ReadFile(b)
		require.NoError(t, err)
		if string(d) == clobbered {
			found = true
		}
	}
	assert.True(t, found, "restore must preserve the content it replaced")
}

func TestRestoreConfig_MissingBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mnemosyne.yaml")
	err := RestoreConfig(filepath.Join(t.TempDir(), "nope.bak"), path)
	assert.Error(t, err)
}

func TestWriteYAML_BacksUpPreviousRevision(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, ".mnemosyne.yaml")

	first := NewConfig()
	require.NoError(t, first.WriteYAML(path))

	second := NewConfig()
	second.Index.Backend = "sql"
	require.NoError(t, second.WriteYAML(path))

	backups, err := ListConfigBackups(path)
	require.NoError(t, err)
	require.NotEmpty(t, backups, "overwriting a config must keep the prior revision")

	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: bolt")
}
