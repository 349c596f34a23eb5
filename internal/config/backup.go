package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxConfigBackups bounds how many timestamped revisions of one config
// file are kept.
const maxConfigBackups = 3

// backupSuffix marks a backup revision: <name>.bak.<timestamp>.
const backupSuffix = ".bak."

// BackupConfig snapshots the current content of a config file into a
// timestamped sibling before it is rewritten, pruning revisions past
// maxConfigBackups. Returns the backup path, or "" when there was nothing
// to back up.
func BackupConfig(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read config for backup: %w", err)
	}

	backupPath := path + backupSuffix + time.Now().Format("20060102-150405.000")
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write config backup: %w", err)
	}

	pruneConfigBackups(path)
	return backupPath, nil
}

// ListConfigBackups returns a config file's backup revisions, newest
// first. The timestamp suffix sorts lexicographically in time order, so no
// stat calls are needed.
func ListConfigBackups(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list config directory: %w", err)
	}

	prefix := filepath.Base(path) + backupSuffix
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(filepath.Dir(path), entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// RestoreConfig writes a backup revision back over the config file,
// backing up the current content first so a restore is itself undoable.
func RestoreConfig(backupPath, path string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if _, err := BackupConfig(path); err != nil {
		return fmt.Errorf("backup current config before restore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	return nil
}

// pruneConfigBackups drops the oldest revisions past the cap, best effort.
func pruneConfigBackups(path string) {
	backups, err := ListConfigBackups(path)
	if err != nil || len(backups) <= maxConfigBackups {
		return
	}
	for _, old := range backups[maxConfigBackups:] {
		_ = os.Remove(old)
	}
}
