package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noIgnore(string, bool) bool { return false }

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func stampsOf(t *testing.T, s *pollSource, root string) map[string]stamp {
	t.Helper()
	stamps, err := s.scan(root, func(error) {})
	require.NoError(t, err)
	return stamps
}

func diffOps(s *pollSource, prev, cur map[string]stamp) map[string]Op {
	out := map[string]Op{}
	s.diff(prev, cur, func(raw rawEvent) { out[raw.rel] = raw.op })
	return out
}

func TestPollScan_RecordsFilesSkipsStateDir(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.go", "package a")
	write(t, root, "sub/b.go", "package b")
	write(t, root, ".mnemosyne/db/index.bolt", "engine state")

	s := newPollSource(time.Second, noIgnore)
	stamps := stampsOf(t, s, root)

	assert.Contains(t, stamps, "a.go")
	assert.Contains(t, stamps, "sub/b.go")
	for rel := range stamps {
		assert.False(t, strings.HasPrefix(rel, ".mnemosyne"),
			"engine state must never be scanned: %s", rel)
	}
}

func TestPollScan_HonorsIgnoreRules(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/keep.go", "package src")
	write(t, root, "vendor/dep.go", "package dep")

	s := newPollSource(time.Second, func(rel string, isDir bool) bool {
		return rel == "vendor"
	})
	stamps := stampsOf(t, s, root)

	assert.Contains(t, stamps, "src/keep.go")
	assert.NotContains(t, stamps, "vendor/dep.go", "ignored trees are not walked")
}

func TestPollDiff_CreateModifyRemove(t *testing.T) {
	root := t.TempDir()
	s := newPollSource(time.Second, noIgnore)

	write(t, root, "stay.go", "v1")
	write(t, root, "gone.go", "v1")
	prev := stampsOf(t, s, root)

	// Mutate between passes: one new, one changed, one removed.
	write(t, root, "new.go", "v1")
	write(t, root, "stay.go", "v2 with different size")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))
	cur := stampsOf(t, s, root)

	ops := diffOps(s, prev, cur)
	assert.Equal(t, OpCreate, ops["new.go"])
	assert.Equal(t, OpModify, ops["stay.go"])
	assert.Equal(t, OpRemove, ops["gone.go"])
	assert.Len(t, ops, 3)
}

func TestPollDiff_UnchangedStampsAreSilent(t *testing.T) {
	root := t.TempDir()
	s := newPollSource(time.Second, noIgnore)
	write(t, root, "quiet.go", "unchanged")

	prev := stampsOf(t, s, root)
	cur := stampsOf(t, s, root)

	assert.Empty(t, diffOps(s, prev, cur))
}

func TestPollDiff_MoveIsRemovePlusCreate(t *testing.T) {
	root := t.TempDir()
	s := newPollSource(time.Second, noIgnore)
	write(t, root, "old/name.go", "contents")
	prev := stampsOf(t, s, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "new"), 0o755))
	require.NoError(t, os.Rename(
		filepath.Join(root, "old", "name.go"),
		filepath.Join(root, "new", "name.go")))
	cur := stampsOf(t, s, root)

	ops := diffOps(s, prev, cur)
	assert.Equal(t, OpRemove, ops["old/name.go"])
	assert.Equal(t, OpCreate, ops["new/name.go"])
}
