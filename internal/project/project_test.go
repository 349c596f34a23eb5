package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessandrobrunoh/mnemosyne/internal/config"
)

func testConfig() *config.Config {
	return config.NewConfig()
}

func TestOpen_FirstTimeCreatesIdentity(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	assert.NotEmpty(t, p.ID)
	assert.NotEmpty(t, p.AuthToken)
	assert.False(t, p.CreatedAt.IsZero())

	data, err := os.ReadFile(filepath.Join(root, DirName, "tracked"))
	require.NoError(t, err)
	assert.Equal(t, p.ID+"\n", string(data))
}

func TestOpen_ReopenPreservesIdentity(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	id, token := p.ID, p.AuthToken
	require.NoError(t, p.Close())

	p2, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p2.Close()
	assert.Equal(t, id, p2.ID)
	assert.Equal(t, token, p2.AuthToken)
}

func TestOpen_IDStableForSameRoot(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	id := p.ID
	require.NoError(t, p.Close())

	// Wiping state and re-tracking the same root derives the same ID.
	require.NoError(t, os.RemoveAll(filepath.Join(root, DirName)))
	p2, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p2.Close()
	assert.Equal(t, id, p2.ID)
}

func TestOpen_SecondDaemonRejected(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	_, err = Open(root, testConfig())
	assert.Error(t, err, "advisory lock must reject a concurrent open")
}

func TestOpen_MissingRoot(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), testConfig())
	assert.Error(t, err)
}

func TestRel_InsideAndOutside(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	rel, err := p.Rel(filepath.Join(root, "src", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "src/a.go", rel)

	_, err = p.Rel("/somewhere/else/a.go")
	assert.Error(t, err)
}

func TestPathLock_SameMutexPerPath(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	assert.Same(t, p.PathLock("a.go"), p.PathLock("a.go"))
	assert.NotSame(t, p.PathLock("a.go"), p.PathLock("b.go"))
}

func TestIgnoreRules_MergedSources(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".mnemignore"),
		[]byte("*.log\n# comment\nsecret/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"),
		[]byte("*.tmp\n"), 0o644))

	cfg := testConfig()
	p, err := Open(root, cfg)
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, p.Ignore.Match("debug.log", false))
	assert.True(t, p.Ignore.Match("secret", true))
	assert.True(t, p.Ignore.Match("x.tmp", false), "gitignore respected by default")
	assert.True(t, p.Ignore.Match("node_modules/x/y.js", false), "config defaults apply")
	assert.False(t, p.Ignore.Match("main.go", false))
}

func TestIgnoreRules_GitignoreOptOut(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"),
		[]byte("*.tmp\n"), 0o644))

	cfg := testConfig()
	cfg.Paths.RespectGitignore = false
	p, err := Open(root, cfg)
	require.NoError(t, err)
	defer p.Close()

	assert.False(t, p.Ignore.Match("x.tmp", false))
}

func TestIgnoreRules_ReloadPicksUpChanges(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	assert.False(t, p.Ignore.Match("late.log", false))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".mnemignore"),
		[]byte("*.log\n"), 0o644))
	require.NoError(t, p.Ignore.Reload())
	assert.True(t, p.Ignore.Match("late.log", false))
}

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := NewRegistry()
	root := t.TempDir()
	p, err := Open(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	require.True(t, reg.Add(p))
	assert.False(t, reg.Add(p), "duplicate IDs are rejected")

	got, ok := reg.Get(p.ID)
	require.True(t, ok)
	assert.Same(t, p, got)

	got, ok = reg.GetByRoot(root)
	require.True(t, ok)
	assert.Same(t, p, got)

	got, ok = reg.ForPath(filepath.Join(root, "deep", "file.go"))
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = reg.ForPath("/elsewhere/file.go")
	assert.False(t, ok)

	removed, ok := reg.Remove(p.ID)
	require.True(t, ok)
	assert.Same(t, p, removed)
	_, ok = reg.Get(p.ID)
	assert.False(t, ok)
}

func TestStats_SnapshotReflectsCounters(t *testing.T) {
	s := NewStats()
	s.Ingests.Add(3)
	s.DroppedEvents.Add(1)

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap["ingests"])
	assert.Equal(t, uint64(1), snap["dropped_events"])
	assert.Equal(t, uint64(0), snap["parse_failures"])
}
