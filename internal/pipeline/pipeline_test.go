package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/indexstore"
	"github.com/alessandrobrunoh/mnemosyne/internal/model"
	"github.com/alessandrobrunoh/mnemosyne/internal/parser"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
	"github.com/alessandrobrunoh/mnemosyne/internal/reassemble"
)

type testEnv struct {
	p  *project.Project
	pl *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.NewConfig()
	root := t.TempDir()
	p, err := project.Open(root, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &testEnv{
		p:  p,
		pl: New(cfg, parser.NewAdapter(), nil),
	}
}

func (e *testEnv) save(t *testing.T, rel, content string) *Result {
	t.Helper()
	abs := filepath.Join(e.p.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	res, err := e.pl.Ingest(context.Background(), e.p, abs)
	require.NoError(t, err)
	return res
}

func (e *testEnv) deltas(t *testing.T, snapshotID uint64) []indexstore.DeltaRecord {
	t.Helper()
	var out []indexstore.DeltaRecord
	require.NoError(t, e.p.Index.View(func(tx indexstore.Tx) error {
		return tx.DeltasForSnapshot(snapshotID, func(_ uint32, rec indexstore.DeltaRecord) bool {
			out = append(out, rec)
			return true
		})
	}))
	return out
}

func TestIngest_FirstSaveRoundTrips(t *testing.T) {
	e := newTestEnv(t)
	res := e.save(t, "a.txt", "hello\n")

	require.Equal(t, SkipNone, res.Skipped)
	require.NotZero(t, res.SnapshotID)

	data, err := reassemble.Snapshot(e.p.Index, e.p.CAS, res.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	assert.Equal(t, uint64(1), e.p.Stats.Ingests.Load())
}

func TestIngest_IdenticalSaveDeduplicated(t *testing.T) {
	e := newTestEnv(t)
	first := e.save(t, "a.txt", "hello\n")
	second := e.save(t, "a.txt", "hello\n")

	assert.Equal(t, SkipUnchanged, second.Skipped)
	assert.Zero(t, second.SnapshotID)
	assert.Equal(t, uint64(1), e.p.Stats.Ingests.Load())
	assert.Equal(t, uint64(1), e.p.Stats.DedupSkips.Load())
	_ = first
}

func TestIngest_ParentChainLinksSnapshots(t *testing.T) {
	e := newTestEnv(t)
	first := e.save(t, "a.txt", "one\n")
	second := e.save(t, "a.txt", "two\n")

	require.NoError(t, e.p.Index.View(func(tx indexstore.Tx) error {
		rec, ok, err := tx.GetSnapshot(second.SnapshotID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first.SnapshotID, rec.ParentID)
		return nil
	}))
}

func TestIngest_GoSymbolsExtracted(t *testing.T) {
	e := newTestEnv(t)
	res := e.save(t, "main.go", "package main\n\nfunc foo(x int) int { return x + 1 }\n")

	require.Equal(t, SkipNone, res.Skipped)
	assert.False(t, res.Unparsed)
	assert.GreaterOrEqual(t, res.Symbols, 1)

	deltas := e.deltas(t, res.SnapshotID)
	require.NotEmpty(t, deltas)
	assert.Equal(t, string(model.DeltaAdded), deltas[0].Kind)
}

func TestIngest_RenameProducesRenamedDelta(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "b.go", "package b\n\nfunc foo(x int) int { return x + 1 }\n")
	res := e.save(t, "b.go", "package b\n\nfunc bar(x int) int { return x + 1 }\n")

	deltas := e.deltas(t, res.SnapshotID)
	require.Len(t, deltas, 1)
	assert.Equal(t, string(model.DeltaRenamed), deltas[0].Kind)
	require.NotNil(t, deltas[0].Old)
	require.NotNil(t, deltas[0].New)
	assert.Equal(t, deltas[0].Old.StructuralDigest, deltas[0].New.StructuralDigest)
}

func TestIngest_BodyChangeProducesModifiedDelta(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "b.go", "package b\n\nfunc bar(x int) int { return x + 1 }\n")
	res := e.save(t, "b.go", "package b\n\nfunc bar(x int) int { return x + 2 }\n")

	deltas := e.deltas(t, res.SnapshotID)
	require.Len(t, deltas, 1)
	assert.Equal(t, string(model.DeltaModified), deltas[0].Kind)
	assert.NotEqual(t, deltas[0].Old.StructuralDigest, deltas[0].New.StructuralDigest)

	data, err := reassemble.Snapshot(e.p.Index, e.p.CAS, res.SnapshotID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "x + 2")
}

func TestIngest_UnsupportedLanguageStillSnapshots(t *testing.T) {
	e := newTestEnv(t)
	res := e.save(t, "notes.txt", "plain text, no symbols here\n")

	require.Equal(t, SkipNone, res.Skipped)
	assert.Zero(t, res.Symbols)
	assert.False(t, res.Unparsed)

	data, err := reassemble.Snapshot(e.p.Index, e.p.CAS, res.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "plain text, no symbols here\n", string(data))
}

func TestIngest_BinaryFileRejected(t *testing.T) {
	e := newTestEnv(t)
	res := e.save(t, "blob.bin", "PK\x03\x04\x00\x00binary")

	assert.Equal(t, SkipBinary, res.Skipped)
	assert.Zero(t, e.p.Stats.Ingests.Load())
}

func TestIngest_IgnoredPathSkipped(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.p.Root, ".mnemignore"), []byte("*.log\n"), 0o644))
	require.NoError(t, e.p.Ignore.Reload())

	res := e.save(t, "noise.log", "ignored\n")
	assert.Equal(t, SkipIgnored, res.Skipped)
}

func TestIngest_OversizeFileSkipped(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Ingest.MaxFileSize = 8
	root := t.TempDir()
	p, err := project.Open(root, cfg)
	require.NoError(t, err)
	defer p.Close()
	pl := New(cfg, parser.NewAdapter(), nil)

	abs := filepath.Join(root, "big.txt")
	require.NoError(t, os.WriteFile(abs, []byte("way more than eight bytes\n"), 0o644))
	res, err := pl.Ingest(context.Background(), p, abs)
	require.NoError(t, err)
	assert.Equal(t, SkipTooLarge, res.Skipped)
	assert.Equal(t, uint64(1), p.Stats.ResourceSkips.Load())
}

func TestIngest_OutsideRootRejected(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.pl.Ingest(context.Background(), e.p, "/etc/hostname")
	assert.Error(t, err)
}

func TestIngest_BrokenChainStartsFresh(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "moved.txt", "v1\n")

	e.pl.BreakChain(e.p, "moved.txt")
	res := e.save(t, "moved.txt", "v2\n")

	require.NoError(t, e.p.Index.View(func(tx indexstore.Tx) error {
		rec, ok, err := tx.GetSnapshot(res.SnapshotID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, rec.ParentID, "chain-head drop means no parent")
		return nil
	}))
}

func TestIngest_BlobRefsAndTrigramsCommitted(t *testing.T) {
	e := newTestEnv(t)
	res := e.save(t, "a.txt", "some searchable needle text\n")

	require.NoError(t, e.p.Index.View(func(tx indexstore.Tx) error {
		entries, ok, err := tx.GetChunkMap(mustChunkMapID(t, tx, res.SnapshotID))
		require.NoError(t, err)
		require.True(t, ok)
		require.NotEmpty(t, entries)

		for _, entry := range entries {
			refs, err := tx.BlobRef(entry.Digest)
			require.NoError(t, err)
			assert.Positive(t, refs)

			_, ok, err := tx.GetTrigram(entry.Digest)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		return nil
	}))
}

func mustChunkMapID(t *testing.T, tx indexstore.Tx, snapshotID uint64) uint64 {
	t.Helper()
	rec, ok, err := tx.GetSnapshot(snapshotID)
	require.NoError(t, err)
	require.True(t, ok)
	return rec.ChunkMapID
}
