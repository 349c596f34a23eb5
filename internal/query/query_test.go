package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/parser"
	"github.com/alessandrobrunoh/mnemosyne/internal/pipeline"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
)

type testEnv struct {
	p  *project.Project
	pl *pipeline.Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.NewConfig()
	p, err := project.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &testEnv{p: p, pl: pipeline.New(cfg, parser.NewAdapter(), nil)}
}

func (e *testEnv) save(t *testing.T, rel, content string) uint64 {
	t.Helper()
	abs := filepath.Join(e.p.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	res, err := e.pl.Ingest(context.Background(), e.p, abs)
	require.NoError(t, err)
	require.Equal(t, pipeline.SkipNone, res.Skipped)
	return res.SnapshotID
}

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	e := newTestEnv(t)
	id1 := e.save(t, "a.txt", "one\n")
	id2 := e.save(t, "a.txt", "two\n")
	id3 := e.save(t, "a.txt", "three\n")

	entries, err := History(e.p, "a.txt", HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []uint64{id3, id2, id1},
		[]uint64{entries[0].SnapshotID, entries[1].SnapshotID, entries[2].SnapshotID})
	assert.Equal(t, id2, entries[0].ParentID)
	assert.NotEmpty(t, entries[0].Session)

	limited, err := History(e.p, "a.txt", HistoryOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, id3, limited[0].SnapshotID)
}

func TestHistory_UnknownPathEmpty(t *testing.T) {
	e := newTestEnv(t)
	entries, err := History(e.p, "missing.txt", HistoryOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestContent_ByIDAndByDigest(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "a.txt", "hello\n")

	data, err := Content(e.p, id)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	data, gotID, err := ContentByDigest(e.p, cas.Sum([]byte("hello\n")))
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "hello\n", string(data))

	_, _, err = ContentByDigest(e.p, cas.Sum([]byte("absent")))
	assert.Error(t, err)
}

func TestSymbolHistory_TracksExistence(t *testing.T) {
	e := newTestEnv(t)
	s1 := e.save(t, "m.go", "package m\n\nfunc foo() {}\n")
	s2 := e.save(t, "m.go", "package m\n\nfunc foo() {}\n\nfunc other() {}\n")
	e.save(t, "m.go", "package m\n\nfunc other() {}\n") // foo removed

	entries, err := SymbolHistory(e.p, SymbolRef{Path: "m.go", Name: "foo", Kind: "Function"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, s2, entries[0].SnapshotID)
	assert.Equal(t, s1, entries[1].SnapshotID)
}

func TestSemanticTimeline_AcrossRenameAndModify(t *testing.T) {
	e := newTestEnv(t)
	s1 := e.save(t, "b.go", "package b\n\nfunc foo(x int) int { return x + 1 }\n")
	s2 := e.save(t, "b.go", "package b\n\nfunc bar(x int) int { return x + 1 }\n")
	s3 := e.save(t, "b.go", "package b\n\nfunc bar(x int) int { return x + 2 }\n")

	timeline, err := SemanticTimeline(e.p, SymbolRef{Path: "b.go", Name: "bar", Kind: "Function"})
	require.NoError(t, err)
	require.Len(t, timeline, 3)

	assert.Equal(t, s1, timeline[0].SnapshotID)
	assert.Equal(t, "foo", timeline[0].Name)
	assert.Empty(t, timeline[0].DeltaKind)

	assert.Equal(t, s2, timeline[1].SnapshotID)
	assert.Equal(t, "bar", timeline[1].Name)
	assert.Equal(t, "Renamed", timeline[1].DeltaKind)

	assert.Equal(t, s3, timeline[2].SnapshotID)
	assert.Equal(t, "Modified", timeline[2].DeltaKind)

	// Monotonicity: strictly increasing timestamps.
	for i := 1; i < len(timeline); i++ {
		assert.True(t, timeline[i].Timestamp.After(timeline[i-1].Timestamp))
	}
}

func TestGrep_SingleHitAcrossManySnapshots(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "one.txt", "nothing to see\n")
	id := e.save(t, "two.txt", "line before\nthe needle is here\nline after\n")
	e.save(t, "three.txt", "also nothing\n")

	hits, err := Grep(e.p, "needle", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].SnapshotID)
	assert.Equal(t, "two.txt", hits[0].Path)
	assert.Equal(t, "the needle is here", hits[0].Line)
	assert.Equal(t, int64(16), hits[0].Offset)
}

func TestGrep_EmptyPatternRejected(t *testing.T) {
	e := newTestEnv(t)
	_, err := Grep(e.p, "", 0)
	assert.Error(t, err)
}

func TestSearchSymbols_CaseInsensitiveSubstring(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "m.go", "package m\n\nfunc HandleRequest() {}\n\nfunc helper() {}\n")

	matches, err := SearchSymbols(e.p, "handle", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "HandleRequest", matches[0].Name)
	assert.Equal(t, "Function", matches[0].Kind)
}

func TestSymbolDiff_ReportsStructuralChange(t *testing.T) {
	e := newTestEnv(t)
	s1 := e.save(t, "d.go", "package d\n\nfunc f(x int) int { return x + 1 }\n")
	s2 := e.save(t, "d.go", "package d\n\nfunc f(x int) int { return x + 2 }\n")

	a, b, equal, err := SymbolDiff(e.p, SymbolRef{Path: "d.go", Name: "f", Kind: "Function"}, s1, s2)
	require.NoError(t, err)
	assert.False(t, equal)
	assert.NotEqual(t, a.Digest, b.Digest)
	assert.Contains(t, a.Text, "x + 1")
	assert.Contains(t, b.Text, "x + 2")
}

func TestStats_CountsAndRatio(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "a.txt", "aaaa\n")
	e.save(t, "b.go", "package b\n\nfunc f() {}\n")

	st, err := Stats(e.p)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Snapshots)
	assert.GreaterOrEqual(t, st.Symbols, uint64(1))
	assert.GreaterOrEqual(t, st.UniqueChunks, uint64(2))
	assert.Positive(t, st.LogicalBytes)
	assert.Positive(t, st.CASBytes)
	assert.Equal(t, uint64(2), st.Counters["ingests"])
}

func TestActivity_RecentAcrossPaths(t *testing.T) {
	e := newTestEnv(t)
	e.save(t, "a.txt", "one\n")
	idB := e.save(t, "b.txt", "two\n")

	entries, err := Activity(e.p, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, idB, entries[0].SnapshotID)
	assert.Equal(t, "b.txt", entries[0].Path)
}
