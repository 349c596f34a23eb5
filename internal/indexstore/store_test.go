package indexstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
)

// Both backends must satisfy the same behavioral contract, so every test
// runs against each.
func forEachBackend(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	for _, backend := range []string{"bolt", "sql"} {
		t.Run(backend, func(t *testing.T) {
			store, err := Open(Config{Dir: t.TempDir(), Backend: backend, InternCacheSize: 64})
			require.NoError(t, err)
			defer store.Close()
			fn(t, store)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Config{Dir: t.TempDir(), Backend: "papyrus"})
	assert.Error(t, err)
}

func TestProjects_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		rec := ProjectRecord{
			ID:        "proj-1",
			Root:      "/tmp/proj",
			CreatedAt: time.Now().UnixNano(),
			Branch:    "main",
			AuthToken: "secret",
		}
		require.NoError(t, store.Update(func(tx Tx) error {
			return tx.PutProject(rec)
		}))

		require.NoError(t, store.View(func(tx Tx) error {
			got, ok, err := tx.GetProject("proj-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec, got)

			_, ok, err = tx.GetProject("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			var count int
			require.NoError(t, tx.Projects(func(ProjectRecord) bool {
				count++
				return true
			}))
			assert.Equal(t, 1, count)
			return nil
		}))
	})
}

func TestInterning_StableIDsAndReverseLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		var first, second, other uint64
		require.NoError(t, store.Update(func(tx Tx) error {
			var err error
			if first, err = tx.InternPath("src/main.go"); err != nil {
				return err
			}
			if second, err = tx.InternPath("src/main.go"); err != nil {
				return err
			}
			if other, err = tx.InternPath("src/util.go"); err != nil {
				return err
			}
			return nil
		}))

		assert.Equal(t, first, second, "interning the same string twice must reuse the ID")
		assert.NotEqual(t, first, other)

		require.NoError(t, store.View(func(tx Tx) error {
			s, ok, err := tx.PathString(first)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "src/main.go", s)

			id, ok, err := tx.LookupPath("src/main.go")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first, id)

			_, ok, err = tx.LookupPath("nope.go")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})
}

func TestInterning_SeparateNamespaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		require.NoError(t, store.Update(func(tx Tx) error {
			pathID, err := tx.InternPath("thing")
			require.NoError(t, err)
			nameID, err := tx.InternName("thing")
			require.NoError(t, err)
			scopeID, err := tx.InternScope("thing")
			require.NoError(t, err)

			// Same string in each table gets independent rows; reading one
			// table's ID out of another must not conjure the wrong string.
			s, ok, err := tx.NameString(nameID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "thing", s)

			s, ok, err = tx.ScopeString(scopeID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "thing", s)

			_ = pathID
			return nil
		}))
	})
}

func makeSnapshot(id, pathID, parentID uint64, ts int64, content string) SnapshotRecord {
	return SnapshotRecord{
		ID:            id,
		PathID:        pathID,
		ParentID:      parentID,
		ContentDigest: cas.Sum([]byte(content)),
		ChunkMapID:    id,
		Timestamp:     ts,
		Size:          int64(len(content)),
	}
}

func TestSnapshots_ChainAndOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		var pathID uint64
		require.NoError(t, store.Update(func(tx Tx) error {
			var err error
			pathID, err = tx.InternPath("a.txt")
			require.NoError(t, err)

			prev := uint64(0)
			for i := 1; i <= 3; i++ {
				id, err := tx.NextSnapshotID()
				require.NoError(t, err)
				rec := makeSnapshot(id, pathID, prev, int64(i*1000), "v")
				require.NoError(t, tx.PutSnapshot(rec))
				prev = id
			}
			return nil
		}))

		require.NoError(t, store.View(func(tx Tx) error {
			head, ok, err := tx.HeadSnapshot(pathID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(3), head.ID)
			assert.Equal(t, uint64(2), head.ParentID)

			// Newest first, strictly decreasing ids forming a linear chain.
			var ids []uint64
			require.NoError(t, tx.SnapshotsForPath(pathID, func(r SnapshotRecord) bool {
				ids = append(ids, r.ID)
				return true
			}))
			assert.Equal(t, []uint64{3, 2, 1}, ids)

			n, err := tx.SnapshotCount()
			require.NoError(t, err)
			assert.Equal(t, uint64(3), n)

			rec, ok, err := tx.GetSnapshot(2)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(1), rec.ParentID)
			return nil
		}))
	})
}

func TestSnapshots_ByTimeNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		require.NoError(t, store.Update(func(tx Tx) error {
			pa, err := tx.InternPath("a.txt")
			require.NoError(t, err)
			pb, err := tx.InternPath("b.txt")
			require.NoError(t, err)

			for i, p := range []uint64{pa, pb, pa} {
				id, err := tx.NextSnapshotID()
				require.NoError(t, err)
				require.NoError(t, tx.PutSnapshot(makeSnapshot(id, p, 0, int64((i+1)*100), "x")))
			}
			return nil
		}))

		require.NoError(t, store.View(func(tx Tx) error {
			var times []int64
			require.NoError(t, tx.SnapshotsByTime(func(r SnapshotRecord) bool {
				times = append(times, r.Timestamp)
				return true
			}))
			assert.Equal(t, []int64{300, 200, 100}, times)
			return nil
		}))
	})
}

func TestChunkMaps_RoundTripIncludingEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		entries := []ChunkMapEntry{
			{Digest: cas.Sum([]byte("one")), Length: 3},
			{Digest: cas.Sum([]byte("two")), Length: 1234},
		}
		var id, emptyID uint64
		require.NoError(t, store.Update(func(tx Tx) error {
			var err error
			id, err = tx.NextChunkMapID()
			require.NoError(t, err)
			require.NoError(t, tx.PutChunkMap(id, entries))

			emptyID, err = tx.NextChunkMapID()
			require.NoError(t, err)
			return tx.PutChunkMap(emptyID, nil)
		}))

		require.NoError(t, store.View(func(tx Tx) error {
			got, ok, err := tx.GetChunkMap(id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, entries, got)

			got, ok, err = tx.GetChunkMap(emptyID)
			require.NoError(t, err)
			require.True(t, ok, "a zero-entry chunk-map is present, not missing")
			assert.Empty(t, got)

			_, ok, err = tx.GetChunkMap(9999)
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})
}

func TestSymbols_SecondaryIndexes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		digest := cas.Sum([]byte("body"))
		var nameID uint64
		require.NoError(t, store.Update(func(tx Tx) error {
			var err error
			nameID, err = tx.InternName("foo")
			require.NoError(t, err)
			scopeID, err := tx.InternScope("")
			require.NoError(t, err)

			for ord := uint32(0); ord < 2; ord++ {
				rec := SymbolRecord{
					NameID:           nameID,
					ScopeID:          scopeID,
					Kind:             "Function",
					SpanStart:        ord * 10,
					SpanEnd:          ord*10 + 5,
					StructuralDigest: digest,
				}
				require.NoError(t, tx.PutSymbol(7, ord, rec))
			}
			return nil
		}))

		require.NoError(t, store.View(func(tx Tx) error {
			var ords []uint32
			require.NoError(t, tx.SymbolsForSnapshot(7, func(ord uint32, _ SymbolRecord) bool {
				ords = append(ords, ord)
				return true
			}))
			assert.Equal(t, []uint32{0, 1}, ords)

			// Two symbols sharing a structural digest in one snapshot must
			// both be reachable through the by-struct index.
			var hits int
			require.NoError(t, tx.SymbolsByStruct(digest, func(snapID uint64, _ uint32) bool {
				assert.Equal(t, uint64(7), snapID)
				hits++
				return true
			}))
			assert.Equal(t, 2, hits)

			hits = 0
			require.NoError(t, tx.SymbolsByName(nameID, func(uint64, uint32) bool {
				hits++
				return true
			}))
			assert.Equal(t, 2, hits)

			rec, ok, err := tx.GetSymbol(7, 1)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint32(10), rec.SpanStart)

			n, err := tx.SymbolCount()
			require.NoError(t, err)
			assert.Equal(t, uint64(2), n)
			return nil
		}))
	})
}

func TestDeltas_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		old := &DeltaSymbol{NameID: 1, Kind: "Function", StructuralDigest: cas.Sum([]byte("a"))}
		niu := &DeltaSymbol{NameID: 2, Kind: "Function", StructuralDigest: cas.Sum([]byte("a"))}
		require.NoError(t, store.Update(func(tx Tx) error {
			require.NoError(t, tx.PutDelta(3, 0, DeltaRecord{Kind: "Renamed", Old: old, New: niu}))
			return tx.PutDelta(3, 1, DeltaRecord{Kind: "Added", New: niu})
		}))

		require.NoError(t, store.View(func(tx Tx) error {
			var kinds []string
			require.NoError(t, tx.DeltasForSnapshot(3, func(_ uint32, rec DeltaRecord) bool {
				kinds = append(kinds, rec.Kind)
				return true
			}))
			assert.Equal(t, []string{"Renamed", "Added"}, kinds)
			return nil
		}))
	})
}

func TestTrigramsAndBlobRefs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		d := cas.Sum([]byte("chunk"))
		require.NoError(t, store.Update(func(tx Tx) error {
			require.NoError(t, tx.PutTrigram(d, 0xDEADBEEF))

			refs, err := tx.IncBlobRef(d, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(2), refs)
			return nil
		}))

		require.NoError(t, store.Update(func(tx Tx) error {
			filter, ok, err := tx.GetTrigram(d)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(0xDEADBEEF), filter)

			refs, err := tx.IncBlobRef(d, -1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), refs)

			// Dropping to zero removes the row entirely.
			refs, err = tx.IncBlobRef(d, -1)
			require.NoError(t, err)
			assert.Equal(t, int64(0), refs)

			refs, err = tx.BlobRef(d)
			require.NoError(t, err)
			assert.Equal(t, int64(0), refs)
			return nil
		}))
	})
}

func TestUpdate_RollbackOnError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		sentinel := assert.AnError
		err := store.Update(func(tx Tx) error {
			if err := tx.PutProject(ProjectRecord{ID: "doomed"}); err != nil {
				return err
			}
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)

		require.NoError(t, store.View(func(tx Tx) error {
			_, ok, err := tx.GetProject("doomed")
			require.NoError(t, err)
			assert.False(t, ok, "rolled-back writes must not be observable")
			return nil
		}))
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	for _, backend := range []string{"bolt", "sql"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			cfg := Config{Dir: dir, Backend: backend, InternCacheSize: 64}

			store, err := Open(cfg)
			require.NoError(t, err)
			var pathID uint64
			require.NoError(t, store.Update(func(tx Tx) error {
				pathID, err = tx.InternPath("persist.go")
				require.NoError(t, err)
				id, err := tx.NextSnapshotID()
				require.NoError(t, err)
				return tx.PutSnapshot(makeSnapshot(id, pathID, 0, 42, "data"))
			}))
			require.NoError(t, store.Close())

			store, err = Open(cfg)
			require.NoError(t, err)
			defer store.Close()
			require.NoError(t, store.View(func(tx Tx) error {
				head, ok, err := tx.HeadSnapshot(pathID)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, int64(42), head.Timestamp)
				return nil
			}))

			// A fresh snapshot ID after reopen must not collide.
			require.NoError(t, store.Update(func(tx Tx) error {
				id, err := tx.NextSnapshotID()
				require.NoError(t, err)
				assert.Greater(t, id, uint64(1))
				return nil
			}))
		})
	}
}
