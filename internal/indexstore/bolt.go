package indexstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
)

// Bucket names, one per logical table plus the secondary indexes.
var (
	bProjects        = []byte("projects")
	bPaths           = []byte("paths")
	bPathsRev        = []byte("paths_rev")
	bNames           = []byte("names")
	bNamesRev        = []byte("names_rev")
	bScopes          = []byte("scopes")
	bScopesRev       = []byte("scopes_rev")
	bSnapshots       = []byte("snapshots")
	bSnapshotsByID   = []byte("snapshots_by_id")
	bSnapshotsByTime = []byte("snapshots_by_time")
	bChunkMaps       = []byte("chunkmaps")
	bSymbols         = []byte("symbols")
	bSymbolsByStruct = []byte("symbols_by_struct")
	bSymbolsByName   = []byte("symbols_by_name")
	bDeltas          = []byte("deltas")
	bTrigrams        = []byte("trigrams")
	bBlobRefs        = []byte("blob_refs")
)

var allBuckets = [][]byte{
	bProjects,
	bPaths, bPathsRev,
	bNames, bNamesRev,
	bScopes, bScopesRev,
	bSnapshots, bSnapshotsByID, bSnapshotsByTime,
	bChunkMaps,
	bSymbols, bSymbolsByStruct, bSymbolsByName,
	bDeltas,
	bTrigrams,
	bBlobRefs,
}

// boltStore is the default Index Store backend: one bbolt file per project,
// one bucket per logical table, fsync-on-commit durability.
type boltStore struct {
	db     *bolt.DB
	caches *internCaches
}

func openBolt(cfg Config) (Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("indexstore: create db dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(cfg.Dir, "index.bolt"), 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("indexstore: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("indexstore: init buckets: %w", err)
	}
	caches, err := newInternCaches(cfg.InternCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db, caches: caches}, nil
}

func (s *boltStore) Update(fn func(Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx, caches: s.caches, writable: true})
	})
}

func (s *boltStore) View(fn func(Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx, caches: s.caches})
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx       *bolt.Tx
	caches   *internCaches
	writable bool
}

// --- projects ---

func (t *boltTx) PutProject(rec ProjectRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bProjects).Put([]byte(rec.ID), v)
}

func (t *boltTx) GetProject(id string) (ProjectRecord, bool, error) {
	var rec ProjectRecord
	v := t.tx.Bucket(bProjects).Get([]byte(id))
	if v == nil {
		return rec, false, nil
	}
	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (t *boltTx) Projects(fn func(ProjectRecord) bool) error {
	err := t.tx.Bucket(bProjects).ForEach(func(_, v []byte) error {
		var rec ProjectRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !fn(rec) {
			return errStopIteration
		}
		return nil
	})
	if err == errStopIteration {
		return nil
	}
	return err
}

// --- interning ---

func (t *boltTx) internBuckets(table internTable) (fwd, rev *bolt.Bucket) {
	switch table {
	case tablePaths:
		return t.tx.Bucket(bPaths), t.tx.Bucket(bPathsRev)
	case tableNames:
		return t.tx.Bucket(bNames), t.tx.Bucket(bNamesRev)
	default:
		return t.tx.Bucket(bScopes), t.tx.Bucket(bScopesRev)
	}
}

// lookupIntern finds s in one interning table without allocating.
// The reverse index is keyed hash(s)+id, so equal-hash strings coexist and
// are disambiguated by comparing the stored value.
func (t *boltTx) lookupIntern(table internTable, s string) (uint64, bool, error) {
	if id, ok := t.caches.byString(table).Get(s); ok {
		return id, true, nil
	}
	_, rev := t.internBuckets(table)
	prefix := u64be(stringHash(s))
	c := rev.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if string(v) == s {
			id := beU64(k[8:])
			// A writable transaction's cursor sees this transaction's own
			// uncommitted interns; caching those would survive a rollback.
			if !t.writable {
				t.caches.remember(table, id, s)
			}
			return id, true, nil
		}
	}
	return 0, false, nil
}

// intern returns the existing ID for s or allocates a new one.
func (t *boltTx) intern(table internTable, s string) (uint64, error) {
	if id, ok, err := t.lookupIntern(table, s); err != nil || ok {
		return id, err
	}
	fwd, rev := t.internBuckets(table)
	id, err := fwd.NextSequence()
	if err != nil {
		return 0, err
	}
	if err := fwd.Put(u64be(id), []byte(s)); err != nil {
		return 0, err
	}
	if err := rev.Put(concat(u64be(stringHash(s)), u64be(id)), []byte(s)); err != nil {
		return 0, err
	}
	// Not cached here: the transaction may still roll back. The next
	// lookup after commit fills the cache.
	return id, nil
}

func (t *boltTx) internString(table internTable, id uint64) (string, bool, error) {
	if s, ok := t.caches.byID(table).Get(id); ok {
		return s, true, nil
	}
	fwd, _ := t.internBuckets(table)
	v := fwd.Get(u64be(id))
	if v == nil {
		return "", false, nil
	}
	s := string(v)
	if !t.writable {
		t.caches.remember(table, id, s)
	}
	return s, true, nil
}

func (t *boltTx) InternPath(s string) (uint64, error)  { return t.intern(tablePaths, s) }
func (t *boltTx) InternName(s string) (uint64, error)  { return t.intern(tableNames, s) }
func (t *boltTx) InternScope(s string) (uint64, error) { return t.intern(tableScopes, s) }

func (t *boltTx) LookupPath(s string) (uint64, bool, error) {
	return t.lookupIntern(tablePaths, s)
}

func (t *boltTx) PathString(id uint64) (string, bool, error) {
	return t.internString(tablePaths, id)
}

func (t *boltTx) NameString(id uint64) (string, bool, error) {
	return t.internString(tableNames, id)
}

func (t *boltTx) ScopeString(id uint64) (string, bool, error) {
	return t.internString(tableScopes, id)
}

func (t *boltTx) PathIDs(fn func(id uint64, s string) bool) error {
	return foreachStop(t.tx.Bucket(bPaths), func(k, v []byte) bool {
		return fn(beU64(k), string(v))
	})
}

func (t *boltTx) NameIDs(fn func(id uint64, s string) bool) error {
	return foreachStop(t.tx.Bucket(bNames), func(k, v []byte) bool {
		return fn(beU64(k), string(v))
	})
}

// --- snapshots ---

func (t *boltTx) NextSnapshotID() (uint64, error) {
	return t.tx.Bucket(bSnapshots).NextSequence()
}

func (t *boltTx) PutSnapshot(rec SnapshotRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := concat(u64be(rec.PathID), u64be(rec.ID))
	if err := t.tx.Bucket(bSnapshots).Put(key, v); err != nil {
		return err
	}
	if err := t.tx.Bucket(bSnapshotsByID).Put(u64be(rec.ID), u64be(rec.PathID)); err != nil {
		return err
	}
	timeKey := concat(u64be(uint64(rec.Timestamp)), u64be(rec.PathID), u64be(rec.ID))
	return t.tx.Bucket(bSnapshotsByTime).Put(timeKey, nil)
}

func (t *boltTx) GetSnapshot(id uint64) (SnapshotRecord, bool, error) {
	var rec SnapshotRecord
	pathID := t.tx.Bucket(bSnapshotsByID).Get(u64be(id))
	if pathID == nil {
		return rec, false, nil
	}
	v := t.tx.Bucket(bSnapshots).Get(concat(pathID, u64be(id)))
	if v == nil {
		return rec, false, nil
	}
	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (t *boltTx) HeadSnapshot(pathID uint64) (SnapshotRecord, bool, error) {
	var rec SnapshotRecord
	found := false
	err := t.SnapshotsForPath(pathID, func(r SnapshotRecord) bool {
		rec, found = r, true
		return false // newest first: the first row is the head
	})
	return rec, found, err
}

// SnapshotsForPath walks a path's snapshots newest first.
func (t *boltTx) SnapshotsForPath(pathID uint64, fn func(SnapshotRecord) bool) error {
	prefix := u64be(pathID)
	c := t.tx.Bucket(bSnapshots).Cursor()

	// Position just past the prefix, then walk backwards through it.
	k, v := c.Seek(concat(prefix, u64be(^uint64(0))))
	if k == nil {
		k, v = c.Last()
	} else if !bytes.HasPrefix(k, prefix) {
		k, v = c.Prev()
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
		var rec SnapshotRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

// SnapshotsByTime walks all snapshots newest first.
func (t *boltTx) SnapshotsByTime(fn func(SnapshotRecord) bool) error {
	c := t.tx.Bucket(bSnapshotsByTime).Cursor()
	for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
		id := beU64(k[16:])
		rec, ok, err := t.GetSnapshot(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("indexstore: by-time index references missing snapshot %d", id)
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

func (t *boltTx) SnapshotCount() (uint64, error) {
	return uint64(t.tx.Bucket(bSnapshotsByID).Stats().KeyN), nil
}

// --- chunk maps ---

func (t *boltTx) NextChunkMapID() (uint64, error) {
	return t.tx.Bucket(bChunkMaps).NextSequence()
}

func (t *boltTx) PutChunkMap(id uint64, entries []ChunkMapEntry) error {
	return t.tx.Bucket(bChunkMaps).Put(u64be(id), encodeChunkMap(entries))
}

func (t *boltTx) GetChunkMap(id uint64) ([]ChunkMapEntry, bool, error) {
	v := t.tx.Bucket(bChunkMaps).Get(u64be(id))
	if v == nil {
		return nil, false, nil
	}
	entries, err := decodeChunkMap(id, v)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// --- symbols ---

func (t *boltTx) PutSymbol(snapshotID uint64, ordinal uint32, rec SymbolRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := concat(u64be(snapshotID), u32be(ordinal))
	if err := t.tx.Bucket(bSymbols).Put(key, v); err != nil {
		return err
	}
	structKey := concat(rec.StructuralDigest[:], u64be(snapshotID), u32be(ordinal))
	if err := t.tx.Bucket(bSymbolsByStruct).Put(structKey, nil); err != nil {
		return err
	}
	nameKey := concat(u64be(rec.NameID), u64be(snapshotID), u32be(ordinal))
	return t.tx.Bucket(bSymbolsByName).Put(nameKey, nil)
}

func (t *boltTx) GetSymbol(snapshotID uint64, ordinal uint32) (SymbolRecord, bool, error) {
	var rec SymbolRecord
	v := t.tx.Bucket(bSymbols).Get(concat(u64be(snapshotID), u32be(ordinal)))
	if v == nil {
		return rec, false, nil
	}
	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (t *boltTx) SymbolsForSnapshot(snapshotID uint64, fn func(uint32, SymbolRecord) bool) error {
	prefix := u64be(snapshotID)
	c := t.tx.Bucket(bSymbols).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var rec SymbolRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !fn(beU32(k[8:]), rec) {
			return nil
		}
	}
	return nil
}

func (t *boltTx) SymbolsByStruct(digest cas.Digest, fn func(uint64, uint32) bool) error {
	prefix := digest[:]
	c := t.tx.Bucket(bSymbolsByStruct).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if !fn(beU64(k[32:40]), beU32(k[40:])) {
			return nil
		}
	}
	return nil
}

func (t *boltTx) SymbolsByName(nameID uint64, fn func(uint64, uint32) bool) error {
	prefix := u64be(nameID)
	c := t.tx.Bucket(bSymbolsByName).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if !fn(beU64(k[8:16]), beU32(k[16:])) {
			return nil
		}
	}
	return nil
}

func (t *boltTx) SymbolCount() (uint64, error) {
	return uint64(t.tx.Bucket(bSymbols).Stats().KeyN), nil
}

// --- deltas ---

func (t *boltTx) PutDelta(snapshotID uint64, ordinal uint32, rec DeltaRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bDeltas).Put(concat(u64be(snapshotID), u32be(ordinal)), v)
}

func (t *boltTx) DeltasForSnapshot(snapshotID uint64, fn func(uint32, DeltaRecord) bool) error {
	prefix := u64be(snapshotID)
	c := t.tx.Bucket(bDeltas).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var rec DeltaRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if !fn(beU32(k[8:]), rec) {
			return nil
		}
	}
	return nil
}

// --- trigrams ---

func (t *boltTx) PutTrigram(chunkDigest cas.Digest, filter uint64) error {
	return t.tx.Bucket(bTrigrams).Put(chunkDigest[:], u64be(filter))
}

func (t *boltTx) GetTrigram(chunkDigest cas.Digest) (uint64, bool, error) {
	v := t.tx.Bucket(bTrigrams).Get(chunkDigest[:])
	if v == nil {
		return 0, false, nil
	}
	return beU64(v), true, nil
}

// --- blob refs ---

func (t *boltTx) IncBlobRef(chunkDigest cas.Digest, delta int64) (int64, error) {
	b := t.tx.Bucket(bBlobRefs)
	var refs int64
	if v := b.Get(chunkDigest[:]); v != nil {
		refs = int64(beU64(v))
	}
	refs += delta
	if refs < 0 {
		refs = 0
	}
	if refs == 0 {
		return 0, b.Delete(chunkDigest[:])
	}
	return refs, b.Put(chunkDigest[:], u64be(uint64(refs)))
}

func (t *boltTx) BlobRef(chunkDigest cas.Digest) (int64, error) {
	v := t.tx.Bucket(bBlobRefs).Get(chunkDigest[:])
	if v == nil {
		return 0, nil
	}
	return int64(beU64(v)), nil
}

func (t *boltTx) BlobRefs(fn func(cas.Digest, int64) bool) error {
	return foreachStop(t.tx.Bucket(bBlobRefs), func(k, v []byte) bool {
		var d cas.Digest
		copy(d[:], k)
		return fn(d, int64(beU64(v)))
	})
}

// --- iteration helpers ---

// errStopIteration is a sentinel used to break out of bucket.ForEach early;
// it never escapes this package.
var errStopIteration = fmt.Errorf("indexstore: stop iteration")

func foreachStop(b *bolt.Bucket, fn func(k, v []byte) bool) error {
	err := b.ForEach(func(k, v []byte) error {
		if !fn(k, v) {
			return errStopIteration
		}
		return nil
	})
	if err == errStopIteration {
		return nil
	}
	return err
}
