package indexstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
)

// sqlStore is the SQL Index Store backend: one SQLite file per project in
// WAL mode, one table per logical table, a single pooled connection so
// writes serialize the way bbolt's single-writer model does.
type sqlStore struct {
	db     *sql.DB
	caches *internCaches
}

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		record TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paths (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		s TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS names (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		s TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS scopes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		s TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY,
		path_id INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		record TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_path ON snapshots(path_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(ts, path_id, id)`,
	`CREATE TABLE IF NOT EXISTS chunkmaps (
		id INTEGER PRIMARY KEY,
		entries BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS symbols (
		snapshot_id INTEGER NOT NULL,
		ord INTEGER NOT NULL,
		name_id INTEGER NOT NULL,
		struct_digest BLOB NOT NULL,
		record TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, ord)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_struct ON symbols(struct_digest, snapshot_id)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name_id, snapshot_id)`,
	`CREATE TABLE IF NOT EXISTS deltas (
		snapshot_id INTEGER NOT NULL,
		ord INTEGER NOT NULL,
		record TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, ord)
	)`,
	`CREATE TABLE IF NOT EXISTS trigrams (
		digest BLOB PRIMARY KEY,
		filter INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blob_refs (
		digest BLOB PRIMARY KEY,
		refs INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
}

func openSQL(cfg Config) (Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("indexstore: create db dir: %w", err)
	}
	path := filepath.Join(cfg.Dir, "index.db")
	db, err := sql.Open(sqlDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("indexstore: open sqlite: %w", err)
	}

	// Single connection: SQLite has one writer anyway, and one shared
	// connection makes transaction scoping unambiguous.
	db.SetMaxOpenConns(1)

	// WAL mode must be set via PRAGMA; DSN parameters are driver-dependent.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("indexstore: %s: %w", p, err)
		}
	}

	for _, stmt := range sqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("indexstore: create schema: %w", err)
		}
	}

	caches, err := newInternCaches(cfg.InternCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStore{db: db, caches: caches}, nil
}

func (s *sqlStore) runTx(writable bool, fn func(Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	wrapped := &sqlTx{tx: tx, caches: s.caches, writable: writable}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) Update(fn func(Tx) error) error { return s.runTx(true, fn) }
func (s *sqlStore) View(fn func(Tx) error) error   { return s.runTx(false, fn) }

func (s *sqlStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

type sqlTx struct {
	tx       *sql.Tx
	caches   *internCaches
	writable bool
}

// --- projects ---

func (t *sqlTx) PutProject(rec ProjectRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT INTO projects (id, record) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		rec.ID, string(v))
	return err
}

func (t *sqlTx) GetProject(id string) (ProjectRecord, bool, error) {
	var rec ProjectRecord
	var raw string
	err := t.tx.QueryRow(`SELECT record FROM projects WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (t *sqlTx) Projects(fn func(ProjectRecord) bool) error {
	rows, err := t.tx.Query(`SELECT record FROM projects ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		var rec ProjectRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// --- interning ---

func internTableName(table internTable) string {
	switch table {
	case tablePaths:
		return "paths"
	case tableNames:
		return "names"
	default:
		return "scopes"
	}
}

func (t *sqlTx) lookupIntern(table internTable, s string) (uint64, bool, error) {
	if id, ok := t.caches.byString(table).Get(s); ok {
		return id, true, nil
	}
	var id uint64
	q := fmt.Sprintf(`SELECT id FROM %s WHERE s = ?`, internTableName(table))
	err := t.tx.QueryRow(q, s).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	// A writable transaction's query sees this transaction's own
	// uncommitted interns; caching those would survive a rollback.
	if !t.writable {
		t.caches.remember(table, id, s)
	}
	return id, true, nil
}

func (t *sqlTx) intern(table internTable, s string) (uint64, error) {
	if id, ok, err := t.lookupIntern(table, s); err != nil || ok {
		return id, err
	}
	q := fmt.Sprintf(`INSERT INTO %s (s) VALUES (?)`, internTableName(table))
	res, err := t.tx.Exec(q, s)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	// Not cached here: the transaction may still roll back.
	return uint64(id), nil
}

func (t *sqlTx) internString(table internTable, id uint64) (string, bool, error) {
	if s, ok := t.caches.byID(table).Get(id); ok {
		return s, true, nil
	}
	var s string
	q := fmt.Sprintf(`SELECT s FROM %s WHERE id = ?`, internTableName(table))
	err := t.tx.QueryRow(q, id).Scan(&s)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !t.writable {
		t.caches.remember(table, id, s)
	}
	return s, true, nil
}

func (t *sqlTx) InternPath(s string) (uint64, error)  { return t.intern(tablePaths, s) }
func (t *sqlTx) InternName(s string) (uint64, error)  { return t.intern(tableNames, s) }
func (t *sqlTx) InternScope(s string) (uint64, error) { return t.intern(tableScopes, s) }

func (t *sqlTx) LookupPath(s string) (uint64, bool, error) {
	return t.lookupIntern(tablePaths, s)
}

func (t *sqlTx) PathString(id uint64) (string, bool, error) {
	return t.internString(tablePaths, id)
}

func (t *sqlTx) NameString(id uint64) (string, bool, error) {
	return t.internString(tableNames, id)
}

func (t *sqlTx) ScopeString(id uint64) (string, bool, error) {
	return t.internString(tableScopes, id)
}

func (t *sqlTx) internIDs(table string, fn func(id uint64, s string) bool) error {
	rows, err := t.tx.Query(fmt.Sprintf(`SELECT id, s FROM %s ORDER BY id`, table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var s string
		if err := rows.Scan(&id, &s); err != nil {
			return err
		}
		if !fn(id, s) {
			return nil
		}
	}
	return rows.Err()
}

func (t *sqlTx) PathIDs(fn func(id uint64, s string) bool) error {
	return t.internIDs("paths", fn)
}

func (t *sqlTx) NameIDs(fn func(id uint64, s string) bool) error {
	return t.internIDs("names", fn)
}

// --- counters ---

func (t *sqlTx) nextCounter(name string) (uint64, error) {
	_, err := t.tx.Exec(
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1`, name)
	if err != nil {
		return 0, err
	}
	var v uint64
	if err := t.tx.QueryRow(`SELECT value FROM counters WHERE name = ?`, name).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// --- snapshots ---

func (t *sqlTx) NextSnapshotID() (uint64, error) {
	return t.nextCounter("snapshot_id")
}

func (t *sqlTx) PutSnapshot(rec SnapshotRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT INTO snapshots (id, path_id, ts, record) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.PathID, rec.Timestamp, string(v))
	return err
}

func (t *sqlTx) scanSnapshot(raw string) (SnapshotRecord, error) {
	var rec SnapshotRecord
	err := json.Unmarshal([]byte(raw), &rec)
	return rec, err
}

func (t *sqlTx) GetSnapshot(id uint64) (SnapshotRecord, bool, error) {
	var raw string
	err := t.tx.QueryRow(`SELECT record FROM snapshots WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	rec, err := t.scanSnapshot(raw)
	return rec, err == nil, err
}

func (t *sqlTx) HeadSnapshot(pathID uint64) (SnapshotRecord, bool, error) {
	var raw string
	err := t.tx.QueryRow(
		`SELECT record FROM snapshots WHERE path_id = ? ORDER BY id DESC LIMIT 1`,
		pathID).Scan(&raw)
	if err == sql.ErrNoRows {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	rec, err := t.scanSnapshot(raw)
	return rec, err == nil, err
}

func (t *sqlTx) snapshotRows(query string, args ...any) (func(func(SnapshotRecord) bool) error, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return func(fn func(SnapshotRecord) bool) error {
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			rec, err := t.scanSnapshot(raw)
			if err != nil {
				return err
			}
			if !fn(rec) {
				return nil
			}
		}
		return rows.Err()
	}, nil
}

func (t *sqlTx) SnapshotsForPath(pathID uint64, fn func(SnapshotRecord) bool) error {
	iter, err := t.snapshotRows(
		`SELECT record FROM snapshots WHERE path_id = ? ORDER BY id DESC`, pathID)
	if err != nil {
		return err
	}
	return iter(fn)
}

func (t *sqlTx) SnapshotsByTime(fn func(SnapshotRecord) bool) error {
	iter, err := t.snapshotRows(
		`SELECT record FROM snapshots ORDER BY ts DESC, path_id DESC, id DESC`)
	if err != nil {
		return err
	}
	return iter(fn)
}

func (t *sqlTx) SnapshotCount() (uint64, error) {
	var n uint64
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

// --- chunk maps ---

func (t *sqlTx) NextChunkMapID() (uint64, error) {
	return t.nextCounter("chunkmap_id")
}

// chunk-maps are packed as a single blob per id, in the shared encoding from
// keys.go, so both backends stay byte-compatible at the record level.
func (t *sqlTx) PutChunkMap(id uint64, entries []ChunkMapEntry) error {
	_, err := t.tx.Exec(
		`INSERT INTO chunkmaps (id, entries) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET entries = excluded.entries`,
		id, encodeChunkMap(entries))
	return err
}

func (t *sqlTx) GetChunkMap(id uint64) ([]ChunkMapEntry, bool, error) {
	var v []byte
	err := t.tx.QueryRow(`SELECT entries FROM chunkmaps WHERE id = ?`, id).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entries, err := decodeChunkMap(id, v)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// --- symbols ---

func (t *sqlTx) PutSymbol(snapshotID uint64, ordinal uint32, rec SymbolRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT INTO symbols (snapshot_id, ord, name_id, struct_digest, record)
		 VALUES (?, ?, ?, ?, ?)`,
		snapshotID, ordinal, rec.NameID, rec.StructuralDigest[:], string(v))
	return err
}

func (t *sqlTx) GetSymbol(snapshotID uint64, ordinal uint32) (SymbolRecord, bool, error) {
	var raw string
	err := t.tx.QueryRow(
		`SELECT record FROM symbols WHERE snapshot_id = ? AND ord = ?`,
		snapshotID, ordinal).Scan(&raw)
	if err == sql.ErrNoRows {
		return SymbolRecord{}, false, nil
	}
	if err != nil {
		return SymbolRecord{}, false, err
	}
	var rec SymbolRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return SymbolRecord{}, false, err
	}
	return rec, true, nil
}

func (t *sqlTx) SymbolsForSnapshot(snapshotID uint64, fn func(uint32, SymbolRecord) bool) error {
	rows, err := t.tx.Query(
		`SELECT ord, record FROM symbols WHERE snapshot_id = ? ORDER BY ord`, snapshotID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ord uint32
		var raw string
		if err := rows.Scan(&ord, &raw); err != nil {
			return err
		}
		var rec SymbolRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		if !fn(ord, rec) {
			return nil
		}
	}
	return rows.Err()
}

func (t *sqlTx) symbolRefs(query string, arg any, fn func(uint64, uint32) bool) error {
	rows, err := t.tx.Query(query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var snapID uint64
		var ord uint32
		if err := rows.Scan(&snapID, &ord); err != nil {
			return err
		}
		if !fn(snapID, ord) {
			return nil
		}
	}
	return rows.Err()
}

func (t *sqlTx) SymbolsByStruct(digest cas.Digest, fn func(uint64, uint32) bool) error {
	return t.symbolRefs(
		`SELECT snapshot_id, ord FROM symbols WHERE struct_digest = ?
		 ORDER BY snapshot_id, ord`, digest[:], fn)
}

func (t *sqlTx) SymbolsByName(nameID uint64, fn func(uint64, uint32) bool) error {
	return t.symbolRefs(
		`SELECT snapshot_id, ord FROM symbols WHERE name_id = ?
		 ORDER BY snapshot_id, ord`, nameID, fn)
}

func (t *sqlTx) SymbolCount() (uint64, error) {
	var n uint64
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM symbols`).Scan(&n)
	return n, err
}

// --- deltas ---

func (t *sqlTx) PutDelta(snapshotID uint64, ordinal uint32, rec DeltaRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT INTO deltas (snapshot_id, ord, record) VALUES (?, ?, ?)`,
		snapshotID, ordinal, string(v))
	return err
}

func (t *sqlTx) DeltasForSnapshot(snapshotID uint64, fn func(uint32, DeltaRecord) bool) error {
	rows, err := t.tx.Query(
		`SELECT ord, record FROM deltas WHERE snapshot_id = ? ORDER BY ord`, snapshotID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ord uint32
		var raw string
		if err := rows.Scan(&ord, &raw); err != nil {
			return err
		}
		var rec DeltaRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return err
		}
		if !fn(ord, rec) {
			return nil
		}
	}
	return rows.Err()
}

// --- trigrams ---

func (t *sqlTx) PutTrigram(chunkDigest cas.Digest, filter uint64) error {
	_, err := t.tx.Exec(
		`INSERT INTO trigrams (digest, filter) VALUES (?, ?)
		 ON CONFLICT(digest) DO UPDATE SET filter = excluded.filter`,
		chunkDigest[:], int64(filter))
	return err
}

func (t *sqlTx) GetTrigram(chunkDigest cas.Digest) (uint64, bool, error) {
	var filter int64
	err := t.tx.QueryRow(
		`SELECT filter FROM trigrams WHERE digest = ?`, chunkDigest[:]).Scan(&filter)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(filter), true, nil
}

// --- blob refs ---

func (t *sqlTx) IncBlobRef(chunkDigest cas.Digest, delta int64) (int64, error) {
	refs, err := t.BlobRef(chunkDigest)
	if err != nil {
		return 0, err
	}
	refs += delta
	if refs < 0 {
		refs = 0
	}
	if refs == 0 {
		_, err := t.tx.Exec(`DELETE FROM blob_refs WHERE digest = ?`, chunkDigest[:])
		return 0, err
	}
	_, err = t.tx.Exec(
		`INSERT INTO blob_refs (digest, refs) VALUES (?, ?)
		 ON CONFLICT(digest) DO UPDATE SET refs = excluded.refs`,
		chunkDigest[:], refs)
	return refs, err
}

func (t *sqlTx) BlobRef(chunkDigest cas.Digest) (int64, error) {
	var refs int64
	err := t.tx.QueryRow(
		`SELECT refs FROM blob_refs WHERE digest = ?`, chunkDigest[:]).Scan(&refs)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return refs, err
}

func (t *sqlTx) BlobRefs(fn func(cas.Digest, int64) bool) error {
	rows, err := t.tx.Query(`SELECT digest, refs FROM blob_refs ORDER BY digest`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var digest []byte
		var refs int64
		if err := rows.Scan(&digest, &refs); err != nil {
			return err
		}
		var d cas.Digest
		copy(d[:], digest)
		if !fn(d, refs) {
			return nil
		}
	}
	return rows.Err()
}
