// Package indexstore is the embedded, transactional index database behind
// every read and write in the engine: projects, interned strings, snapshots,
// chunk-maps, symbols, deltas, trigram filters, and blob reference counts.
//
// Two backends implement the same Store/Tx contract: a B-tree key-value
// store (bbolt, the default) and a SQL store (SQLite in WAL mode), selected
// via the index.backend config key. All write paths for one snapshot commit
// in a single transaction so a partially ingested snapshot is never
// observable; reads run against a consistent snapshot of the database.
package indexstore

import (
	"fmt"
	"strings"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
)

// Store is the top-level handle for one project's index database.
type Store interface {
	// Update runs fn inside a read-write transaction. The transaction
	// commits if fn returns nil and rolls back otherwise.
	Update(fn func(Tx) error) error

	// View runs fn inside a read-only transaction over a consistent
	// snapshot of the database.
	View(fn func(Tx) error) error

	Close() error
}

// Tx exposes the logical tables. Implementations are not safe for use
// outside the Update/View callback that produced them.
type Tx interface {
	// projects
	PutProject(rec ProjectRecord) error
	GetProject(id string) (ProjectRecord, bool, error)
	Projects(fn func(ProjectRecord) bool) error

	// interning tables: each string stored exactly once under a small ID
	InternPath(s string) (uint64, error)
	InternName(s string) (uint64, error)
	InternScope(s string) (uint64, error)
	LookupPath(s string) (uint64, bool, error)
	PathString(id uint64) (string, bool, error)
	NameString(id uint64) (string, bool, error)
	ScopeString(id uint64) (string, bool, error)
	PathIDs(fn func(id uint64, s string) bool) error
	NameIDs(fn func(id uint64, s string) bool) error

	// snapshots (+ by-time and by-id secondary indexes, maintained together)
	NextSnapshotID() (uint64, error)
	PutSnapshot(rec SnapshotRecord) error
	GetSnapshot(id uint64) (SnapshotRecord, bool, error)
	HeadSnapshot(pathID uint64) (SnapshotRecord, bool, error)
	SnapshotsForPath(pathID uint64, fn func(SnapshotRecord) bool) error
	SnapshotsByTime(fn func(SnapshotRecord) bool) error
	SnapshotCount() (uint64, error)

	// chunk-maps
	NextChunkMapID() (uint64, error)
	PutChunkMap(id uint64, entries []ChunkMapEntry) error
	GetChunkMap(id uint64) ([]ChunkMapEntry, bool, error)

	// symbols (+ by-struct and by-name secondary indexes)
	PutSymbol(snapshotID uint64, ordinal uint32, rec SymbolRecord) error
	GetSymbol(snapshotID uint64, ordinal uint32) (SymbolRecord, bool, error)
	SymbolsForSnapshot(snapshotID uint64, fn func(ordinal uint32, rec SymbolRecord) bool) error
	SymbolsByStruct(digest cas.Digest, fn func(snapshotID uint64, ordinal uint32) bool) error
	SymbolsByName(nameID uint64, fn func(snapshotID uint64, ordinal uint32) bool) error
	SymbolCount() (uint64, error)

	// deltas
	PutDelta(snapshotID uint64, ordinal uint32, rec DeltaRecord) error
	DeltasForSnapshot(snapshotID uint64, fn func(ordinal uint32, rec DeltaRecord) bool) error

	// per-chunk trigram filters
	PutTrigram(chunkDigest cas.Digest, filter uint64) error
	GetTrigram(chunkDigest cas.Digest) (uint64, bool, error)

	// blob reference counts
	IncBlobRef(chunkDigest cas.Digest, delta int64) (int64, error)
	BlobRef(chunkDigest cas.Digest) (int64, error)
	BlobRefs(fn func(digest cas.Digest, refs int64) bool) error
}

// ProjectRecord is the stored metadata for one tracked project.
type ProjectRecord struct {
	ID        string `json:"id"`
	Root      string `json:"root"`
	CreatedAt int64  `json:"created_at"`
	Branch    string `json:"branch,omitempty"`
	AuthToken string `json:"auth_token"`
}

// SnapshotRecord is the stored form of one committed file version.
// ParentID 0 means "no parent" (first snapshot of this path).
type SnapshotRecord struct {
	ID            uint64     `json:"id"`
	PathID        uint64     `json:"path_id"`
	ParentID      uint64     `json:"parent_id,omitempty"`
	ContentDigest cas.Digest `json:"content_digest"`
	ChunkMapID    uint64     `json:"chunkmap_id"`
	Timestamp     int64      `json:"ts"` // unix nanoseconds
	BranchID      string     `json:"branch,omitempty"`
	Size          int64      `json:"size"`
	Unparsed      bool       `json:"unparsed,omitempty"`
}

// ChunkMapEntry is one stored (digest, length) pair; offsets are implied by
// the contiguity invariant and recomputed on read.
type ChunkMapEntry struct {
	Digest cas.Digest
	Length uint32
}

// SymbolRecord is the stored form of one extracted symbol.
type SymbolRecord struct {
	NameID           uint64     `json:"name_id"`
	ScopeID          uint64     `json:"scope_id"`
	Kind             string     `json:"kind"`
	SpanStart        uint32     `json:"span_start"`
	SpanEnd          uint32     `json:"span_end"`
	StructuralDigest cas.Digest `json:"struct_digest"`
}

// DeltaSymbol is one side of a stored delta.
type DeltaSymbol struct {
	NameID           uint64     `json:"name_id"`
	ScopeID          uint64     `json:"scope_id"`
	Kind             string     `json:"kind"`
	SpanStart        uint32     `json:"span_start"`
	SpanEnd          uint32     `json:"span_end"`
	StructuralDigest cas.Digest `json:"struct_digest"`
}

// DeltaRecord is the stored form of one symbol-level change. Old/New are
// populated according to Kind: Added has only New, Deleted has only Old,
// Modified and Renamed have both.
type DeltaRecord struct {
	Kind string       `json:"kind"`
	Old  *DeltaSymbol `json:"old,omitempty"`
	New  *DeltaSymbol `json:"new,omitempty"`
}

// Config selects and tunes a backend.
type Config struct {
	// Dir is the project's .mnemosyne/db directory.
	Dir string

	// Backend is "bolt" or "sql".
	Backend string

	// InternCacheSize bounds the LRU caches over the interning tables.
	// Zero means a small default.
	InternCacheSize int
}

// Open creates or opens the index database for cfg.Dir using the selected
// backend.
func Open(cfg Config) (Store, error) {
	if cfg.InternCacheSize <= 0 {
		cfg.InternCacheSize = 1024
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "bolt":
		return openBolt(cfg)
	case "sql":
		return openSQL(cfg)
	default:
		return nil, fmt.Errorf("indexstore: unknown backend %q", cfg.Backend)
	}
}
