// Package model holds the data model shared across the storage and query
// layers: Project, Snapshot, Chunk-map, Symbol, and Delta records, plus the
// small ID types that key them. None of these types touch the filesystem
// or the index store themselves — internal/indexstore, internal/pipeline,
// and internal/query do the I/O, this package just describes the shapes.
package model

import (
	"time"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/symbols"
)

// ProjectID is a stable opaque identifier derived from a project's
// canonical absolute root path at first `watch`.
type ProjectID string

// Project is the top-level tracked unit: a root path plus its intern
// tables, snapshots, symbols, deltas, and CAS subtree, all rooted at
// <root>/.mnemosyne/.
type Project struct {
	ID        ProjectID
	Root      string
	CreatedAt time.Time
	Branch    string // active branch label, optional
	AuthToken string // project-scoped RPC secret minted at watch time
}

// SnapshotID is monotonically increasing per project.
type SnapshotID uint64

// ChunkMapID identifies a stored chunk-map row.
type ChunkMapID uint64

// Snapshot is one immutable, committed version of a single file.
type Snapshot struct {
	ID             SnapshotID
	PathID         uint64
	Path           string // denormalized for convenience; authoritative copy lives in the paths table
	ParentID       SnapshotID // 0 means "no parent" (first snapshot of this path)
	ContentDigest  cas.Digest
	ChunkMapID     ChunkMapID
	SessionID      string
	Timestamp      time.Time
	BranchID       string
	Size           int64
	Unparsed       bool // set when a supported-language parse failed (see internal/pipeline)
}

// ChunkMapEntry is one (digest, length, offset) triple. Offsets are
// contiguous starting at 0 and sum to the owning snapshot's Size.
type ChunkMapEntry struct {
	Digest cas.Digest
	Offset int
	Length int
}

// ChunkMap is the ordered sequence that reconstructs a file's exact bytes.
type ChunkMap []ChunkMapEntry

// Symbol attaches a parsed entity to a specific snapshot.
type Symbol struct {
	SnapshotID SnapshotID
	Ordinal    int // position within this snapshot's symbol list (stable doc order)
	symbols.Symbol
}

// DeltaKind is one of the four ways a symbol can change between a
// snapshot and its parent.
type DeltaKind string

const (
	DeltaAdded    DeltaKind = "Added"
	DeltaModified DeltaKind = "Modified"
	DeltaRenamed  DeltaKind = "Renamed"
	DeltaDeleted  DeltaKind = "Deleted"
)

// Delta records one symbol-level change against the parent snapshot.
// Old/New are populated according to Kind: Added has only New,
// Deleted has only Old, Modified and Renamed have both.
type Delta struct {
	SnapshotID SnapshotID
	Ordinal    int
	Kind       DeltaKind
	Old        *symbols.Symbol
	New        *symbols.Symbol
}

// Session is a coarse time-of-day bucket, derived on read from a
// Snapshot's Timestamp, never stored.
type Session string

const (
	SessionMorning   Session = "Morning"
	SessionAfternoon Session = "Afternoon"
	SessionEvening   Session = "Evening"
	SessionNight     Session = "Night"
)

// SessionFor buckets a local-time timestamp into one of the four
// contiguous bands: Morning 05:00-11:59, Afternoon 12:00-16:59,
// Evening 17:00-20:59, Night 21:00-04:59.
func SessionFor(t time.Time) Session {
	h := t.Local().Hour()
	switch {
	case h >= 5 && h < 12:
		return SessionMorning
	case h >= 12 && h < 17:
		return SessionAfternoon
	case h >= 17 && h < 21:
		return SessionEvening
	default:
		return SessionNight
	}
}
