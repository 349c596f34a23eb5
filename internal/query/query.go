// Package query implements the read side of the engine: history listings,
// snapshot content, symbol timelines, trigram-prefiltered grep, and project
// statistics. Every operation is a pure read over one consistent view of
// the index; nothing here ever writes.
package query

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/indexstore"
	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
	"github.com/alessandrobrunoh/mnemosyne/internal/model"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
	"github.com/alessandrobrunoh/mnemosyne/internal/reassemble"
	"github.com/alessandrobrunoh/mnemosyne/internal/trigram"
)

// HistoryEntry is one row of a path's version history.
type HistoryEntry struct {
	SnapshotID    uint64        `json:"snapshot_id"`
	ParentID      uint64        `json:"parent_id,omitempty"`
	Path          string        `json:"path"`
	ContentDigest string        `json:"content_digest"`
	Timestamp     time.Time     `json:"timestamp"`
	Session       model.Session `json:"session"`
	Branch        string        `json:"branch,omitempty"`
	Size          int64         `json:"size"`
	Unparsed      bool          `json:"unparsed,omitempty"`
}

// HistoryOptions narrow a history listing.
type HistoryOptions struct {
	Branch string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// History lists a path's snapshots newest first.
func History(p *project.Project, rel string, opts HistoryOptions) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := p.Index.View(func(tx indexstore.Tx) error {
		pathID, ok, err := tx.LookupPath(rel)
		if err != nil || !ok {
			return err
		}
		return tx.SnapshotsForPath(pathID, func(rec indexstore.SnapshotRecord) bool {
			ts := time.Unix(0, rec.Timestamp)
			if opts.Branch != "" && rec.BranchID != opts.Branch {
				return true
			}
			if !opts.Since.IsZero() && ts.Before(opts.Since) {
				return true
			}
			if !opts.Until.IsZero() && ts.After(opts.Until) {
				return true
			}
			out = append(out, historyEntry(rec, rel))
			return opts.Limit <= 0 || len(out) < opts.Limit
		})
	})
	return out, err
}

func historyEntry(rec indexstore.SnapshotRecord, path string) HistoryEntry {
	ts := time.Unix(0, rec.Timestamp)
	return HistoryEntry{
		SnapshotID:    rec.ID,
		ParentID:      rec.ParentID,
		Path:          path,
		ContentDigest: rec.ContentDigest.String(),
		Timestamp:     ts,
		Session:       model.SessionFor(ts),
		Branch:        rec.BranchID,
		Size:          rec.Size,
		Unparsed:      rec.Unparsed,
	}
}

// Content reassembles a snapshot's bytes.
func Content(p *project.Project, snapshotID uint64) ([]byte, error) {
	return reassemble.Snapshot(p.Index, p.CAS, snapshotID)
}

// ContentByDigest locates the most recent snapshot whose content digest
// matches and reassembles it.
func ContentByDigest(p *project.Project, digest cas.Digest) ([]byte, uint64, error) {
	var snapshotID uint64
	found := false
	err := p.Index.View(func(tx indexstore.Tx) error {
		return tx.SnapshotsByTime(func(rec indexstore.SnapshotRecord) bool {
			if rec.ContentDigest == digest {
				snapshotID = rec.ID
				found = true
				return false
			}
			return true
		})
	})
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, mnemerr.New(mnemerr.CodeIONotFound,
			"no snapshot with digest "+digest.String(), nil)
	}
	data, err := Content(p, snapshotID)
	return data, snapshotID, err
}

// SymbolRef identifies a symbol by its identity key within a path.
type SymbolRef struct {
	Path  string
	Name  string
	Scope string
	Kind  string // empty matches any kind
}

// SymbolHistory returns the snapshots (newest first) in which a matching
// symbol exists.
func SymbolHistory(p *project.Project, ref SymbolRef) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := p.Index.View(func(tx indexstore.Tx) error {
		pathID, ok, err := tx.LookupPath(ref.Path)
		if err != nil || !ok {
			return err
		}
		return tx.SnapshotsForPath(pathID, func(rec indexstore.SnapshotRecord) bool {
			has, err := snapshotHasSymbol(tx, rec.ID, ref)
			if err != nil {
				return false
			}
			if has {
				out = append(out, historyEntry(rec, ref.Path))
			}
			return true
		})
	})
	return out, err
}

func snapshotHasSymbol(tx indexstore.Tx, snapshotID uint64, ref SymbolRef) (bool, error) {
	found := false
	var iterErr error
	err := tx.SymbolsForSnapshot(snapshotID, func(_ uint32, rec indexstore.SymbolRecord) bool {
		name, _, err := tx.NameString(rec.NameID)
		if err != nil {
			iterErr = err
			return false
		}
		if name != ref.Name {
			return true
		}
		scope, _, err := tx.ScopeString(rec.ScopeID)
		if err != nil {
			iterErr = err
			return false
		}
		if scope != ref.Scope {
			return true
		}
		if ref.Kind != "" && rec.Kind != ref.Kind {
			return true
		}
		found = true
		return false
	})
	if iterErr != nil {
		return false, iterErr
	}
	return found, err
}

// TimelineEntry is one link of a symbol's semantic timeline.
type TimelineEntry struct {
	SnapshotID uint64    `json:"snapshot_id"`
	DeltaKind  string    `json:"delta_kind"` // change vs the previous entry; "" for the first
	Name       string    `json:"name"`
	Scope      string    `json:"scope,omitempty"`
	Path       string    `json:"path"`
	SpanStart  uint32    `json:"span_start"`
	SpanEnd    uint32    `json:"span_end"`
	Timestamp  time.Time `json:"timestamp"`
}

// SemanticTimeline follows structural-digest identity backwards through
// Modified and Renamed deltas, and across file moves via the by-struct
// index, producing the symbol's linked history in chronological order.
func SemanticTimeline(p *project.Project, ref SymbolRef) ([]TimelineEntry, error) {
	var out []TimelineEntry
	err := p.Index.View(func(tx indexstore.Tx) error {
		snapID, sym, ok, err := latestOccurrence(tx, ref)
		if err != nil || !ok {
			return err
		}

		cur := cursor{snapID: snapID, name: ref.Name, scope: ref.Scope, sym: sym}
		kindVsPrev := ""
		for {
			rec, ok, err := tx.GetSnapshot(cur.snapID)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			path, _, err := tx.PathString(rec.PathID)
			if err != nil {
				return err
			}
			out = append(out, TimelineEntry{
				SnapshotID: cur.snapID,
				DeltaKind:  kindVsPrev,
				Name:       cur.name,
				Scope:      cur.scope,
				Path:       path,
				SpanStart:  cur.sym.SpanStart,
				SpanEnd:    cur.sym.SpanEnd,
				Timestamp:  time.Unix(0, rec.Timestamp),
			})

			next, kind, ok, err := stepBack(tx, rec, cur)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			cur = next
			kindVsPrev = kind
		}

		// Collected newest-to-oldest; the timeline reads forward. The
		// per-entry DeltaKind describes the change that produced the NEXT
		// (newer) entry, so shift it one slot after reversing.
		reverse(out)
		for i := len(out) - 1; i > 0; i-- {
			out[i].DeltaKind = out[i-1].DeltaKind
		}
		if len(out) > 0 {
			out[0].DeltaKind = ""
		}
		return nil
	})
	return out, err
}

type cursor struct {
	snapID uint64
	name   string
	scope  string
	sym    indexstore.SymbolRecord
}

// latestOccurrence finds the newest snapshot containing the symbol. When
// ref.Path is set the search is confined to that path's history; otherwise
// the newest occurrence anywhere wins.
func latestOccurrence(tx indexstore.Tx, ref SymbolRef) (uint64, indexstore.SymbolRecord, bool, error) {
	var foundID uint64
	var foundSym indexstore.SymbolRecord
	found := false

	consider := func(rec indexstore.SnapshotRecord) (bool, error) {
		sym, ok, err := findSymbol(tx, rec.ID, ref)
		if err != nil {
			return false, err
		}
		if ok {
			foundID, foundSym, found = rec.ID, sym, true
			return false, nil
		}
		return true, nil
	}

	var iterErr error
	walk := func(rec indexstore.SnapshotRecord) bool {
		cont, err := consider(rec)
		if err != nil {
			iterErr = err
			return false
		}
		return cont
	}

	var err error
	if ref.Path != "" {
		pathID, ok, lookErr := tx.LookupPath(ref.Path)
		if lookErr != nil || !ok {
			return 0, foundSym, false, lookErr
		}
		err = tx.SnapshotsForPath(pathID, walk)
	} else {
		err = tx.SnapshotsByTime(walk)
	}
	if iterErr != nil {
		err = iterErr
	}
	return foundID, foundSym, found, err
}

func findSymbol(tx indexstore.Tx, snapshotID uint64, ref SymbolRef) (indexstore.SymbolRecord, bool, error) {
	var out indexstore.SymbolRecord
	found := false
	var iterErr error
	err := tx.SymbolsForSnapshot(snapshotID, func(_ uint32, rec indexstore.SymbolRecord) bool {
		name, _, err := tx.NameString(rec.NameID)
		if err != nil {
			iterErr = err
			return false
		}
		scope, _, err := tx.ScopeString(rec.ScopeID)
		if err != nil {
			iterErr = err
			return false
		}
		if name == ref.Name && scope == ref.Scope && (ref.Kind == "" || rec.Kind == ref.Kind) {
			out, found = rec, true
			return false
		}
		return true
	})
	if iterErr != nil {
		return out, false, iterErr
	}
	return out, found, err
}

// stepBack finds the symbol's previous incarnation: through this snapshot's
// delta when one names it, through the unchanged parent chain otherwise,
// and across a file move via the by-struct index when the symbol was Added
// here but an identical subtree existed elsewhere.
func stepBack(tx indexstore.Tx, rec indexstore.SnapshotRecord, cur cursor) (cursor, string, bool, error) {
	var hit *indexstore.DeltaRecord
	var iterErr error
	err := tx.DeltasForSnapshot(cur.snapID, func(_ uint32, d indexstore.DeltaRecord) bool {
		if d.New == nil {
			return true
		}
		name, _, err := tx.NameString(d.New.NameID)
		if err != nil {
			iterErr = err
			return false
		}
		scope, _, err := tx.ScopeString(d.New.ScopeID)
		if err != nil {
			iterErr = err
			return false
		}
		if name == cur.name && scope == cur.scope && d.New.Kind == cur.sym.Kind {
			hit = &d
			return false
		}
		return true
	})
	if iterErr != nil {
		err = iterErr
	}
	if err != nil {
		return cursor{}, "", false, err
	}

	if hit == nil {
		// Unchanged in this snapshot: same identity in the parent.
		if rec.ParentID == 0 {
			return cursor{}, "", false, nil
		}
		sym, ok, err := findSymbol(tx, rec.ParentID, SymbolRef{Name: cur.name, Scope: cur.scope, Kind: cur.sym.Kind})
		if err != nil || !ok {
			return cursor{}, "", false, err
		}
		return cursor{snapID: rec.ParentID, name: cur.name, scope: cur.scope, sym: sym}, "", true, nil
	}

	switch hit.Kind {
	case string(model.DeltaModified):
		if rec.ParentID == 0 || hit.Old == nil {
			return cursor{}, "", false, nil
		}
		old, err := resolveDeltaSymbol(tx, hit.Old)
		if err != nil {
			return cursor{}, "", false, err
		}
		return cursor{snapID: rec.ParentID, name: old.name, scope: old.scope, sym: old.rec},
			string(model.DeltaModified), true, nil

	case string(model.DeltaRenamed):
		if rec.ParentID == 0 || hit.Old == nil {
			return cursor{}, "", false, nil
		}
		old, err := resolveDeltaSymbol(tx, hit.Old)
		if err != nil {
			return cursor{}, "", false, err
		}
		return cursor{snapID: rec.ParentID, name: old.name, scope: old.scope, sym: old.rec},
			string(model.DeltaRenamed), true, nil

	case string(model.DeltaAdded):
		// A file move surfaces as Added here and Deleted on the old path;
		// the identical structural digest links them.
		prev, ok, err := previousByStruct(tx, cur.sym.StructuralDigest, rec)
		if err != nil || !ok {
			return cursor{}, "", false, err
		}
		return prev, string(model.DeltaRenamed), true, nil
	}
	return cursor{}, "", false, nil
}

type resolvedDelta struct {
	name  string
	scope string
	rec   indexstore.SymbolRecord
}

func resolveDeltaSymbol(tx indexstore.Tx, d *indexstore.DeltaSymbol) (resolvedDelta, error) {
	name, _, err := tx.NameString(d.NameID)
	if err != nil {
		return resolvedDelta{}, err
	}
	scope, _, err := tx.ScopeString(d.ScopeID)
	if err != nil {
		return resolvedDelta{}, err
	}
	return resolvedDelta{
		name:  name,
		scope: scope,
		rec: indexstore.SymbolRecord{
			NameID:           d.NameID,
			ScopeID:          d.ScopeID,
			Kind:             d.Kind,
			SpanStart:        d.SpanStart,
			SpanEnd:          d.SpanEnd,
			StructuralDigest: d.StructuralDigest,
		},
	}, nil
}

// previousByStruct finds the newest snapshot older than rec, on any path,
// containing a symbol with the given structural digest.
func previousByStruct(tx indexstore.Tx, digest cas.Digest, rec indexstore.SnapshotRecord) (cursor, bool, error) {
	var bestSnap indexstore.SnapshotRecord
	var bestOrd uint32
	found := false
	var iterErr error
	err := tx.SymbolsByStruct(digest, func(snapID uint64, ord uint32) bool {
		if snapID == rec.ID {
			return true
		}
		cand, ok, err := tx.GetSnapshot(snapID)
		if err != nil {
			iterErr = err
			return false
		}
		if !ok || cand.Timestamp >= rec.Timestamp {
			return true
		}
		if !found || cand.Timestamp > bestSnap.Timestamp {
			bestSnap, bestOrd, found = cand, ord, true
		}
		return true
	})
	if iterErr != nil {
		err = iterErr
	}
	if err != nil || !found {
		return cursor{}, false, err
	}

	sym, ok, err := tx.GetSymbol(bestSnap.ID, bestOrd)
	if err != nil || !ok {
		return cursor{}, false, err
	}
	name, _, err := tx.NameString(sym.NameID)
	if err != nil {
		return cursor{}, false, err
	}
	scope, _, err := tx.ScopeString(sym.ScopeID)
	if err != nil {
		return cursor{}, false, err
	}
	return cursor{snapID: bestSnap.ID, name: name, scope: scope, sym: sym}, true, nil
}

func reverse(entries []TimelineEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// GrepHit is one confirmed substring match.
type GrepHit struct {
	SnapshotID uint64 `json:"snapshot_id"`
	Path       string `json:"path"`
	Offset     int64  `json:"offset"`
	Line       string `json:"line"`
}

// Grep runs a trigram-prefiltered substring search over every snapshot's
// chunks. Only chunks whose stored filter admits every trigram of the query
// are fetched and scanned, so most of the store is never touched.
func Grep(p *project.Project, pattern string, limit int) ([]GrepHit, error) {
	if pattern == "" {
		return nil, mnemerr.ProtocolErr("empty grep pattern", nil)
	}
	var hits []GrepHit
	err := p.Index.View(func(tx indexstore.Tx) error {
		var iterErr error
		err := tx.SnapshotsByTime(func(rec indexstore.SnapshotRecord) bool {
			path, _, err := tx.PathString(rec.PathID)
			if err != nil {
				iterErr = err
				return false
			}
			entries, ok, err := tx.GetChunkMap(rec.ChunkMapID)
			if err != nil {
				iterErr = err
				return false
			}
			if !ok {
				return true
			}

			var offset int64
			for _, entry := range entries {
				filter, ok, err := tx.GetTrigram(entry.Digest)
				if err != nil {
					iterErr = err
					return false
				}
				if ok && !trigram.MayContainAll(trigram.Filter(filter), pattern) {
					offset += int64(entry.Length)
					continue
				}

				chunk, err := p.CAS.Get(entry.Digest)
				if err != nil {
					iterErr = err
					return false
				}
				for _, idx := range allIndexes(chunk, pattern) {
					hits = append(hits, GrepHit{
						SnapshotID: rec.ID,
						Path:       path,
						Offset:     offset + int64(idx),
						Line:       lineWindow(chunk, idx),
					})
					if limit > 0 && len(hits) >= limit {
						return false
					}
				}
				offset += int64(entry.Length)
			}
			return limit <= 0 || len(hits) < limit
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	return hits, err
}

func allIndexes(data []byte, pattern string) []int {
	var out []int
	for start := 0; ; {
		idx := strings.Index(string(data[start:]), pattern)
		if idx < 0 {
			return out
		}
		out = append(out, start+idx)
		start += idx + 1
	}
}

// lineWindow extracts the full line surrounding a match offset.
func lineWindow(data []byte, idx int) string {
	start := idx
	for start > 0 && data[start-1] != '\n' {
		start--
	}
	end := idx
	for end < len(data) && data[end] != '\n' {
		end++
	}
	return string(data[start:end])
}

// SymbolMatch is one name-search result.
type SymbolMatch struct {
	Name       string `json:"name"`
	Scope      string `json:"scope,omitempty"`
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	SnapshotID uint64 `json:"snapshot_id"`
	SpanStart  uint32 `json:"span_start"`
	SpanEnd    uint32 `json:"span_end"`
}

// SearchSymbols finds symbols whose name contains the pattern
// (case-insensitive), reporting each match's newest occurrence.
func SearchSymbols(p *project.Project, pattern string, limit int) ([]SymbolMatch, error) {
	lowered := strings.ToLower(pattern)
	var out []SymbolMatch
	err := p.Index.View(func(tx indexstore.Tx) error {
		var matchIDs []uint64
		if err := tx.NameIDs(func(id uint64, s string) bool {
			if strings.Contains(strings.ToLower(s), lowered) {
				matchIDs = append(matchIDs, id)
			}
			return true
		}); err != nil {
			return err
		}

		// Report each distinct (path, scope, name, kind) once, at its
		// newest occurrence.
		byKey := map[string]SymbolMatch{}
		for _, nameID := range matchIDs {
			var iterErr error
			err := tx.SymbolsByName(nameID, func(snapID uint64, ord uint32) bool {
				snap, ok, err := tx.GetSnapshot(snapID)
				if err != nil {
					iterErr = err
					return false
				}
				if !ok {
					return true
				}
				sym, ok, err := tx.GetSymbol(snapID, ord)
				if err != nil {
					iterErr = err
					return false
				}
				if !ok {
					return true
				}
				name, _, err := tx.NameString(sym.NameID)
				if err != nil {
					iterErr = err
					return false
				}
				scope, _, err := tx.ScopeString(sym.ScopeID)
				if err != nil {
					iterErr = err
					return false
				}
				path, _, err := tx.PathString(snap.PathID)
				if err != nil {
					iterErr = err
					return false
				}
				key := path + "\x00" + scope + "\x00" + name + "\x00" + sym.Kind
				if prev, exists := byKey[key]; !exists || snapID > prev.SnapshotID {
					byKey[key] = SymbolMatch{
						Name:       name,
						Scope:      scope,
						Kind:       sym.Kind,
						Path:       path,
						SnapshotID: snapID,
						SpanStart:  sym.SpanStart,
						SpanEnd:    sym.SpanEnd,
					}
				}
				return true
			})
			if iterErr != nil {
				return iterErr
			}
			if err != nil {
				return err
			}
		}
		for _, m := range byKey {
			out = append(out, m)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Path != out[j].Path {
				return out[i].Path < out[j].Path
			}
			return out[i].Name < out[j].Name
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// SymbolVersion is one side of a structural symbol diff.
type SymbolVersion struct {
	SnapshotID uint64 `json:"snapshot_id"`
	SpanStart  uint32 `json:"span_start"`
	SpanEnd    uint32 `json:"span_end"`
	Digest     string `json:"struct_digest"`
	Text       string `json:"text"`
}

// SymbolDiff returns the two versions of a symbol at two snapshots along
// with whether they are structurally identical.
func SymbolDiff(p *project.Project, ref SymbolRef, snapA, snapB uint64) (a, b SymbolVersion, equal bool, err error) {
	load := func(snapID uint64) (SymbolVersion, error) {
		var v SymbolVersion
		err := p.Index.View(func(tx indexstore.Tx) error {
			sym, ok, err := findSymbol(tx, snapID, ref)
			if err != nil {
				return err
			}
			if !ok {
				return mnemerr.New(mnemerr.CodeIONotFound,
					fmt.Sprintf("symbol %s not found in snapshot %d", ref.Name, snapID), nil)
			}
			v = SymbolVersion{
				SnapshotID: snapID,
				SpanStart:  sym.SpanStart,
				SpanEnd:    sym.SpanEnd,
				Digest:     sym.StructuralDigest.String(),
			}
			return nil
		})
		if err != nil {
			return v, err
		}
		content, err := Content(p, snapID)
		if err != nil {
			return v, err
		}
		if int(v.SpanEnd) <= len(content) && v.SpanStart < v.SpanEnd {
			v.Text = string(content[v.SpanStart:v.SpanEnd])
		}
		return v, nil
	}

	if a, err = load(snapA); err != nil {
		return a, b, false, err
	}
	if b, err = load(snapB); err != nil {
		return a, b, false, err
	}
	return a, b, a.Digest == b.Digest, nil
}

// Statistics summarizes a project's store.
type Statistics struct {
	Snapshots        uint64            `json:"snapshots"`
	Symbols          uint64            `json:"symbols"`
	UniqueChunks     uint64            `json:"unique_chunks"`
	LogicalBytes     int64             `json:"logical_bytes"`
	CASBytes         int64             `json:"cas_bytes"`
	CompressionRatio float64           `json:"compression_ratio"`
	Counters         map[string]uint64 `json:"counters"`
}

// Stats computes store-wide counts by range scans plus the live failure
// counters. Recomputed on demand rather than maintained incrementally,
// which keeps every commit transaction small.
func Stats(p *project.Project) (Statistics, error) {
	var st Statistics
	err := p.Index.View(func(tx indexstore.Tx) error {
		var err error
		if st.Snapshots, err = tx.SnapshotCount(); err != nil {
			return err
		}
		if st.Symbols, err = tx.SymbolCount(); err != nil {
			return err
		}
		if err := tx.BlobRefs(func(cas.Digest, int64) bool {
			st.UniqueChunks++
			return true
		}); err != nil {
			return err
		}
		return tx.SnapshotsByTime(func(rec indexstore.SnapshotRecord) bool {
			st.LogicalBytes += rec.Size
			return true
		})
	})
	if err != nil {
		return st, err
	}

	st.CASBytes = dirSize(filepath.Join(p.Root, project.DirName, "cas"))
	if st.CASBytes > 0 {
		st.CompressionRatio = float64(st.LogicalBytes) / float64(st.CASBytes)
	}
	st.Counters = p.Stats.Snapshot()
	return st, nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// PathOfSnapshot resolves the interned path a snapshot was taken of.
func PathOfSnapshot(p *project.Project, snapshotID uint64) (string, error) {
	var path string
	err := p.Index.View(func(tx indexstore.Tx) error {
		rec, ok, err := tx.GetSnapshot(snapshotID)
		if err != nil {
			return err
		}
		if !ok {
			return mnemerr.New(mnemerr.CodeIONotFound,
				fmt.Sprintf("snapshot %d not found", snapshotID), nil)
		}
		path, _, err = tx.PathString(rec.PathID)
		return err
	})
	return path, err
}

// Activity lists the most recent snapshots across all paths.
func Activity(p *project.Project, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []HistoryEntry
	err := p.Index.View(func(tx indexstore.Tx) error {
		var iterErr error
		err := tx.SnapshotsByTime(func(rec indexstore.SnapshotRecord) bool {
			path, _, err := tx.PathString(rec.PathID)
			if err != nil {
				iterErr = err
				return false
			}
			out = append(out, historyEntry(rec, path))
			return len(out) < limit
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	return out, err
}
