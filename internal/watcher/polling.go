package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"
)

// pollSource is the fallback for filesystems without usable notifications
// (network mounts, some containers): it walks the tree on a fixed period
// and diffs (mtime, size) stamps between passes. A changed stamp means the
// bytes may have changed; the pipeline's content-digest dedup makes a false
// positive cost one hash, never a spurious snapshot.
type pollSource struct {
	interval     time.Duration
	shouldIgnore func(rel string, isDir bool) bool
}

// stamp is the cheap change fingerprint one pass records per file.
type stamp struct {
	modTime time.Time
	size    int64
}

func newPollSource(interval time.Duration, shouldIgnore func(string, bool) bool) *pollSource {
	return &pollSource{interval: interval, shouldIgnore: shouldIgnore}
}

func (s *pollSource) run(ctx context.Context, root string, emit func(rawEvent), fail func(error)) error {
	// The first pass only seeds the stamp table: everything already on
	// disk predates the watch and is not a save.
	prev, err := s.scan(root, fail)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := s.scan(root, fail)
			if err != nil {
				fail(err)
				continue
			}
			s.diff(prev, cur, emit)
			prev = cur
		}
	}
}

// scan walks the tree once, returning a stamp per non-ignored file.
func (s *pollSource) scan(root string, fail func(error)) (map[string]stamp, error) {
	stamps := make(map[string]stamp)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Races with deletion are normal during a scan.
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if insideStateDir(rel) || (rel != "." && s.shouldIgnore(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		stamps[rel] = stamp{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stamps, nil
}

// diff emits the creates, modifies, and removes between two passes.
// Renames are indistinguishable from remove+create at stat granularity, so
// a move polls through as exactly that pair; the pipeline's chain semantics
// treat both the same way apart from the dropped head marker.
func (s *pollSource) diff(prev, cur map[string]stamp, emit func(rawEvent)) {
	for rel, st := range cur {
		old, existed := prev[rel]
		switch {
		case !existed:
			emit(rawEvent{rel: rel, op: OpCreate})
		case !old.modTime.Equal(st.modTime) || old.size != st.size:
			emit(rawEvent{rel: rel, op: OpModify})
		}
	}
	for rel := range prev {
		if _, still := cur[rel]; !still {
			emit(rawEvent{rel: rel, op: OpRemove})
		}
	}
}
