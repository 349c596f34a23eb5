package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// notifySource feeds raw events from OS file notifications. fsnotify is
// non-recursive, so every directory under the root gets its own watch;
// directories created later are picked up from their create events, and
// files that landed in them before the watch bound are swept by hand so no
// save slips through the gap.
type notifySource struct {
	fsw          *fsnotify.Watcher
	shouldIgnore func(rel string, isDir bool) bool
	root         string
}

func newNotifySource(shouldIgnore func(string, bool) bool) (*notifySource, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &notifySource{fsw: fsw, shouldIgnore: shouldIgnore}, nil
}

func (s *notifySource) run(ctx context.Context, root string, emit func(rawEvent), fail func(error)) error {
	s.root = root
	defer s.fsw.Close()

	if err := s.watchTree(root, nil); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return nil
			}
			fail(err)

		case ev, ok := <-s.fsw.Events:
			if !ok {
				return nil
			}
			s.handle(ev, emit, fail)
		}
	}
}

func (s *notifySource) handle(ev fsnotify.Event, emit func(rawEvent), fail func(error)) {
	rel, err := filepath.Rel(s.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if insideStateDir(rel) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, statErr := os.Stat(ev.Name)
		if statErr != nil {
			// Gone already; the remove event will follow if it matters.
			return
		}
		if info.IsDir() {
			// A new directory needs its own watch, and any files its
			// creator already wrote are reported as creates too.
			if s.shouldIgnore(rel, true) {
				return
			}
			if err := s.watchTree(ev.Name, emit); err != nil {
				fail(err)
			}
			emit(rawEvent{rel: rel, op: OpCreate, isDir: true})
			return
		}
		emit(rawEvent{rel: rel, op: OpCreate})

	case ev.Has(fsnotify.Write):
		emit(rawEvent{rel: rel, op: OpModify})

	case ev.Has(fsnotify.Remove):
		emit(rawEvent{rel: rel, op: OpRemove})

	case ev.Has(fsnotify.Rename):
		// The notification names the path that moved away; its new
		// location surfaces as a create wherever it lands.
		emit(rawEvent{rel: rel, op: OpRename})
	}
}

// watchTree binds watches on dir and every subdirectory, skipping ignored
// trees and the engine's state directory. When emit is non-nil (late
// directory discovery), existing files are reported as creates.
func (s *notifySource) watchTree(dir string, emit func(rawEvent)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory vanished mid-walk; its remove event covers it.
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if insideStateDir(rel) || (rel != "." && s.shouldIgnore(rel, true)) {
				return filepath.SkipDir
			}
			return s.fsw.Add(path)
		}
		if emit != nil {
			emit(rawEvent{rel: rel, op: OpCreate})
		}
		return nil
	})
}
