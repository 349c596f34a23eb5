// Package watcher turns filesystem activity under a project root into the
// events the snapshot pipeline consumes: a save that should extend a path's
// snapshot chain, a removal, a rename that drops the chain head, or an edit
// to the ignore-rule files that must be reloaded before the next ingest.
//
// OS notifications (fsnotify) are the primary source; a periodic stat scan
// takes over on filesystems where they are unavailable. Raw activity is
// coalesced per path through an adaptive debouncer before it reaches the
// pipeline, so an editor's save-burst becomes one snapshot, not twelve.
package watcher

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"
)

// stateDirName is the per-project state directory; activity inside it is
// the engine's own writes and must never feed back into the pipeline.
const stateDirName = ".mnemosyne"

// Op classifies what the pipeline should do about a path.
type Op int

const (
	// OpCreate is a new file: the first snapshot of its chain.
	OpCreate Op = iota
	// OpModify is a changed file: the next snapshot in its chain.
	OpModify
	// OpRemove is a deleted file: the chain keeps its history, nothing
	// new is recorded.
	OpRemove
	// OpRename is a path that moved away: its chain head drops so a
	// later file at the same path starts a fresh chain. The file's new
	// location arrives separately as OpCreate.
	OpRename
	// OpRulesChange is an edit to .mnemignore or .gitignore: the
	// project's ignore rules must be reloaded.
	OpRulesChange
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpRulesChange:
		return "rules-change"
	default:
		return "unknown"
	}
}

// Event is one debounced unit of work for the pipeline.
type Event struct {
	// Path is project-relative and slash-separated. For OpRename it is
	// the path that went away.
	Path string
	Op   Op
	At   time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceBase is the per-path coalescing window at low event rates.
	DebounceBase time.Duration

	// DebounceMax caps the adaptive window under sustained load. Zero
	// disables adaptation.
	DebounceMax time.Duration

	// PollInterval is the scan period of the polling fallback.
	PollInterval time.Duration

	// BufferSize is the capacity of the outgoing batch channel. When the
	// channel is full, each newly flushed batch is dropped and counted
	// rather than blocking the editor's saves.
	BufferSize int

	// ShouldIgnore consults the project's merged ignore rules
	// (.mnemignore, optionally .gitignore, configured excludes). Nil
	// means nothing is ignored.
	ShouldIgnore func(rel string, isDir bool) bool
}

func (o Options) withDefaults() Options {
	if o.DebounceBase <= 0 {
		o.DebounceBase = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	if o.ShouldIgnore == nil {
		o.ShouldIgnore = func(string, bool) bool { return false }
	}
	return o
}

// rawEvent is what a source reports before filtering and debouncing.
type rawEvent struct {
	rel   string // project-relative, slash-separated
	op    Op
	isDir bool
}

// source feeds raw filesystem activity. run blocks until ctx is done.
type source interface {
	run(ctx context.Context, root string, emit func(rawEvent), fail func(error)) error
}

// Watcher owns one project root's event flow: source → ignore filter →
// adaptive debouncer → batch channel.
type Watcher struct {
	opts    Options
	deb     *AdaptiveDebouncer
	src     source
	events  chan []Event
	errors  chan error
	dropped atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Watcher. The notification source is chosen at Start, when
// the root is known and fsnotify either binds or doesn't.
func New(opts Options) *Watcher {
	opts = opts.withDefaults()
	max := opts.DebounceMax
	if max < opts.DebounceBase {
		max = opts.DebounceBase
	}
	return &Watcher{
		opts:   opts,
		deb:    NewAdaptiveDebouncer(opts.DebounceBase, max),
		events: make(chan []Event, opts.BufferSize),
		errors: make(chan error, 8),
		stopCh: make(chan struct{}),
	}
}

// Start begins watching root. It returns once the source is chosen; the
// source binds its watches in the background, and events flow until Stop
// or ctx cancellation.
func (w *Watcher) Start(ctx context.Context, root string) error {
	ctx, w.cancel = context.WithCancel(ctx)

	var src source
	notify, err := newNotifySource(w.opts.ShouldIgnore)
	if err != nil {
		// No OS notification facility here (network mounts, exotic
		// filesystems): fall back to stat scanning.
		w.reportErr(err)
		src = newPollSource(w.opts.PollInterval, w.opts.ShouldIgnore)
	} else {
		src = notify
	}
	w.src = src

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		if err := src.run(ctx, root, w.accept, w.reportErr); err != nil {
			w.reportErr(err)
		}
	}()
	go func() {
		defer w.wg.Done()
		w.forward(ctx)
	}()
	return nil
}

// accept filters one raw event and hands it to the debouncer.
func (w *Watcher) accept(raw rawEvent) {
	if insideStateDir(raw.rel) {
		return
	}
	if isRulesFile(raw.rel) {
		w.deb.Add(Event{Path: raw.rel, Op: OpRulesChange, At: time.Now()})
		return
	}
	if raw.isDir {
		// Directory lifecycle is the source's concern (watch setup);
		// the pipeline only snapshots files.
		return
	}
	if w.opts.ShouldIgnore(raw.rel, false) {
		return
	}
	w.deb.Add(Event{Path: raw.rel, Op: raw.op, At: time.Now()})
}

// forward moves debounced batches to the consumer, dropping rather than
// blocking when it falls behind.
func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.deb.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			default:
				w.dropped.Add(uint64(len(batch)))
			}
		}
	}
}

func (w *Watcher) reportErr(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns the debounced batch channel.
func (w *Watcher) Events() <-chan []Event { return w.events }

// Errors returns non-fatal source errors; the watcher keeps running.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Dropped reports how many events were discarded because the consumer fell
// behind. Surfaced through project statistics as lost saves.
func (w *Watcher) Dropped() uint64 { return w.dropped.Load() }

// Stop shuts the watcher down. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.cancel != nil {
			w.cancel()
		}
		w.deb.Stop()
	})
	w.wg.Wait()
	return nil
}

// insideStateDir reports whether rel is the engine's own state directory or
// below it.
func insideStateDir(rel string) bool {
	if rel == stateDirName {
		return true
	}
	for p := rel; p != "." && p != "/" && p != ""; p = path.Dir(p) {
		if p == stateDirName {
			return true
		}
	}
	return false
}

// isRulesFile reports whether rel is one of the ignore-rule files whose
// edits change what the pipeline snapshots.
func isRulesFile(rel string) bool {
	base := path.Base(rel)
	return base == ".mnemignore" || base == ".gitignore"
}
