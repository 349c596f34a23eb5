package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces a path's rapid event sequence into the one operation
// the pipeline should actually perform. Rather than merging incrementally
// on every arrival, it records the first and latest operation seen inside
// the window and resolves the pair at flush time:
//
//	create … remove  → nothing   (the file never outlived the window)
//	create … rename  → nothing   (it moved away within the window)
//	create … modify  → create    (still a new chain for the pipeline)
//	remove … create  → modify    (the file was replaced in place)
//	anything else    → the latest operation wins
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingOps
	out     chan []Event
	timer   *time.Timer
	stopped bool
}

type pendingOps struct {
	first Op
	last  Op
	at    time.Time
}

// NewDebouncer creates a debouncer with the given coalescing window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingOps),
		out:     make(chan []Event, 16),
	}
}

// Add records one event and (re)arms the flush timer.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if p, ok := d.pending[ev.Path]; ok {
		p.last = ev.Op
		p.at = ev.At
	} else {
		d.pending[ev.Path] = &pendingOps{first: ev.Op, last: ev.Op, at: ev.At}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// resolve collapses a window's (first, last) operation pair.
func resolve(first, last Op) (Op, bool) {
	switch {
	case first == OpCreate && (last == OpRemove || last == OpRename):
		return 0, false
	case first == OpCreate:
		return OpCreate, true
	case first == OpRemove && (last == OpCreate || last == OpModify):
		return OpModify, true
	default:
		return last, true
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for path, p := range d.pending {
		op, keep := resolve(p.first, p.last)
		if !keep {
			continue
		}
		batch = append(batch, Event{Path: path, Op: op, At: p.at})
	}
	d.pending = make(map[string]*pendingOps)

	if len(batch) == 0 {
		return
	}
	// Deterministic batch order keeps ingest scheduling stable.
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	select {
	case d.out <- batch:
	default:
		// Consumer saturated: the Watcher counts drops at the next
		// stage, nothing blocks here.
	}
}

// SetWindow changes the window for subsequently armed flushes; an armed
// timer keeps its original deadline.
func (d *Debouncer) SetWindow(window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if window > 0 {
		d.window = window
	}
}

// Window returns the current coalescing window.
func (d *Debouncer) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// Output returns the channel of flushed batches.
func (d *Debouncer) Output() <-chan []Event { return d.out }

// Stop discards pending events and closes the output channel. Safe to call
// multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
