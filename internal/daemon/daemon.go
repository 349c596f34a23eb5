// Package daemon wires the engine together: the project registry, the
// snapshot pipeline, one filesystem watcher per tracked project, and the
// domain operations the RPC server dispatches to. Process-wide state is
// initialized once at startup and torn down in reverse order on exit.
package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
	"github.com/alessandrobrunoh/mnemosyne/internal/parser"
	"github.com/alessandrobrunoh/mnemosyne/internal/pipeline"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
	"github.com/alessandrobrunoh/mnemosyne/internal/watcher"
)

// Daemon is the long-running engine instance behind the RPC server.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *project.Registry
	pipe     *pipeline.Pipeline
	parsers  parser.Capability

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*projectWatcher // project ID -> watcher
	wg       sync.WaitGroup
}

type projectWatcher struct {
	w      *watcher.Watcher
	cancel context.CancelFunc
}

// New assembles a Daemon. Start must be called before Watch.
func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	parsers := parser.NewAdapter()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		registry: project.NewRegistry(),
		pipe:     pipeline.New(cfg, parsers, logger),
		parsers:  parsers,
		watchers: make(map[string]*projectWatcher),
	}
}

// Start anchors the daemon's lifetime to ctx.
func (d *Daemon) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
}

// Close stops every watcher and closes every project, newest teardown
// first: watchers, then projects, then nothing else holds store handles.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Lock()
	for id, pw := range d.watchers {
		pw.cancel()
		_ = pw.w.Stop()
		delete(d.watchers, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.registry.CloseAll()
}

// SupportedLanguages implements rpcserver.Engine.
func (d *Daemon) SupportedLanguages() []string {
	return d.parsers.SupportedLanguages()
}

// Watch implements rpcserver.Engine: open (or reuse) the project and start
// its filesystem watcher.
func (d *Daemon) Watch(ctx context.Context, root string) (*project.Project, bool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if p, ok := d.registry.GetByRoot(abs); ok {
		return p, false, nil
	}

	p, err := project.Open(abs, d.cfg)
	if err != nil {
		return nil, false, err
	}
	if !d.registry.Add(p) {
		_ = p.Close()
		existing, _ := d.registry.Get(p.ID)
		return existing, false, nil
	}

	if err := d.startWatcher(p); err != nil {
		d.registry.Remove(p.ID)
		_ = p.Close()
		return nil, false, err
	}

	d.logger.Info("project watched",
		slog.String("project_id", p.ID), slog.String("root", p.Root))
	return p, true, nil
}

// Unwatch implements rpcserver.Engine. History stays on disk; only the
// live watcher and store handles go away.
func (d *Daemon) Unwatch(_ context.Context, id string) error {
	p, ok := d.registry.Remove(id)
	if !ok {
		return mnemerr.New(mnemerr.CodeProtocolUnknownProject, "unknown project "+id, nil)
	}

	d.mu.Lock()
	if pw, ok := d.watchers[id]; ok {
		pw.cancel()
		_ = pw.w.Stop()
		delete(d.watchers, id)
	}
	d.mu.Unlock()

	d.pipe.Forget(p)
	err := p.Close()
	d.logger.Info("project unwatched", slog.String("project_id", id))
	return err
}

// Project implements rpcserver.Engine.
func (d *Daemon) Project(id string) (*project.Project, bool) {
	return d.registry.Get(id)
}

// Projects implements rpcserver.Engine.
func (d *Daemon) Projects() []*project.Project {
	return d.registry.List()
}

// Ingest implements rpcserver.Engine: force a snapshot of one file.
func (d *Daemon) Ingest(ctx context.Context, p *project.Project, rel string) (*pipeline.Result, error) {
	abs := filepath.Join(p.Root, filepath.FromSlash(rel))
	return d.pipe.Ingest(ctx, p, abs)
}

// startWatcher spins up the filesystem watcher for p and the goroutine
// that feeds its event batches into the pipeline. Ignore decisions are
// delegated to the project's merged rules, so the watcher and the pipeline
// can never disagree about what counts as tracked.
func (d *Daemon) startWatcher(p *project.Project) error {
	w := watcher.New(watcher.Options{
		DebounceBase: d.cfg.Watch.DebounceBase,
		DebounceMax:  d.cfg.Watch.DebounceMax,
		ShouldIgnore: p.Ignore.Match,
	})

	wctx, cancel := context.WithCancel(d.ctx)
	if err := w.Start(wctx, p.Root); err != nil {
		cancel()
		return mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}

	d.mu.Lock()
	d.watchers[p.ID] = &projectWatcher{w: w, cancel: cancel}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consumeEvents(wctx, p, w)
	}()
	return nil
}

func (d *Daemon) consumeEvents(ctx context.Context, p *project.Project, w *watcher.Watcher) {
	var seenDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			p.Stats.IOWarnings.Add(1)
			d.logger.Warn("watcher error",
				slog.String("project_id", p.ID), slog.String("error", err.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				d.handleEvent(ctx, p, ev)
			}
			if dropped := w.Dropped(); dropped > seenDropped {
				p.Stats.DroppedEvents.Add(dropped - seenDropped)
				seenDropped = dropped
			}
		}
	}
}

func (d *Daemon) handleEvent(ctx context.Context, p *project.Project, ev watcher.Event) {
	// Stale events are a lost-save condition: count them, never block on
	// them.
	if d.cfg.Watch.DropAfter > 0 && time.Since(ev.At) > d.cfg.Watch.DropAfter {
		p.Stats.DroppedEvents.Add(1)
		return
	}

	switch ev.Op {
	case watcher.OpCreate, watcher.OpModify:
		d.ingestEvent(ctx, p, ev.Path)

	case watcher.OpRename:
		// The departed path keeps its history but loses its chain head;
		// the file's new location arrives separately as a create.
		d.pipe.BreakChain(p, ev.Path)

	case watcher.OpRemove:
		// Removals record nothing: history of the path remains as-is.

	case watcher.OpRulesChange:
		if err := p.Ignore.Reload(); err != nil {
			d.logger.Warn("ignore reload failed",
				slog.String("project_id", p.ID), slog.String("error", err.Error()))
		}
	}
}

func (d *Daemon) ingestEvent(ctx context.Context, p *project.Project, rel string) {
	abs := filepath.Join(p.Root, filepath.FromSlash(rel))
	if _, err := d.pipe.Ingest(ctx, p, abs); err != nil {
		d.logger.Warn("ingest failed",
			slog.String("project_id", p.ID),
			slog.String("path", rel),
			slog.String("error", err.Error()))
	}
}
