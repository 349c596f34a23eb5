// Package project owns the per-project state: the .mnemosyne directory with
// its tracked-id file, blob store, and index database, the merged ignore
// rules, the per-path ingest locks, and the daemon-wide registry of watched
// projects.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/indexstore"
	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
)

// DirName is the per-project state directory created at the project root.
const DirName = ".mnemosyne"

// Project is one tracked root and its open stores.
type Project struct {
	ID        string
	Root      string
	CreatedAt time.Time
	Branch    string
	AuthToken string

	CAS    *cas.Store
	Index  indexstore.Store
	Ignore *IgnoreRules
	Stats  *Stats

	lock      *flock.Flock
	pathLocks sync.Map // relative path -> *sync.Mutex
	closeOnce sync.Once
}

// Open creates or reopens the project rooted at root. The first Open mints
// the project ID and auth token and writes the tracked file; later Opens
// load them back. The .mnemosyne/db directory is guarded by an advisory
// file lock so two daemon instances never share one index.
func Open(root string, cfg *config.Config) (*Project, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, mnemerr.New(mnemerr.CodeIONotFound, "project root not found: "+root, err)
	}

	stateDir := filepath.Join(root, DirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}

	lock := flock.New(filepath.Join(stateDir, "lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if !locked {
		return nil, mnemerr.New(mnemerr.CodeResourceLimit,
			"project is already open in another daemon: "+root, nil)
	}

	p := &Project{Root: root, lock: lock, Stats: NewStats()}
	fail := func(err error) (*Project, error) {
		p.Close()
		return nil, err
	}

	p.CAS, err = cas.Open(filepath.Join(stateDir, "cas"))
	if err != nil {
		return fail(err)
	}

	p.Index, err = indexstore.Open(indexstore.Config{
		Dir:             filepath.Join(stateDir, "db"),
		Backend:         cfg.Index.Backend,
		InternCacheSize: cfg.Index.InternCacheSize,
	})
	if err != nil {
		return fail(err)
	}

	if err := p.loadOrCreateIdentity(stateDir); err != nil {
		return fail(err)
	}

	p.Ignore, err = LoadIgnoreRules(root, cfg)
	if err != nil {
		return fail(err)
	}

	return p, nil
}

// loadOrCreateIdentity reads the tracked file and the project record, or
// creates both on first open.
func (p *Project) loadOrCreateIdentity(stateDir string) error {
	trackedPath := filepath.Join(stateDir, "tracked")

	if data, err := os.ReadFile(trackedPath); err == nil {
		id := strings.TrimSpace(string(data))
		if id == "" {
			return mnemerr.New(mnemerr.CodeIntegrityMismatch, "empty tracked file: "+trackedPath, nil)
		}
		p.ID = id
		return p.Index.View(func(tx indexstore.Tx) error {
			rec, ok, err := tx.GetProject(id)
			if err != nil {
				return err
			}
			if !ok {
				return mnemerr.New(mnemerr.CodeIntegrityMismatch,
					"tracked file references unknown project "+id, nil)
			}
			p.CreatedAt = time.Unix(0, rec.CreatedAt)
			p.Branch = rec.Branch
			p.AuthToken = rec.AuthToken
			return nil
		})
	}

	// First open: derive a stable opaque ID from the canonical root path,
	// mint the auth token, persist both.
	p.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mnemosyne:"+p.Root)).String()
	p.AuthToken = uuid.NewString()
	p.CreatedAt = time.Now()

	err := p.Index.Update(func(tx indexstore.Tx) error {
		return tx.PutProject(indexstore.ProjectRecord{
			ID:        p.ID,
			Root:      p.Root,
			CreatedAt: p.CreatedAt.UnixNano(),
			AuthToken: p.AuthToken,
		})
	})
	if err != nil {
		return err
	}

	tmp := trackedPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(p.ID+"\n"), 0o644); err != nil {
		return mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	if err := os.Rename(tmp, trackedPath); err != nil {
		return mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	return nil
}

// PathLock returns the mutex serializing ingests for one relative path.
func (p *Project) PathLock(rel string) *sync.Mutex {
	mu, _ := p.pathLocks.LoadOrStore(rel, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Rel converts an absolute path under the root to the project-relative form
// used as the interning key.
func (p *Project) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(p.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("project: %s is outside root %s", abs, p.Root)
	}
	return filepath.ToSlash(rel), nil
}

// Close releases the index, the advisory lock, and stops accepting work.
// Safe to call multiple times.
func (p *Project) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.Index != nil {
			err = p.Index.Close()
		}
		if p.lock != nil {
			_ = p.lock.Unlock()
		}
	})
	return err
}
