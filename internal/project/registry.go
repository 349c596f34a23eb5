package project

import (
	"path/filepath"
	"sort"
	"sync"
)

// Registry is the process-wide table of watched projects. Reads are
// lock-free in the common case (sync.Map); Add and Remove are serialized
// by the registry's own mutex.
type Registry struct {
	byID   sync.Map // project ID -> *Project
	byRoot sync.Map // canonical root -> *Project
	mu     sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers an open project. Returns false when the ID is already
// registered (the existing entry wins).
func (r *Registry) Add(p *Project) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID.Load(p.ID); exists {
		return false
	}
	r.byID.Store(p.ID, p)
	r.byRoot.Store(p.Root, p)
	return true
}

// Get looks a project up by ID.
func (r *Registry) Get(id string) (*Project, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Project), true
}

// GetByRoot looks a project up by its canonical root path.
func (r *Registry) GetByRoot(root string) (*Project, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false
	}
	v, ok := r.byRoot.Load(abs)
	if !ok {
		return nil, false
	}
	return v.(*Project), true
}

// ForPath returns the project whose root contains abs, if any. With nested
// roots the deepest match wins.
func (r *Registry) ForPath(abs string) (*Project, bool) {
	var best *Project
	r.byID.Range(func(_, v any) bool {
		p := v.(*Project)
		if _, err := p.Rel(abs); err == nil {
			if best == nil || len(p.Root) > len(best.Root) {
				best = p
			}
		}
		return true
	})
	return best, best != nil
}

// Remove unregisters and returns the project for id without closing it.
func (r *Registry) Remove(id string) (*Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	p := v.(*Project)
	r.byRoot.Delete(p.Root)
	return p, true
}

// List returns all registered projects ordered by root path.
func (r *Registry) List() []*Project {
	var out []*Project
	r.byID.Range(func(_, v any) bool {
		out = append(out, v.(*Project))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// CloseAll closes every registered project and empties the registry.
func (r *Registry) CloseAll() {
	for _, p := range r.List() {
		if removed, ok := r.Remove(p.ID); ok {
			_ = removed.Close()
		}
	}
}
