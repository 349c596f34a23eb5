package project

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/gitignore"
)

// IgnoreRules merges the exclusion sources for one project: configured
// exclude patterns, the project's .mnemignore, and (when enabled) its
// .gitignore. The gitignore matcher handles the standard pattern syntax;
// patterns containing "**" are additionally matched with doublestar, which
// covers the multi-segment globs the regex compiler treats loosely.
type IgnoreRules struct {
	mu         sync.RWMutex
	matcher    *gitignore.Matcher
	globstars  []string
	root       string
	respectGit bool
	configured []string
}

// LoadIgnoreRules reads the project's ignore files and combines them with
// the configured exclude patterns.
func LoadIgnoreRules(root string, cfg *config.Config) (*IgnoreRules, error) {
	r := &IgnoreRules{
		root:       root,
		respectGit: cfg.Paths.RespectGitignore,
		configured: cfg.Paths.Exclude,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads .mnemignore and .gitignore; called when the watcher
// reports a change to either file.
func (r *IgnoreRules) Reload() error {
	m := gitignore.New()
	var globstars []string

	add := func(pattern string) {
		m.AddPattern(pattern)
		if strings.Contains(pattern, "**") && !strings.HasPrefix(pattern, "!") {
			globstars = append(globstars, pattern)
		}
	}

	for _, pattern := range r.configured {
		add(pattern)
	}

	if patterns, err := readIgnoreFile(filepath.Join(r.root, ".mnemignore")); err != nil {
		return err
	} else {
		for _, p := range patterns {
			add(p)
		}
	}

	if r.respectGit {
		if patterns, err := readIgnoreFile(filepath.Join(r.root, ".gitignore")); err != nil {
			return err
		} else {
			for _, p := range patterns {
				add(p)
			}
		}
	}

	r.mu.Lock()
	r.matcher = m
	r.globstars = globstars
	r.mu.Unlock()
	return nil
}

// Match reports whether the project-relative path is excluded.
func (r *IgnoreRules) Match(rel string, isDir bool) bool {
	r.mu.RLock()
	matcher := r.matcher
	globstars := r.globstars
	r.mu.RUnlock()

	if matcher.Match(rel, isDir) {
		return true
	}
	for _, pattern := range globstars {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// readIgnoreFile returns the pattern lines of an ignore file, skipping
// blanks and comments. A missing file is not an error.
func readIgnoreFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}
