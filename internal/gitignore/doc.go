// Package gitignore provides gitignore pattern matching functionality.
//
// It implements the gitignore pattern syntax as documented at:
// https://git-scm.com/docs/gitignore
//
// The package is deliberately domain-agnostic: it knows nothing about
// snapshots or projects. internal/project layers Mnemosyne's semantics on
// top, feeding it patterns from .mnemignore, optionally .gitignore, and
// the configured excludes (see project.IgnoreRules).
//
// Features:
//   - Basic pattern matching (*.log, temp/)
//   - Wildcard patterns (*, ?, **)
//   - Rooted patterns (/build)
//   - Negation patterns (!important.log)
//   - Directory-only patterns (build/)
//   - Nested ignore file support
//   - Thread-safe matching
//
// Usage:
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	m.AddPattern("/build/")
//
//	if m.Match("error.log", false) {
//	    // File is ignored
//	}
//
// For nested ignore files:
//
//	m.AddFromFile("/path/to/project/.mnemignore", "")
//	m.AddFromFile("/path/to/project/src/.gitignore", "src")
package gitignore
