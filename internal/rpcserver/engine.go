package rpcserver

import (
	"context"

	"github.com/alessandrobrunoh/mnemosyne/internal/pipeline"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
)

// Engine is the surface the server drives; the daemon implements it. The
// server owns protocol concerns (framing, lifecycle, auth, cancellation)
// and delegates every domain operation here.
type Engine interface {
	// SupportedLanguages reports the installed parser grammars.
	SupportedLanguages() []string

	// Watch begins tracking root, creating the project on first call.
	// The bool reports whether the project was newly tracked.
	Watch(ctx context.Context, root string) (*project.Project, bool, error)

	// Unwatch stops tracking the project. Its on-disk history remains.
	Unwatch(ctx context.Context, id string) error

	// Project resolves a tracked project by ID.
	Project(id string) (*project.Project, bool)

	// Projects lists tracked projects ordered by root.
	Projects() []*project.Project

	// Ingest forces a snapshot of one file.
	Ingest(ctx context.Context, p *project.Project, rel string) (*pipeline.Result, error)
}
