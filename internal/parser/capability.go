package parser

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Capability is the pluggable syntax-parser contract the rest of the engine
// consumes. It is satisfied by *Adapter but kept as an interface so the
// Symbol Extractor and Snapshot Pipeline never import tree-sitter
// directly, and so the engine functions with any subset of languages
// installed: detection or parsing that find nothing supported simply
// yields no symbols, never an error that aborts ingest.
type Capability interface {
	SupportedLanguages() []string
	DetectLanguage(path string, leading []byte) (string, bool)
	Parse(ctx context.Context, language string, source []byte) (*Tree, error)
	Config(language string) (*LanguageConfig, bool)
}

// Adapter wraps tree-sitter behind Capability. A sitter.Parser is not safe
// for concurrent use, so Adapter keeps a small pool instead of one shared
// parser; the Snapshot Pipeline runs chunking and parsing concurrently
// across many files on the CPU worker pool (see internal/pipeline).
type Adapter struct {
	registry *Registry
	pool     sync.Pool
}

// NewAdapter builds an Adapter over the default language registry.
func NewAdapter() *Adapter {
	return &Adapter{
		registry: NewRegistry(),
		pool: sync.Pool{
			New: func() any { return sitter.NewParser() },
		},
	}
}

func (a *Adapter) SupportedLanguages() []string { return a.registry.SupportedLanguages() }

func (a *Adapter) DetectLanguage(path string, leading []byte) (string, bool) {
	return a.registry.DetectLanguage(path, leading)
}

func (a *Adapter) Config(language string) (*LanguageConfig, bool) {
	return a.registry.Config(language)
}

// Parse parses source as the given language and returns a Tree, or a
// *ParseError if the grammar rejects it. The caller (internal/pipeline)
// treats a ParseError as non-fatal: the file is still snapshotted with
// zero symbols and an "unparsed" flag recorded for telemetry.
func (a *Adapter) Parse(ctx context.Context, language string, source []byte) (*Tree, error) {
	tsLang, ok := a.registry.treeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("parser: unsupported language %q", language)
	}

	p := a.pool.Get().(*sitter.Parser)
	defer a.pool.Put(p)
	p.SetLanguage(tsLang)

	tsTree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, &ParseError{Language: language, Err: err}
	}
	if tsTree == nil {
		return nil, &ParseError{Language: language, Err: fmt.Errorf("nil tree")}
	}
	defer tsTree.Close()

	return &Tree{
		Root:     convert(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

func convert(n *sitter.Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Type:       n.Type(),
		StartByte:  n.StartByte(),
		EndByte:    n.EndByte(),
		StartPoint: Point{Row: n.StartPoint().Row, Column: n.StartPoint().Column},
		EndPoint:   Point{Row: n.EndPoint().Row, Column: n.EndPoint().Column},
		HasError:   n.HasError(),
		Children:   make([]*Node, 0, int(n.ChildCount())),
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			out.Children = append(out.Children, convert(c))
		}
	}
	return out
}
