// Package symbols walks a parsed tree and extracts the named entities the
// rest of the engine treats as symbols: functions, methods, classes,
// structs, and friends, each with its byte span, qualified scope, and a
// structural digest from internal/structhash.
package symbols

import (
	"sort"
	"strings"

	"github.com/alessandrobrunoh/mnemosyne/internal/parser"
	"github.com/alessandrobrunoh/mnemosyne/internal/structhash"
)

// Kind is the closed set of entity kinds a Symbol may report.
type Kind string

const (
	KindFunction Kind = "Function"
	KindMethod   Kind = "Method"
	KindClass    Kind = "Class"
	KindStruct   Kind = "Struct"
	KindEnum     Kind = "Enum"
	KindTrait    Kind = "Trait"
	KindModule   Kind = "Module"
	KindVariable Kind = "Variable"
	KindOther    Kind = "Other"
)

// Span is a half-open byte range [Start, End) within the snapshotted file.
type Span struct {
	Start uint32
	End   uint32
}

// Symbol is one named entity extracted from a parse tree, not yet attached
// to a snapshot-id (internal/pipeline assigns that at commit time).
type Symbol struct {
	Name            string
	QualifiedScope  string // dot-joined enclosing entity names, "" at top level
	Kind            Kind
	Span            Span
	StructuralDigest [32]byte
}

// Key identifies a symbol's identity across snapshots of the same file,
// per the data model's uniqueness invariant (qualified-scope, name, kind).
type Key struct {
	QualifiedScope string
	Name           string
	Kind           Kind
}

func (s Symbol) Key() Key {
	return Key{QualifiedScope: s.QualifiedScope, Name: s.Name, Kind: s.Kind}
}

// Extractor walks a parser.Tree in document order and emits Symbols,
// nested entities included, anonymous entities skipped.
type Extractor struct {
	cap parser.Capability
}

// NewExtractor builds an Extractor over the given parser capability.
func NewExtractor(cap parser.Capability) *Extractor {
	return &Extractor{cap: cap}
}

// Extract returns the stable-ordered (by byte start) symbol list for tree.
// An unsupported or nil tree yields an empty, non-nil slice: the engine
// still snapshots file content with zero symbols (see internal/pipeline).
func (e *Extractor) Extract(tree *parser.Tree) []Symbol {
	out := []Symbol{}
	if tree == nil || tree.Root == nil {
		return out
	}
	cfg, ok := e.cap.Config(tree.Language)
	if !ok {
		return out
	}

	w := &walker{
		source: tree.Source,
		cfg:    cfg,
		lang:   tree.Language,
	}
	w.walk(tree.Root, nil)

	sort.SliceStable(w.out, func(i, j int) bool {
		return w.out[i].Span.Start < w.out[j].Span.Start
	})
	return w.out
}

type walker struct {
	source []byte
	cfg    *parser.LanguageConfig
	lang   string
	out    []Symbol
}

// walk recurses the tree carrying the stack of enclosing entity names that
// forms each nested symbol's qualified scope.
func (w *walker) walk(n *parser.Node, scope []string) {
	if n == nil {
		return
	}

	if kind, ok := w.matchKind(n); ok {
		name := w.extractName(n, kind)
		if name != "" {
			sym := Symbol{
				Name:           name,
				QualifiedScope: strings.Join(scope, "."),
				Kind:           kind,
				Span:           Span{Start: n.StartByte, End: n.EndByte},
			}
			sym.StructuralDigest = structhash.Hash(n, w.source, w.lang, w.cfg, name)
			w.out = append(w.out, sym)
			scope = append(scope[:len(scope):len(scope)], name)
		}
	}

	for _, c := range n.Children {
		w.walk(c, scope)
	}
}

func (w *walker) matchKind(n *parser.Node) (Kind, bool) {
	for kindName, types := range w.cfg.EntityTypes {
		for _, t := range types {
			if n.Type == t {
				return w.refineKind(n, Kind(kindName)), true
			}
		}
	}
	return "", false
}

// refineKind disambiguates a grammar node type that maps to more than one
// closed-set kind (Go's type_declaration covers Struct/Trait/Other alike).
func (w *walker) refineKind(n *parser.Node, fallback Kind) Kind {
	if w.lang != "go" || n.Type != "type_declaration" {
		return fallback
	}
	spec := n.FindChildByType("type_spec")
	if spec == nil {
		return fallback
	}
	for _, c := range spec.Children {
		switch c.Type {
		case "struct_type":
			return KindStruct
		case "interface_type":
			return KindTrait
		}
	}
	return KindOther
}

func (w *walker) extractName(n *parser.Node, kind Kind) string {
	switch w.lang {
	case "go":
		return w.extractGoName(n)
	case "typescript", "tsx", "javascript", "jsx":
		return w.extractJSName(n)
	case "python":
		return w.extractPythonName(n)
	default:
		return w.firstIdentifier(n)
	}
}

func (w *walker) firstIdentifier(n *parser.Node) string {
	for _, c := range n.Children {
		for _, idType := range w.cfg.IdentifierTypes {
			if c.Type == idType {
				return c.Content(w.source)
			}
		}
	}
	return ""
}

func (w *walker) extractGoName(n *parser.Node) string {
	switch n.Type {
	case "function_declaration":
		if c := n.FindChildByType("identifier"); c != nil {
			return c.Content(w.source)
		}
	case "method_declaration":
		if c := n.FindChildByType("field_identifier"); c != nil {
			return c.Content(w.source)
		}
	case "type_declaration":
		if spec := n.FindChildByType("type_spec"); spec != nil {
			if c := spec.FindChildByType("type_identifier"); c != nil {
				return c.Content(w.source)
			}
		}
	case "const_declaration", "var_declaration":
		specType := "var_spec"
		if n.Type == "const_declaration" {
			specType = "const_spec"
		}
		for _, spec := range n.FindChildrenByType(specType) {
			if c := spec.FindChildByType("identifier"); c != nil {
				return c.Content(w.source)
			}
		}
	}
	return ""
}

func (w *walker) extractJSName(n *parser.Node) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, decl := range n.FindChildrenByType("variable_declarator") {
			if c := decl.FindChildByType("identifier"); c != nil {
				return c.Content(w.source)
			}
		}
		return ""
	}
	for _, idType := range []string{"identifier", "type_identifier", "property_identifier"} {
		if c := n.FindChildByType(idType); c != nil {
			return c.Content(w.source)
		}
	}
	return ""
}

func (w *walker) extractPythonName(n *parser.Node) string {
	if c := n.FindChildByType("identifier"); c != nil {
		return c.Content(w.source)
	}
	return ""
}
