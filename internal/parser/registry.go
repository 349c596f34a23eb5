package parser

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how one language's grammar maps onto the
// closed set of entity kinds the Symbol Extractor reports. EntityTypes
// groups tree-sitter node type names by kind name (see internal/symbols
// for the Kind enum); IdentifierTypes/BindingTypes pick out the node types
// that hold identifiers and local binding sites respectively.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// EntityTypes maps a kind name ("Function", "Method", "Class",
	// "Struct", "Enum", "Trait", "Module", "Variable") to the tree-sitter
	// node types that represent it, in the order they should be tried.
	EntityTypes map[string][]string

	// BindingTypes lists node types that introduce a locally bound
	// identifier (parameters, short var declarations, loop variables),
	// consulted by internal/structhash for de-Bruijn-style normalization.
	BindingTypes []string

	// IdentifierTypes lists the leaf node type(s) used for plain
	// identifiers in this grammar.
	IdentifierTypes []string

	// CommentTypes lists node types that should be ignored entirely when
	// computing a structural digest.
	CommentTypes []string
}

// Registry holds the set of installed languages. The engine works with any
// subset: an unsupported file still snapshots, it simply yields no symbols.
type Registry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	tsLangs   map[string]*sitter.Language
}

// NewRegistry builds a registry with every language the engine ships
// grammars for.
func NewRegistry() *Registry {
	r := &Registry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		tsLangs:   make(map[string]*sitter.Language),
	}
	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	return r
}

func (r *Registry) register(cfg *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	r.tsLangs[cfg.Name] = tsLang
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

// SupportedLanguages lists every registered language tag.
func (r *Registry) SupportedLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.configs))
	for name := range r.configs {
		out = append(out, name)
	}
	return out
}

// DetectLanguage maps a path's extension to a language tag. leading is
// unused by the current extension-based heuristic but kept in the
// signature so a future content-sniffing detector is a drop-in change.
func (r *Registry) DetectLanguage(path string, leading []byte) (string, bool) {
	ext := extOf(path)
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.extToLang[ext]
	return name, ok
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(path[idx:])
}

// Config returns the LanguageConfig for a registered language name.
func (r *Registry) Config(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	return c, ok
}

func (r *Registry) treeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.tsLangs[name]
	return l, ok
}

func (r *Registry) registerGo() {
	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		EntityTypes: map[string][]string{
			"Function": {"function_declaration"},
			"Method":   {"method_declaration"},
			"Struct":   {"type_declaration"}, // refined by kind-detection in internal/symbols
			"Variable": {"var_declaration", "const_declaration"},
		},
		BindingTypes:    []string{"parameter_declaration", "short_var_declaration", "range_clause"},
		IdentifierTypes: []string{"identifier", "field_identifier", "type_identifier"},
		CommentTypes:    []string{"comment"},
	}, golang.GetLanguage())
}

func (r *Registry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		EntityTypes: map[string][]string{
			"Function":  {"function_declaration"},
			"Method":    {"method_definition"},
			"Class":     {"class_declaration"},
			"Trait":     {"interface_declaration"},
			"Struct":    {"type_alias_declaration"},
			"Variable":  {"lexical_declaration", "variable_declaration"},
		},
		BindingTypes:    []string{"formal_parameters", "variable_declarator", "arrow_function"},
		IdentifierTypes: []string{"identifier", "property_identifier", "type_identifier"},
		CommentTypes:    []string{"comment"},
	}
	r.register(tsConfig, typescript.GetLanguage())

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.register(&tsxConfig, tsx.GetLanguage())
}

func (r *Registry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs"},
		EntityTypes: map[string][]string{
			"Function": {"function_declaration", "function"},
			"Method":   {"method_definition"},
			"Class":    {"class_declaration"},
			"Variable": {"lexical_declaration", "variable_declaration"},
		},
		BindingTypes:    []string{"formal_parameters", "variable_declarator", "arrow_function"},
		IdentifierTypes: []string{"identifier", "property_identifier"},
		CommentTypes:    []string{"comment"},
	}
	r.register(jsConfig, javascript.GetLanguage())

	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.register(&jsxConfig, javascript.GetLanguage())
}

func (r *Registry) registerPython() {
	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		EntityTypes: map[string][]string{
			"Function": {"function_definition"},
			"Class":    {"class_definition"},
			"Variable": {"assignment"},
		},
		BindingTypes:    []string{"parameters", "for_statement"},
		IdentifierTypes: []string{"identifier"},
		CommentTypes:    []string{"comment"},
	}, python.GetLanguage())
}
