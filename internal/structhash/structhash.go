// Package structhash computes a structural digest over a parsed entity's
// subtree: a 256-bit hash that stays stable under renaming of the entity
// itself and its locally bound identifiers, and under whitespace, comment,
// and literal-formatting differences, while remaining sensitive to
// control-flow, operator, non-bound-identifier, and literal-value changes.
package structhash

import (
	"crypto/sha256"
	"strconv"
	"strings"

	"github.com/alessandrobrunoh/mnemosyne/internal/parser"
)

// Hash computes the structural digest of n. entityName is the declared name
// of the entity being hashed; it participates in bound-identifier
// normalization so renaming the entity (including recursive self-references)
// leaves the digest unchanged. Hash is total (never fails on a well-formed
// subtree) and pure: identical inputs always produce identical output.
func Hash(n *parser.Node, source []byte, language string, cfg *parser.LanguageConfig, entityName string) [32]byte {
	bound := boundIdentifiers(n, source, cfg)
	if entityName != "" {
		bound = append([]string{entityName}, withoutName(bound, entityName)...)
	}

	var leaves []*parser.Node
	n.Leaves(&leaves)

	var b strings.Builder
	commentTypes := toSet(cfg.CommentTypes)
	placeholders := newPlaceholders(bound)

	for _, leaf := range leaves {
		if commentTypes[leaf.Type] {
			continue
		}
		text := leaf.Content(source)
		// Grammars such as Go's emit newline statement terminators as
		// leaves; whitespace-only tokens are layout, not structure.
		if strings.TrimSpace(text) == "" {
			continue
		}

		if isIdentifierType(leaf.Type, cfg) {
			if idx, ok := placeholders.lookup(text); ok {
				b.WriteString("#")
				b.WriteString(strconv.Itoa(idx))
				b.WriteByte(';')
				continue
			}
			b.WriteString(leaf.Type)
			b.WriteByte(':')
			b.WriteString(text)
			b.WriteByte(';')
			continue
		}

		if isNumericLiteral(leaf.Type) {
			b.WriteString(normalizeNumber(text))
			b.WriteByte(';')
			continue
		}

		// Non-bound token: node type carries control-flow/operator
		// identity, text carries literal values and keywords.
		b.WriteString(leaf.Type)
		b.WriteByte(':')
		b.WriteString(text)
		b.WriteByte(';')
	}

	return sha256.Sum256([]byte(b.String()))
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func isIdentifierType(nodeType string, cfg *parser.LanguageConfig) bool {
	for _, t := range cfg.IdentifierTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

func isNumericLiteral(nodeType string) bool {
	switch nodeType {
	case "int_literal", "float_literal", "number", "integer", "decimal_integer_literal", "decimal_floating_point_literal":
		return true
	}
	return false
}

// normalizeNumber renders an integer literal in a canonical base-10 form so
// 0x10 and 16 hash identically, as required by the literal-formatting
// invariant. Non-integer or unparseable literals pass through unchanged:
// the invariant only covers formatting, never value.
func normalizeNumber(text string) string {
	clean := strings.ReplaceAll(text, "_", "")
	if v, err := strconv.ParseInt(clean, 0, 64); err == nil {
		return strconv.FormatInt(v, 10)
	}
	if v, err := strconv.ParseUint(clean, 0, 64); err == nil {
		return strconv.FormatUint(v, 10)
	}
	return text
}

// withoutName filters a name out of an ordered list, preserving order.
func withoutName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// boundIdentifiers collects the set of identifier names introduced within
// n's subtree at a binding site (parameters, short var declarations, loop
// variables) per cfg.BindingTypes. The entity's own declared name is added
// by Hash, which receives it from the extractor.
func boundIdentifiers(n *parser.Node, source []byte, cfg *parser.LanguageConfig) []string {
	seen := map[string]bool{}
	var ordered []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			ordered = append(ordered, name)
		}
	}

	bindingTypes := toSet(cfg.BindingTypes)
	identTypes := toSet(cfg.IdentifierTypes)

	n.Walk(func(node *parser.Node) bool {
		if bindingTypes[node.Type] {
			for _, leaf := range directIdentifierLeaves(node, identTypes) {
				add(leaf.Content(source))
			}
		}
		return true
	})

	return ordered
}

// directIdentifierLeaves finds identifier leaves under node, recursing
// through non-identifier wrapper nodes but stopping at nested binding
// sites so a parameter list's own nested function literals don't leak
// their bindings upward.
func directIdentifierLeaves(node *parser.Node, identTypes map[string]bool) []*parser.Node {
	var out []*parser.Node
	var visit func(n *parser.Node)
	visit = func(n *parser.Node) {
		if identTypes[n.Type] {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(node)
	return out
}

// placeholders assigns each bound name a de-Bruijn-style index based on
// first-appearance order within the subtree being hashed.
type placeholders struct {
	index map[string]int
}

func newPlaceholders(names []string) *placeholders {
	p := &placeholders{index: make(map[string]int, len(names))}
	for i, name := range names {
		p.index[name] = i + 1
	}
	return p
}

func (p *placeholders) lookup(name string) (int, bool) {
	idx, ok := p.index[name]
	return idx, ok
}
