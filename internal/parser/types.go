// Package parser wraps tree-sitter grammars behind a uniform capability
// interface: detect a file's language, parse it, and walk the resulting
// tree node by node. The engine never depends on tree-sitter directly.
package parser

// Point is a position in source text.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a language-agnostic AST node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Content returns the source slice spanned by n.
func (n *Node) Content(source []byte) string {
	if n == nil || n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, c := range n.Children {
		if c.Type == nodeType {
			return c
		}
	}
	return nil
}

// FindChildrenByType returns all direct children of the given type.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Type == nodeType {
			out = append(out, c)
		}
	}
	return out
}

// Walk traverses the tree depth-first, pre-order. fn returning false skips
// the subtree rooted at the current node (siblings are still visited).
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Leaves appends every leaf node under n, in document order, to out.
func (n *Node) Leaves(out *[]*Node) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		*out = append(*out, n)
		return
	}
	for _, c := range n.Children {
		c.Leaves(out)
	}
}

// Tree is a parsed file. Source is retained because byte spans in Node are
// only meaningful relative to it.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// ParseError reports a parser failure for a supported language; the engine
// still snapshots file content when this occurs (see internal/pipeline).
type ParseError struct {
	Language string
	Err      error
}

func (e *ParseError) Error() string {
	return "parse " + e.Language + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }
