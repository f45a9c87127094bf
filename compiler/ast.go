package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Syntax tree
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number, in runes
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// NodeKind records the reader prefix, if any, in front of a form.
type NodeKind int

const (
	Form        NodeKind = iota // plain form
	Quoted                      // 'form
	QuasiQuoted                 // `form
	Unquoted                    // ~form
	Spliced                     // ~@form
)

var nodeKindPrefixes = [...]string{
	Form:        "",
	Quoted:      "'",
	QuasiQuoted: "`",
	Unquoted:    "~",
	Spliced:     "~@",
}

// longNames are the special-form heads equivalent to each prefix.
var longNames = [...]vm.Symbol{
	Quoted:      "quote",
	QuasiQuoted: "quasiquote",
	Unquoted:    "unquote",
	Spliced:     "unquote-splicing",
}

func (k NodeKind) String() string {
	switch k {
	case Form:
		return "Form"
	case Quoted:
		return "Quoted"
	case QuasiQuoted:
		return "QuasiQuoted"
	case Unquoted:
		return "Unquoted"
	case Spliced:
		return "Spliced"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is an atom or a list.
type Node interface {
	String() string
	node() // marker method
}

// AtomNode holds a literal value or a symbol.
type AtomNode struct {
	Value vm.Value
}

func (*AtomNode) node() {}

func (n *AtomNode) String() string { return n.Value.String() }

// ListNode holds fully parsed children in source order.
type ListNode struct {
	Children []SyntaxNode
}

func (*ListNode) node() {}

func (n *ListNode) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, child := range n.Children {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(child.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// SyntaxNode is one parsed form together with its reader prefix.
type SyntaxNode struct {
	Kind NodeKind
	Node Node
	Pos  Position
}

func (s SyntaxNode) String() string {
	if s.Node == nil {
		return ""
	}
	return nodeKindPrefixes[s.Kind] + s.Node.String()
}

// Atom returns the node's atom, if it is a plain atom form.
func (s SyntaxNode) Atom() (*AtomNode, bool) {
	if s.Kind != Form {
		return nil, false
	}
	a, ok := s.Node.(*AtomNode)
	return a, ok
}

// Symbol returns the node's symbol, if it is a plain symbol form.
func (s SyntaxNode) Symbol() (vm.Symbol, bool) {
	a, ok := s.Atom()
	if !ok {
		return "", false
	}
	sym, ok := a.Value.(vm.Symbol)
	return sym, ok
}

// List returns the node's list, if it is a plain list form.
func (s SyntaxNode) List() (*ListNode, bool) {
	if s.Kind != Form {
		return nil, false
	}
	l, ok := s.Node.(*ListNode)
	return l, ok
}

// LongForm rewrites a prefixed node to the equivalent list form, so 'a
// becomes (quote a). Plain forms are returned unchanged.
func (s SyntaxNode) LongForm() SyntaxNode {
	if s.Kind == Form {
		return s
	}
	head := SyntaxNode{Kind: Form, Node: &AtomNode{Value: longNames[s.Kind]}, Pos: s.Pos}
	inner := SyntaxNode{Kind: Form, Node: s.Node, Pos: s.Pos}
	return SyntaxNode{
		Kind: Form,
		Node: &ListNode{Children: []SyntaxNode{head, inner}},
		Pos:  s.Pos,
	}
}

// Wrap applies a reader prefix to s. A node that already carries a prefix
// is first rewritten to its long form, so ''a is Quoted((quote a)).
func Wrap(kind NodeKind, s SyntaxNode, pos Position) SyntaxNode {
	if s.Kind != Form {
		s = s.LongForm()
	}
	return SyntaxNode{Kind: kind, Node: s.Node, Pos: pos}
}

// Datum converts syntax to the runtime value it denotes when quoted.
// Prefixed children become their long forms.
func Datum(s SyntaxNode) vm.Value {
	s = s.LongForm()
	switch n := s.Node.(type) {
	case *AtomNode:
		return n.Value
	case *ListNode:
		items := make([]vm.Value, len(n.Children))
		for i, child := range n.Children {
			items[i] = Datum(child)
		}
		return vm.NewList(items...)
	default:
		panic(fmt.Sprintf("compiler: unknown node %T", s.Node))
	}
}
