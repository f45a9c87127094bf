package compiler

import (
	"strings"
	"testing"

	"github.com/joomcode/errorx"

	"github.com/chazu/parens/vm"
)

func isType(err error, t *errorx.Type) bool {
	return err != nil && errorx.IsOfType(err, t)
}

func parseOne(t *testing.T, src string) SyntaxNode {
	t.Helper()
	tokens, err := Tokenize(src)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", src, err)
	}
	node, err := Parse(tokens)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return node
}

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		src  string
		want vm.Value
	}{
		{"0", vm.Integer(0)},
		{"-512", vm.Integer(-512)},
		{"5.0", vm.Float(5)},
		{`"foo bar"`, vm.String("foo bar")},
		{"foo", vm.Symbol("foo")},
		{`"foo\'bar"`, vm.String("foo'bar")},
		{`"foo\"bar"`, vm.String(`foo"bar`)},
	}

	for _, tt := range tests {
		node := parseOne(t, tt.src)
		atom, ok := node.Atom()
		if !ok {
			t.Errorf("Parse(%q) = %s, want a plain atom", tt.src, node)
			continue
		}
		if !vm.Equal(atom.Value, tt.want) {
			t.Errorf("Parse(%q) = %s, want %s", tt.src, atom.Value, tt.want)
		}
	}
}

func TestParseLists(t *testing.T) {
	node := parseOne(t, "(define (f x)\n  (+ x 1))")
	l, ok := node.List()
	if !ok {
		t.Fatalf("Parse = %s, want a list", node)
	}
	if len(l.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(l.Children))
	}
	if sym, _ := l.Children[0].Symbol(); sym != "define" {
		t.Errorf("head = %s, want define", l.Children[0])
	}
	body := l.Children[2]
	if body.Pos.Line != 2 || body.Pos.Column != 3 {
		t.Errorf("body position = %v, want 2:3", body.Pos)
	}
}

func TestParsePrintsCanonicalForm(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"(  +   1\n\t2 )", "(+ 1 2)"},
		{"()", "()"},
		{"((a) (b (c)))", "((a) (b (c)))"},
		{"'a", "'a"},
		{"'(1 2)", "'(1 2)"},
		{"`(a ~b ~@c)", "`(a ~b ~@c)"},
		{"''a", "'(quote a)"},
		{"'`a", "'(quasiquote a)"},
		{"`~x", "`(unquote x)"},
		{`("foo bar" 1.5)`, "(foo bar 1.5)"},
	}

	for _, tt := range tests {
		if got := parseOne(t, tt.src).String(); got != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestParseKinds(t *testing.T) {
	tests := []struct {
		src  string
		want NodeKind
	}{
		{"a", Form},
		{"'a", Quoted},
		{"`a", QuasiQuoted},
		{"~a", Unquoted},
		{"~@a", Spliced},
	}
	for _, tt := range tests {
		if got := parseOne(t, tt.src).Kind; got != tt.want {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestParseEndOfInput(t *testing.T) {
	tests := []string{
		"",
		"   ; only a comment",
		"(",
		"(+ 1",
		"(a (b (c",
		"'",
		"(list '",
		"`(a ~",
	}

	for _, src := range tests {
		tokens, err := Tokenize(src)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", src, err)
		}
		_, err = Parse(tokens)
		if !vm.IsEndOfInput(err) {
			t.Errorf("Parse(%q) err = %v, want end of input", src, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src     string
		message string
	}{
		{")", "unmatched )"},
		{"(a))", "unexpected )"},
		{"(')", "nothing follows '"},
		{"(a ~@)", "nothing follows ~@"},
		{"a b", "unexpected ATOM"},
	}

	for _, tt := range tests {
		tokens, err := Tokenize(tt.src)
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", tt.src, err)
		}
		_, err = Parse(tokens)
		if !isType(err, vm.ParseError) {
			t.Errorf("Parse(%q) err = %v, want parse error", tt.src, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.message) {
			t.Errorf("Parse(%q) err = %q, want it to mention %q", tt.src, err, tt.message)
		}
	}
}

func TestParseErrorCarriesPosition(t *testing.T) {
	tokens, _ := Tokenize("(a\n  b))")
	_, err := Parse(tokens)
	if got := vm.ErrorLine(err); got != 2 {
		t.Errorf("ErrorLine = %d, want 2 (err: %v)", got, err)
	}
}

func TestParseAll(t *testing.T) {
	nodes, err := ParseString("(define x 1) x\n'(a b) ; done")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	want := []string{"(define x 1)", "x", "'(a b)"}
	if len(nodes) != len(want) {
		t.Fatalf("ParseString returned %d forms, want %d", len(nodes), len(want))
	}
	for i, w := range want {
		if got := nodes[i].String(); got != w {
			t.Errorf("form[%d] = %q, want %q", i, got, w)
		}
	}

	nodes, err = ParseString("")
	if err != nil || len(nodes) != 0 {
		t.Errorf("ParseString(\"\") = %v, %v, want no forms", nodes, err)
	}

	if _, err := ParseString("(a) (b"); !vm.IsEndOfInput(err) {
		t.Errorf("ParseString with trailing open list: err = %v, want end of input", err)
	}
	if _, err := ParseString(`(a) "b`); !isType(err, vm.ParseError) {
		t.Errorf("ParseString with bad string: err = %v, want parse error", err)
	}
}

func TestParseDeepNesting(t *testing.T) {
	const depth = MaxDepth
	src := strings.Repeat("(", depth) + strings.Repeat(")", depth)
	nodes, err := ParseString(src)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	n := 0
	for node := nodes[0]; ; n++ {
		l, _ := node.List()
		if len(l.Children) == 0 {
			break
		}
		node = l.Children[0]
	}
	if n != depth-1 {
		t.Errorf("nesting depth = %d, want %d", n, depth-1)
	}
}

func TestParseNestingLimit(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"lists", strings.Repeat("(", MaxDepth+1) + strings.Repeat(")", MaxDepth+1)},
		{"quotes", strings.Repeat("'", MaxDepth+1) + "x"},
		{"mixed", strings.Repeat("'(", MaxDepth/2+1) + strings.Repeat(")", MaxDepth/2+1)},
		{"unclosed", strings.Repeat("(", MaxDepth+1)},
	}
	for _, tt := range tests {
		_, err := ParseString(tt.src)
		if !isType(err, vm.ParseError) {
			t.Errorf("%s: err = %v, want parse error", tt.name, err)
		}
	}

	// The limit is per form, not per input.
	src := strings.Repeat("(", MaxDepth) + strings.Repeat(")", MaxDepth)
	if _, err := ParseString(src + " " + src); err != nil {
		t.Errorf("two forms at the limit: %v", err)
	}
}

func TestDatum(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"(+ 1 2)", "(+ 1 2)"},
		{"(a 'b)", "(a (quote b))"},
		{"(x `(y ~z))", "(x (quasiquote (y (unquote z))))"},
		{"()", "()"},
	}
	for _, tt := range tests {
		if got := Datum(parseOne(t, tt.src)).String(); got != tt.want {
			t.Errorf("Datum(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}

	v := Datum(parseOne(t, `("s" 1 2.5 sym)`))
	l := v.(vm.List)
	kinds := []vm.Kind{vm.KindString, vm.KindInteger, vm.KindFloat, vm.KindSymbol}
	for i, k := range kinds {
		if l[i].Kind() != k {
			t.Errorf("element %d kind = %s, want %s", i, l[i].Kind(), k)
		}
	}
}
