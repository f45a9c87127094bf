package compiler

import (
	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Parser: tokens to syntax tree
// ---------------------------------------------------------------------------

// The parser keeps its own stack of open lists and pending reader prefixes
// instead of recursing. Later stages walk the tree recursively, so nesting
// is capped at MaxDepth open lists and prefixes.

// MaxDepth is the deepest nesting the parser accepts.
const MaxDepth = 10000

// pending is one entry of the parser's work stack: an open list collecting
// children, or a prefix waiting for the form it applies to.
type pending struct {
	prefix   NodeKind // Form for an open list
	children []SyntaxNode
	pos      Position
}

// Parser reads forms from a token slice.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser over tokens, which should end with TokenEOF.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse reads exactly one form. Empty input, or input ending inside a form,
// is an EndOfInput error; tokens after the form are a ParseError.
func Parse(tokens []Token) (SyntaxNode, error) {
	p := NewParser(tokens)
	node, err := p.ParseForm()
	if err != nil {
		return SyntaxNode{}, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return SyntaxNode{}, parseError(tok.Pos, "unexpected %s after form", tok.Type)
	}
	return node, nil
}

// ParseAll reads every form. Empty input yields no forms.
func ParseAll(tokens []Token) ([]SyntaxNode, error) {
	p := NewParser(tokens)
	var nodes []SyntaxNode
	for !p.AtEnd() {
		node, err := p.ParseForm()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ParseString tokenizes and parses every form in src.
func ParseString(src string) ([]SyntaxNode, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	return ParseAll(tokens)
}

// AtEnd reports whether only the end marker remains.
func (p *Parser) AtEnd() bool {
	return p.peek().Type == TokenEOF
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		if n := len(p.tokens); n > 0 {
			return Token{Type: TokenEOF, Pos: p.tokens[n-1].Pos}
		}
		return Token{Type: TokenEOF, Pos: Position{Line: 1, Column: 1}}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// ParseForm reads the next complete form.
func (p *Parser) ParseForm() (SyntaxNode, error) {
	var stack []*pending

	for {
		tok := p.next()
		var done SyntaxNode

		switch tok.Type {
		case TokenEOF:
			if len(stack) == 0 {
				return SyntaxNode{}, endOfInput(tok.Pos, "no form to read")
			}
			top := stack[len(stack)-1]
			if top.prefix == Form {
				return SyntaxNode{}, endOfInput(top.pos, "unclosed list")
			}
			return SyntaxNode{}, endOfInput(top.pos, "nothing follows %s", nodeKindPrefixes[top.prefix])

		case TokenLParen:
			if len(stack) >= MaxDepth {
				return SyntaxNode{}, parseError(tok.Pos, "nesting deeper than %d", MaxDepth)
			}
			stack = append(stack, &pending{prefix: Form, pos: tok.Pos})
			continue

		case TokenRParen:
			if len(stack) == 0 {
				return SyntaxNode{}, parseError(tok.Pos, "unmatched )")
			}
			top := stack[len(stack)-1]
			if top.prefix != Form {
				return SyntaxNode{}, parseError(top.pos, "nothing follows %s", nodeKindPrefixes[top.prefix])
			}
			stack = stack[:len(stack)-1]
			done = SyntaxNode{Kind: Form, Node: &ListNode{Children: top.children}, Pos: top.pos}

		case TokenQuote, TokenQuasiQuote, TokenUnquote, TokenSplice:
			if len(stack) >= MaxDepth {
				return SyntaxNode{}, parseError(tok.Pos, "nesting deeper than %d", MaxDepth)
			}
			stack = append(stack, &pending{prefix: markerKind(tok.Type), pos: tok.Pos})
			continue

		case TokenAtom, TokenString:
			done = SyntaxNode{Kind: Form, Node: &AtomNode{Value: tok.Value}, Pos: tok.Pos}

		default:
			return SyntaxNode{}, parseError(tok.Pos, "unexpected %s", tok.Type)
		}

		// Hand the finished form to whatever is waiting for it, applying
		// prefixes until an open list (or the top level) takes it.
		for {
			if len(stack) == 0 {
				return done, nil
			}
			top := stack[len(stack)-1]
			if top.prefix == Form {
				top.children = append(top.children, done)
				break
			}
			stack = stack[:len(stack)-1]
			done = Wrap(top.prefix, done, top.pos)
		}
	}
}

func markerKind(t TokenType) NodeKind {
	switch t {
	case TokenQuote:
		return Quoted
	case TokenQuasiQuote:
		return QuasiQuoted
	case TokenUnquote:
		return Unquoted
	case TokenSplice:
		return Spliced
	}
	return Form
}

// ---------------------------------------------------------------------------
// Positioned errors
// ---------------------------------------------------------------------------

func parseError(pos Position, format string, args ...any) error {
	return vm.ParseError.New(format, args...).
		WithProperty(vm.PropertyLine, pos.Line).
		WithProperty(vm.PropertyColumn, pos.Column)
}

func endOfInput(pos Position, format string, args ...any) error {
	return vm.EndOfInput.New(format, args...).
		WithProperty(vm.PropertyLine, pos.Line).
		WithProperty(vm.PropertyColumn, pos.Column)
}
