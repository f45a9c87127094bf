package compiler

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for s-expressions
// ---------------------------------------------------------------------------

// Lexer tokenizes source text. It holds no state beyond its position, so a
// fresh Lexer over the same text always yields the same tokens.
type Lexer struct {
	input string
	pos   int // offset of the next unread rune
	line  int // line of the next unread rune (1-based)
	col   int // column of the next unread rune (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		line:  1,
		col:   1,
	}
}

// Tokenize converts text into tokens, ending with a TokenEOF. A malformed
// string literal is a ParseError.
func Tokenize(text string) ([]Token, error) {
	l := NewLexer(text)
	var tokens []Token
	for {
		tok := l.NextToken()
		switch tok.Type {
		case TokenError:
			return nil, parseError(tok.Pos, "%s", tok.Literal)
		case TokenEOF:
			return append(tokens, tok), nil
		}
		tokens = append(tokens, tok)
	}
}

// peek returns the next rune without consuming it, or 0 at end of input.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.input)
}

// advance consumes one rune.
func (l *Lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// position returns the position of the next unread rune.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()
	if l.atEnd() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	switch l.peek() {
	case '(':
		l.advance()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}
	case ')':
		l.advance()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}
	case '\'':
		l.advance()
		return Token{Type: TokenQuote, Literal: "'", Pos: pos}
	case '`':
		l.advance()
		return Token{Type: TokenQuasiQuote, Literal: "`", Pos: pos}
	case '~':
		l.advance()
		if l.peek() == '@' {
			l.advance()
			return Token{Type: TokenSplice, Literal: "~@", Pos: pos}
		}
		return Token{Type: TokenUnquote, Literal: "~", Pos: pos}
	case '"':
		return l.readString(pos)
	}
	return l.readAtom(pos)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEnd() {
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == ';':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

// readString reads a string literal. A backslash copies the following
// character verbatim; no escape is interpreted.
func (l *Lexer) readString(pos Position) Token {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.atEnd() {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		}
		r := l.advance()
		switch r {
		case '"':
			s := sb.String()
			return Token{
				Type:    TokenString,
				Literal: l.input[pos.Offset:l.pos],
				Value:   vm.String(s),
				Pos:     pos,
			}
		case '\\':
			if l.atEnd() {
				return Token{Type: TokenError, Literal: "escape at end of input", Pos: pos}
			}
			sb.WriteRune(l.advance())
		default:
			sb.WriteRune(r)
		}
	}
}

// readAtom reads characters up to whitespace, a paren or a string quote.
func (l *Lexer) readAtom(pos Position) Token {
	for !l.atEnd() && !isAtomTerminator(l.peek()) {
		l.advance()
	}
	lit := l.input[pos.Offset:l.pos]
	return Token{Type: TokenAtom, Literal: lit, Value: ClassifyAtom(lit), Pos: pos}
}

func isAtomTerminator(r rune) bool {
	return unicode.IsSpace(r) || r == '(' || r == ')' || r == '"'
}

// ---------------------------------------------------------------------------
// Atom classification
// ---------------------------------------------------------------------------

// ClassifyAtom turns atom text into a value: an optionally negative run of
// digits that fits in 64 bits is an Integer, text containing a decimal point
// that parses as a float is a Float, and anything else is a Symbol.
func ClassifyAtom(text string) vm.Value {
	if isIntegerText(text) {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return vm.Integer(i)
		}
	}
	if strings.Contains(text, ".") && isFloatText(text) {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return vm.Float(f)
		}
	}
	return vm.Symbol(text)
}

func isIntegerText(text string) bool {
	digits := strings.TrimPrefix(text, "-")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isFloatText rejects the spellings strconv accepts but the reader does not:
// hex mantissas, underscores, and named values such as "inf".
func isFloatText(text string) bool {
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}
