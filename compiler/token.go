package compiler

import (
	"fmt"

	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Token types for the reader
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenAtom   // 42, 3.5, foo, +
	TokenString // "hello"

	// Delimiters and reader markers
	TokenLParen     // (
	TokenRParen     // )
	TokenQuote      // '
	TokenQuasiQuote // `
	TokenUnquote    // ~
	TokenSplice     // ~@
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenAtom:       "ATOM",
	TokenString:     "STRING",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenQuote:      "'",
	TokenQuasiQuote: "`",
	TokenUnquote:    "~",
	TokenSplice:     "~@",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsMarker returns true for the quoting prefixes.
func (t TokenType) IsMarker() bool {
	switch t {
	case TokenQuote, TokenQuasiQuote, TokenUnquote, TokenSplice:
		return true
	}
	return false
}

// Token represents a lexical token. Value is set for atoms and strings.
type Token struct {
	Type    TokenType
	Literal string   // the raw text; the message for TokenError
	Value   vm.Value // classified atom or decoded string
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
