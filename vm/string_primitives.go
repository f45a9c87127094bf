package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Strings and symbols
// ---------------------------------------------------------------------------

func stringPrimitives() []*Native {
	return []*Native{
		variadic("string-append", 0, func(_ *Interpreter, args []Value) (Value, error) {
			var sb strings.Builder
			for _, arg := range args {
				s, err := expectString("string-append", arg)
				if err != nil {
					return nil, err
				}
				sb.WriteString(string(s))
			}
			return String(sb.String()), nil
		}),
		fixed("string-length", 1, func(_ *Interpreter, args []Value) (Value, error) {
			s, err := expectString("string-length", args[0])
			if err != nil {
				return nil, err
			}
			return Integer(utf8.RuneCountInString(string(s))), nil
		}),
		fixed("symbol->string", 1, func(_ *Interpreter, args []Value) (Value, error) {
			sym, ok := args[0].(Symbol)
			if !ok {
				return nil, typeError("symbol->string", "a symbol", args[0])
			}
			return String(sym), nil
		}),
		fixed("string->symbol", 1, func(_ *Interpreter, args []Value) (Value, error) {
			s, err := expectString("string->symbol", args[0])
			if err != nil {
				return nil, err
			}
			return Symbol(s), nil
		}),
		fixed("number->string", 1, func(_ *Interpreter, args []Value) (Value, error) {
			if !IsNumber(args[0]) {
				return nil, typeError("number->string", "a number", args[0])
			}
			return String(args[0].String()), nil
		}),
		fixed("string->number", 1, func(_ *Interpreter, args []Value) (Value, error) {
			s, err := expectString("string->number", args[0])
			if err != nil {
				return nil, err
			}
			text := strings.TrimSpace(string(s))
			if i, err := strconv.ParseInt(text, 10, 64); err == nil {
				return Integer(i), nil
			}
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return Float(f), nil
			}
			return Boolean(false), nil
		}),
	}
}
