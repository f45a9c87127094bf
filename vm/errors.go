package vm

import (
	"strings"

	"github.com/joomcode/errorx"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Errors is the namespace every error raised by the pipeline belongs to.
var Errors = errorx.NewNamespace("parens")

var (
	// ParseError reports a malformed token stream: an unterminated string,
	// an unmatched close paren, a stray character.
	ParseError = Errors.NewType("parse")

	// EndOfInput reports that the input is a valid prefix of a larger form.
	// Interactive callers keep accumulating; batch callers treat it as fatal.
	EndOfInput = Errors.NewType("end_of_input")

	// CompileError reports a malformed special form.
	CompileError = Errors.NewType("compile")

	// RuntimeError is the parent of every error raised while executing.
	RuntimeError = Errors.NewType("runtime")

	// ImageError reports a compiled image that cannot be decoded.
	ImageError = Errors.NewType("image")
)

// Runtime error subtypes.
var (
	UnboundSymbol = RuntimeError.NewSubtype("unbound_symbol")
	NotCallable   = RuntimeError.NewSubtype("not_callable")
	ArityMismatch = RuntimeError.NewSubtype("arity_mismatch")
	TypeMismatch  = RuntimeError.NewSubtype("type_mismatch")
	DivideByZero  = RuntimeError.NewSubtype("divide_by_zero")
	StackOverflow = RuntimeError.NewSubtype("stack_overflow")
	UserError     = RuntimeError.NewSubtype("user")
)

// Source position properties attached to parse, compile and runtime errors.
var (
	PropertyLine   = errorx.RegisterPrintableProperty("line")
	PropertyColumn = errorx.RegisterPrintableProperty("column")
)

// IsEndOfInput reports whether err signals an incomplete form.
func IsEndOfInput(err error) bool {
	return errorx.IsOfType(err, EndOfInput)
}

// IsRuntime reports whether err was raised during execution.
func IsRuntime(err error) bool {
	return errorx.IsOfType(err, RuntimeError)
}

// ErrorLine returns the source line recorded on err, or 0.
func ErrorLine(err error) int {
	if v, ok := errorx.ExtractProperty(err, PropertyLine); ok {
		if line, ok := v.(int); ok {
			return line
		}
	}
	return 0
}

// ErrorColumn returns the source column recorded on err, or 0.
func ErrorColumn(err error) int {
	if v, ok := errorx.ExtractProperty(err, PropertyColumn); ok {
		if col, ok := v.(int); ok {
			return col
		}
	}
	return 0
}

// ErrorKind returns a short name for the error's type ("parse",
// "runtime.unbound_symbol", ...), or "" for errors outside the namespace.
func ErrorKind(err error) string {
	xerr := errorx.Cast(err)
	if xerr == nil {
		return ""
	}
	for _, t := range []*errorx.Type{ParseError, EndOfInput, CompileError, RuntimeError, ImageError} {
		if errorx.IsOfType(err, t) {
			return strings.TrimPrefix(xerr.Type().FullName(), "parens.")
		}
	}
	return ""
}

// withLine attaches a source line to err when it is an errorx error and does
// not already carry one.
func withLine(err error, line int) error {
	if line <= 0 {
		return err
	}
	xerr := errorx.Cast(err)
	if xerr == nil {
		return err
	}
	if _, ok := xerr.Property(PropertyLine); ok {
		return err
	}
	return xerr.WithProperty(PropertyLine, line)
}
