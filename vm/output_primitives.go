package vm

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Output and user errors
// ---------------------------------------------------------------------------

func outputPrimitives() []*Native {
	return []*Native{
		variadic("display", 0, func(in *Interpreter, args []Value) (Value, error) {
			return Nil, write(in, joinPrinted(args), "")
		}),
		variadic("print", 0, func(in *Interpreter, args []Value) (Value, error) {
			return Nil, write(in, joinPrinted(args), "\n")
		}),
		fixed("newline", 0, func(in *Interpreter, _ []Value) (Value, error) {
			return Nil, write(in, "", "\n")
		}),
		variadic("error", 0, func(_ *Interpreter, args []Value) (Value, error) {
			if len(args) == 0 {
				return nil, UserError.New("error")
			}
			return nil, UserError.New("%s", joinPrinted(args))
		}),
	}
}

func joinPrinted(args []Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}

func write(in *Interpreter, text, end string) error {
	out := in.Out
	if out == nil {
		out = io.Discard
	}
	if _, err := fmt.Fprint(out, text, end); err != nil {
		return RuntimeError.Wrap(err, "write failed")
	}
	return nil
}
