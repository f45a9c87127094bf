package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Integer operands stay integers; any float operand promotes the whole
// operation to float.

func numberPrimitives() []*Native {
	return []*Native{
		variadic("+", 0, func(_ *Interpreter, args []Value) (Value, error) {
			return fold("+", Integer(0), args, addInt, func(a, b float64) float64 { return a + b })
		}),
		variadic("*", 0, func(_ *Interpreter, args []Value) (Value, error) {
			return fold("*", Integer(1), args, mulInt, func(a, b float64) float64 { return a * b })
		}),
		variadic("-", 1, func(_ *Interpreter, args []Value) (Value, error) {
			if len(args) == 1 {
				return binary("-", Integer(0), args[0], subInt, func(a, b float64) float64 { return a - b })
			}
			return fold("-", args[0], args[1:], subInt, func(a, b float64) float64 { return a - b })
		}),
		variadic("/", 1, func(_ *Interpreter, args []Value) (Value, error) {
			if len(args) == 1 {
				return binary("/", Integer(1), args[0], divInt, func(a, b float64) float64 { return a / b })
			}
			return fold("/", args[0], args[1:], divInt, func(a, b float64) float64 { return a / b })
		}),
		fixed("mod", 2, func(_ *Interpreter, args []Value) (Value, error) {
			return binary("mod", args[0], args[1], modInt, math.Mod)
		}),
		fixed("abs", 1, func(_ *Interpreter, args []Value) (Value, error) {
			switch n := args[0].(type) {
			case Integer:
				if n < 0 {
					return -n, nil
				}
				return n, nil
			case Float:
				return Float(math.Abs(float64(n))), nil
			}
			return nil, typeError("abs", "a number", args[0])
		}),
		variadic("min", 1, func(_ *Interpreter, args []Value) (Value, error) {
			return extreme("min", args, func(c int) bool { return c < 0 })
		}),
		variadic("max", 1, func(_ *Interpreter, args []Value) (Value, error) {
			return extreme("max", args, func(c int) bool { return c > 0 })
		}),
	}
}

type intOp func(a, b int64) (int64, error)
type floatOp func(a, b float64) float64

func addInt(a, b int64) (int64, error) { return a + b, nil }
func subInt(a, b int64) (int64, error) { return a - b, nil }
func mulInt(a, b int64) (int64, error) { return a * b, nil }

func divInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, DivideByZero.New("division by zero")
	}
	return a / b, nil
}

func modInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, DivideByZero.New("modulo by zero")
	}
	return a % b, nil
}

func fold(name string, acc Value, args []Value, iop intOp, fop floatOp) (Value, error) {
	if !IsNumber(acc) {
		return nil, typeError(name, "numbers", acc)
	}
	for _, arg := range args {
		next, err := binary(name, acc, arg, iop, fop)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

func binary(name string, a, b Value, iop intOp, fop floatOp) (Value, error) {
	if x, ok := a.(Integer); ok {
		if y, ok := b.(Integer); ok {
			r, err := iop(int64(x), int64(y))
			if err != nil {
				return nil, err
			}
			return Integer(r), nil
		}
	}
	x, ok := ToFloat(a)
	if !ok {
		return nil, typeError(name, "numbers", a)
	}
	y, ok := ToFloat(b)
	if !ok {
		return nil, typeError(name, "numbers", b)
	}
	return Float(fop(x, y)), nil
}

// compareNumbers returns -1, 0 or 1, promoting to float when the kinds differ.
func compareNumbers(name string, a, b Value) (int, error) {
	if x, ok := a.(Integer); ok {
		if y, ok := b.(Integer); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	x, ok := ToFloat(a)
	if !ok {
		return 0, typeError(name, "numbers", a)
	}
	y, ok := ToFloat(b)
	if !ok {
		return 0, typeError(name, "numbers", b)
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	case x == y:
		return 0, nil
	}
	// NaN is unordered; report it as "not equal" in a fixed direction.
	return 1, nil
}

func extreme(name string, args []Value, better func(int) bool) (Value, error) {
	best := args[0]
	if !IsNumber(best) {
		return nil, typeError(name, "numbers", best)
	}
	for _, arg := range args[1:] {
		c, err := compareNumbers(name, arg, best)
		if err != nil {
			return nil, err
		}
		if better(c) {
			best = arg
		}
	}
	return best, nil
}
