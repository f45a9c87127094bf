package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindInteger Kind = iota
	KindFloat
	KindString
	KindSymbol
	KindBoolean
	KindList
	KindClosure
	KindNative
)

var kindNames = [...]string{
	KindInteger: "integer",
	KindFloat:   "float",
	KindString:  "string",
	KindSymbol:  "symbol",
	KindBoolean: "boolean",
	KindList:    "list",
	KindClosure: "closure",
	KindNative:  "native",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a runtime value. The set of implementations is closed: the
// unexported method keeps other packages from adding variants, so every
// switch over Kind covers the whole space.
//
//   - Integer: 64-bit signed integer
//   - Float:   64-bit IEEE 754 float
//   - String:  owned text
//   - Symbol:  identifier text
//   - Boolean: true/false
//   - List:    ordered sequence, O(1) head and tail
//   - *Closure: compiled lambda plus its captured scope
//   - *Native:  built-in Go function
type Value interface {
	Kind() Kind
	String() string
	value()
}

type (
	Integer int64
	Float   float64
	String  string
	Symbol  string
	Boolean bool

	// List is an immutable sequence. Tail re-slices the backing array, so
	// walking a list with First/Rest never copies.
	List []Value
)

// Nil is the empty list, the result of forms that produce no value.
var Nil = List(nil)

func (Integer) Kind() Kind { return KindInteger }
func (Float) Kind() Kind   { return KindFloat }
func (String) Kind() Kind  { return KindString }
func (Symbol) Kind() Kind  { return KindSymbol }
func (Boolean) Kind() Kind { return KindBoolean }
func (List) Kind() Kind    { return KindList }

func (Integer) value() {}
func (Float) value()   {}
func (String) value()  {}
func (Symbol) value()  {}
func (Boolean) value() {}
func (List) value()    {}

func (i Integer) String() string { return strconv.FormatInt(int64(i), 10) }

func (f Float) String() string {
	switch {
	case math.IsInf(float64(f), 1):
		return "+inf"
	case math.IsInf(float64(f), -1):
		return "-inf"
	case math.IsNaN(float64(f)):
		return "nan"
	}
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

// String returns the raw content, without surrounding quotes.
func (s String) String() string { return string(s) }

func (s Symbol) String() string { return string(s) }

func (b Boolean) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (l List) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range l {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// ---------------------------------------------------------------------------
// List operations
// ---------------------------------------------------------------------------

// NewList builds a list from the given values.
func NewList(values ...Value) List {
	if len(values) == 0 {
		return Nil
	}
	return List(values)
}

// IsEmpty returns true for the empty list.
func (l List) IsEmpty() bool { return len(l) == 0 }

// Len returns the number of elements.
func (l List) Len() int { return len(l) }

// First returns the head of the list, or false when the list is empty.
func (l List) First() (Value, bool) {
	if len(l) == 0 {
		return nil, false
	}
	return l[0], true
}

// Rest returns the list without its head. The empty list's rest is empty.
func (l List) Rest() List {
	if len(l) <= 1 {
		return Nil
	}
	return l[1:]
}

// Last returns the final element, or false when the list is empty.
func (l List) Last() (Value, bool) {
	if len(l) == 0 {
		return nil, false
	}
	return l[len(l)-1], true
}

// Cons returns a new list with v prepended. Lists share no structure, so
// this copies l.
func (l List) Cons(v Value) List {
	out := make(List, 0, len(l)+1)
	out = append(out, v)
	return append(out, l...)
}

// Append returns a new list with v added at the end.
func (l List) Append(v Value) List {
	out := make(List, 0, len(l)+1)
	out = append(out, l...)
	return append(out, v)
}

// ---------------------------------------------------------------------------
// Callables
// ---------------------------------------------------------------------------

// Closure pairs a compiled lambda with the scope chain active when it was
// created. Every invocation shares that scope as its parent.
type Closure struct {
	Chunk *Chunk
	Env   *Scope
}

func (*Closure) Kind() Kind { return KindClosure }
func (*Closure) value()     {}

func (c *Closure) String() string {
	if c.Chunk != nil && c.Chunk.Name != "" {
		return "#<lambda " + c.Chunk.Name + ">"
	}
	return "#<lambda>"
}

// NativeFunc implements a built-in. The interpreter is passed so natives can
// call back into closures.
type NativeFunc func(in *Interpreter, args []Value) (Value, error)

// Native is a built-in function bound in the global scope.
type Native struct {
	Name  string
	Arity int // -1 for variadic
	Min   int // minimum argument count when variadic
	Fn    NativeFunc
}

func (*Native) Kind() Kind { return KindNative }
func (*Native) value()     {}

func (n *Native) String() string { return "#<native " + n.Name + ">" }

// Call checks the argument count and runs the function.
func (n *Native) Call(in *Interpreter, args []Value) (Value, error) {
	if n.Arity >= 0 && len(args) != n.Arity {
		return nil, ArityMismatch.New("%s expects %d arguments, got %d", n.Name, n.Arity, len(args))
	}
	if n.Arity < 0 && len(args) < n.Min {
		return nil, ArityMismatch.New("%s expects at least %d arguments, got %d", n.Name, n.Min, len(args))
	}
	return n.Fn(in, args)
}

// ---------------------------------------------------------------------------
// Predicates and conversions
// ---------------------------------------------------------------------------

// Truthy returns false only for the boolean false.
func Truthy(v Value) bool {
	if b, ok := v.(Boolean); ok {
		return bool(b)
	}
	return true
}

// IsCallable returns true for closures and natives.
func IsCallable(v Value) bool {
	switch v.(type) {
	case *Closure, *Native:
		return true
	}
	return false
}

// IsNumber returns true for integers and floats.
func IsNumber(v Value) bool {
	switch v.(type) {
	case Integer, Float:
		return true
	}
	return false
}

// ToFloat converts a numeric value to float64.
func ToFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Integer:
		return float64(n), true
	case Float:
		return float64(n), true
	}
	return 0, false
}

// Equal reports structural equality. Values of different kinds are never
// equal, so (equal? 1 1.0) is false.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Integer:
		return x == b.(Integer)
	case Float:
		return x == b.(Float)
	case String:
		return x == b.(String)
	case Symbol:
		return x == b.(Symbol)
	case Boolean:
		return x == b.(Boolean)
	case List:
		y := b.(List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Closure:
		return x == b.(*Closure)
	case *Native:
		return x == b.(*Native)
	default:
		panic(fmt.Sprintf("vm: Equal on unknown value %T", a))
	}
}
