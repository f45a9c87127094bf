package vm

import (
	_ "embed"
	"io"
)

//go:embed prelude.lisp
var preludeSource string

// CompileFunc turns source text into one chunk per top-level form. The
// compiler package provides the implementation; the VM only depends on the
// signature so the two packages do not import each other.
type CompileFunc func(source string) ([]*Chunk, error)

// VM ties a global scope to an interpreter and a compiler backend. One VM
// is one session: its globals outlive every top-level evaluation.
type VM struct {
	Globals *Scope

	interp  *Interpreter
	compile CompileFunc
}

// NewVM creates a VM with the built-in library installed in its global scope.
func NewVM() *VM {
	v := &VM{
		Globals: NewScope(nil),
		interp:  NewInterpreter(),
	}
	installPrimitives(v.Globals)
	return v
}

// Interpreter returns the VM's execution engine.
func (v *VM) Interpreter() *Interpreter {
	return v.interp
}

// UseCompiler installs the compiler backend used by Compile and EvalString.
func (v *VM) UseCompiler(fn CompileFunc) {
	v.compile = fn
}

// CompileFunc returns the installed compiler backend, or nil.
func (v *VM) CompileFunc() CompileFunc {
	return v.compile
}

// SetOutput redirects display/print output.
func (v *VM) SetOutput(w io.Writer) {
	v.interp.Out = w
}

// SetMaxFrames bounds the call stack.
func (v *VM) SetMaxFrames(n int) {
	if n > 0 {
		v.interp.MaxFrames = n
	}
}

// SetTrace toggles per-instruction debug logging.
func (v *VM) SetTrace(on bool) {
	v.interp.Trace = on
}

// Compile compiles source with the installed backend.
func (v *VM) Compile(source string) ([]*Chunk, error) {
	if v.compile == nil {
		return nil, CompileError.New("no compiler installed")
	}
	return v.compile(source)
}

// Execute runs one top-level chunk against the global scope.
func (v *VM) Execute(chunk *Chunk) (Value, error) {
	return v.interp.Execute(chunk, v.Globals)
}

// ExecuteAll runs chunks in order and returns the last result. It stops at
// the first error; definitions made by earlier chunks remain.
func (v *VM) ExecuteAll(chunks []*Chunk) (Value, error) {
	var result Value = Nil
	for _, chunk := range chunks {
		r, err := v.Execute(chunk)
		if err != nil {
			return nil, err
		}
		result = r
	}
	return result, nil
}

// EvalString compiles and runs every form in source. An incomplete final
// form yields an EndOfInput error and nothing is executed.
func (v *VM) EvalString(source string) (Value, error) {
	chunks, err := v.Compile(source)
	if err != nil {
		return nil, err
	}
	return v.ExecuteAll(chunks)
}

// LoadPrelude evaluates the embedded Lisp prelude.
func (v *VM) LoadPrelude() error {
	_, err := v.EvalString(preludeSource)
	return err
}

// Define binds name in the global scope.
func (v *VM) Define(name string, val Value) {
	v.Globals.Define(Symbol(name), val)
}

// Lookup finds a global binding.
func (v *VM) Lookup(name string) (Value, bool) {
	return v.Globals.Lookup(Symbol(name))
}

// GlobalNames returns every global name, sorted.
func (v *VM) GlobalNames() []string {
	syms := v.Globals.Names()
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = string(s)
	}
	return names
}
