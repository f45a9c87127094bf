package vm

import (
	"io"
	"os"

	"github.com/tliron/commonlog"
)

// DefaultMaxFrames bounds the call stack. Tail calls do not count against it.
const DefaultMaxFrames = 10000

var interpLog = commonlog.GetLogger("parens.vm")

// ---------------------------------------------------------------------------
// frame: Execution state for one active call
// ---------------------------------------------------------------------------

// frame is the execution state of one active (non-tail) call.
type frame struct {
	chunk *Chunk // code being executed
	ip    int    // instruction pointer (offset into chunk.Code)
	bp    int    // base pointer: this frame's operand region starts here
	env   *Scope // innermost scope; let bodies push children onto it
}

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes chunks. It owns one operand stack and one frame stack;
// it is not safe for concurrent use.
type Interpreter struct {
	stack  []Value // operand stack
	sp     int     // stack pointer (points to next free slot)
	frames []frame // call stack

	// MaxFrames bounds the number of active non-tail calls.
	MaxFrames int

	// Trace logs every instruction at debug level.
	Trace bool

	// Out receives output from display/print.
	Out io.Writer
}

// NewInterpreter creates an interpreter with default limits.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		stack:     make([]Value, 256),
		frames:    make([]frame, 0, 64),
		MaxFrames: DefaultMaxFrames,
		Out:       os.Stdout,
	}
}

// FrameDepth returns the number of active frames.
func (in *Interpreter) FrameDepth() int {
	return len(in.frames)
}

// StackDepth returns the number of values on the operand stack.
func (in *Interpreter) StackDepth() int {
	return in.sp
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (in *Interpreter) push(v Value) {
	if in.sp >= len(in.stack) {
		newStack := make([]Value, len(in.stack)*2)
		copy(newStack, in.stack)
		in.stack = newStack
	}
	in.stack[in.sp] = v
	in.sp++
}

func (in *Interpreter) pop() Value {
	in.sp--
	v := in.stack[in.sp]
	in.stack[in.sp] = nil
	return v
}

func (in *Interpreter) top() Value {
	return in.stack[in.sp-1]
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Execute runs a top-level chunk with env as its scope and returns the value
// of its final RETURN. On error the stacks are restored to their state
// before the call.
func (in *Interpreter) Execute(chunk *Chunk, env *Scope) (Value, error) {
	base, sp := len(in.frames), in.sp
	if err := in.pushFrame(chunk, env); err != nil {
		return nil, err
	}
	v, err := in.run(base)
	if err != nil {
		in.unwind(base, sp)
		return nil, err
	}
	return v, nil
}

// Apply calls fn with args and runs it to completion. Natives use it to call
// back into closures (map, apply, ...).
func (in *Interpreter) Apply(fn Value, args []Value) (Value, error) {
	switch callee := fn.(type) {
	case *Native:
		return callee.Call(in, args)
	case *Closure:
		env, err := bindArguments(callee, args)
		if err != nil {
			return nil, err
		}
		base, sp := len(in.frames), in.sp
		if err := in.pushFrame(callee.Chunk, env); err != nil {
			return nil, err
		}
		v, err := in.run(base)
		if err != nil {
			in.unwind(base, sp)
			return nil, err
		}
		return v, nil
	default:
		return nil, notCallable(fn)
	}
}

func (in *Interpreter) unwind(base, sp int) {
	in.frames = in.frames[:base]
	clear(in.stack[sp:in.sp])
	in.sp = sp
}

func (in *Interpreter) pushFrame(chunk *Chunk, env *Scope) error {
	if len(in.frames) >= in.MaxFrames {
		return StackOverflow.New("call depth exceeded %d frames", in.MaxFrames)
	}
	in.frames = append(in.frames, frame{chunk: chunk, bp: in.sp, env: env})
	return nil
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

// run executes until the frame stack drops back to base.
func (in *Interpreter) run(base int) (Value, error) {
	for {
		f := &in.frames[len(in.frames)-1]
		chunk := f.chunk
		code := chunk.Code

		if f.ip >= len(code) {
			// Hand-built chunks may omit the final RETURN.
			if in.sp == f.bp {
				in.push(Nil)
			}
			if result, done := in.ret(base); done {
				return result, nil
			}
			continue
		}

		opIP := f.ip
		op := Opcode(code[f.ip])
		f.ip++

		if in.Trace {
			interpLog.Debugf("[%04x] %-20s sp=%d frames=%d", opIP, op, in.sp, len(in.frames))
		}

		switch op {
		case OpNop:

		case OpPop:
			in.pop()

		case OpDup:
			in.push(in.top())

		case OpConst:
			idx := chunk.readUint16(f.ip)
			f.ip += 2
			in.push(chunk.Constants[idx])

		case OpConstNil:
			in.push(Nil)

		case OpConstTrue:
			in.push(Boolean(true))

		case OpConstFalse:
			in.push(Boolean(false))

		case OpLoadVar:
			name := in.nameOperand(f)
			v, ok := f.env.Lookup(name)
			if !ok {
				return nil, in.fail(chunk, opIP, UnboundSymbol.New("unbound symbol %s", name))
			}
			in.push(v)

		case OpDefine:
			name := in.nameOperand(f)
			f.env.Define(name, in.pop())
			in.push(name)

		case OpSetVar:
			name := in.nameOperand(f)
			if !f.env.Set(name, in.top()) {
				return nil, in.fail(chunk, opIP, UnboundSymbol.New("set! of unbound symbol %s", name))
			}

		case OpBind:
			name := in.nameOperand(f)
			f.env.Define(name, in.pop())

		case OpEnterScope:
			f.env = NewScope(f.env)

		case OpLeaveScope:
			f.env = f.env.Parent()

		case OpList:
			n := int(chunk.readUint16(f.ip))
			f.ip += 2
			items := make([]Value, n)
			copy(items, in.stack[in.sp-n:in.sp])
			in.drop(n)
			in.push(NewList(items...))

		case OpAppend:
			n := int(chunk.readUint16(f.ip))
			f.ip += 2
			var out List
			for _, part := range in.stack[in.sp-n : in.sp] {
				l, ok := part.(List)
				if !ok {
					return nil, in.fail(chunk, opIP, TypeMismatch.New("cannot splice %s %s, expected a list", part.Kind(), part))
				}
				out = append(out, l...)
			}
			in.drop(n)
			in.push(NewList(out...))

		case OpJump:
			delta := int(chunk.readInt16(f.ip))
			f.ip += 2 + delta

		case OpJumpFalse:
			delta := int(chunk.readInt16(f.ip))
			f.ip += 2
			if !Truthy(in.pop()) {
				f.ip += delta
			}

		case OpJumpIfFalseOrPop:
			delta := int(chunk.readInt16(f.ip))
			f.ip += 2
			if !Truthy(in.top()) {
				f.ip += delta
			} else {
				in.pop()
			}

		case OpJumpIfTrueOrPop:
			delta := int(chunk.readInt16(f.ip))
			f.ip += 2
			if Truthy(in.top()) {
				f.ip += delta
			} else {
				in.pop()
			}

		case OpCall:
			argc := int(code[f.ip])
			f.ip++
			if err := in.call(argc); err != nil {
				return nil, in.fail(chunk, opIP, err)
			}

		case OpTailCall:
			argc := int(code[f.ip])
			f.ip++
			if _, ok := in.stack[in.sp-argc-1].(*Closure); ok {
				if err := in.tailCall(argc); err != nil {
					return nil, in.fail(chunk, opIP, err)
				}
				continue
			}
			// Natives never grow the frame stack: call, then return.
			if err := in.call(argc); err != nil {
				return nil, in.fail(chunk, opIP, err)
			}
			if result, done := in.ret(base); done {
				return result, nil
			}

		case OpMakeClosure:
			idx := chunk.readUint16(f.ip)
			f.ip += 2
			in.push(&Closure{Chunk: chunk.Functions[idx], Env: f.env})

		case OpReturn:
			if result, done := in.ret(base); done {
				return result, nil
			}

		default:
			return nil, in.fail(chunk, opIP, RuntimeError.New("unknown opcode 0x%02x at offset %d", byte(op), opIP))
		}
	}
}

// ret pops the current frame, leaving its result on the caller's stack.
// It returns done when the frame stack has dropped back to base.
func (in *Interpreter) ret(base int) (Value, bool) {
	result := in.pop()
	f := in.frames[len(in.frames)-1]
	clear(in.stack[f.bp:in.sp])
	in.sp = f.bp
	in.frames = in.frames[:len(in.frames)-1]
	if len(in.frames) == base {
		return result, true
	}
	in.push(result)
	return nil, false
}

// call invokes the function sitting below argc arguments. Natives run to
// completion and leave their result; closures get a new frame.
func (in *Interpreter) call(argc int) error {
	fnIdx := in.sp - argc - 1
	switch callee := in.stack[fnIdx].(type) {
	case *Native:
		args := make([]Value, argc)
		copy(args, in.stack[fnIdx+1:in.sp])
		in.drop(argc + 1)
		result, err := callee.Call(in, args)
		if err != nil {
			return err
		}
		in.push(result)
		return nil
	case *Closure:
		env, err := bindArguments(callee, in.stack[fnIdx+1:in.sp])
		if err != nil {
			return err
		}
		in.drop(argc + 1)
		return in.pushFrame(callee.Chunk, env)
	default:
		return notCallable(in.stack[fnIdx])
	}
}

// tailCall replaces the current frame with a call to the closure below argc
// arguments.
func (in *Interpreter) tailCall(argc int) error {
	fnIdx := in.sp - argc - 1
	callee := in.stack[fnIdx].(*Closure)
	env, err := bindArguments(callee, in.stack[fnIdx+1:in.sp])
	if err != nil {
		return err
	}
	f := &in.frames[len(in.frames)-1]
	clear(in.stack[f.bp:in.sp])
	in.sp = f.bp
	f.chunk = callee.Chunk
	f.ip = 0
	f.env = env
	return nil
}

func (in *Interpreter) drop(n int) {
	clear(in.stack[in.sp-n : in.sp])
	in.sp -= n
}

func (in *Interpreter) nameOperand(f *frame) Symbol {
	idx := f.chunk.readUint16(f.ip)
	f.ip += 2
	return f.chunk.Constants[idx].(Symbol)
}

// fail attaches the source line of the failing instruction to err.
func (in *Interpreter) fail(chunk *Chunk, ip int, err error) error {
	line, _ := chunk.GetSourceLocation(ip)
	return withLine(err, line)
}

// bindArguments creates the scope for one invocation of c.
func bindArguments(c *Closure, args []Value) (*Scope, error) {
	ch := c.Chunk
	if len(args) < len(ch.Params) || (ch.Rest == "" && len(args) > len(ch.Params)) {
		want := ""
		if ch.Rest != "" {
			want = "at least "
		}
		return nil, ArityMismatch.New("%s expects %s%d arguments, got %d", c, want, len(ch.Params), len(args))
	}
	env := NewScope(c.Env)
	for i, p := range ch.Params {
		env.Define(Symbol(p), args[i])
	}
	if ch.Rest != "" {
		rest := make([]Value, len(args)-len(ch.Params))
		copy(rest, args[len(ch.Params):])
		env.Define(Symbol(ch.Rest), NewList(rest...))
	}
	return env, nil
}

func notCallable(v Value) error {
	return NotCallable.New("%s %s is not callable", v.Kind(), v)
}
