package compiler

import (
	"github.com/joomcode/errorx"

	"github.com/chazu/parens/vm"
)

// ---------------------------------------------------------------------------
// Code generation: syntax tree to chunks
// ---------------------------------------------------------------------------

// SpecialForms lists the list heads the compiler handles itself. They take
// precedence over any global binding of the same name.
var SpecialForms = []string{
	"quote", "quasiquote", "if", "define", "lambda", "let", "begin", "set!",
	"cond", "and", "or",
}

// maxArgs is the largest argument count a CALL operand can carry.
const maxArgs = 255

// Compile parses source and compiles each top-level form into its own chunk.
// Nothing is compiled if any form fails to parse.
func Compile(source string) ([]*vm.Chunk, error) {
	nodes, err := ParseString(source)
	if err != nil {
		return nil, err
	}
	chunks := make([]*vm.Chunk, 0, len(nodes))
	for _, node := range nodes {
		chunk, err := CompileNode(node)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// CompileNode compiles one top-level form. Calls at the top level are never
// tail calls: there is no caller frame to return into.
func CompileNode(node SyntaxNode) (*vm.Chunk, error) {
	g := &codegen{chunk: vm.NewChunk("")}
	if err := g.expr(node, false); err != nil {
		return nil, err
	}
	g.chunk.Emit(vm.OpReturn)
	return g.chunk, nil
}

// codegen emits code into one chunk.
type codegen struct {
	chunk *vm.Chunk
}

// mark records that code emitted from here on comes from pos.
func (g *codegen) mark(pos Position) {
	g.chunk.AddSourceLocation(g.chunk.CurrentOffset(), pos.Line, pos.Column)
}

func (g *codegen) emitName(op vm.Opcode, name vm.Symbol, pos Position) error {
	idx, err := g.chunk.AddConstant(name)
	if err != nil {
		return withPos(err, pos)
	}
	g.mark(pos)
	g.chunk.EmitUint16(op, idx)
	return nil
}

func (g *codegen) constant(v vm.Value, pos Position) error {
	if l, ok := v.(vm.List); ok && l.IsEmpty() {
		g.chunk.Emit(vm.OpConstNil)
		return nil
	}
	if err := g.chunk.EmitConstant(v); err != nil {
		return withPos(err, pos)
	}
	return nil
}

func (g *codegen) patch(placeholder int, pos Position) error {
	if err := g.chunk.PatchJump(placeholder); err != nil {
		return withPos(err, pos)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr compiles one form leaving its value on the stack. tail is set when
// the form's value is the return value of the enclosing lambda.
func (g *codegen) expr(s SyntaxNode, tail bool) error {
	switch s.Kind {
	case Quoted:
		return g.constant(Datum(plain(s)), s.Pos)
	case QuasiQuoted:
		return g.quasi(plain(s))
	case Unquoted, Spliced:
		return compileError(s.Pos, "%s outside quasiquote", nodeKindPrefixes[s.Kind])
	}

	switch n := s.Node.(type) {
	case *AtomNode:
		return g.atom(n.Value, s.Pos)
	case *ListNode:
		return g.list(n, s.Pos, tail)
	}
	return compileError(s.Pos, "unknown syntax node %T", s.Node)
}

func (g *codegen) atom(v vm.Value, pos Position) error {
	switch x := v.(type) {
	case vm.Symbol:
		return g.emitName(vm.OpLoadVar, x, pos)
	case vm.Boolean:
		if x {
			g.chunk.Emit(vm.OpConstTrue)
		} else {
			g.chunk.Emit(vm.OpConstFalse)
		}
		return nil
	}
	return g.constant(v, pos)
}

func (g *codegen) list(l *ListNode, pos Position, tail bool) error {
	if len(l.Children) == 0 {
		g.chunk.Emit(vm.OpConstNil)
		return nil
	}

	args := l.Children[1:]
	if head, ok := l.Children[0].Symbol(); ok {
		switch head {
		case "quote":
			if len(args) != 1 {
				return compileError(pos, "quote expects 1 form, got %d", len(args))
			}
			return g.constant(Datum(args[0]), pos)
		case "quasiquote":
			if len(args) != 1 {
				return compileError(pos, "quasiquote expects 1 form, got %d", len(args))
			}
			return g.quasi(args[0])
		case "unquote", "unquote-splicing":
			return compileError(pos, "%s outside quasiquote", head)
		case "if":
			return g.ifForm(args, pos, tail)
		case "define":
			return g.define(args, pos)
		case "lambda":
			return g.lambdaForm(args, pos, "")
		case "let":
			return g.let(args, pos, tail)
		case "begin":
			return g.body(args, tail)
		case "set!":
			return g.set(args, pos)
		case "cond":
			return g.cond(args, pos, tail)
		case "and":
			return g.logical(args, pos, tail, vm.OpJumpIfFalseOrPop, vm.OpConstTrue)
		case "or":
			return g.logical(args, pos, tail, vm.OpJumpIfTrueOrPop, vm.OpConstFalse)
		}
	}
	return g.apply(l.Children[0], args, pos, tail)
}

// body compiles forms in order, keeping only the last value.
func (g *codegen) body(forms []SyntaxNode, tail bool) error {
	if len(forms) == 0 {
		g.chunk.Emit(vm.OpConstNil)
		return nil
	}
	for i, form := range forms {
		last := i == len(forms)-1
		if err := g.expr(form, tail && last); err != nil {
			return err
		}
		if !last {
			g.chunk.Emit(vm.OpPop)
		}
	}
	return nil
}

func (g *codegen) apply(head SyntaxNode, args []SyntaxNode, pos Position, tail bool) error {
	if len(args) > maxArgs {
		return compileError(pos, "too many arguments (%d, max %d)", len(args), maxArgs)
	}
	if err := g.expr(head, false); err != nil {
		return err
	}
	for _, arg := range args {
		if err := g.expr(arg, false); err != nil {
			return err
		}
	}
	g.mark(pos)
	if tail {
		g.chunk.EmitByte(vm.OpTailCall, byte(len(args)))
	} else {
		g.chunk.EmitByte(vm.OpCall, byte(len(args)))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Special forms
// ---------------------------------------------------------------------------

// (if test then [else])
func (g *codegen) ifForm(args []SyntaxNode, pos Position, tail bool) error {
	if len(args) < 2 || len(args) > 3 {
		return compileError(pos, "if expects 2 or 3 forms, got %d", len(args))
	}
	if err := g.expr(args[0], false); err != nil {
		return err
	}
	elseJump := g.chunk.EmitJump(vm.OpJumpFalse)
	if err := g.expr(args[1], tail); err != nil {
		return err
	}
	endJump := g.chunk.EmitJump(vm.OpJump)
	if err := g.patch(elseJump, pos); err != nil {
		return err
	}
	if len(args) == 3 {
		if err := g.expr(args[2], tail); err != nil {
			return err
		}
	} else {
		g.chunk.Emit(vm.OpConstNil)
	}
	return g.patch(endJump, pos)
}

// (define name expr) or (define (name params...) body...)
func (g *codegen) define(args []SyntaxNode, pos Position) error {
	if len(args) == 0 {
		return compileError(pos, "define expects a name")
	}

	if name, ok := args[0].Symbol(); ok {
		if len(args) != 2 {
			return compileError(pos, "define of %s expects 1 expression, got %d", name, len(args)-1)
		}
		if err := g.named(args[1], string(name)); err != nil {
			return err
		}
		return g.emitName(vm.OpDefine, name, pos)
	}

	sig, ok := args[0].List()
	if !ok || len(sig.Children) == 0 {
		return compileError(pos, "define expects a symbol or (name params...), got %s", args[0])
	}
	name, ok := sig.Children[0].Symbol()
	if !ok {
		return compileError(pos, "function name must be a symbol, got %s", sig.Children[0])
	}
	params, rest, err := parseParams(sig.Children[1:], pos)
	if err != nil {
		return err
	}
	if err := g.lambda(string(name), params, rest, args[1:], pos); err != nil {
		return err
	}
	return g.emitName(vm.OpDefine, name, pos)
}

// named compiles expr, giving a lambda the binding's name.
func (g *codegen) named(expr SyntaxNode, name string) error {
	if l, ok := expr.List(); ok && len(l.Children) > 0 {
		if head, ok := l.Children[0].Symbol(); ok && head == "lambda" {
			return g.lambdaForm(l.Children[1:], expr.Pos, name)
		}
	}
	return g.expr(expr, false)
}

// (lambda (params...) body...) or (lambda args body...)
func (g *codegen) lambdaForm(args []SyntaxNode, pos Position, name string) error {
	if len(args) == 0 {
		return compileError(pos, "lambda expects a parameter list")
	}
	var params []string
	var rest string
	if sym, ok := args[0].Symbol(); ok {
		rest = string(sym)
	} else if l, ok := args[0].List(); ok {
		var err error
		if params, rest, err = parseParams(l.Children, pos); err != nil {
			return err
		}
	} else {
		return compileError(pos, "lambda parameters must be a list or a symbol, got %s", args[0])
	}
	return g.lambda(name, params, rest, args[1:], pos)
}

// lambda compiles body into a nested chunk and emits MAKE_CLOSURE.
func (g *codegen) lambda(name string, params []string, rest string, body []SyntaxNode, pos Position) error {
	if len(body) == 0 {
		return compileError(pos, "lambda body is empty")
	}
	fn := vm.NewChunk(name)
	fn.Params = params
	fn.Rest = rest
	sub := &codegen{chunk: fn}
	sub.mark(pos)
	if err := sub.body(body, true); err != nil {
		return err
	}
	fn.Emit(vm.OpReturn)

	idx, err := g.chunk.AddFunction(fn)
	if err != nil {
		return withPos(err, pos)
	}
	g.mark(pos)
	g.chunk.EmitUint16(vm.OpMakeClosure, idx)
	return nil
}

// parseParams reads (a b . rest).
func parseParams(nodes []SyntaxNode, pos Position) ([]string, string, error) {
	var params []string
	var rest string
	seen := map[vm.Symbol]bool{}
	for i := 0; i < len(nodes); i++ {
		sym, ok := nodes[i].Symbol()
		if !ok {
			return nil, "", compileError(pos, "parameter must be a symbol, got %s", nodes[i])
		}
		if sym == "." {
			if i != len(nodes)-2 {
				return nil, "", compileError(pos, "exactly one parameter must follow .")
			}
			restSym, ok := nodes[i+1].Symbol()
			if !ok || restSym == "." {
				return nil, "", compileError(pos, "rest parameter must be a symbol, got %s", nodes[i+1])
			}
			if seen[restSym] {
				return nil, "", compileError(pos, "duplicate parameter %s", restSym)
			}
			rest = string(restSym)
			break
		}
		if seen[sym] {
			return nil, "", compileError(pos, "duplicate parameter %s", sym)
		}
		seen[sym] = true
		params = append(params, string(sym))
	}
	return params, rest, nil
}

// (let ((name expr)...) body...)
//
// Initializers run in the enclosing scope, then a child scope receives the
// bindings. The body's defines land in that child scope.
func (g *codegen) let(args []SyntaxNode, pos Position, tail bool) error {
	if len(args) < 2 {
		return compileError(pos, "let expects bindings and a body")
	}
	bindings, ok := args[0].List()
	if !ok {
		return compileError(pos, "let bindings must be a list, got %s", args[0])
	}

	names := make([]vm.Symbol, len(bindings.Children))
	for i, b := range bindings.Children {
		pair, ok := b.List()
		if !ok || len(pair.Children) != 2 {
			return compileError(b.Pos, "let binding must be (name expr), got %s", b)
		}
		name, ok := pair.Children[0].Symbol()
		if !ok {
			return compileError(b.Pos, "let binding name must be a symbol, got %s", pair.Children[0])
		}
		names[i] = name
		if err := g.named(pair.Children[1], string(name)); err != nil {
			return err
		}
	}

	g.chunk.Emit(vm.OpEnterScope)
	for i := len(names) - 1; i >= 0; i-- {
		if err := g.emitName(vm.OpBind, names[i], pos); err != nil {
			return err
		}
	}
	if err := g.body(args[1:], tail); err != nil {
		return err
	}
	g.chunk.Emit(vm.OpLeaveScope)
	return nil
}

// (set! name expr)
func (g *codegen) set(args []SyntaxNode, pos Position) error {
	if len(args) != 2 {
		return compileError(pos, "set! expects a name and 1 expression, got %d forms", len(args))
	}
	name, ok := args[0].Symbol()
	if !ok {
		return compileError(pos, "set! target must be a symbol, got %s", args[0])
	}
	if err := g.expr(args[1], false); err != nil {
		return err
	}
	return g.emitName(vm.OpSetVar, name, pos)
}

// (cond (test body...)... (else body...))
//
// A clause with no body yields its test value.
func (g *codegen) cond(clauses []SyntaxNode, pos Position, tail bool) error {
	var endJumps []int
	hasElse := false

	for i, clause := range clauses {
		cl, ok := clause.List()
		if !ok || len(cl.Children) == 0 {
			return compileError(clause.Pos, "cond clause must be a non-empty list, got %s", clause)
		}
		test, body := cl.Children[0], cl.Children[1:]

		if sym, ok := test.Symbol(); ok && sym == "else" {
			if i != len(clauses)-1 {
				return compileError(clause.Pos, "else must be the last cond clause")
			}
			if len(body) == 0 {
				return compileError(clause.Pos, "else clause is empty")
			}
			if err := g.body(body, tail); err != nil {
				return err
			}
			hasElse = true
			break
		}

		if err := g.expr(test, false); err != nil {
			return err
		}
		if len(body) == 0 {
			endJumps = append(endJumps, g.chunk.EmitJump(vm.OpJumpIfTrueOrPop))
			continue
		}
		next := g.chunk.EmitJump(vm.OpJumpFalse)
		if err := g.body(body, tail); err != nil {
			return err
		}
		endJumps = append(endJumps, g.chunk.EmitJump(vm.OpJump))
		if err := g.patch(next, clause.Pos); err != nil {
			return err
		}
	}

	if !hasElse {
		g.chunk.Emit(vm.OpConstNil)
	}
	for _, j := range endJumps {
		if err := g.patch(j, pos); err != nil {
			return err
		}
	}
	return nil
}

// logical compiles and/or: each operand but the last short-circuits with
// jump, keeping the deciding value.
func (g *codegen) logical(args []SyntaxNode, pos Position, tail bool, jump, empty vm.Opcode) error {
	if len(args) == 0 {
		g.chunk.Emit(empty)
		return nil
	}
	var exits []int
	for i, arg := range args {
		last := i == len(args)-1
		if err := g.expr(arg, tail && last); err != nil {
			return err
		}
		if !last {
			exits = append(exits, g.chunk.EmitJump(jump))
		}
	}
	for _, j := range exits {
		if err := g.patch(j, pos); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Quasiquote
// ---------------------------------------------------------------------------

// quasi compiles a quasiquote template. Subtrees without unquotes become
// one constant; lists with unquotes are rebuilt with LIST and APPEND.
func (g *codegen) quasi(s SyntaxNode) error {
	if !hasUnquote(s) {
		return g.constant(Datum(s), s.Pos)
	}

	switch kind, inner := unquoteOf(s); kind {
	case Unquoted:
		return g.expr(inner, false)
	case Spliced:
		return compileError(s.Pos, "~@ must appear inside a list")
	}
	if s.Kind != Form {
		return g.quasi(s.LongForm())
	}

	l := s.Node.(*ListNode)
	if len(l.Children) > 1<<16-1 {
		return compileError(s.Pos, "quasiquoted list too long")
	}
	for _, child := range l.Children {
		switch kind, inner := unquoteOf(child); kind {
		case Unquoted:
			if err := g.expr(inner, false); err != nil {
				return err
			}
			g.chunk.EmitUint16(vm.OpList, 1)
		case Spliced:
			if err := g.expr(inner, false); err != nil {
				return err
			}
		default:
			if err := g.quasi(child); err != nil {
				return err
			}
			g.chunk.EmitUint16(vm.OpList, 1)
		}
	}
	g.mark(s.Pos)
	g.chunk.EmitUint16(vm.OpAppend, uint16(len(l.Children)))
	return nil
}

// unquoteOf recognises ~x, ~@x, (unquote x) and (unquote-splicing x),
// returning Form when s is none of them.
func unquoteOf(s SyntaxNode) (NodeKind, SyntaxNode) {
	switch s.Kind {
	case Unquoted, Spliced:
		return s.Kind, plain(s)
	case Form:
		l, ok := s.Node.(*ListNode)
		if !ok || len(l.Children) != 2 {
			return Form, s
		}
		switch head, _ := l.Children[0].Symbol(); head {
		case "unquote":
			return Unquoted, l.Children[1]
		case "unquote-splicing":
			return Spliced, l.Children[1]
		}
	}
	return Form, s
}

func hasUnquote(s SyntaxNode) bool {
	if kind, _ := unquoteOf(s); kind != Form {
		return true
	}
	if l, ok := s.Node.(*ListNode); ok {
		for _, child := range l.Children {
			if hasUnquote(child) {
				return true
			}
		}
	}
	return false
}

// plain strips the reader prefix from s.
func plain(s SyntaxNode) SyntaxNode {
	return SyntaxNode{Kind: Form, Node: s.Node, Pos: s.Pos}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func compileError(pos Position, format string, args ...any) error {
	return vm.CompileError.New(format, args...).
		WithProperty(vm.PropertyLine, pos.Line).
		WithProperty(vm.PropertyColumn, pos.Column)
}

// withPos adds pos to errors raised by chunk construction.
func withPos(err error, pos Position) error {
	if xerr := errorx.Cast(err); xerr != nil {
		return xerr.WithProperty(vm.PropertyLine, pos.Line)
	}
	return err
}
