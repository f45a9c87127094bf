package vm

import (
	encbinary "encoding/binary"
	"fmt"
)

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	BytecodeOffset uint32 `cbor:"1,keyasint"` // Offset in code section
	Line           uint32 `cbor:"2,keyasint"` // Source line number (1-based)
	Column         uint16 `cbor:"3,keyasint"` // Source column number (1-based)
}

// Chunk is the compiled form of one top-level form or one lambda body.
// It is immutable once the compiler hands it over.
type Chunk struct {
	Name string // Binding name for lambdas defined with define, else ""

	// Code section
	Code []byte

	// Constant pool referenced by OpConst and by variable opcodes (names
	// are stored as Symbols).
	Constants []Value

	// Nested lambda bodies referenced by OpMakeClosure.
	Functions []*Chunk

	// Parameters. Rest names the parameter collecting surplus arguments,
	// or is empty for fixed arity.
	Params []string
	Rest   string

	SourceMap []SourceLocation
}

// NewChunk creates a new empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Name:      name,
		Code:      make([]byte, 0, 64),
		Constants: make([]Value, 0, 8),
	}
}

// Arity returns the number of required parameters.
func (c *Chunk) Arity() int {
	return len(c.Params)
}

// IsVariadic returns true if the chunk takes a rest parameter.
func (c *Chunk) IsVariadic() bool {
	return c.Rest != ""
}

// AddConstant adds a value to the pool and returns its index.
// Atoms already present are reused.
func (c *Chunk) AddConstant(value Value) (uint16, error) {
	if value.Kind() != KindList {
		for i, v := range c.Constants {
			if Equal(v, value) {
				return uint16(i), nil
			}
		}
	}
	if len(c.Constants) >= 1<<16 {
		return 0, CompileError.New("too many constants in %s", c.describe())
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx, nil
}

// AddFunction adds a nested lambda body and returns its index.
func (c *Chunk) AddFunction(fn *Chunk) (uint16, error) {
	if len(c.Functions) >= 1<<16 {
		return 0, CompileError.New("too many nested functions in %s", c.describe())
	}
	c.Functions = append(c.Functions, fn)
	return uint16(len(c.Functions) - 1), nil
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitByte appends an opcode with a one-byte operand.
func (c *Chunk) EmitByte(op Opcode, operand byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), operand)
	return offset
}

// EmitUint16 appends an opcode with a big-endian two-byte operand.
func (c *Chunk) EmitUint16(op Opcode, operand uint16) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = encbinary.BigEndian.AppendUint16(c.Code, operand)
	return offset
}

// EmitConstant emits an OpConst instruction for the given value.
func (c *Chunk) EmitConstant(value Value) error {
	idx, err := c.AddConstant(value)
	if err != nil {
		return err
	}
	c.EmitUint16(OpConst, idx)
	return nil
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF)
	return offset + 1
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	jumpFrom := placeholderOffset + 2
	delta := len(c.Code) - jumpFrom
	if delta > 1<<15-1 {
		return CompileError.New("jump too long in %s", c.describe())
	}
	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// AddSourceLocation records that code emitted from offset on came from
// line:column. Consecutive entries for the same line are collapsed.
func (c *Chunk) AddSourceLocation(bytecodeOffset int, line, column int) {
	if line <= 0 {
		return
	}
	if n := len(c.SourceMap); n > 0 {
		last := c.SourceMap[n-1]
		if last.Line == uint32(line) && last.Column == uint16(column) {
			return
		}
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: uint32(bytecodeOffset),
		Line:           uint32(line),
		Column:         uint16(column),
	})
}

// GetSourceLocation returns the source location for a bytecode offset.
// Returns line 0, column 0 if no mapping exists.
func (c *Chunk) GetSourceLocation(offset int) (line int, column int) {
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if int(c.SourceMap[i].BytecodeOffset) <= offset {
			return int(c.SourceMap[i].Line), int(c.SourceMap[i].Column)
		}
	}
	return 0, 0
}

func (c *Chunk) describe() string {
	if c.Name != "" {
		return c.Name
	}
	return "<toplevel>"
}

func (c *Chunk) readUint16(offset int) uint16 {
	return encbinary.BigEndian.Uint16(c.Code[offset:])
}

func (c *Chunk) readInt16(offset int) int16 {
	return int16(encbinary.BigEndian.Uint16(c.Code[offset:]))
}

// Validate checks that every instruction is known, operands fit in the code
// section, and indices refer to existing constants and functions. It then
// follows every path through the code: no instruction may pop more than the
// frame has pushed, LEAVE_SCOPE must match an ENTER_SCOPE, jumps must land
// on an instruction, and paths that meet must agree on both depths. Images
// loaded from disk are validated before execution.
func (c *Chunk) Validate() error {
	starts := make(map[int]bool)
	offset := 0
	for offset < len(c.Code) {
		starts[offset] = true
		op := Opcode(c.Code[offset])
		info, ok := opcodeInfoTable[op]
		if !ok {
			return fmt.Errorf("unknown opcode 0x%02X at offset %d", byte(op), offset)
		}
		if offset+1+info.OperandLen > len(c.Code) {
			return fmt.Errorf("truncated %s at offset %d", info.Name, offset)
		}
		switch op {
		case OpConst, OpLoadVar, OpDefine, OpSetVar, OpBind:
			idx := int(c.readUint16(offset + 1))
			if idx >= len(c.Constants) {
				return fmt.Errorf("%s references constant %d of %d", info.Name, idx, len(c.Constants))
			}
			if op != OpConst && c.Constants[idx].Kind() != KindSymbol {
				return fmt.Errorf("%s operand %d is not a symbol", info.Name, idx)
			}
		case OpMakeClosure:
			idx := int(c.readUint16(offset + 1))
			if idx >= len(c.Functions) {
				return fmt.Errorf("MAKE_CLOSURE references function %d of %d", idx, len(c.Functions))
			}
		}
		if op.IsJump() {
			target := offset + 3 + int(c.readInt16(offset+1))
			if target < 0 || target > len(c.Code) {
				return fmt.Errorf("%s at offset %d jumps outside code", info.Name, offset)
			}
		}
		offset += 1 + info.OperandLen
	}
	for offset := range starts {
		op := Opcode(c.Code[offset])
		if !op.IsJump() {
			continue
		}
		target := offset + 3 + int(c.readInt16(offset+1))
		if target != len(c.Code) && !starts[target] {
			return fmt.Errorf("%s at offset %d jumps into the middle of an instruction", op, offset)
		}
	}
	if err := c.verifyFlow(); err != nil {
		return err
	}
	for i, fn := range c.Functions {
		if err := fn.Validate(); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
	}
	return nil
}

// flowState is what the verifier knows on entry to an instruction: values
// this frame has on the operand stack and scopes it has entered.
type flowState struct {
	depth  int
	scopes int
}

// stackEffect returns how many values the instruction at offset needs and
// how the depth changes when it falls through.
func (c *Chunk) stackEffect(op Opcode, offset int) (need, delta int) {
	switch op {
	case OpList, OpAppend:
		n := int(c.readUint16(offset + 1))
		return n, 1 - n
	case OpCall, OpTailCall:
		argc := int(c.Code[offset+1])
		return argc + 1, -argc
	}
	info := opcodeInfoTable[op]
	return info.StackPop, info.StackPush - info.StackPop
}

// verifyFlow walks every reachable instruction. Validate has already
// checked opcodes, operands and jump targets.
func (c *Chunk) verifyFlow() error {
	seen := map[int]flowState{0: {}}
	work := []int{0}

	reach := func(from, to int, s flowState) error {
		if to == len(c.Code) {
			// Falling off the end returns the top value, or nil.
			return nil
		}
		if prev, ok := seen[to]; ok {
			if prev != s {
				return fmt.Errorf("paths reaching offset %d disagree: stack %d vs %d, scopes %d vs %d (from offset %d)",
					to, prev.depth, s.depth, prev.scopes, s.scopes, from)
			}
			return nil
		}
		seen[to] = s
		work = append(work, to)
		return nil
	}

	for len(work) > 0 {
		offset := work[len(work)-1]
		work = work[:len(work)-1]
		if offset == len(c.Code) {
			continue
		}
		s := seen[offset]
		op := Opcode(c.Code[offset])

		need, delta := c.stackEffect(op, offset)
		if s.depth < need {
			return fmt.Errorf("%s at offset %d needs %d stack values, has %d", op, offset, need, s.depth)
		}
		next := flowState{depth: s.depth + delta, scopes: s.scopes}

		switch op {
		case OpEnterScope:
			next.scopes++
		case OpLeaveScope:
			if s.scopes == 0 {
				return fmt.Errorf("LEAVE_SCOPE at offset %d has no matching ENTER_SCOPE", offset)
			}
			next.scopes--
		case OpReturn, OpTailCall:
			continue
		}

		end := offset + op.InstructionLen()
		if op.IsJump() {
			taken := next
			if op == OpJumpIfFalseOrPop || op == OpJumpIfTrueOrPop {
				// The deciding value stays when the jump is taken.
				taken.depth = s.depth
			}
			if err := reach(offset, end+int(c.readInt16(offset+1)), taken); err != nil {
				return err
			}
			if op == OpJump {
				continue
			}
		}
		if err := reach(offset, end, next); err != nil {
			return err
		}
	}
	return nil
}
