package vm

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpConstNil   Opcode = 0x11 // Push the empty list
	OpConstTrue  Opcode = 0x12 // Push true
	OpConstFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Variables (0x20-0x2F) - operand is the name's constant index
	// ========================================================================

	OpLoadVar Opcode = 0x20 // Push value bound to name: OpLoadVar <name:u16>
	OpDefine  Opcode = 0x21 // Pop, bind in current scope, push name: OpDefine <name:u16>
	OpSetVar  Opcode = 0x22 // Replace existing binding with TOS (value stays): OpSetVar <name:u16>
	OpBind    Opcode = 0x23 // Pop and bind in current scope: OpBind <name:u16>

	// ========================================================================
	// Scopes (0x30-0x3F)
	// ========================================================================

	OpEnterScope Opcode = 0x30 // Push a child scope onto the frame's chain
	OpLeaveScope Opcode = 0x31 // Restore the frame's chain to the parent scope

	// ========================================================================
	// List construction (0x40-0x4F)
	// ========================================================================

	OpList   Opcode = 0x40 // Pop n values, push them as a list: OpList <n:u16>
	OpAppend Opcode = 0x41 // Pop n lists, push their concatenation: OpAppend <n:u16>

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump             Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpFalse        Opcode = 0x81 // Pop, jump if false: OpJumpFalse <offset:i16>
	OpJumpIfFalseOrPop Opcode = 0x82 // Jump keeping TOS if false, else pop: <offset:i16>
	OpJumpIfTrueOrPop  Opcode = 0x83 // Jump keeping TOS if truthy, else pop: <offset:i16>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall     Opcode = 0x90 // Call function below argc args: OpCall <argc:u8>
	OpTailCall Opcode = 0x91 // Call reusing the current frame: OpTailCall <argc:u8>

	// ========================================================================
	// Closures (0xA0-0xAF)
	// ========================================================================

	OpMakeClosure Opcode = 0xA0 // Close nested function over current scope: <func:u16>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return top of stack from the current frame
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", 0, 0, 0},
	OpPop: {"POP", 1, 0, 0},
	OpDup: {"DUP", 1, 2, 0},

	OpConst:      {"CONST", 0, 1, 2},
	OpConstNil:   {"CONST_NIL", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},

	OpLoadVar: {"LOAD_VAR", 0, 1, 2},
	OpDefine:  {"DEFINE", 1, 1, 2},
	OpSetVar:  {"SET_VAR", 1, 1, 2},
	OpBind:    {"BIND", 1, 0, 2},

	OpEnterScope: {"ENTER_SCOPE", 0, 0, 0},
	OpLeaveScope: {"LEAVE_SCOPE", 0, 0, 0},

	OpList:   {"LIST", -1, 1, 2},
	OpAppend: {"APPEND", -1, 1, 2},

	OpJump:             {"JUMP", 0, 0, 2},
	OpJumpFalse:        {"JUMP_FALSE", 1, 0, 2},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", 1, 0, 2},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", 1, 0, 2},

	OpCall:     {"CALL", -1, 1, 1}, // Pops function + argc args
	OpTailCall: {"TAIL_CALL", -1, 0, 1},

	OpMakeClosure: {"MAKE_CLOSURE", 0, 1, 2},

	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrueOrPop
}

// IsCall returns true for OpCall and OpTailCall.
func (op Opcode) IsCall() bool {
	return op == OpCall || op == OpTailCall
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
