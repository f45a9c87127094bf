package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk and
// every nested function.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder
	c.disassembleInto(&sb, c.describe())
	return sb.String()
}

func (c *Chunk) disassembleInto(sb *strings.Builder, name string) {
	fmt.Fprintf(sb, "; === %s ===\n", name)

	if len(c.Params) > 0 || c.Rest != "" {
		fmt.Fprintf(sb, "; Parameters (%d): %s", len(c.Params), strings.Join(c.Params, ", "))
		if c.Rest != "" {
			fmt.Fprintf(sb, " . %s", c.Rest)
		}
		sb.WriteString("\n")
	}

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, displayConstant(v))
		}
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		if srcLine, srcCol := c.GetSourceLocation(offset); srcLine > 0 {
			fmt.Fprintf(sb, "%04X  %-32s ; line %d:%d\n", offset, line, srcLine, srcCol)
		} else {
			fmt.Fprintf(sb, "%04X  %s\n", offset, line)
		}
		offset += instrLen
	}

	for i, fn := range c.Functions {
		sb.WriteString("\n")
		fnName := fn.Name
		if fnName == "" {
			fnName = fmt.Sprintf("lambda#%d", i)
		}
		fn.disassembleInto(sb, name+"/"+fnName)
	}
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	if offset+1+info.OperandLen > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst, OpLoadVar, OpDefine, OpSetVar, OpBind:
		idx := c.readUint16(offset + 1)
		shown := "?"
		if int(idx) < len(c.Constants) {
			shown = displayConstant(c.Constants[idx])
		}
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, shown), 3

	case OpList, OpAppend:
		return fmt.Sprintf("%s %d", info.Name, c.readUint16(offset+1)), 3

	case OpMakeClosure:
		idx := c.readUint16(offset + 1)
		return fmt.Sprintf("%s %d", info.Name, idx), 3

	case OpJump, OpJumpFalse, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		delta := c.readInt16(offset + 1)
		target := offset + 3 + int(delta)
		return fmt.Sprintf("%s %+d ; -> %04X", info.Name, delta, target), 3

	case OpCall, OpTailCall:
		return fmt.Sprintf("%s %d", info.Name, c.Code[offset+1]), 2
	}

	return info.Name, 1 + info.OperandLen
}

func displayConstant(v Value) string {
	s := v.String()
	if v.Kind() == KindString {
		s = fmt.Sprintf("%q", s)
	}
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}
