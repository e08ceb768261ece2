package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the opcode at position pos.
func DisassembleInstruction(pos int, o Opcode) string {
	name := o.Kind.Info().Name
	switch o.Kind {
	case KindMov:
		return fmt.Sprintf("%04d  %s %s, %s", pos, name, o.Dst, o.Src)
	case KindBinary:
		return fmt.Sprintf("%04d  %s.%s %s, %s, %s", pos, strings.ToUpper(o.Op.String()), o.Typ, o.Dst, o.Lhs, o.Rhs)
	case KindJmp:
		return fmt.Sprintf("%04d  %s -> %04d", pos, name, o.Target)
	case KindJmpIf, KindJmpIfNot:
		return fmt.Sprintf("%04d  %s %s -> %04d", pos, name, o.Cond, o.Target)
	case KindLoad:
		return fmt.Sprintf("%04d  %s %s, %s[%s]", pos, name, o.Dst, o.Array, o.Index)
	case KindStore:
		return fmt.Sprintf("%04d  %s %s[%s], %s", pos, name, o.Array, o.Index, o.Src)
	case KindPushStack:
		return fmt.Sprintf("%04d  %s %s", pos, name, o.Src)
	case KindOracle:
		ins := make([]string, len(o.Inputs))
		for i, in := range o.Inputs {
			if in.IsArray() {
				ins[i] = fmt.Sprintf("%s:%d", in.Value, in.Len)
			} else {
				ins[i] = in.Value.String()
			}
		}
		outs := make([]string, len(o.Outputs))
		for i, out := range o.Outputs {
			if out.IsArr {
				outs[i] = fmt.Sprintf("@%d:%d", out.Array, out.Len)
			} else {
				outs[i] = out.Dst.String()
			}
		}
		return fmt.Sprintf("%04d  %s %q (%s) -> (%s)", pos, name, o.Oracle,
			strings.Join(ins, ", "), strings.Join(outs, ", "))
	default:
		return fmt.Sprintf("%04d  %s", pos, name)
	}
}

// Disassemble returns a full disassembly of code, one opcode per line.
func Disassemble(code []Opcode) string {
	var sb strings.Builder
	for i, o := range code {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(i, o))
	}
	return sb.String()
}
