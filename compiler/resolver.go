package compiler

import (
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Register/value resolution
// ---------------------------------------------------------------------------

// registerOf places SSA value id above the reserved result registers.
func registerOf(opts Options, id ssa.NodeID) vm.Register {
	return vm.Register(opts.ResultRegisters + id.Ordinal())
}

func (g *generator) register(id ssa.NodeID) vm.Register {
	return registerOf(g.opts, id)
}

// temp returns a register no SSA value of the context can occupy.
func (g *generator) temp() vm.Register {
	r := g.nextTemp
	g.nextTemp++
	return r
}

// operand resolves id to a register or an immediate. Resolving a variable
// that denotes an array region loads the region reference into the
// variable's register first.
func (g *generator) operand(id ssa.NodeID) (vm.Operand, error) {
	switch n := g.ctx.Node(id).(type) {
	case *ssa.Constant:
		return vm.Const(n.Value), nil
	case *ssa.Variable:
		r := g.register(id)
		if a, ok := g.ctx.Deref(id); ok {
			g.emit(vm.Mov(r, vm.ArrayRef(uint32(a))))
		}
		return vm.Reg(r), nil
	case *ssa.Instruction:
		return vm.Reg(g.register(id)), nil
	case *ssa.FunctionRef:
		return vm.Operand{}, unsupportedf("function value", "%s used as a value", id)
	case nil:
		return vm.Operand{}, internalf("operand", "unknown node %s", id)
	default:
		return vm.Operand{}, internalf("operand", "unexpected node %T", n)
	}
}

// condition resolves a branch condition into a register, materializing
// constants in a temporary.
func (g *generator) condition(id ssa.NodeID) (vm.Register, error) {
	op, err := g.operand(id)
	if err != nil {
		return 0, err
	}
	if op.IsRegister() {
		return op.Reg, nil
	}
	r := g.temp()
	g.emit(vm.Mov(r, op))
	return r, nil
}

// vmTyp maps an SSA numeric type onto an opcode tag.
func vmTyp(t ssa.NumericType) vm.Typ {
	switch t.Kind {
	case ssa.Unsigned:
		return vm.UnsignedTyp(t.BitSize)
	case ssa.Signed:
		return vm.SignedTyp(t.BitSize)
	default:
		return vm.FieldTyp()
	}
}

// numericTyp returns the tag for a numeric object type.
func numericTyp(t ssa.ObjectType) (vm.Typ, error) {
	if t.Kind != ssa.Numeric {
		return vm.Typ{}, internalf("type", "%s is not numeric", t)
	}
	return vmTyp(t.Numeric), nil
}
