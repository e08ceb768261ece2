package compiler

import (
	"fmt"

	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Instruction lowering
// ---------------------------------------------------------------------------

// lower translates one non-terminating instruction.
func (g *generator) lower(ins *ssa.Instruction) error {
	switch op := ins.Op.(type) {
	case ssa.Binary:
		return g.binary(ins, op)
	case ssa.Cast:
		return g.cast(ins, op)
	case ssa.Not:
		return unsupportedf("not", "bitwise complement is not lowered to bytecode")
	case ssa.Truncate:
		return internalf("truncate", "overflow pass output reached the bytecode backend")
	case ssa.Cond:
		return internalf("cond", "reduction pass output reached the bytecode backend")
	case ssa.Constrain:
		return g.constrain(op)
	case ssa.Jne, ssa.Jeq, ssa.Jmp:
		return unsupportedf(op.Name(), "jump %s is not the last instruction of its block", ins.ID)
	case ssa.Phi:
		return nil
	case ssa.Load:
		idx, err := g.operand(op.Index)
		if err != nil {
			return err
		}
		g.emit(vm.Load(g.register(ins.ID), vm.ArrayRef(uint32(op.Array)), idx))
		return nil
	case ssa.Store:
		if op.Placeholder {
			return nil
		}
		idx, err := g.operand(op.Index)
		if err != nil {
			return err
		}
		val, err := g.operand(op.Value)
		if err != nil {
			return err
		}
		g.emit(vm.Store(vm.ArrayRef(uint32(op.Array)), idx, val))
		return nil
	case ssa.Return:
		return g.ret(op)
	case ssa.Call:
		return g.startCall(ins, op)
	case ssa.Result:
		return g.addResult(ins, op)
	case ssa.UnsafeCall:
		return g.unsafeCall(op)
	case ssa.Intrinsic:
		return unsupportedf("intrinsic "+op.Opcode, "builtins are not available to unconstrained code")
	case ssa.Nop:
		return nil
	default:
		return unsupportedf(fmt.Sprintf("%T", op), "no lowering")
	}
}

func (g *generator) constrain(op ssa.Constrain) error {
	v, err := g.operand(op.Value)
	if err != nil {
		return err
	}
	if !v.IsRegister() {
		if v.Value.IsZero() {
			g.emit(vm.Jmp(trapOffset))
		}
		return nil
	}
	g.emit(vm.JmpIfNot(v.Reg, trapOffset))
	return nil
}

func (g *generator) ret(op ssa.Return) error {
	switch len(op.Values) {
	case 0:
		return nil
	case 1:
		if op.Values[0].IsDummy() {
			return nil
		}
	}
	if len(op.Values) > g.opts.ResultRegisters {
		return unsupportedf("return", "%d values exceed the %d result registers", len(op.Values), g.opts.ResultRegisters)
	}
	for i, v := range op.Values {
		src, err := g.operand(v)
		if err != nil {
			return err
		}
		g.emit(vm.Mov(vm.Register(i), src))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

func (g *generator) binary(ins *ssa.Instruction, op ssa.Binary) error {
	switch op.Op {
	case ssa.OpSafeAdd, ssa.OpSafeSub, ssa.OpSafeMul, ssa.OpSrem:
		return unsupportedf("binary "+op.Op.String(), "checked arithmetic is not lowered to bytecode")
	case ssa.OpAnd, ssa.OpOr, ssa.OpXor, ssa.OpShl, ssa.OpShr:
		return unsupportedf("binary "+op.Op.String(), "bitwise operators are not lowered to bytecode")
	case ssa.OpAssign:
		return internalf("binary assign", "assignment reached the bytecode backend")
	}

	lhs, err := g.operand(op.Lhs)
	if err != nil {
		return err
	}
	rhs, err := g.operand(op.Rhs)
	if err != nil {
		return err
	}
	dst := g.register(ins.ID)

	switch op.Op {
	case ssa.OpAdd, ssa.OpSub, ssa.OpMul, ssa.OpUdiv, ssa.OpSdiv, ssa.OpDiv, ssa.OpUrem:
		typ, err := numericTyp(ins.ResultType)
		if err != nil {
			return err
		}
		switch op.Op {
		case ssa.OpAdd:
			g.emit(vm.Binary(dst, vm.BinAdd, typ, lhs, rhs))
		case ssa.OpSub:
			g.emit(vm.Binary(dst, vm.BinSub, typ, lhs, rhs))
		case ssa.OpMul:
			g.emit(vm.Binary(dst, vm.BinMul, typ, lhs, rhs))
		case ssa.OpUrem:
			q := g.temp()
			g.emit(vm.Binary(q, vm.BinDiv, typ, lhs, rhs))
			g.emit(vm.Binary(q, vm.BinMul, typ, vm.Reg(q), rhs))
			g.emit(vm.Binary(dst, vm.BinSub, typ, lhs, vm.Reg(q)))
		default:
			g.emit(vm.Binary(dst, vm.BinDiv, typ, lhs, rhs))
		}

	case ssa.OpEq:
		g.emit(vm.Binary(dst, vm.BinEq, g.operandTyp(op), lhs, rhs))
	case ssa.OpNe:
		g.emit(vm.Binary(dst, vm.BinEq, g.operandTyp(op), lhs, rhs))
		g.emit(vm.Binary(dst, vm.BinSub, vm.UnsignedTyp(1), vm.ConstUint(1), vm.Reg(dst)))
	case ssa.OpUle, ssa.OpSle, ssa.OpLte:
		g.emit(vm.Binary(dst, vm.BinLte, g.operandTyp(op), lhs, rhs))
	case ssa.OpUlt, ssa.OpSlt, ssa.OpLt:
		g.emit(vm.Binary(dst, vm.BinLt, g.operandTyp(op), lhs, rhs))

	default:
		return unsupportedf("binary "+op.Op.String(), "no lowering")
	}
	return nil
}

// operandTyp is the width comparisons are evaluated at: the type of the
// operands, not of the 1-bit result.
func (g *generator) operandTyp(op ssa.Binary) vm.Typ {
	for _, id := range []ssa.NodeID{op.Lhs, op.Rhs} {
		if t := g.ctx.ObjectType(id); t.Kind == ssa.Numeric {
			return vmTyp(t.Numeric)
		}
	}
	return vm.FieldTyp()
}

// ---------------------------------------------------------------------------
// Casts
// ---------------------------------------------------------------------------

func (g *generator) cast(ins *ssa.Instruction, op ssa.Cast) error {
	from := g.ctx.ObjectType(op.Value)
	to := ins.ResultType
	if from.Kind != ssa.Numeric || to.Kind != ssa.Numeric {
		return internalf("cast", "cast from %s to %s is not numeric", from, to)
	}
	construct := fmt.Sprintf("cast %s->%s", from.Numeric, to.Numeric)

	src, err := g.operand(op.Value)
	if err != nil {
		return err
	}
	dst := g.register(ins.ID)
	mov := func() { g.emit(vm.Mov(dst, src)) }
	truncate := func(bits uint32) {
		g.emit(vm.Binary(dst, vm.BinAdd, vm.UnsignedTyp(bits), src, vm.ConstUint(0)))
	}

	s, d := from.Numeric, to.Numeric
	switch {
	case s.Kind == ssa.NativeField && d.Kind == ssa.NativeField:
		mov()
	case s.Kind == ssa.Unsigned && d.Kind == ssa.Unsigned:
		if s.BitSize <= d.BitSize {
			mov()
		} else {
			truncate(d.BitSize)
		}
	case s.Kind == ssa.Unsigned && d.Kind == ssa.NativeField:
		mov()
	case s.Kind == ssa.NativeField && d.Kind == ssa.Unsigned:
		truncate(d.BitSize)
	default:
		return unsupportedf(construct, "signed casts are not lowered to bytecode")
	}
	return nil
}
