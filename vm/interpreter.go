package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tliron/commonlog"

	"github.com/chazu/regc/field"
)

var log = commonlog.GetLogger("regc.vm")

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// TrapError reports an explicit trap: a failed constraint, a division by
// zero or a Trap opcode.
type TrapError struct {
	PC     int
	Reason string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("vm: trap at %04d: %s", e.PC, e.Reason)
}

// ExecError reports malformed code or a misbehaving oracle handler.
type ExecError struct {
	PC  int
	Msg string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("vm: %04d: %s", e.PC, e.Msg)
}

// ---------------------------------------------------------------------------
// Host call-outs
// ---------------------------------------------------------------------------

// OracleHandler answers Oracle opcodes. Each input and output is a slice:
// one element for a scalar, Len elements for an array region.
type OracleHandler interface {
	Oracle(name string, inputs [][]field.Element) ([][]field.Element, error)
}

// OracleFunc adapts a function to the OracleHandler interface.
type OracleFunc func(name string, inputs [][]field.Element) ([][]field.Element, error)

// Oracle calls f.
func (f OracleFunc) Oracle(name string, inputs [][]field.Element) ([][]field.Element, error) {
	return f(name, inputs)
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Value is the content of a register: a field element, or a reference to
// an array region.
type Value struct {
	Elem  field.Element
	IsRef bool
	Array uint32
}

func (v Value) String() string {
	if v.IsRef {
		return fmt.Sprintf("@%d", v.Array)
	}
	return v.Elem.String()
}

// cancelCheckInterval is how many opcodes run between context checks.
const cancelCheckInterval = 1024

// Machine executes a linked Program.
type Machine struct {
	prog      *Program
	registers []Value
	memory    [][]field.Element
	stack     []Value
	oracle    OracleHandler
	pc        int
	steps     int
	halted    bool

	// Limit bounds the number of executed opcodes. Zero means no limit.
	Limit int
}

// NewMachine returns a machine ready to run p from offset 0. oracle may be
// nil when p performs no host calls.
func NewMachine(p *Program, oracle OracleHandler) *Machine {
	m := &Machine{
		prog:      p,
		registers: make([]Value, p.Registers),
		memory:    make([][]field.Element, len(p.Arrays)),
		oracle:    oracle,
	}
	for i, n := range p.Arrays {
		m.memory[i] = make([]field.Element, n)
	}
	return m
}

// PC returns the current program counter.
func (m *Machine) PC() int { return m.pc }

// Steps returns the number of opcodes executed so far.
func (m *Machine) Steps() int { return m.steps }

// Register returns the content of r.
func (m *Machine) Register(r Register) Value {
	if int(r) >= len(m.registers) {
		return Value{}
	}
	return m.registers[r]
}

// SetRegister writes v into r.
func (m *Machine) SetRegister(r Register, v field.Element) {
	m.write(r, Value{Elem: v})
}

// Memory returns the live contents of array region id.
func (m *Machine) Memory(id uint32) []field.Element {
	if int(id) >= len(m.memory) {
		return nil
	}
	return m.memory[id]
}

// SetArgs binds entry parameters by name. Scalars take one element and
// arrays exactly as many elements as the region holds.
func (m *Machine) SetArgs(args map[string][]field.Element) error {
	for _, p := range m.prog.Params {
		vals, ok := args[p.Name]
		if !ok {
			return fmt.Errorf("vm: missing argument %q", p.Name)
		}
		if p.IsArray {
			mem := m.Memory(p.Array)
			if len(vals) != len(mem) {
				return fmt.Errorf("vm: argument %q has %d elements, want %d", p.Name, len(vals), len(mem))
			}
			copy(mem, vals)
			m.write(p.Register, Value{IsRef: true, Array: p.Array})
			continue
		}
		if len(vals) != 1 {
			return fmt.Errorf("vm: argument %q is scalar, got %d elements", p.Name, len(vals))
		}
		m.write(p.Register, Value{Elem: vals[0]})
	}
	return nil
}

// Results returns the result registers after a run.
func (m *Machine) Results() []Value {
	out := make([]Value, m.prog.Results)
	for i := range out {
		out[i] = m.Register(Register(i))
	}
	return out
}

// Run executes until the program halts, traps or ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	for !m.halted {
		if m.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if m.Limit > 0 && m.steps >= m.Limit {
			return &ExecError{PC: m.pc, Msg: fmt.Sprintf("step limit %d exceeded", m.Limit)}
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes one opcode.
func (m *Machine) Step() error {
	if m.halted {
		return nil
	}
	code := m.prog.Code
	if m.pc == len(code) {
		m.halted = true
		return nil
	}
	if m.pc < 0 || m.pc > len(code) {
		return &ExecError{PC: m.pc, Msg: "program counter out of range"}
	}
	op := code[m.pc]
	m.steps++
	next := m.pc + 1

	switch op.Kind {
	case KindMov:
		v, err := m.read(op.Src)
		if err != nil {
			return err
		}
		m.write(op.Dst, v)

	case KindBinary:
		lhs, err := m.scalar(op.Lhs)
		if err != nil {
			return err
		}
		rhs, err := m.scalar(op.Rhs)
		if err != nil {
			return err
		}
		r, err := evalBinary(op.Op, op.Typ, lhs, rhs)
		if err != nil {
			return &TrapError{PC: m.pc, Reason: err.Error()}
		}
		m.write(op.Dst, Value{Elem: r})

	case KindJmp:
		next = op.Target

	case KindJmpIf, KindJmpIfNot:
		c := m.Register(op.Cond)
		if c.IsRef {
			return &ExecError{PC: m.pc, Msg: "branch on array reference"}
		}
		if c.Elem.IsZero() == (op.Kind == KindJmpIfNot) {
			next = op.Target
		}

	case KindLoad:
		mem, idx, err := m.slot(op.Array, op.Index)
		if err != nil {
			return err
		}
		m.write(op.Dst, Value{Elem: mem[idx]})

	case KindStore:
		mem, idx, err := m.slot(op.Array, op.Index)
		if err != nil {
			return err
		}
		v, err := m.scalar(op.Src)
		if err != nil {
			return err
		}
		mem[idx] = v

	case KindPushStack:
		v, err := m.read(op.Src)
		if err != nil {
			return err
		}
		m.stack = append(m.stack, v)

	case KindCallBack:
		if len(m.stack) == 0 {
			m.halted = true
			return nil
		}
		top := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		if top.IsRef || !top.Elem.IsUint64() {
			return &ExecError{PC: m.pc, Msg: "return address is not an offset"}
		}
		next = int(top.Elem.Uint64())

	case KindOracle:
		if err := m.callOracle(op); err != nil {
			return err
		}

	case KindTrap:
		log.Debugf("trap at %04d", m.pc)
		return &TrapError{PC: m.pc, Reason: "trap"}

	case KindStop:
		m.halted = true
		return nil

	default:
		return &ExecError{PC: m.pc, Msg: fmt.Sprintf("unknown opcode %s", op.Kind)}
	}

	m.pc = next
	return nil
}

func (m *Machine) write(r Register, v Value) {
	if int(r) >= len(m.registers) {
		grown := make([]Value, int(r)+1)
		copy(grown, m.registers)
		m.registers = grown
	}
	m.registers[r] = v
}

func (m *Machine) read(o Operand) (Value, error) {
	switch o.Kind {
	case OperandRegister:
		return m.Register(o.Reg), nil
	case OperandConstant:
		return Value{Elem: o.Value}, nil
	case OperandArray:
		if int(o.Array) >= len(m.memory) {
			return Value{}, &ExecError{PC: m.pc, Msg: fmt.Sprintf("unknown array %d", o.Array)}
		}
		return Value{IsRef: true, Array: o.Array}, nil
	}
	return Value{}, &ExecError{PC: m.pc, Msg: "malformed operand"}
}

func (m *Machine) scalar(o Operand) (field.Element, error) {
	v, err := m.read(o)
	if err != nil {
		return field.Element{}, err
	}
	if v.IsRef {
		return field.Element{}, &ExecError{PC: m.pc, Msg: fmt.Sprintf("%s holds an array reference", o)}
	}
	return v.Elem, nil
}

func (m *Machine) slot(array, index Operand) ([]field.Element, int, error) {
	a, err := m.read(array)
	if err != nil {
		return nil, 0, err
	}
	if !a.IsRef {
		return nil, 0, &ExecError{PC: m.pc, Msg: fmt.Sprintf("%s is not an array reference", array)}
	}
	idx, err := m.scalar(index)
	if err != nil {
		return nil, 0, err
	}
	mem := m.memory[a.Array]
	if !idx.IsUint64() || idx.Uint64() >= uint64(len(mem)) {
		return nil, 0, &TrapError{PC: m.pc, Reason: fmt.Sprintf("index %s out of bounds for array %d of length %d", idx, a.Array, len(mem))}
	}
	return mem, int(idx.Uint64()), nil
}

func (m *Machine) callOracle(op Opcode) error {
	if m.oracle == nil {
		return &ExecError{PC: m.pc, Msg: fmt.Sprintf("no oracle handler for %q", op.Oracle)}
	}
	inputs := make([][]field.Element, len(op.Inputs))
	for i, in := range op.Inputs {
		if in.IsArray() {
			mem := m.Memory(in.Value.Array)
			if uint32(len(mem)) < in.Len {
				return &ExecError{PC: m.pc, Msg: fmt.Sprintf("oracle input %d exceeds array %d", i, in.Value.Array)}
			}
			inputs[i] = append([]field.Element(nil), mem[:in.Len]...)
			continue
		}
		v, err := m.scalar(in.Value)
		if err != nil {
			return err
		}
		inputs[i] = []field.Element{v}
	}

	log.Debugf("oracle %s with %d inputs", op.Oracle, len(inputs))
	outputs, err := m.oracle.Oracle(op.Oracle, inputs)
	if err != nil {
		return &ExecError{PC: m.pc, Msg: fmt.Sprintf("oracle %q: %v", op.Oracle, err)}
	}
	if len(outputs) != len(op.Outputs) {
		return &ExecError{PC: m.pc, Msg: fmt.Sprintf("oracle %q returned %d values, want %d", op.Oracle, len(outputs), len(op.Outputs))}
	}
	for i, out := range op.Outputs {
		if out.IsArr {
			mem := m.Memory(out.Array)
			if uint32(len(outputs[i])) != out.Len || uint32(len(mem)) < out.Len {
				return &ExecError{PC: m.pc, Msg: fmt.Sprintf("oracle %q output %d has %d elements, want %d", op.Oracle, i, len(outputs[i]), out.Len)}
			}
			copy(mem, outputs[i])
			continue
		}
		if len(outputs[i]) != 1 {
			return &ExecError{PC: m.pc, Msg: fmt.Sprintf("oracle %q output %d is scalar, got %d elements", op.Oracle, i, len(outputs[i]))}
		}
		m.write(out.Dst, Value{Elem: outputs[i][0]})
	}
	return nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var errDivByZero = errors.New("division by zero")

func boolElem(b bool) field.Element {
	if b {
		return field.One()
	}
	return field.Zero()
}

func evalBinary(op BinaryOp, typ Typ, a, b field.Element) (field.Element, error) {
	if typ.Kind == Field {
		switch op {
		case BinAdd:
			return a.Add(b), nil
		case BinSub:
			return a.Sub(b), nil
		case BinMul:
			return a.Mul(b), nil
		case BinDiv:
			if b.IsZero() {
				return field.Element{}, errDivByZero
			}
			return a.Div(b), nil
		case BinEq:
			return boolElem(a.Equal(b)), nil
		case BinLt:
			return boolElem(a.Cmp(b) < 0), nil
		case BinLte:
			return boolElem(a.Cmp(b) <= 0), nil
		}
		return field.Element{}, fmt.Errorf("unknown operator %s", op)
	}
	return evalInteger(op, typ, a.Uint256(), b.Uint256())
}

// evalInteger computes op on integers of typ.Bits bits. Operands are
// reduced modulo 2^bits first; signed values use two's complement.
func evalInteger(op BinaryOp, typ Typ, x, y *uint256.Int) (field.Element, error) {
	mask := bitMask(typ.Bits)
	x.And(x, mask)
	y.And(y, mask)
	z := new(uint256.Int)

	switch op {
	case BinAdd:
		z.Add(x, y)
	case BinSub:
		z.Sub(x, y)
	case BinMul:
		z.Mul(x, y)
	case BinDiv:
		if y.IsZero() {
			return field.Element{}, errDivByZero
		}
		if typ.Kind == Signed {
			z = signedDiv(x, y, typ.Bits)
		} else {
			z.Div(x, y)
		}
	case BinEq:
		return boolElem(x.Eq(y)), nil
	case BinLt, BinLte:
		if typ.Kind == Signed {
			// Flipping the sign bit maps two's complement order onto
			// unsigned order.
			sign := signBit(typ.Bits)
			x.Xor(x, sign)
			y.Xor(y, sign)
		}
		if op == BinLt {
			return boolElem(x.Lt(y)), nil
		}
		return boolElem(!y.Lt(x)), nil
	default:
		return field.Element{}, fmt.Errorf("unknown operator %s", op)
	}
	z.And(z, mask)
	return field.FromUint256(z), nil
}

func bitMask(bits uint32) *uint256.Int {
	if bits == 0 || bits >= 256 {
		return new(uint256.Int).SetAllOne()
	}
	m := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bits))
	return m.Sub(m, uint256.NewInt(1))
}

func signBit(bits uint32) *uint256.Int {
	if bits == 0 || bits > 256 {
		bits = 256
	}
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(bits-1))
}

func negate(x *uint256.Int, bits uint32) *uint256.Int {
	z := new(uint256.Int).Neg(x)
	return z.And(z, bitMask(bits))
}

func signedDiv(x, y *uint256.Int, bits uint32) *uint256.Int {
	sign := signBit(bits)
	xNeg := !new(uint256.Int).And(x, sign).IsZero()
	yNeg := !new(uint256.Int).And(y, sign).IsZero()
	ax, ay := x, y
	if xNeg {
		ax = negate(x, bits)
	}
	if yNeg {
		ay = negate(y, bits)
	}
	q := new(uint256.Int).Div(ax, ay)
	if xNeg != yNeg {
		q = negate(q, bits)
	}
	return q
}
