package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/regc/field"
)

func run(t *testing.T, p *Program, oracle OracleHandler) (*Machine, error) {
	t.Helper()
	m := NewMachine(p, oracle)
	m.Limit = 10000
	return m, m.Run(context.Background())
}

func TestBinaryArithmetic(t *testing.T) {
	minusOne := field.FromInt64(-1)
	tests := []struct {
		name string
		op   BinaryOp
		typ  Typ
		a, b field.Element
		want field.Element
	}{
		{"field add", BinAdd, FieldTyp(), field.New(2), field.New(3), field.New(5)},
		{"field sub wraps", BinSub, FieldTyp(), field.New(2), field.New(3), minusOne},
		{"field div", BinDiv, FieldTyp(), field.New(6), field.New(3), field.New(2)},
		{"field lt", BinLt, FieldTyp(), field.New(1), minusOne, field.One()},
		{"u8 add wraps", BinAdd, UnsignedTyp(8), field.New(250), field.New(10), field.New(4)},
		{"u8 sub wraps", BinSub, UnsignedTyp(8), field.New(1), field.New(2), field.New(255)},
		{"u32 mul wraps", BinMul, UnsignedTyp(32), field.New(1 << 31), field.New(4), field.Zero()},
		{"u32 div", BinDiv, UnsignedTyp(32), field.New(17), field.New(5), field.New(3)},
		{"u32 eq", BinEq, UnsignedTyp(32), field.New(9), field.New(9), field.One()},
		{"u32 eq false", BinEq, UnsignedTyp(32), field.New(9), field.New(8), field.Zero()},
		{"u32 lt", BinLt, UnsignedTyp(32), field.New(3), field.New(4), field.One()},
		{"u32 lte equal", BinLte, UnsignedTyp(32), field.New(4), field.New(4), field.One()},
		{"u32 lte greater", BinLte, UnsignedTyp(32), field.New(5), field.New(4), field.Zero()},
		{"i8 lt negative", BinLt, SignedTyp(8), field.New(0xFF), field.New(1), field.One()},
		{"i8 lt positive", BinLt, SignedTyp(8), field.New(1), field.New(0xFF), field.Zero()},
		{"i8 div negative", BinDiv, SignedTyp(8), field.New(0xF9), field.New(2), field.New(0xFD)},
		{"i8 div both negative", BinDiv, SignedTyp(8), field.New(0xF9), field.New(0xFE), field.New(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalBinary(tt.op, tt.typ, tt.a, tt.b)
			if err != nil {
				t.Fatalf("evalBinary: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("%s %s %s = %s, want %s", tt.a, tt.op, tt.b, got, tt.want)
			}
		})
	}
}

func TestDivisionByZeroTraps(t *testing.T) {
	p := &Program{
		Code:      []Opcode{Binary(1, BinDiv, UnsignedTyp(32), ConstUint(1), ConstUint(0))},
		Registers: 2,
	}
	_, err := run(t, p, nil)
	var trap *TrapError
	if !errors.As(err, &trap) {
		t.Fatalf("Run error = %v, want *TrapError", err)
	}
	if trap.PC != 0 {
		t.Errorf("trap PC = %d, want 0", trap.PC)
	}
}

func TestPrologueAndConstraint(t *testing.T) {
	// JMP 3; TRAP; STOP; then a failing constraint routed to offset 1.
	code := []Opcode{
		Jmp(3),
		Trap(),
		Stop(),
		Binary(5, BinEq, UnsignedTyp(32), Reg(4), ConstUint(7)),
		JmpIfNot(5, 1),
		Mov(0, Reg(4)),
		CallBack(),
	}
	p := &Program{Code: code, Registers: 6, Results: 1}

	m := NewMachine(p, nil)
	m.SetRegister(4, field.New(7))
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run with satisfied constraint: %v", err)
	}
	if got := m.Results()[0].Elem; !got.Equal(field.New(7)) {
		t.Errorf("result = %s, want 7", got)
	}

	m = NewMachine(p, nil)
	m.SetRegister(4, field.New(8))
	err := m.Run(context.Background())
	var trap *TrapError
	if !errors.As(err, &trap) || trap.PC != 1 {
		t.Errorf("Run error = %v, want trap at 0001", err)
	}
}

func TestCallAndReturn(t *testing.T) {
	// main: r1 = 5; push 6; jmp 8; r2 = r0; callback
	// callee at 8: r0 = r1 * r1; callback
	code := []Opcode{
		Jmp(3),
		Trap(),
		Stop(),
		Mov(1, ConstUint(5)),
		PushStack(ConstUint(6)),
		Jmp(8),
		Mov(2, Reg(0)),
		CallBack(),
		Binary(0, BinMul, FieldTyp(), Reg(1), Reg(1)),
		CallBack(),
	}
	m, err := run(t, &Program{Code: code, Registers: 3}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := m.Register(2).Elem; !got.Equal(field.New(25)) {
		t.Errorf("r2 = %s, want 25", got)
	}
}

func TestMemory(t *testing.T) {
	code := []Opcode{
		Store(ArrayRef(0), ConstUint(1), ConstUint(42)),
		Mov(3, ArrayRef(0)),
		Load(4, Reg(3), ConstUint(1)),
		Store(ArrayRef(1), ConstUint(0), Reg(4)),
	}
	m, err := run(t, &Program{Code: code, Registers: 5, Arrays: []uint32{2, 1}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !m.Register(3).IsRef || m.Register(3).Array != 0 {
		t.Errorf("r3 = %v, want @0", m.Register(3))
	}
	if got := m.Memory(1)[0]; !got.Equal(field.New(42)) {
		t.Errorf("mem[1][0] = %s, want 42", got)
	}
}

func TestMemoryOutOfBounds(t *testing.T) {
	code := []Opcode{Load(0, ArrayRef(0), ConstUint(2))}
	_, err := run(t, &Program{Code: code, Registers: 1, Arrays: []uint32{2}}, nil)
	var trap *TrapError
	if !errors.As(err, &trap) {
		t.Errorf("Run error = %v, want *TrapError", err)
	}
}

func TestOracle(t *testing.T) {
	var gotName string
	var gotInputs [][]field.Element
	handler := OracleFunc(func(name string, inputs [][]field.Element) ([][]field.Element, error) {
		gotName, gotInputs = name, inputs
		sum := field.Zero()
		for _, v := range inputs[1] {
			sum = sum.Add(v)
		}
		return [][]field.Element{{sum}, {field.New(1), field.New(2)}}, nil
	})
	code := []Opcode{
		Store(ArrayRef(0), ConstUint(0), ConstUint(10)),
		Store(ArrayRef(0), ConstUint(1), ConstUint(20)),
		OracleCall("sum",
			[]OracleInput{{Value: ConstUint(3)}, {Value: ArrayRef(0), Len: 2}},
			[]OracleOutput{{Dst: 5}, {IsArr: true, Array: 1, Len: 2}}),
	}
	m, err := run(t, &Program{Code: code, Registers: 6, Arrays: []uint32{2, 2}}, handler)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotName != "sum" {
		t.Errorf("oracle name = %q, want %q", gotName, "sum")
	}
	if len(gotInputs) != 2 || len(gotInputs[0]) != 1 || len(gotInputs[1]) != 2 {
		t.Fatalf("inputs = %v, want shapes [1 2]", gotInputs)
	}
	if got := m.Register(5).Elem; !got.Equal(field.New(30)) {
		t.Errorf("r5 = %s, want 30", got)
	}
	if got := m.Memory(1)[1]; !got.Equal(field.New(2)) {
		t.Errorf("mem[1][1] = %s, want 2", got)
	}
}

func TestOracleShapeMismatch(t *testing.T) {
	handler := OracleFunc(func(string, [][]field.Element) ([][]field.Element, error) {
		return [][]field.Element{{field.One(), field.One()}}, nil
	})
	code := []Opcode{OracleCall("bad", nil, []OracleOutput{{Dst: 0}})}
	_, err := run(t, &Program{Code: code, Registers: 1}, handler)
	var exec *ExecError
	if !errors.As(err, &exec) {
		t.Errorf("Run error = %v, want *ExecError", err)
	}

	_, err = run(t, &Program{Code: code, Registers: 1}, nil)
	if !errors.As(err, &exec) {
		t.Errorf("Run without handler error = %v, want *ExecError", err)
	}
}

func TestStepLimit(t *testing.T) {
	_, err := run(t, &Program{Code: []Opcode{Jmp(0)}}, nil)
	var exec *ExecError
	if !errors.As(err, &exec) {
		t.Errorf("Run error = %v, want step limit *ExecError", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMachine(&Program{Code: []Opcode{Jmp(0)}}, nil)
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestSetArgs(t *testing.T) {
	p := &Program{
		Registers: 20,
		Arrays:    []uint32{3},
		Params: []Param{
			{Name: "x", Register: 17, Typ: UnsignedTyp(32)},
			{Name: "xs", Register: 18, IsArray: true, Array: 0},
		},
	}
	m := NewMachine(p, nil)
	err := m.SetArgs(map[string][]field.Element{
		"x":  {field.New(4)},
		"xs": {field.New(1), field.New(2), field.New(3)},
	})
	if err != nil {
		t.Fatalf("SetArgs: %v", err)
	}
	if got := m.Register(17).Elem; !got.Equal(field.New(4)) {
		t.Errorf("r17 = %s, want 4", got)
	}
	if got := m.Register(18); !got.IsRef || got.Array != 0 {
		t.Errorf("r18 = %v, want @0", got)
	}
	if got := m.Memory(0)[2]; !got.Equal(field.New(3)) {
		t.Errorf("xs[2] = %s, want 3", got)
	}

	if err := m.SetArgs(map[string][]field.Element{"x": {field.One()}}); err == nil {
		t.Error("SetArgs with a missing array succeeded")
	}
	if err := m.SetArgs(map[string][]field.Element{"x": {field.One()}, "xs": {field.One()}}); err == nil {
		t.Error("SetArgs with a short array succeeded")
	}
}
