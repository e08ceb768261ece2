package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/regc/field"
	"github.com/chazu/regc/ssa"
	"github.com/chazu/regc/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func loadGraph(t *testing.T, src string) *ssa.Context {
	t.Helper()
	prog, err := ssa.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return prog.Context
}

func function(t *testing.T, c *ssa.Context, name string) *ssa.Function {
	t.Helper()
	fn, ok := c.FunctionByName(name)
	if !ok {
		t.Fatalf("function %s not found", name)
	}
	return fn
}

func compileFunc(t *testing.T, src, name string) (*ssa.Context, *ssa.Function, *Artefact) {
	t.Helper()
	c := loadGraph(t, src)
	fn := function(t, c, name)
	obj, err := Compile(c, fn, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile(%s): %v", name, err)
	}
	return c, fn, obj
}

func compileError(t *testing.T, src, name string) error {
	t.Helper()
	c := loadGraph(t, src)
	_, err := Compile(c, function(t, c, name), DefaultOptions())
	if err == nil {
		t.Fatalf("Compile(%s) succeeded, want error", name)
	}
	return err
}

// reg returns the register of the i-th instruction of block b.
func reg(c *ssa.Context, b ssa.BlockID, i int) vm.Register {
	return registerOf(DefaultOptions(), c.Block(b).Instructions[i])
}

func paramReg(fn *ssa.Function, i int) vm.Register {
	return registerOf(DefaultOptions(), fn.Params[i])
}

func checkCode(t *testing.T, got, want []vm.Opcode) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d opcodes, want %d:\n%s", len(got), len(want), vm.Disassemble(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("code[%d] = %s, want %s", i, vm.DisassembleInstruction(i, got[i]), vm.DisassembleInstruction(i, want[i]))
		}
	}
}

func kinds(code []vm.Opcode) []vm.Kind {
	out := make([]vm.Kind, len(code))
	for i, op := range code {
		out[i] = op.Kind
	}
	return out
}

func runMain(t *testing.T, src string, args map[string]uint64, oracle vm.OracleHandler) ([]vm.Value, error) {
	t.Helper()
	c := loadGraph(t, src)
	prog, err := CompileProgram(c, "main", DefaultOptions())
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	m := vm.NewMachine(prog, oracle)
	m.Limit = 100000
	in := make(map[string][]field.Element, len(args))
	for k, v := range args {
		in[k] = []field.Element{field.New(v)}
	}
	if err := m.SetArgs(in); err != nil {
		t.Fatalf("SetArgs: %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		return nil, err
	}
	return m.Results(), nil
}

func mustRun(t *testing.T, src string, args map[string]uint64, oracle vm.OracleHandler) []vm.Value {
	t.Helper()
	res, err := runMain(t, src, args, oracle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func wantUint(t *testing.T, v vm.Value, want uint64) {
	t.Helper()
	if v.IsRef || !v.Elem.Equal(field.New(want)) {
		t.Errorf("result = %s, want %d", v, want)
	}
}

// ---------------------------------------------------------------------------
// Lowering
// ---------------------------------------------------------------------------

const addSrc = `
[[functions]]
name = "main"
params = [{ name = "a", type = "u32" }, { name = "b", type = "u32" }]
results = ["u32"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "s", op = "add", type = "u32", args = ["a", "b"] },
    { op = "return", args = ["s"] },
  ]
`

func TestCompileAdd(t *testing.T) {
	c, fn, obj := compileFunc(t, addSrc, "main")
	s := reg(c, fn.Entry, 0)
	checkCode(t, obj.Code, []vm.Opcode{
		vm.Binary(s, vm.BinAdd, vm.UnsignedTyp(32), vm.Reg(paramReg(fn, 0)), vm.Reg(paramReg(fn, 1))),
		vm.Mov(0, vm.Reg(s)),
		vm.CallBack(),
	})
	if len(obj.Fixups) != 0 {
		t.Errorf("fixups = %v, want none", obj.Fixups)
	}
	if len(obj.Callees) != 0 {
		t.Errorf("callees = %v, want none", obj.Callees)
	}
	if obj.Blocks[fn.Entry] != 0 {
		t.Errorf("entry block at %d, want 0", obj.Blocks[fn.Entry])
	}

	res := mustRun(t, addSrc, map[string]uint64{"a": 40, "b": 2}, nil)
	wantUint(t, res[0], 42)
}

func TestCompileAddWraps(t *testing.T) {
	res := mustRun(t, addSrc, map[string]uint64{"a": 0xffffffff, "b": 3}, nil)
	wantUint(t, res[0], 2)
}

func TestCompileUrem(t *testing.T) {
	src := `
[[functions]]
name = "main"
params = [{ name = "a", type = "u32" }, { name = "b", type = "u32" }]
results = ["u32"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "r", op = "urem", type = "u32", args = ["a", "b"] },
    { op = "return", args = ["r"] },
  ]
`
	c, fn, obj := compileFunc(t, src, "main")
	a, b, r := paramReg(fn, 0), paramReg(fn, 1), reg(c, fn.Entry, 0)

	var bins []vm.Opcode
	for _, op := range obj.Code {
		if op.Kind == vm.KindBinary {
			bins = append(bins, op)
		}
	}
	if len(bins) != 3 {
		t.Fatalf("got %d binary opcodes, want 3:\n%s", len(bins), obj.Disassemble())
	}
	q := bins[0].Dst
	for _, used := range []vm.Register{a, b, r} {
		if q <= used {
			t.Errorf("temporary %s does not lie above %s", q, used)
		}
	}
	u32 := vm.UnsignedTyp(32)
	checkCode(t, bins, []vm.Opcode{
		vm.Binary(q, vm.BinDiv, u32, vm.Reg(a), vm.Reg(b)),
		vm.Binary(q, vm.BinMul, u32, vm.Reg(q), vm.Reg(b)),
		vm.Binary(r, vm.BinSub, u32, vm.Reg(a), vm.Reg(q)),
	})

	res := mustRun(t, src, map[string]uint64{"a": 47, "b": 5}, nil)
	wantUint(t, res[0], 2)
}

func TestCompileComparisons(t *testing.T) {
	src := `
[[functions]]
name = "main"
params = [{ name = "a", type = "u32" }, { name = "b", type = "u32" }]
results = ["u1", "u1", "u1", "u1"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "eq", op = "eq", type = "u1", args = ["a", "b"] },
    { result = "ne", op = "ne", type = "u1", args = ["a", "b"] },
    { result = "lt", op = "ult", type = "u1", args = ["a", "b"] },
    { result = "le", op = "ule", type = "u1", args = ["a", "b"] },
    { op = "return", args = ["eq", "ne", "lt", "le"] },
  ]
`
	c, fn, obj := compileFunc(t, src, "main")
	a, b := vm.Reg(paramReg(fn, 0)), vm.Reg(paramReg(fn, 1))
	u32 := vm.UnsignedTyp(32)
	ne := reg(c, fn.Entry, 1)
	checkCode(t, obj.Code[:5], []vm.Opcode{
		vm.Binary(reg(c, fn.Entry, 0), vm.BinEq, u32, a, b),
		vm.Binary(ne, vm.BinEq, u32, a, b),
		vm.Binary(ne, vm.BinSub, vm.UnsignedTyp(1), vm.ConstUint(1), vm.Reg(ne)),
		vm.Binary(reg(c, fn.Entry, 2), vm.BinLt, u32, a, b),
		vm.Binary(reg(c, fn.Entry, 3), vm.BinLte, u32, a, b),
	})

	tests := []struct {
		a, b           uint64
		eq, ne, lt, le uint64
	}{
		{3, 3, 1, 0, 0, 1},
		{2, 3, 0, 1, 1, 1},
		{4, 3, 0, 1, 0, 0},
		{0x1_0000_0003, 3, 1, 0, 0, 1},
	}
	for _, tt := range tests {
		res := mustRun(t, src, map[string]uint64{"a": tt.a, "b": tt.b}, nil)
		for i, want := range []uint64{tt.eq, tt.ne, tt.lt, tt.le} {
			if !res[i].Elem.Equal(field.New(want)) {
				t.Errorf("a=%d b=%d: result %d = %s, want %d", tt.a, tt.b, i, res[i], want)
			}
		}
	}
}

func TestCompileCasts(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     func(dst vm.Register, src vm.Operand) vm.Opcode
	}{
		{"narrow unsigned", "u32", "u8", func(d vm.Register, s vm.Operand) vm.Opcode {
			return vm.Binary(d, vm.BinAdd, vm.UnsignedTyp(8), s, vm.ConstUint(0))
		}},
		{"widen unsigned", "u8", "u32", func(d vm.Register, s vm.Operand) vm.Opcode { return vm.Mov(d, s) }},
		{"same width", "u16", "u16", func(d vm.Register, s vm.Operand) vm.Opcode { return vm.Mov(d, s) }},
		{"unsigned to field", "u8", "field", func(d vm.Register, s vm.Operand) vm.Opcode { return vm.Mov(d, s) }},
		{"field to unsigned", "field", "u16", func(d vm.Register, s vm.Operand) vm.Opcode {
			return vm.Binary(d, vm.BinAdd, vm.UnsignedTyp(16), s, vm.ConstUint(0))
		}},
		{"field to field", "field", "field", func(d vm.Register, s vm.Operand) vm.Opcode { return vm.Mov(d, s) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `
[[functions]]
name = "main"
params = [{ name = "x", type = "` + tt.from + `" }]
results = ["` + tt.to + `"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "y", op = "cast", type = "` + tt.to + `", args = ["x"] },
    { op = "return", args = ["y"] },
  ]
`
			c, fn, obj := compileFunc(t, src, "main")
			want := tt.want(reg(c, fn.Entry, 0), vm.Reg(paramReg(fn, 0)))
			if !obj.Code[0].Equal(want) {
				t.Errorf("code[0] = %s, want %s", vm.DisassembleInstruction(0, obj.Code[0]), vm.DisassembleInstruction(0, want))
			}
		})
	}
}

func TestCompileNarrowingCastTruncates(t *testing.T) {
	src := `
[[functions]]
name = "main"
params = [{ name = "x", type = "u32" }]
results = ["u8"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "y", op = "cast", type = "u8", args = ["x"] },
    { op = "return", args = ["y"] },
  ]
`
	res := mustRun(t, src, map[string]uint64{"x": 0x1234}, nil)
	wantUint(t, res[0], 0x34)
}

func TestCompileUnsupported(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		instr     string
		construct string
	}{
		{"signed cast", "u8", `{ result = "y", op = "cast", type = "i8", args = ["x"] }`, "cast u8->i8"},
		{"signed to unsigned", "i8", `{ result = "y", op = "cast", type = "u8", args = ["x"] }`, "cast i8->u8"},
		{"bitwise and", "u8", `{ result = "y", op = "and", type = "u8", args = ["x", "1"] }`, "binary and"},
		{"shift", "u8", `{ result = "y", op = "shl", type = "u8", args = ["x", "1"] }`, "binary shl"},
		{"xor", "u8", `{ result = "y", op = "xor", type = "u8", args = ["x", "x"] }`, "binary xor"},
		{"not", "u8", `{ result = "y", op = "not", type = "u8", args = ["x"] }`, "not"},
		{"intrinsic", "u8", `{ result = "y", op = "intrinsic", func = "sha256", type = "u8", args = ["x"] }`, "intrinsic sha256"},
		{"signed remainder", "i8", `{ result = "y", op = "srem", type = "i8", args = ["x", "3"] }`, "binary srem"},
		{"jump mid block", "u8", `{ op = "jmp", target = "start" }`, "jmp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `
[[functions]]
name = "main"
params = [{ name = "x", type = "` + tt.typ + `" }]
  [[functions.blocks]]
  name = "start"
  instructions = [
    ` + tt.instr + `,
    { op = "return" },
  ]
`
			err := compileError(t, src, "main")
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("error %v is not ErrUnsupported", err)
			}
			if errors.Is(err, ErrInternal) {
				t.Errorf("error %v also matches ErrInternal", err)
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("error %T is not a *CompileError", err)
			}
			if ce.Construct != tt.construct {
				t.Errorf("Construct = %q, want %q", ce.Construct, tt.construct)
			}
			if ce.Func != "main" || ce.Block.IsDummy() {
				t.Errorf("error not located: func %q block %s", ce.Func, ce.Block)
			}
		})
	}
}

func TestCompileInternal(t *testing.T) {
	tests := []struct {
		name  string
		instr string
	}{
		{"truncate", `{ result = "y", op = "truncate", type = "u8", bits = 8, args = ["x"] }`},
		{"cond", `{ result = "y", op = "cond", type = "u8", args = ["x", "x", "x"] }`},
		{"assign", `{ result = "y", op = "assign", type = "u8", args = ["x", "x"] }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `
[[functions]]
name = "main"
params = [{ name = "x", type = "u8" }]
  [[functions.blocks]]
  name = "start"
  instructions = [
    ` + tt.instr + `,
    { op = "return" },
  ]
`
			err := compileError(t, src, "main")
			if !IsInternal(err) {
				t.Errorf("error %v is not internal", err)
			}
		})
	}
}

func TestCompileErrorMessage(t *testing.T) {
	err := &CompileError{Kind: KindUnsupported, Construct: "binary and", Message: "nope", Func: "main", Block: 2}
	want := "unsupported binary and in main/b2: nope"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	bare := &CompileError{Kind: KindInternal, Message: "broken"}
	if got := bare.Error(); got != "internal: broken" {
		t.Errorf("Error() = %q, want %q", got, "internal: broken")
	}
}

func TestCompileMemory(t *testing.T) {
	src := `
[[arrays]]
name = "buf"
length = 4
type = "u32"

[[functions]]
name = "main"
params = [{ name = "x", type = "u32" }]
results = ["u32"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { op = "store", array = "buf", args = ["1", "x"] },
    { op = "store", array = "buf", placeholder = true },
    { result = "v", op = "load", type = "u32", array = "buf", args = ["1"] },
    { result = "w", op = "mul", type = "u32", args = ["v", "3"] },
    { op = "return", args = ["w"] },
  ]
`
	c, fn, obj := compileFunc(t, src, "main")
	buf := vm.ArrayRef(0)
	checkCode(t, obj.Code[:2], []vm.Opcode{
		vm.Store(buf, vm.ConstUint(1), vm.Reg(paramReg(fn, 0))),
		vm.Load(reg(c, fn.Entry, 2), buf, vm.ConstUint(1)),
	})

	res := mustRun(t, src, map[string]uint64{"x": 5}, nil)
	wantUint(t, res[0], 15)
}

func TestCompileArrayVariable(t *testing.T) {
	src := `
[[arrays]]
name = "buf"
length = 2

[[functions]]
name = "main"
results = ["[buf]"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { op = "return", args = ["buf"] },
  ]
`
	c, _, obj := compileFunc(t, src, "main")
	def := registerOf(DefaultOptions(), c.Array(0).Def)
	checkCode(t, obj.Code, []vm.Opcode{
		vm.Mov(def, vm.ArrayRef(0)),
		vm.Mov(0, vm.Reg(def)),
		vm.CallBack(),
	})
}

func TestCompileConstrain(t *testing.T) {
	src := `
[[functions]]
name = "main"
params = [{ name = "a", type = "u32" }, { name = "b", type = "u32" }]
results = ["u32"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "c", op = "eq", type = "u1", args = ["a", "b"] },
    { op = "constrain", args = ["c"], message = "a != b" },
    { op = "return", args = ["a"] },
  ]
`
	c, fn, obj := compileFunc(t, src, "main")
	if got, want := obj.Code[1], vm.JmpIfNot(reg(c, fn.Entry, 0), trapOffset); !got.Equal(want) {
		t.Errorf("code[1] = %s, want %s", vm.DisassembleInstruction(1, got), vm.DisassembleInstruction(1, want))
	}

	res := mustRun(t, src, map[string]uint64{"a": 7, "b": 7}, nil)
	wantUint(t, res[0], 7)

	_, err := runMain(t, src, map[string]uint64{"a": 7, "b": 8}, nil)
	var trap *vm.TrapError
	if !errors.As(err, &trap) {
		t.Fatalf("Run error = %v, want a trap", err)
	}
	if trap.PC != trapOffset {
		t.Errorf("trap at %d, want %d", trap.PC, trapOffset)
	}
}

func TestCompileConstantConstrain(t *testing.T) {
	src := `
[[functions]]
name = "main"
  [[functions.blocks]]
  name = "start"
  instructions = [
    { op = "constrain", args = ["1"] },
    { op = "constrain", args = ["0"] },
    { op = "return" },
  ]
`
	_, _, obj := compileFunc(t, src, "main")
	checkCode(t, obj.Code, []vm.Opcode{vm.Jmp(trapOffset), vm.CallBack()})
}

func TestCompileReturnTooWide(t *testing.T) {
	src := `
[[functions]]
name = "main"
params = [{ name = "x", type = "u8" }]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { op = "return", args = ["x", "x", "x"] },
  ]
`
	c := loadGraph(t, src)
	_, err := Compile(c, function(t, c, "main"), Options{ResultRegisters: 2})
	if !IsUnsupported(err) {
		t.Errorf("error = %v, want unsupported", err)
	}
}

func TestCompileOracleFunction(t *testing.T) {
	src := `
[[functions]]
name = "host"
kind = "oracle"
`
	err := compileError(t, src, "host")
	if !IsUnsupported(err) {
		t.Errorf("error = %v, want unsupported", err)
	}
}

func TestCompileProgramUnknownEntry(t *testing.T) {
	c := loadGraph(t, addSrc)
	_, err := CompileProgram(c, "nope", DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), `"nope"`) {
		t.Errorf("error = %v, want unknown function", err)
	}
}

func TestCompileProgramParams(t *testing.T) {
	src := `
[[arrays]]
name = "in"
length = 3
type = "u8"

[[functions]]
name = "main"
params = [{ name = "n", type = "u16" }, { name = "xs", type = "[in]" }]
results = ["u8"]
  [[functions.blocks]]
  name = "start"
  instructions = [
    { result = "v", op = "load", type = "u8", array = "in", args = ["n"] },
    { op = "return", args = ["v"] },
  ]
`
	c := loadGraph(t, src)
	prog, err := CompileProgram(c, "main", DefaultOptions())
	if err != nil {
		t.Fatalf("CompileProgram: %v", err)
	}
	if prog.Entry != "main" || prog.Results != 1 {
		t.Errorf("Entry, Results = %q, %d, want main, 1", prog.Entry, prog.Results)
	}
	if len(prog.Arrays) != 1 || prog.Arrays[0] != 3 {
		t.Errorf("Arrays = %v, want [3]", prog.Arrays)
	}
	if len(prog.Params) != 2 {
		t.Fatalf("Params = %v, want 2", prog.Params)
	}
	if p := prog.Params[0]; p.Name != "n" || p.IsArray || p.Typ != vm.UnsignedTyp(16) {
		t.Errorf("Params[0] = %+v", p)
	}
	if p := prog.Params[1]; p.Name != "xs" || !p.IsArray || p.Array != 0 || p.Typ != vm.UnsignedTyp(8) {
		t.Errorf("Params[1] = %+v", p)
	}
	if prog.Registers < DefaultResultRegisters {
		t.Errorf("Registers = %d, want at least %d", prog.Registers, DefaultResultRegisters)
	}

	m := vm.NewMachine(prog, nil)
	err = m.SetArgs(map[string][]field.Element{
		"n":  {field.New(2)},
		"xs": {field.New(10), field.New(20), field.New(30)},
	})
	if err != nil {
		t.Fatalf("SetArgs: %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantUint(t, m.Results()[0], 30)
}

func TestDirectiveInvert(t *testing.T) {
	tests := []struct {
		in   field.Element
		want field.Element
	}{
		{field.New(4), field.New(4).Inverse()},
		{field.New(1), field.One()},
		{field.Zero(), field.Zero()},
	}
	for _, tt := range tests {
		m := vm.NewMachine(&vm.Program{Code: DirectiveInvert(), Registers: 1}, nil)
		m.SetRegister(0, tt.in)
		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("Run(%s): %v", tt.in, err)
		}
		if got := m.Register(0).Elem; !got.Equal(tt.want) {
			t.Errorf("invert(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOptionsNormalize(t *testing.T) {
	if got := (Options{}).normalize().ResultRegisters; got != DefaultResultRegisters {
		t.Errorf("ResultRegisters = %d, want %d", got, DefaultResultRegisters)
	}
	if got := (Options{ResultRegisters: 4}).normalize().ResultRegisters; got != 4 {
		t.Errorf("ResultRegisters = %d, want 4", got)
	}
}
