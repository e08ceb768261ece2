package vm

import (
	"fmt"
	"strconv"

	"github.com/chazu/regc/field"
)

// ---------------------------------------------------------------------------
// Opcode kinds
// ---------------------------------------------------------------------------

// Kind discriminates the variants of Opcode.
type Kind uint8

const (
	KindMov       Kind = 0x01 // Dst = Src
	KindBinary    Kind = 0x02 // Dst = Lhs BinOp Rhs, at width Typ
	KindJmp       Kind = 0x10 // pc = Target
	KindJmpIf     Kind = 0x11 // if Cond != 0: pc = Target
	KindJmpIfNot  Kind = 0x12 // if Cond == 0: pc = Target
	KindLoad      Kind = 0x20 // Dst = Array[Index]
	KindStore     Kind = 0x21 // Array[Index] = Src
	KindPushStack Kind = 0x30 // push Src onto the return stack
	KindCallBack  Kind = 0x31 // pop the return stack into pc, halt if empty
	KindOracle    Kind = 0x40 // host call-out
	KindTrap      Kind = 0x50 // abort execution
	KindStop      Kind = 0x51 // halt execution
)

// KindInfo holds metadata about an opcode kind.
type KindInfo struct {
	Name     string // mnemonic
	IsJump   bool   // Target is a code offset
	HasDst   bool   // writes Dst
	Operands int    // number of value operands read
}

var kindTable = map[Kind]KindInfo{
	KindMov:       {"MOV", false, true, 1},
	KindBinary:    {"BINARY", false, true, 2},
	KindJmp:       {"JMP", true, false, 0},
	KindJmpIf:     {"JMPIF", true, false, 1},
	KindJmpIfNot:  {"JMPIFNOT", true, false, 1},
	KindLoad:      {"LOAD", false, true, 2},
	KindStore:     {"STORE", false, false, 3},
	KindPushStack: {"PUSHSTACK", false, false, 1},
	KindCallBack:  {"CALLBACK", false, false, 0},
	KindOracle:    {"ORACLE", false, false, -1},
	KindTrap:      {"TRAP", false, false, 0},
	KindStop:      {"STOP", false, false, 0},
}

// Info returns the metadata for a kind.
func (k Kind) Info() KindInfo {
	if info, ok := kindTable[k]; ok {
		return info
	}
	return KindInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(k))}
}

// String implements the Stringer interface.
func (k Kind) String() string {
	return k.Info().Name
}

// ---------------------------------------------------------------------------
// Numeric tags
// ---------------------------------------------------------------------------

// TypKind classifies the arithmetic an opcode performs.
type TypKind uint8

const (
	Field TypKind = iota
	Unsigned
	Signed
)

// Typ is the numeric tag of an arithmetic opcode.
type Typ struct {
	Kind TypKind `cbor:"k"`
	Bits uint32  `cbor:"b,omitempty"`
}

// FieldTyp returns the native field tag.
func FieldTyp() Typ { return Typ{Kind: Field} }

// UnsignedTyp returns an unsigned integer tag of the given width.
func UnsignedTyp(bits uint32) Typ { return Typ{Kind: Unsigned, Bits: bits} }

// SignedTyp returns a signed integer tag of the given width.
func SignedTyp(bits uint32) Typ { return Typ{Kind: Signed, Bits: bits} }

func (t Typ) String() string {
	switch t.Kind {
	case Unsigned:
		return "u" + strconv.Itoa(int(t.Bits))
	case Signed:
		return "i" + strconv.Itoa(int(t.Bits))
	default:
		return "field"
	}
}

// BinaryOp is the operator of a KindBinary opcode.
type BinaryOp uint8

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinEq
	BinLt
	BinLte
)

var binaryOpNames = [...]string{
	BinAdd: "add",
	BinSub: "sub",
	BinMul: "mul",
	BinDiv: "div",
	BinEq:  "eq",
	BinLt:  "lt",
	BinLte: "lte",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "binary?"
}

// IsComparison reports whether op produces a 1-bit boolean.
func (op BinaryOp) IsComparison() bool {
	return op == BinEq || op == BinLt || op == BinLte
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Register indexes the flat register file.
type Register uint32

func (r Register) String() string { return "r" + strconv.Itoa(int(r)) }

// OperandKind discriminates the variants of Operand.
type OperandKind uint8

const (
	OperandRegister OperandKind = iota
	OperandConstant
	OperandArray
)

// Operand is a register, an embedded field constant, or a reference to an
// array region. Array references are resolved by the machine against its
// memory table.
type Operand struct {
	Kind  OperandKind   `cbor:"k"`
	Reg   Register      `cbor:"r"`
	Value field.Element `cbor:"v"`
	Array uint32        `cbor:"a"`
}

// Reg returns a register operand.
func Reg(r Register) Operand { return Operand{Kind: OperandRegister, Reg: r} }

// Const returns a constant operand.
func Const(v field.Element) Operand { return Operand{Kind: OperandConstant, Value: v} }

// ConstUint returns a constant operand holding a small integer.
func ConstUint(v uint64) Operand { return Const(field.New(v)) }

// ArrayRef returns a reference to array region id.
func ArrayRef(id uint32) Operand { return Operand{Kind: OperandArray, Array: id} }

// IsRegister reports whether o names a register.
func (o Operand) IsRegister() bool { return o.Kind == OperandRegister }

// Equal reports whether two operands denote the same thing.
func (o Operand) Equal(p Operand) bool {
	if o.Kind != p.Kind {
		return false
	}
	switch o.Kind {
	case OperandRegister:
		return o.Reg == p.Reg
	case OperandConstant:
		return o.Value.Equal(p.Value)
	default:
		return o.Array == p.Array
	}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister:
		return o.Reg.String()
	case OperandConstant:
		return "#" + o.Value.String()
	case OperandArray:
		return "@" + strconv.Itoa(int(o.Array))
	default:
		return "?"
	}
}

// ---------------------------------------------------------------------------
// Oracle descriptors
// ---------------------------------------------------------------------------

// OracleInput describes one argument of a host call-out: a single value,
// or Len elements of an array region.
type OracleInput struct {
	Value Operand `cbor:"v"`
	Len   uint32  `cbor:"n,omitempty"`
}

// IsArray reports whether the input is an array region.
func (in OracleInput) IsArray() bool { return in.Value.Kind == OperandArray }

// OracleOutput describes one result of a host call-out: a destination
// register, or Len elements of an array region.
type OracleOutput struct {
	Dst   Register `cbor:"d"`
	Array uint32   `cbor:"a"`
	Len   uint32   `cbor:"n,omitempty"`
	IsArr bool     `cbor:"x,omitempty"`
}

// ---------------------------------------------------------------------------
// Opcode
// ---------------------------------------------------------------------------

// Opcode is one register-machine instruction. Kind selects which of the
// remaining fields are meaningful.
type Opcode struct {
	Kind   Kind     `cbor:"k"`
	Dst    Register `cbor:"d,omitempty"`
	Src    Operand  `cbor:"s"`
	Lhs    Operand  `cbor:"l"`
	Rhs    Operand  `cbor:"r"`
	Op     BinaryOp `cbor:"o,omitempty"`
	Typ    Typ      `cbor:"t"`
	Cond   Register `cbor:"c,omitempty"`
	Target int      `cbor:"j,omitempty"`
	Array  Operand  `cbor:"a"`
	Index  Operand  `cbor:"i"`

	Oracle  string         `cbor:"n,omitempty"`
	Inputs  []OracleInput  `cbor:"in,omitempty"`
	Outputs []OracleOutput `cbor:"out,omitempty"`
}

// Mov returns dst = src.
func Mov(dst Register, src Operand) Opcode {
	return Opcode{Kind: KindMov, Dst: dst, Src: src}
}

// Binary returns dst = lhs op rhs at width typ.
func Binary(dst Register, op BinaryOp, typ Typ, lhs, rhs Operand) Opcode {
	return Opcode{Kind: KindBinary, Dst: dst, Op: op, Typ: typ, Lhs: lhs, Rhs: rhs}
}

// Jmp returns an unconditional jump.
func Jmp(target int) Opcode { return Opcode{Kind: KindJmp, Target: target} }

// JmpIf returns a jump taken when cond is non-zero.
func JmpIf(cond Register, target int) Opcode {
	return Opcode{Kind: KindJmpIf, Cond: cond, Target: target}
}

// JmpIfNot returns a jump taken when cond is zero.
func JmpIfNot(cond Register, target int) Opcode {
	return Opcode{Kind: KindJmpIfNot, Cond: cond, Target: target}
}

// Load returns dst = array[index].
func Load(dst Register, array, index Operand) Opcode {
	return Opcode{Kind: KindLoad, Dst: dst, Array: array, Index: index}
}

// Store returns array[index] = src.
func Store(array, index, src Operand) Opcode {
	return Opcode{Kind: KindStore, Array: array, Index: index, Src: src}
}

// PushStack returns an opcode pushing src onto the return stack.
func PushStack(src Operand) Opcode { return Opcode{Kind: KindPushStack, Src: src} }

// CallBack returns the return-to-caller opcode.
func CallBack() Opcode { return Opcode{Kind: KindCallBack} }

// OracleCall returns a host call-out.
func OracleCall(name string, inputs []OracleInput, outputs []OracleOutput) Opcode {
	return Opcode{Kind: KindOracle, Oracle: name, Inputs: inputs, Outputs: outputs}
}

// Trap returns the abort opcode.
func Trap() Opcode { return Opcode{Kind: KindTrap} }

// Stop returns the halt opcode.
func Stop() Opcode { return Opcode{Kind: KindStop} }

// IsJump reports whether Target is a code offset.
func (o Opcode) IsJump() bool { return o.Kind.Info().IsJump }

// Equal reports whether two opcodes are identical.
func (o Opcode) Equal(p Opcode) bool {
	if o.Kind != p.Kind || o.Dst != p.Dst || o.Op != p.Op || o.Typ != p.Typ ||
		o.Cond != p.Cond || o.Target != p.Target || o.Oracle != p.Oracle {
		return false
	}
	if !o.Src.Equal(p.Src) || !o.Lhs.Equal(p.Lhs) || !o.Rhs.Equal(p.Rhs) ||
		!o.Array.Equal(p.Array) || !o.Index.Equal(p.Index) {
		return false
	}
	if len(o.Inputs) != len(p.Inputs) || len(o.Outputs) != len(p.Outputs) {
		return false
	}
	for i := range o.Inputs {
		if !o.Inputs[i].Value.Equal(p.Inputs[i].Value) || o.Inputs[i].Len != p.Inputs[i].Len {
			return false
		}
	}
	for i := range o.Outputs {
		if o.Outputs[i] != p.Outputs[i] {
			return false
		}
	}
	return true
}

// Registers returns one more than the highest register o mentions.
func (o Opcode) Registers() int {
	n := 0
	see := func(r Register) {
		if int(r)+1 > n {
			n = int(r) + 1
		}
	}
	seeOp := func(x Operand) {
		if x.Kind == OperandRegister {
			see(x.Reg)
		}
	}
	switch o.Kind {
	case KindMov:
		see(o.Dst)
		seeOp(o.Src)
	case KindBinary:
		see(o.Dst)
		seeOp(o.Lhs)
		seeOp(o.Rhs)
	case KindJmpIf, KindJmpIfNot:
		see(o.Cond)
	case KindLoad:
		see(o.Dst)
		seeOp(o.Array)
		seeOp(o.Index)
	case KindStore:
		seeOp(o.Array)
		seeOp(o.Index)
		seeOp(o.Src)
	case KindPushStack:
		seeOp(o.Src)
	case KindOracle:
		for _, in := range o.Inputs {
			seeOp(in.Value)
		}
		for _, out := range o.Outputs {
			if !out.IsArr {
				see(out.Dst)
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Param describes an entry-function parameter: the register it is passed
// in, or the array region it is written to.
type Param struct {
	Name     string   `cbor:"name"`
	Register Register `cbor:"reg"`
	IsArray  bool     `cbor:"arr,omitempty"`
	Array    uint32   `cbor:"id,omitempty"`
	Typ      Typ      `cbor:"typ"`
}

// Program is a fully linked bytecode program.
type Program struct {
	Entry     string   `cbor:"entry"`
	Code      []Opcode `cbor:"code"`
	Registers int      `cbor:"registers"`
	Arrays    []uint32 `cbor:"arrays"` // element count per region
	Params    []Param  `cbor:"params,omitempty"`
	Results   int      `cbor:"results"`
}
