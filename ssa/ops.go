package ssa

// Operation is the payload of an instruction node.
type Operation interface {
	// Name returns a short mnemonic used in diagnostics.
	Name() string
}

// BinaryOp enumerates binary operators.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSafeAdd
	OpSub
	OpSafeSub
	OpMul
	OpSafeMul
	OpUdiv
	OpSdiv
	OpUrem
	OpSrem
	OpDiv
	OpEq
	OpNe
	OpUlt
	OpUle
	OpSlt
	OpSle
	OpLt
	OpLte
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpAssign
)

var binaryOpNames = [...]string{
	OpAdd:     "add",
	OpSafeAdd: "safe_add",
	OpSub:     "sub",
	OpSafeSub: "safe_sub",
	OpMul:     "mul",
	OpSafeMul: "safe_mul",
	OpUdiv:    "udiv",
	OpSdiv:    "sdiv",
	OpUrem:    "urem",
	OpSrem:    "srem",
	OpDiv:     "div",
	OpEq:      "eq",
	OpNe:      "ne",
	OpUlt:     "ult",
	OpUle:     "ule",
	OpSlt:     "slt",
	OpSle:     "sle",
	OpLt:      "lt",
	OpLte:     "lte",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpShl:     "shl",
	OpShr:     "shr",
	OpAssign:  "assign",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "binary?"
}

// LookupBinaryOp returns the operator with the given mnemonic.
func LookupBinaryOp(name string) (BinaryOp, bool) {
	for i, n := range binaryOpNames {
		if n == name {
			return BinaryOp(i), true
		}
	}
	return 0, false
}

// Binary applies Op to Lhs and Rhs.
type Binary struct {
	Op       BinaryOp
	Lhs, Rhs NodeID
}

// Cast converts Value to the instruction's result type.
type Cast struct{ Value NodeID }

// Truncate reduces Value to BitSize bits. Only produced by the overflow pass.
type Truncate struct {
	Value      NodeID
	BitSize    uint32
	MaxBitSize uint32
}

// Not is bitwise complement.
type Not struct{ Value NodeID }

// Constrain asserts that Value is non-zero.
type Constrain struct {
	Value   NodeID
	Message string
}

// Jne jumps to Target when Cond is zero.
type Jne struct {
	Cond   NodeID
	Target BlockID
}

// Jeq jumps to Target when Cond is non-zero.
type Jeq struct {
	Cond   NodeID
	Target BlockID
}

// Jmp jumps unconditionally to Target.
type Jmp struct{ Target BlockID }

// PhiArg is the value flowing into a phi along the edge from Block.
type PhiArg struct {
	Value NodeID
	Block BlockID
}

// Phi merges values at a join block.
type Phi struct {
	Root NodeID
	Args []PhiArg
}

// ReturnedArray records that result Position of a call is written into
// Array directly rather than through a Result instruction.
type ReturnedArray struct {
	Array    ArrayID
	Position uint32
}

// Call invokes the function denoted by Func. Its scalar results are
// extracted by subsequent Result instructions.
type Call struct {
	Func           NodeID
	Arguments      []NodeID
	ReturnedArrays []ReturnedArray
}

// Result extracts result Index of Call.
type Result struct {
	Call  NodeID
	Index uint32
}

// UnsafeCall invokes Func with its results already bound to Returned.
type UnsafeCall struct {
	Func      NodeID
	Arguments []NodeID
	Returned  []NodeID
}

// Return leaves the function with Values.
type Return struct{ Values []NodeID }

// Cond selects Lhs when Condition is non-zero. Only produced by the
// reduction pass.
type Cond struct{ Condition, Lhs, Rhs NodeID }

// Load reads Array[Index].
type Load struct {
	Array ArrayID
	Index NodeID
}

// Store writes Value into Array[Index]. Placeholder stores carry no value
// and exist only to keep memory versions ordered.
type Store struct {
	Array       ArrayID
	Index       NodeID
	Value       NodeID
	Placeholder bool
}

// Intrinsic is a call to a black-box builtin.
type Intrinsic struct {
	Opcode string
	Args   []NodeID
}

// Nop does nothing.
type Nop struct{}

func (Binary) Name() string     { return "binary" }
func (Cast) Name() string       { return "cast" }
func (Truncate) Name() string   { return "truncate" }
func (Not) Name() string        { return "not" }
func (Constrain) Name() string  { return "constrain" }
func (Jne) Name() string        { return "jne" }
func (Jeq) Name() string        { return "jeq" }
func (Jmp) Name() string        { return "jmp" }
func (Phi) Name() string        { return "phi" }
func (Call) Name() string       { return "call" }
func (Result) Name() string     { return "result" }
func (UnsafeCall) Name() string { return "unsafe_call" }
func (Return) Name() string     { return "return" }
func (Cond) Name() string       { return "cond" }
func (Load) Name() string       { return "load" }
func (Store) Name() string      { return "store" }
func (Intrinsic) Name() string  { return "intrinsic" }
func (Nop) Name() string        { return "nop" }

// IsJump reports whether op terminates a block with a branch.
func IsJump(op Operation) bool {
	switch op.(type) {
	case Jne, Jeq, Jmp:
		return true
	}
	return false
}
