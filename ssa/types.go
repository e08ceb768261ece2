package ssa

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a node of the graph. Its ordinal is stable for the
// lifetime of the Context that created it.
type NodeID uint32

// Dummy is the reserved "no node" identifier.
const Dummy NodeID = 0

// Ordinal returns the index of the node in its context.
func (id NodeID) Ordinal() int { return int(id) }

// IsDummy reports whether id is the reserved placeholder.
func (id NodeID) IsDummy() bool { return id == Dummy }

func (id NodeID) String() string { return "%" + strconv.Itoa(int(id)) }

// BlockID identifies a basic block.
type BlockID uint32

// NoBlock is the reserved "no block" identifier.
const NoBlock BlockID = 0

// IsDummy reports whether id is the reserved placeholder.
func (id BlockID) IsDummy() bool { return id == NoBlock }

func (id BlockID) String() string { return "b" + strconv.Itoa(int(id)) }

// ArrayID identifies a memory region.
type ArrayID uint32

func (id ArrayID) String() string { return "arr" + strconv.Itoa(int(id)) }

// FuncID identifies a function definition.
type FuncID uint32

// ---------------------------------------------------------------------------
// Numeric and object types
// ---------------------------------------------------------------------------

// NumericKind classifies numeric values.
type NumericKind uint8

const (
	NativeField NumericKind = iota
	Unsigned
	Signed
)

// NumericType is a numeric kind plus, for integers, a bit width.
type NumericType struct {
	Kind    NumericKind
	BitSize uint32
}

// FieldType returns the native field type.
func FieldType() NumericType { return NumericType{Kind: NativeField} }

// UnsignedType returns an unsigned integer type of the given width.
func UnsignedType(bits uint32) NumericType { return NumericType{Kind: Unsigned, BitSize: bits} }

// SignedType returns a signed integer type of the given width.
func SignedType(bits uint32) NumericType { return NumericType{Kind: Signed, BitSize: bits} }

func (t NumericType) String() string {
	switch t.Kind {
	case NativeField:
		return "field"
	case Unsigned:
		return "u" + strconv.Itoa(int(t.BitSize))
	case Signed:
		return "i" + strconv.Itoa(int(t.BitSize))
	default:
		return fmt.Sprintf("NumericType(%d)", t.Kind)
	}
}

// ParseNumericType parses "field", "uN" or "iN".
func ParseNumericType(s string) (NumericType, error) {
	if s == "field" {
		return FieldType(), nil
	}
	if len(s) > 1 && (s[0] == 'u' || s[0] == 'i') {
		n, err := strconv.ParseUint(s[1:], 10, 32)
		if err == nil && n > 0 {
			if s[0] == 'u' {
				return UnsignedType(uint32(n)), nil
			}
			return SignedType(uint32(n)), nil
		}
	}
	return NumericType{}, fmt.Errorf("unknown numeric type %q", s)
}

// ObjectKind classifies what a node denotes.
type ObjectKind uint8

const (
	NotAnObject ObjectKind = iota
	Numeric
	ArrayPointer
	FunctionObject
)

// ObjectType is the type of a node.
type ObjectType struct {
	Kind    ObjectKind
	Numeric NumericType // valid when Kind == Numeric
	Array   ArrayID     // valid when Kind == ArrayPointer
}

// NumericObject wraps a numeric type.
func NumericObject(t NumericType) ObjectType { return ObjectType{Kind: Numeric, Numeric: t} }

// ArrayObject returns the type of a pointer to array a.
func ArrayObject(a ArrayID) ObjectType { return ObjectType{Kind: ArrayPointer, Array: a} }

// IsArray reports whether t denotes an array region.
func (t ObjectType) IsArray() bool { return t.Kind == ArrayPointer }

func (t ObjectType) String() string {
	switch t.Kind {
	case Numeric:
		return t.Numeric.String()
	case ArrayPointer:
		return "*" + t.Array.String()
	case FunctionObject:
		return "fn"
	default:
		return "none"
	}
}

// ---------------------------------------------------------------------------
// Blocks and functions
// ---------------------------------------------------------------------------

// BlockKind tags join points introduced by conditionals and loops.
type BlockKind uint8

const (
	Normal BlockKind = iota
	IfJoin
	ForJoin
)

func (k BlockKind) String() string {
	switch k {
	case IfJoin:
		return "if-join"
	case ForJoin:
		return "for-join"
	default:
		return "normal"
	}
}

// ParseBlockKind parses the names produced by BlockKind.String.
func ParseBlockKind(s string) (BlockKind, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return Normal, nil
	case "if-join", "ifjoin":
		return IfJoin, nil
	case "for-join", "forjoin":
		return ForJoin, nil
	}
	return Normal, fmt.Errorf("unknown block kind %q", s)
}

// RuntimeKind says how a function is executed when called from
// unconstrained code.
type RuntimeKind uint8

const (
	// Unconstrained functions are compiled to bytecode and linked in.
	Unconstrained RuntimeKind = iota
	// Constrained functions are also linked in when reached from
	// unconstrained code.
	Constrained
	// Oracle functions are provided by the host and invoked by name.
	Oracle
)

func (k RuntimeKind) String() string {
	switch k {
	case Constrained:
		return "constrained"
	case Oracle:
		return "oracle"
	default:
		return "unconstrained"
	}
}
