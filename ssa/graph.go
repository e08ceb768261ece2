// Package ssa models the static-single-assignment graph consumed by the
// bytecode backend: nodes, basic blocks, memory regions and function
// definitions.
package ssa

import (
	"fmt"

	"github.com/chazu/regc/field"
)

// Node is one of *Variable, *Constant, *Instruction or *FunctionRef.
type Node interface {
	NodeID() NodeID
	Type() ObjectType
}

// Variable is a named value: a function parameter or an array handle.
type Variable struct {
	ID      NodeID
	Name    string
	ObjType ObjectType
}

// Constant is a field-element literal.
type Constant struct {
	ID      NodeID
	Value   field.Element
	ObjType ObjectType
}

// Instruction is an operation placed in a block.
type Instruction struct {
	ID         NodeID
	Op         Operation
	ResultType ObjectType
	Block      BlockID
}

// FunctionRef is a node denoting a callable function.
type FunctionRef struct {
	ID   NodeID
	Func FuncID
}

func (v *Variable) NodeID() NodeID    { return v.ID }
func (v *Variable) Type() ObjectType  { return v.ObjType }
func (c *Constant) NodeID() NodeID    { return c.ID }
func (c *Constant) Type() ObjectType  { return c.ObjType }
func (i *Instruction) NodeID() NodeID { return i.ID }
func (i *Instruction) Type() ObjectType {
	return i.ResultType
}
func (f *FunctionRef) NodeID() NodeID   { return f.ID }
func (f *FunctionRef) Type() ObjectType { return ObjectType{Kind: FunctionObject} }

// Block is a basic block. Left is the fallthrough / unconditional
// successor and Right the conditional branch target.
type Block struct {
	ID           BlockID
	Kind         BlockKind
	Instructions []NodeID
	Left, Right  BlockID
	Dominator    BlockID
	Predecessors []BlockID
}

// IsJoin reports whether b is a join point of a conditional or loop.
func (b *Block) IsJoin() bool { return b.Kind == IfJoin || b.Kind == ForJoin }

// Array is a fixed-size memory region.
type Array struct {
	ID          ArrayID
	Name        string
	Len         uint32
	ElementType NumericType
	Def         NodeID // variable denoting the region
}

// Function is a callable definition.
type Function struct {
	ID          FuncID
	Node        NodeID
	Name        string
	Kind        RuntimeKind
	OracleName  string
	Entry       BlockID
	Params      []NodeID
	ResultTypes []ObjectType
}

// Context owns every node, block, array and function of a program.
// It is not safe for concurrent mutation.
type Context struct {
	nodes     []Node // index = ordinal, nodes[0] reserved
	blocks    []*Block
	arrays    []*Array
	functions []*Function
	byName    map[string]FuncID
}

// NewContext returns an empty graph.
func NewContext() *Context {
	return &Context{
		nodes:     []Node{nil},
		blocks:    []*Block{nil},
		arrays:    nil,
		functions: []*Function{nil},
		byName:    make(map[string]FuncID),
	}
}

// Node returns the node with the given id, or nil.
func (c *Context) Node(id NodeID) Node {
	if int(id) >= len(c.nodes) {
		return nil
	}
	return c.nodes[id]
}

// Instruction returns the instruction with the given id.
func (c *Context) Instruction(id NodeID) (*Instruction, bool) {
	ins, ok := c.Node(id).(*Instruction)
	return ins, ok
}

// Block returns the block with the given id, or nil.
func (c *Context) Block(id BlockID) *Block {
	if id == NoBlock || int(id) >= len(c.blocks) {
		return nil
	}
	return c.blocks[id]
}

// Blocks returns every block in creation order.
func (c *Context) Blocks() []*Block { return c.blocks[1:] }

// Array returns the array with the given id, or nil.
func (c *Context) Array(id ArrayID) *Array {
	if int(id) >= len(c.arrays) {
		return nil
	}
	return c.arrays[id]
}

// Arrays returns every array in creation order.
func (c *Context) Arrays() []*Array { return c.arrays }

// Function returns the function with the given id, or nil.
func (c *Context) Function(id FuncID) *Function {
	if id == 0 || int(id) >= len(c.functions) {
		return nil
	}
	return c.functions[id]
}

// Functions returns every function in creation order.
func (c *Context) Functions() []*Function { return c.functions[1:] }

// FunctionByName looks a function up by its declared name.
func (c *Context) FunctionByName(name string) (*Function, bool) {
	id, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.functions[id], true
}

// FunctionOf returns the function denoted by a callable node.
func (c *Context) FunctionOf(id NodeID) (*Function, bool) {
	ref, ok := c.Node(id).(*FunctionRef)
	if !ok {
		return nil, false
	}
	fn := c.Function(ref.Func)
	return fn, fn != nil
}

// ObjectType returns the type of the node, or NotAnObject.
func (c *Context) ObjectType(id NodeID) ObjectType {
	n := c.Node(id)
	if n == nil {
		return ObjectType{}
	}
	return n.Type()
}

// Deref returns the array a node points to.
func (c *Context) Deref(id NodeID) (ArrayID, bool) {
	t := c.ObjectType(id)
	if t.Kind != ArrayPointer {
		return 0, false
	}
	return t.Array, true
}

// NumNodes returns the number of node ordinals allocated so far, including
// the reserved ordinal zero.
func (c *Context) NumNodes() int { return len(c.nodes) }

// LastInstruction returns the terminating instruction of b, if any.
func (c *Context) LastInstruction(b *Block) (*Instruction, bool) {
	if len(b.Instructions) == 0 {
		return nil, false
	}
	return c.Instruction(b.Instructions[len(b.Instructions)-1])
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func (c *Context) add(n func(id NodeID) Node) NodeID {
	id := NodeID(len(c.nodes))
	c.nodes = append(c.nodes, n(id))
	return id
}

// NewVariable adds a named value.
func (c *Context) NewVariable(name string, typ ObjectType) NodeID {
	return c.add(func(id NodeID) Node { return &Variable{ID: id, Name: name, ObjType: typ} })
}

// NewConstant adds a literal of the given numeric type.
func (c *Context) NewConstant(value field.Element, typ NumericType) NodeID {
	return c.add(func(id NodeID) Node {
		return &Constant{ID: id, Value: value, ObjType: NumericObject(typ)}
	})
}

// NewArray adds a memory region and the variable that denotes it.
func (c *Context) NewArray(name string, length uint32, elem NumericType) (ArrayID, NodeID) {
	aid := ArrayID(len(c.arrays))
	def := c.NewVariable(name, ArrayObject(aid))
	c.arrays = append(c.arrays, &Array{ID: aid, Name: name, Len: length, ElementType: elem, Def: def})
	return aid, def
}

// NewBlock adds an empty block.
func (c *Context) NewBlock(kind BlockKind) BlockID {
	id := BlockID(len(c.blocks))
	c.blocks = append(c.blocks, &Block{ID: id, Kind: kind})
	return id
}

// NewInstruction reserves an instruction node at the end of block b. The
// operation can be filled in later with SetOperation, which allows phis to
// reference values defined further down the graph.
func (c *Context) NewInstruction(b BlockID, typ ObjectType) NodeID {
	blk := c.Block(b)
	if blk == nil {
		panic(fmt.Sprintf("ssa: no block %s", b))
	}
	id := c.add(func(id NodeID) Node {
		return &Instruction{ID: id, Op: Nop{}, ResultType: typ, Block: b}
	})
	blk.Instructions = append(blk.Instructions, id)
	return id
}

// SetOperation sets the operation of a reserved instruction.
func (c *Context) SetOperation(id NodeID, op Operation) {
	ins, ok := c.Instruction(id)
	if !ok {
		panic(fmt.Sprintf("ssa: %s is not an instruction", id))
	}
	ins.Op = op
}

// Emit appends an instruction with operation op to block b.
func (c *Context) Emit(b BlockID, op Operation, typ ObjectType) NodeID {
	id := c.NewInstruction(b, typ)
	c.SetOperation(id, op)
	return id
}

// SetSuccessors links b to its successors and records b as their
// predecessor. Either successor may be NoBlock.
func (c *Context) SetSuccessors(b, left, right BlockID) {
	blk := c.Block(b)
	blk.Left, blk.Right = left, right
	for _, s := range []BlockID{left, right} {
		if succ := c.Block(s); succ != nil {
			succ.Predecessors = append(succ.Predecessors, b)
		}
	}
}

// SetDominator records the immediate dominator of b.
func (c *Context) SetDominator(b, dom BlockID) {
	c.Block(b).Dominator = dom
}

// NewFunction adds a function definition and the node that denotes it.
func (c *Context) NewFunction(name string, kind RuntimeKind, entry BlockID, params []NodeID, results []ObjectType) FuncID {
	fid := FuncID(len(c.functions))
	fn := &Function{
		ID:          fid,
		Name:        name,
		Kind:        kind,
		Entry:       entry,
		Params:      params,
		ResultTypes: results,
	}
	if kind == Oracle {
		fn.OracleName = name
	}
	fn.Node = c.add(func(id NodeID) Node { return &FunctionRef{ID: id, Func: fid} })
	c.functions = append(c.functions, fn)
	c.byName[name] = fid
	return fid
}
