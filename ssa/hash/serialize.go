package hash

import (
	"encoding/binary"

	"github.com/chazu/regc/ssa"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of an SSA graph.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width uint32
//   - Field constants: 32-byte big-endian
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//
// Values are referenced by position rather than node ordinal: parameters by
// their index in the function signature and instruction results by their
// index in the function's reverse-postorder walk. Parameter and array names
// do not contribute, so renaming them keeps the fingerprint.
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of every array and
// function of ctx. The result is suitable for hashing with SHA-256.
func Serialize(ctx *ssa.Context) []byte {
	s := &serializer{ctx: ctx, buf: make([]byte, 0, 1024)}
	s.writeByte(HashVersion)
	s.writeByte(TagGraph)

	arrays := ctx.Arrays()
	s.writeUint32(uint32(len(arrays)))
	for _, a := range arrays {
		s.writeByte(TagArray)
		s.writeUint32(a.Len)
		s.writeNumeric(a.ElementType)
	}

	funcs := ctx.Functions()
	s.writeUint32(uint32(len(funcs)))
	for _, fn := range funcs {
		s.serializeFunction(fn)
	}
	return s.buf
}

type serializer struct {
	ctx *ssa.Context
	buf []byte

	// per-function numbering
	params map[ssa.NodeID]uint32
	values map[ssa.NodeID]uint32
	blocks map[ssa.BlockID]uint32
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeNumeric(t ssa.NumericType) {
	s.writeByte(byte(t.Kind))
	s.writeUint32(t.BitSize)
}

func (s *serializer) writeType(t ssa.ObjectType) {
	switch t.Kind {
	case ssa.Numeric:
		s.writeByte(TagNumericType)
		s.writeNumeric(t.Numeric)
	case ssa.ArrayPointer:
		s.writeByte(TagArrayType)
		s.writeUint32(uint32(t.Array))
	case ssa.FunctionObject:
		s.writeByte(TagFuncType)
	default:
		s.writeByte(TagNoType)
	}
}

func (s *serializer) serializeFunction(fn *ssa.Function) {
	s.params = make(map[ssa.NodeID]uint32)
	s.values = make(map[ssa.NodeID]uint32)
	s.blocks = make(map[ssa.BlockID]uint32)

	s.writeByte(TagFunction)
	s.writeString(fn.Name)
	s.writeByte(byte(fn.Kind))
	s.writeString(fn.OracleName)

	s.writeUint32(uint32(len(fn.Params)))
	for i, p := range fn.Params {
		s.params[p] = uint32(i)
		s.writeType(s.ctx.ObjectType(p))
	}
	s.writeUint32(uint32(len(fn.ResultTypes)))
	for _, t := range fn.ResultTypes {
		s.writeType(t)
	}

	if fn.Kind == ssa.Oracle {
		s.writeUint32(0)
		return
	}

	order := s.ctx.Reachable(fn.Entry)
	var n uint32
	for i, id := range order {
		s.blocks[id] = uint32(i)
		for _, ins := range s.ctx.Block(id).Instructions {
			s.values[ins] = n
			n++
		}
	}

	s.writeUint32(uint32(len(order)))
	for _, id := range order {
		blk := s.ctx.Block(id)
		s.writeByte(TagBlock)
		s.writeByte(byte(blk.Kind))
		s.writeBlockRef(blk.Left)
		s.writeBlockRef(blk.Right)
		s.writeBlockRef(blk.Dominator)
		s.writeUint32(uint32(len(blk.Instructions)))
		for _, ins := range blk.Instructions {
			in, _ := s.ctx.Instruction(ins)
			s.writeType(in.ResultType)
			s.serializeOp(in.Op)
		}
	}
}

func (s *serializer) writeBlockRef(id ssa.BlockID) {
	idx, ok := s.blocks[id]
	if !ok {
		s.writeByte(TagNoBlock)
		return
	}
	s.writeByte(TagBlockRef)
	s.writeUint32(idx)
}

func (s *serializer) writeRef(id ssa.NodeID) {
	if id.IsDummy() {
		s.writeByte(TagDummyRef)
		return
	}
	if idx, ok := s.params[id]; ok {
		s.writeByte(TagParamRef)
		s.writeUint32(idx)
		return
	}
	if idx, ok := s.values[id]; ok {
		s.writeByte(TagValueRef)
		s.writeUint32(idx)
		return
	}
	switch n := s.ctx.Node(id).(type) {
	case *ssa.Constant:
		s.writeByte(TagConstant)
		s.writeNumeric(n.ObjType.Numeric)
		b := n.Value.Bytes32()
		s.buf = append(s.buf, b[:]...)
	case *ssa.FunctionRef:
		s.writeByte(TagFuncRef)
		s.writeUint32(uint32(n.Func))
	case *ssa.Variable:
		if a, ok := s.ctx.Deref(id); ok {
			s.writeByte(TagArrayRef)
			s.writeUint32(uint32(a))
			return
		}
		s.writeByte(TagDummyRef)
	default:
		// An instruction of another function; unreachable in well-formed graphs.
		s.writeByte(TagDummyRef)
	}
}

func (s *serializer) writeRefs(ids []ssa.NodeID) {
	s.writeUint32(uint32(len(ids)))
	for _, id := range ids {
		s.writeRef(id)
	}
}

func (s *serializer) serializeOp(op ssa.Operation) {
	switch o := op.(type) {
	case ssa.Binary:
		s.writeByte(TagBinary)
		s.writeByte(byte(o.Op))
		s.writeRef(o.Lhs)
		s.writeRef(o.Rhs)
	case ssa.Cast:
		s.writeByte(TagCast)
		s.writeRef(o.Value)
	case ssa.Truncate:
		s.writeByte(TagTruncate)
		s.writeRef(o.Value)
		s.writeUint32(o.BitSize)
		s.writeUint32(o.MaxBitSize)
	case ssa.Not:
		s.writeByte(TagNot)
		s.writeRef(o.Value)
	case ssa.Constrain:
		s.writeByte(TagConstrain)
		s.writeRef(o.Value)
		s.writeString(o.Message)
	case ssa.Jne:
		s.writeByte(TagJne)
		s.writeRef(o.Cond)
		s.writeBlockRef(o.Target)
	case ssa.Jeq:
		s.writeByte(TagJeq)
		s.writeRef(o.Cond)
		s.writeBlockRef(o.Target)
	case ssa.Jmp:
		s.writeByte(TagJmp)
		s.writeBlockRef(o.Target)
	case ssa.Phi:
		s.writeByte(TagPhi)
		s.writeRef(o.Root)
		s.writeUint32(uint32(len(o.Args)))
		for _, a := range o.Args {
			s.writeRef(a.Value)
			s.writeBlockRef(a.Block)
		}
	case ssa.Call:
		s.writeByte(TagCall)
		s.writeRef(o.Func)
		s.writeRefs(o.Arguments)
		s.writeUint32(uint32(len(o.ReturnedArrays)))
		for _, ra := range o.ReturnedArrays {
			s.writeUint32(uint32(ra.Array))
			s.writeUint32(ra.Position)
		}
	case ssa.Result:
		s.writeByte(TagResult)
		s.writeRef(o.Call)
		s.writeUint32(o.Index)
	case ssa.UnsafeCall:
		s.writeByte(TagUnsafeCall)
		s.writeRef(o.Func)
		s.writeRefs(o.Arguments)
		s.writeRefs(o.Returned)
	case ssa.Return:
		s.writeByte(TagReturn)
		s.writeRefs(o.Values)
	case ssa.Cond:
		s.writeByte(TagCond)
		s.writeRef(o.Condition)
		s.writeRef(o.Lhs)
		s.writeRef(o.Rhs)
	case ssa.Load:
		s.writeByte(TagLoad)
		s.writeUint32(uint32(o.Array))
		s.writeRef(o.Index)
	case ssa.Store:
		s.writeByte(TagStore)
		s.writeUint32(uint32(o.Array))
		s.writeBool(o.Placeholder)
		s.writeRef(o.Index)
		s.writeRef(o.Value)
	case ssa.Intrinsic:
		s.writeByte(TagIntrinsic)
		s.writeString(o.Opcode)
		s.writeRefs(o.Args)
	default:
		s.writeByte(TagNop)
	}
}
