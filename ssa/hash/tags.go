package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the graph fingerprint format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every cached artefact keyed by a fingerprint.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing fingerprints.
const HashVersion byte = 1

const (
	TagReservedZero byte = 0x00

	// Structure
	TagGraph    byte = 0x01
	TagArray    byte = 0x02
	TagFunction byte = 0x03
	TagBlock    byte = 0x04

	// Operand references
	TagConstant byte = 0x08
	TagParamRef byte = 0x09
	TagValueRef byte = 0x0A
	TagArrayRef byte = 0x0B
	TagFuncRef  byte = 0x0C
	TagDummyRef byte = 0x0D
	TagBlockRef byte = 0x0E
	TagNoBlock  byte = 0x0F

	// Operations
	TagBinary     byte = 0x10
	TagCast       byte = 0x11
	TagTruncate   byte = 0x12
	TagNot        byte = 0x13
	TagConstrain  byte = 0x14
	TagJne        byte = 0x15
	TagJeq        byte = 0x16
	TagJmp        byte = 0x17
	TagPhi        byte = 0x18
	TagCall       byte = 0x19
	TagResult     byte = 0x1A
	TagUnsafeCall byte = 0x1B
	TagReturn     byte = 0x1C
	TagCond       byte = 0x1D
	TagLoad       byte = 0x1E
	TagStore      byte = 0x1F
	TagIntrinsic  byte = 0x20
	TagNop        byte = 0x21

	// Types
	TagNoType      byte = 0x30
	TagNumericType byte = 0x31
	TagArrayType   byte = 0x32
	TagFuncType    byte = 0x33

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagGraph, TagArray, TagFunction, TagBlock,
	TagConstant, TagParamRef, TagValueRef, TagArrayRef, TagFuncRef,
	TagDummyRef, TagBlockRef, TagNoBlock,
	TagBinary, TagCast, TagTruncate, TagNot, TagConstrain, TagJne, TagJeq,
	TagJmp, TagPhi, TagCall, TagResult, TagUnsafeCall, TagReturn, TagCond,
	TagLoad, TagStore, TagIntrinsic, TagNop,
	TagNoType, TagNumericType, TagArrayType, TagFuncType,
}
