// Package field implements elements of the BN254 scalar field, the native
// value type of the register machine.
package field

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Modulus is the order of the BN254 scalar field.
var Modulus = uint256.MustFromDecimal("21888242871839275222246405745257275088548364400416034343698204186575808495617")

// ErrNotCanonical is returned when decoding a value that is not reduced
// modulo the field order.
var ErrNotCanonical = errors.New("field: value is not reduced")

// Element is a field element. The zero value is the additive identity.
// The wrapped integer is always in [0, Modulus).
type Element struct {
	v uint256.Int
}

// Zero returns the additive identity.
func Zero() Element { return Element{} }

// One returns the multiplicative identity.
func One() Element { return New(1) }

// New returns the element for a small unsigned integer.
func New(x uint64) Element {
	var e Element
	e.v.SetUint64(x)
	return e
}

// FromInt64 maps negative integers to their additive inverse.
func FromInt64(x int64) Element {
	if x >= 0 {
		return New(uint64(x))
	}
	return New(uint64(-x)).Neg()
}

// FromUint256 reduces x modulo the field order.
func FromUint256(x *uint256.Int) Element {
	var e Element
	e.v.Mod(x, Modulus)
	return e
}

// FromBytes interprets b as a big-endian integer of any length and reduces
// it modulo the field order.
func FromBytes(b []byte) Element {
	var acc, base uint256.Int
	base.SetUint64(256)
	for _, c := range b {
		acc.MulMod(&acc, &base, Modulus)
		acc.AddMod(&acc, uint256.NewInt(uint64(c)), Modulus)
	}
	return Element{v: acc}
}

// FromDecimal parses a base-10 string. A leading '-' yields the additive
// inverse. Values above the modulus are reduced.
func FromDecimal(s string) (Element, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return Element{}, fmt.Errorf("field: parse %q: %w", s, err)
	}
	e := FromUint256(x)
	if neg {
		e = e.Neg()
	}
	return e, nil
}

// MustFromDecimal is like FromDecimal but panics on malformed input.
func MustFromDecimal(s string) Element {
	e, err := FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return e
}

// Add returns a + b.
func (a Element) Add(b Element) Element {
	var r Element
	r.v.AddMod(&a.v, &b.v, Modulus)
	return r
}

// Sub returns a - b.
func (a Element) Sub(b Element) Element {
	return a.Add(b.Neg())
}

// Neg returns -a.
func (a Element) Neg() Element {
	if a.v.IsZero() {
		return a
	}
	var r Element
	r.v.Sub(Modulus, &a.v)
	return r
}

// Mul returns a * b.
func (a Element) Mul(b Element) Element {
	var r Element
	r.v.MulMod(&a.v, &b.v, Modulus)
	return r
}

// Inverse returns the multiplicative inverse of a, or zero when a is zero.
func (a Element) Inverse() Element {
	if a.v.IsZero() {
		return a
	}
	var exp uint256.Int
	exp.Sub(Modulus, uint256.NewInt(2))
	return a.pow(&exp)
}

// Div returns a * b^-1. Division by zero yields zero.
func (a Element) Div(b Element) Element {
	return a.Mul(b.Inverse())
}

func (a Element) pow(exp *uint256.Int) Element {
	result := One()
	base := a
	for i := 0; i < exp.BitLen(); i++ {
		if exp[i/64]>>(uint(i)%64)&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
	}
	return result
}

// IsZero reports whether a is the additive identity.
func (a Element) IsZero() bool { return a.v.IsZero() }

// IsOne reports whether a is the multiplicative identity.
func (a Element) IsOne() bool { return a.v.Eq(uint256.NewInt(1)) }

// Equal reports whether a and b are the same element.
func (a Element) Equal(b Element) bool { return a.v.Eq(&b.v) }

// Cmp compares the canonical integer representatives of a and b.
func (a Element) Cmp(b Element) int { return a.v.Cmp(&b.v) }

// IsUint64 reports whether a fits in a uint64.
func (a Element) IsUint64() bool { return a.v.IsUint64() }

// Uint64 returns the low 64 bits of a.
func (a Element) Uint64() uint64 { return a.v.Uint64() }

// Uint256 returns a copy of the canonical representative.
func (a Element) Uint256() *uint256.Int { return a.v.Clone() }

// Bytes32 returns the 32-byte big-endian encoding of a.
func (a Element) Bytes32() [32]byte { return a.v.Bytes32() }

// BitLen returns the number of bits needed to represent a.
func (a Element) BitLen() int { return a.v.BitLen() }

// String returns the decimal representation of a.
func (a Element) String() string { return a.v.Dec() }

// MarshalBinary encodes a as 32 big-endian bytes.
func (a Element) MarshalBinary() ([]byte, error) {
	b := a.v.Bytes32()
	return b[:], nil
}

// UnmarshalBinary decodes a big-endian encoding produced by MarshalBinary.
func (a *Element) UnmarshalBinary(data []byte) error {
	if len(data) > 32 {
		return fmt.Errorf("field: encoding is %d bytes, want at most 32", len(data))
	}
	var x uint256.Int
	x.SetBytes(data)
	if !x.Lt(Modulus) {
		return ErrNotCanonical
	}
	a.v = x
	return nil
}

// MarshalText encodes a in decimal.
func (a Element) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText parses a decimal value.
func (a *Element) UnmarshalText(text []byte) error {
	e, err := FromDecimal(string(text))
	if err != nil {
		return err
	}
	*a = e
	return nil
}
