// Package jtypes defines the JVM-facing type model: native fixed-width
// integers, opaque managed references, and the descriptor encoding that
// the class file format and the extern bridge share.
package jtypes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/llir/llvm/ir/types"
)

// ErrUnsupported marks IR constructs the backend deliberately rejects
// (floats, aggregates, address-space-0 pointers, and similar).
var ErrUnsupported = errors.New("unsupported construct")

// Type is the interface for all JVM value types.
type Type interface {
	implType()
	String() string
	// Descriptor returns the JVM field descriptor for the type.
	Descriptor() string
}

// Int is a native signed integer of a fixed bit width (1 to 64).
type Int struct {
	Bits int
}

// Ref is an opaque managed reference tagged with its class. The referee
// is owned by the host runtime; the compiler tracks identity and class
// only.
type Ref struct {
	Class string
}

// Array is a reference to a JVM array with the given element type.
type Array struct {
	Elem Type
}

// Void is the absence of a value (function returns only).
type Void struct{}

func (Int) implType()   {}
func (Ref) implType()   {}
func (Array) implType() {}
func (Void) implType()  {}

func (t Int) String() string   { return fmt.Sprintf("i%d", t.Bits) }
func (t Ref) String() string   { return t.Class }
func (t Array) String() string { return t.Elem.String() + "[]" }
func (t Void) String() string  { return "void" }

// Descriptor maps bit widths onto the narrowest JVM primitive that holds
// them: 1 is boolean, up to 8 byte, up to 16 short, up to 32 int and up
// to 64 long.
func (t Int) Descriptor() string {
	switch {
	case t.Bits == 1:
		return "Z"
	case t.Bits <= 8:
		return "B"
	case t.Bits <= 16:
		return "S"
	case t.Bits <= 32:
		return "I"
	default:
		return "J"
	}
}

func (t Ref) Descriptor() string { return "L" + t.Class + ";" }

func (t Array) Descriptor() string { return "[" + t.Elem.Descriptor() }

func (t Void) Descriptor() string { return "V" }

// Kind is the operand-stack and local-variable category of a type.
type Kind int

const (
	KindVoid Kind = iota
	KindInt
	KindLong
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindRef:
		return "reference"
	default:
		return "void"
	}
}

// KindOf returns the stack category of t. Integers up to 32 bits live in
// a single int slot, 64-bit integers in a long pair, references in a
// single reference slot.
func KindOf(t Type) Kind {
	switch t := t.(type) {
	case Int:
		if t.Bits > 32 {
			return KindLong
		}
		return KindInt
	case Ref, Array:
		return KindRef
	default:
		return KindVoid
	}
}

// Slots returns how many local-variable or stack slots the kind occupies.
func (k Kind) Slots() int {
	switch k {
	case KindLong:
		return 2
	case KindVoid:
		return 0
	default:
		return 1
	}
}

// Slots returns how many local-variable or stack slots a value of type t
// occupies.
func Slots(t Type) int {
	return KindOf(t).Slots()
}

// MethodDescriptor renders the JVM method descriptor for the given
// parameter and return types.
func MethodDescriptor(params []Type, ret Type) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range params {
		b.WriteString(p.Descriptor())
	}
	b.WriteByte(')')
	b.WriteString(ret.Descriptor())
	return b.String()
}

// FromIR maps an LLVM type onto the JVM model. Integers become native
// ints, address-space-1 pointers become managed references (class
// java/lang/Object until extra type info refines it), void maps to Void.
// Everything else is outside the supported surface.
func FromIR(t types.Type) (Type, error) {
	switch t := t.(type) {
	case *types.IntType:
		if t.BitSize > 64 {
			return nil, fmt.Errorf("%w: i%d exceeds 64 bits", ErrUnsupported, t.BitSize)
		}
		return Int{Bits: int(t.BitSize)}, nil
	case *types.PointerType:
		if t.AddrSpace != 1 {
			return nil, fmt.Errorf("%w: pointer in address space %d (only address space 1 references are managed)", ErrUnsupported, t.AddrSpace)
		}
		return Ref{Class: "java/lang/Object"}, nil
	case *types.VoidType:
		return Void{}, nil
	case *types.FloatType:
		return nil, fmt.Errorf("%w: floating-point type %v", ErrUnsupported, t)
	default:
		return nil, fmt.Errorf("%w: type %v", ErrUnsupported, t)
	}
}

// MismatchError reports a native/reference confusion or a width or arity
// conflict between a use site and the declared signature. It is a
// compile-time error; nothing is deferred to the host runtime.
type MismatchError struct {
	Context string
	Want    string
	Got     string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("type mismatch: %s: have %s, want %s", e.Context, e.Got, e.Want)
}

// Mismatch builds a MismatchError from two types.
func Mismatch(context string, want, got Type) *MismatchError {
	return &MismatchError{Context: context, Want: want.String(), Got: got.String()}
}
