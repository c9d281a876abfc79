// Package types implements the type descriptor of spec §3 (Component 1):
// every IR value, variable, argument and return slot carries one of these,
// fixed at creation.
//
// Grounded on tetratelabs-wazero's wasm.FunctionType / wasm.ValueType split
// (a compact descriptor carried everywhere the compiler needs size/kind
// information) generalized to also carry constructor/destructor function
// pointers, since unlike wazero's four primitive wasm value types, microjit's
// IR must support arbitrary composite (non-primitive) types.
package types

import "unsafe"

// ID is the language-level identity of a type. Two Descriptors are equal iff
// their ID matches; ID is supplied by the embedder at build time (e.g. a hash
// of a canonical type name), per spec §9's replacement for RTTI identity.
type ID uint64

// CtorFunc default- or copy-constructs a value of this type at dst. src is nil
// for a default construction and non-nil for a copy construction.
type CtorFunc func(dst, src unsafe.Pointer)

// DtorFunc destructs a value of this type at p.
type DtorFunc func(p unsafe.Pointer)

// Kind classifies a primitive Descriptor for dispatch in the code generator.
// Composite (non-primitive) descriptors always report KindNone.
type Kind int

const (
	KindNone Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
)

// Descriptor is the (type_id, byte_size, copy_ctor_ptr, dtor_ptr, is_primitive)
// tuple of spec §3.
type Descriptor struct {
	id         ID
	name       string
	size       uint32
	kind       Kind
	copyCtor   CtorFunc
	dtor       DtorFunc
	isPrimitive bool
}

// NewComposite declares a non-primitive type. copyCtor and dtor must be
// non-nil; size must be > 0 (zero-sized composites are not supported — only
// the built-in Void descriptor may have size 0).
func NewComposite(id ID, name string, size uint32, copyCtor CtorFunc, dtor DtorFunc) Descriptor {
	return Descriptor{id: id, name: name, size: size, kind: KindNone, copyCtor: copyCtor, dtor: dtor, isPrimitive: false}
}

// NewPrimitive declares a primitive scalar type that can be moved with a
// single load/store of Size bytes.
func NewPrimitive(id ID, name string, size uint32, kind Kind) Descriptor {
	return Descriptor{id: id, name: name, size: size, kind: kind, isPrimitive: true}
}

// Void is the zero-sized "no return value" descriptor; valid only in return
// position.
var Void = Descriptor{id: 0, name: "void", size: 0, kind: KindNone, isPrimitive: true}

func (d Descriptor) ID() ID     { return d.id }
func (d Descriptor) Name() string { return d.name }
func (d Descriptor) Size() uint32 { return d.size }
func (d Descriptor) Kind() Kind   { return d.kind }

// IsPrimitive reports whether a value of this type can be moved with a single
// load/store rather than going through CopyCtor/Dtor.
func (d Descriptor) IsPrimitive() bool { return d.isPrimitive }

// IsVoid reports a zero-sized return-position descriptor.
func (d Descriptor) IsVoid() bool { return d.size == 0 }

// IsFloat reports whether d is a 4- or 8-byte floating-point primitive.
func (d Descriptor) IsFloat() bool {
	return d.kind == KindFloat32 || d.kind == KindFloat64
}

// IsSignedInt reports whether d is a 1/2/4/8-byte signed integer primitive.
func (d Descriptor) IsSignedInt() bool {
	switch d.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return true
	default:
		return false
	}
}

// IsUnsignedInt reports whether d is a 1/2/4/8-byte unsigned integer
// primitive (bool included, since its arithmetic — equality/compare — is
// unsigned-width).
func (d Descriptor) IsUnsignedInt() bool {
	switch d.kind {
	case KindUint8, KindUint16, KindUint32, KindUint64, KindBool:
		return true
	default:
		return false
	}
}

// CopyCtor returns the type's copy constructor. Panics if called on a
// primitive type, since primitives never go through it.
func (d Descriptor) CopyCtor() CtorFunc {
	if d.isPrimitive {
		panic("types: CopyCtor called on a primitive descriptor")
	}
	return d.copyCtor
}

// Dtor returns the type's destructor. Panics if called on a primitive type.
func (d Descriptor) Dtor() DtorFunc {
	if d.isPrimitive {
		panic("types: Dtor called on a primitive descriptor")
	}
	return d.dtor
}

// Equal implements spec §3's type-descriptor equality: identity by ID alone.
func Equal(a, b Descriptor) bool { return a.id == b.id }

// Bool, the built-in boolean result type of comparison expressions.
var Bool = NewPrimitive(ID(1), "bool", 1, KindBool)

// Built-in signed integer primitives, offered for convenience; embedders may
// declare their own IDs instead.
var (
	Int8  = NewPrimitive(ID(2), "i8", 1, KindInt8)
	Int16 = NewPrimitive(ID(3), "i16", 2, KindInt16)
	Int32 = NewPrimitive(ID(4), "i32", 4, KindInt32)
	Int64 = NewPrimitive(ID(5), "i64", 8, KindInt64)

	Uint8  = NewPrimitive(ID(6), "u8", 1, KindUint8)
	Uint16 = NewPrimitive(ID(7), "u16", 2, KindUint16)
	Uint32 = NewPrimitive(ID(8), "u32", 4, KindUint32)
	Uint64 = NewPrimitive(ID(9), "u64", 8, KindUint64)

	Float32 = NewPrimitive(ID(10), "f32", 4, KindFloat32)
	Float64 = NewPrimitive(ID(11), "f64", 8, KindFloat64)
)
