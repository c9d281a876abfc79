package codegen

import (
	"encoding/binary"
	"reflect"

	"github.com/cycastic-cumberland/microjit/internal/asm/amd64"
)

// funcPointer recovers the machine code entry point of a non-closure,
// package-level Go function value. Spec §9 treats ctor/dtor/converter
// pointers as conforming to the host ABI — i.e. callable exactly like any
// other function pointer emitted code invokes — so the embedder is expected
// to supply plain functions here, not closures or method values; reflect's
// documented (if coarse) guarantee that a func Value's Pointer is its code
// entry point is what makes that possible without cgo.
func funcPointer(fn interface{}) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// callHostFunc emits an indirect call to fn: its address is embedded in the
// static-data pool and loaded through a RIP-relative read rather than
// materialized with a 64-bit immediate move, keeping every call site's
// encoding uniform regardless of where the assembler ultimately places the
// data pool.
func (g *Generator) callHostFunc(fn interface{}) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(funcPointer(fn)))
	label := g.a.AddStaticData(b[:])
	g.a.MovLoad(8, amd64.RegScratchAddr1, amd64.RIPData(label))
	g.a.CallReg(amd64.RegScratchAddr1)
}
