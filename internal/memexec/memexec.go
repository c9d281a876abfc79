// Package memexec maps freshly assembled machine code into W^X-safe
// executable pages, the allocation primitive the compilation agent
// (internal/agent) calls after a successful internal/codegen.Generate.
//
// Grounded on tetratelabs-wazero's internal/engine/compiler code-segment
// lifecycle (engine.go: mmap'd compiled.codeSegment, released via a finalizer
// registered with e.setFinalizer/releaseCode) — the retrieval pack's copy of
// internal/platform omits the Linux/Darwin mmap_*.go syscall plumbing itself
// (only its tests survived filtering), so the syscalls below are written
// directly against golang.org/x/sys/unix rather than adapted from a teacher
// source file; the two-step "map writable, copy, mprotect executable"
// sequence and the finalizer-driven unmap mirror the teacher's segment
// lifecycle exactly.
package memexec

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Segment is one mmap'd region holding a single compiled function's machine
// code. It is never writable and executable at the same time: Alloc maps it
// writable-only, copies the code in, then flips it to exec-only before
// returning.
type Segment struct {
	mem []byte
}

// Alloc maps a new executable segment containing a copy of code. The
// returned Segment's EntryPtr is stable for the segment's lifetime; the
// backing pages are released via unix.Munmap when the Segment is garbage
// collected (a runtime.SetFinalizer, matching the teacher's
// e.setFinalizer(compiled, releaseCode)).
func Alloc(code []byte) (*Segment, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("memexec: empty code segment")
	}
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("memexec: mmap: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("memexec: mprotect: %w", err)
	}
	s := &Segment{mem: mem}
	runtime.SetFinalizer(s, releaseSegment)
	return s, nil
}

func releaseSegment(s *Segment) {
	if s.mem != nil {
		_ = unix.Munmap(s.mem)
		s.mem = nil
	}
}

// EntryPtr returns the address of the segment's first byte, the address an
// emitted-entry function value (internal/trampoline.EmittedEntry) is built
// from.
func (s *Segment) EntryPtr() uintptr {
	return uintptr(unsafe.Pointer(&s.mem[0]))
}

// Len reports the segment's size in bytes.
func (s *Segment) Len() int { return len(s.mem) }

// Free releases the segment's pages immediately rather than waiting on the
// garbage collector, used by the orchestrator's explicit detach_instance
// path (spec §6).
func Free(s *Segment) {
	runtime.SetFinalizer(s, nil)
	releaseSegment(s)
}

// AsFunc reinterprets a segment's entry point as a callable Go function
// value of type fnPtr (a pointer to a func type, e.g. new(func(*vstack.
// ABIHandle))). Grounded on launix-de-memcp's scm-jit.go allocExec/OptimizeForValues
// path: a Go func value is itself a pointer to a closure record whose first
// word is the code entry address, so wrapping the segment's address in a
// single-field struct and reinterpreting that struct's address as the
// target func type produces a value the runtime will call exactly like any
// other closure with zero captures. This relies on an implementation detail
// of the current Go closure representation, not a documented language
// guarantee.
func AsFunc(s *Segment, fnPtr unsafe.Pointer) {
	closure := &struct{ entry uintptr }{entry: s.EntryPtr()}
	*(*unsafe.Pointer)(fnPtr) = unsafe.Pointer(closure)
}
