// Package vstack implements the virtual stack runtime of spec §4.1
// (Component 2): a downward-growing byte buffer, independent of the host
// thread's native stack, that emitted code uses to pass arguments and
// receive return values across nested invocations.
//
// Grounded on tetratelabs-wazero's callEngine.valueStack/globalSP design
// (internal/engine/compiler/engine.go), which also hands emitted code a
// private, growable, downward/upward-addressed memory region distinct from
// the Go goroutine stack; microjit's version is fixed-size (spec §4.1: "no
// automatic growth; overflow is a fatal signal") rather than wazero's
// grow-and-copy Wasm stack, since spec §4.1 explicitly forbids growth.
package vstack

import (
	"fmt"
	"os"
	"unsafe"
)

// Stack is a user-owned byte buffer used by emitted code as its own call
// stack. It is created per top-level invocation and destroyed after the call
// returns (spec §3 "Lifecycles"); a single instance is never shared across
// goroutines (spec §5 "Shared resources").
type Stack struct {
	buf  []byte
	size uint64 // capacity, not counting the trailing safety zone
	rsp  uintptr
	rbp  uintptr
	base uintptr
	top  uintptr
}

// New allocates a Stack of size bytes plus a trailing safetyZone of
// additional bytes, per spec §4.1. Both pointers start at the high end of the
// buffer.
func New(size, safetyZone uint64) *Stack {
	total := size + safetyZone
	buf := make([]byte, total)
	base := uintptr(unsafe.Pointer(&buf[0]))
	top := base + uintptr(total)
	s := &Stack{
		buf:  buf,
		size: size,
		base: base,
		top:  top,
		rsp:  top,
		rbp:  top,
	}
	return s
}

// RSPAddr returns the address of the stack-pointer cell itself (a **u8 in
// spec §6 terms): emitted code dereferences this to read/write rsp.
func (s *Stack) RSPAddr() *uintptr { return &s.rsp }

// RBPAddr returns the address of the base-pointer cell.
func (s *Stack) RBPAddr() *uintptr { return &s.rbp }

// RSP returns the current stack pointer value.
func (s *Stack) RSP() uintptr { return s.rsp }

// RBP returns the current base pointer value.
func (s *Stack) RBP() uintptr { return s.rbp }

// Allocated reports the number of bytes currently in use, measured from the
// high end of the buffer down to rsp.
func (s *Stack) Allocated() uint64 {
	return uint64(s.top - s.rsp)
}

// Capacity reports the usable size, excluding the trailing safety zone.
func (s *Stack) Capacity() uint64 { return s.size }

// CreateStackFrame implements spec §4.1's create-stack-frame operation:
// pushes the old base pointer, sets base = stack, then subtracts size from
// stack. Mirrors the semantics the emitted prologue/nested-call sequence
// relies on; exported so tests and the code generator's Go-level reference
// model can exercise it directly without going through emitted machine code.
func (s *Stack) CreateStackFrame(size uint64) {
	CreateStackFrameABI(s.Handle(), size)
}

// LeaveStackFrame implements spec §4.1's leave-stack-frame operation: stack =
// base, pop the saved base pointer, advance stack over that slot.
func (s *Stack) LeaveStackFrame() {
	LeaveStackFrameABI(s.Handle())
}

// CreateStackFrameABI is spec §6's create_stack_frame(vs, size), expressed
// directly over the ABI handle rather than a full Stack: this is the host
// function the nested invocation ABI (spec §4.7 step 2) calls from emitted
// code, which only ever holds a handle, never the owning Stack. Every frame
// this opens — the outermost one CallWithStack creates and every nested
// InvokeJit/InvokeNative frame underneath it — is checked for overflow right
// here, at the point peak usage actually grows, rather than after the frame
// has already been unwound.
func CreateStackFrameABI(h *ABIHandle, size uint64) {
	rsp := *h.RSP - unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(rsp)) = *h.RBP
	*h.RBP = rsp
	*h.RSP = rsp - uintptr(size)
	checkOverflow(h)
}

// LeaveStackFrameABI is spec §6's leave_stack_frame(vs), the inverse of
// CreateStackFrameABI (spec §4.7 step 6).
func LeaveStackFrameABI(h *ABIHandle) {
	*h.RSP = *h.RBP
	*h.RBP = *(*uintptr)(unsafe.Pointer(*h.RSP))
	*h.RSP += unsafe.Sizeof(uintptr(0))
}

// CheckOverflow writes a diagnostic to stderr and terminates the process via
// os.Exit(134) (the 128+SIGABRT status) if allocated exceeds capacity; no
// signal is raised. CreateStackFrameABI already runs this check on
// every frame it opens; exported separately so callers and tests can probe
// the current state without opening a new frame.
func (s *Stack) CheckOverflow() {
	checkOverflow(s.Handle())
}

// checkOverflow is the shared implementation CreateStackFrameABI runs after
// every frame it opens (spec §4.1's "no automatic growth; overflow is a
// fatal signal") and Stack.CheckOverflow exposes standalone.
func checkOverflow(h *ABIHandle) {
	allocated := uint64(h.Top - *h.RSP)
	if allocated > h.Cap {
		fmt.Fprintf(os.Stderr, "microjit: virtual stack overflow: allocated=%d capacity=%d\n", allocated, h.Cap)
		os.Exit(134) // SIGABRT exit code convention (128+6); no signal is raised.
	}
}

// BaseAddr returns the address one past the end of the buffer, the initial
// value of rsp/rbp.
func (s *Stack) BaseAddr() uintptr { return s.top }

// ABIHandle is the fixed layout emitted code actually receives as its
// "vstack handle" argument (spec §6's get_rsp/get_rbp/get_allocated/
// get_capacity accessors, collapsed into direct field addresses so the
// prologue can load rsp/rbp with a single fixed-offset memory access rather
// than an indirect call back into the host runtime for every access). Top
// and Cap never change after construction, so only RSP/RBP need the
// indirection of a pointer; they exist on the handle at all so
// CreateStackFrameABI can check overflow without a back-reference to the
// owning Stack.
type ABIHandle struct {
	RSP *uintptr // address of the rsp cell; offset 0
	RBP *uintptr // address of the rbp cell; offset 8
	Top uintptr  // initial rsp/rbp value, i.e. the high end of the buffer
	Cap uint64   // usable capacity, excluding the trailing safety zone
}

// Handle returns the ABI handle emitted code is called with.
func (s *Stack) Handle() *ABIHandle {
	return &ABIHandle{RSP: s.RSPAddr(), RBP: s.RBPAddr(), Top: s.top, Cap: s.size}
}
