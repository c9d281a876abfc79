// Package disasm renders a freshly emitted function body as human-readable
// x86-64 assembly for debug logging, the Go-native analogue of the teacher's
// internal/integration_test/asm/amd64_debug byte-level cross-check: instead
// of a test-only harness, microjit exposes the same instruction-level
// visibility as a small always-available debug aid (internal/agent logs
// its output at zap.DebugLevel when the orchestrator is built with a
// debug-level logger).
//
// Grounded on ymm135-go's use of golang.org/x/arch/x86/x86asm for decoding
// compiled output; microjit reuses the same library rather than writing a
// second decoder next to internal/asm/amd64's encoder.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Line is one decoded instruction: its offset within the function body, raw
// bytes, and GNU-syntax text. A decode failure is represented as a one-byte
// Line with the error stringified into Text so a best-effort stream never
// aborts on a decoder gap.
type Line struct {
	Offset int
	Bytes  []byte
	Text   string
}

// Function decodes code best-effort, one instruction at a time, stopping
// only at the end of the slice. A byte range that x86asm cannot decode
// (static data mixed into the stream, for instance) is reported as a single
// one-byte line carrying the decode error, and scanning resumes at the next
// byte, since microjit's assembled output places its static-data pool
// immediately after the instruction stream with no boundary marker visible
// to the decoder.
func Function(name string, code []byte) []Line {
	var lines []Line
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			lines = append(lines, Line{Offset: off, Bytes: code[off : off+1], Text: fmt.Sprintf("<decode error: %v>", err)})
			off++
			continue
		}
		lines = append(lines, Line{
			Offset: off,
			Bytes:  code[off : off+inst.Len],
			Text:   x86asm.GNUSyntax(inst, 0, nil),
		})
		off += inst.Len
	}
	return lines
}

// Render formats lines the way an objdump-style debug log entry would read:
// one "offset: bytes  mnemonic" line per instruction, joined with name as a
// header.
func Render(name string, lines []Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", name)
	for _, l := range lines {
		fmt.Fprintf(&b, "  %04x: % x\t%s\n", l.Offset, l.Bytes, l.Text)
	}
	return b.String()
}
