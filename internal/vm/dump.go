package vm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/chris17453/watos/internal/mem"
)

// DumpFault renders a kernel panic's memory-management context: the
// last recorded fault records plus a disassembly of the instruction
// bytes at the faulting address, when that address falls within
// managed RAM and holds something page-table-walkable.
func DumpFault(as *As_t, faultVA uintptr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fault history (most recent last):\n")
	for _, r := range FaultLog() {
		fmt.Fprintf(&b, "  va=%#x access=%d user=%v present=%v cause=%d resolved=%v %s\n",
			r.VA, r.Access, r.WasUser, r.Present, r.Cause, r.Resolved, r.Detail)
	}

	leaf, err := walk(as.Root, faultVA, false)
	if err != 0 || leaf == nil || *leaf&Pte(PTE_P) == 0 {
		fmt.Fprintf(&b, "disassembly unavailable: %#x has no present mapping\n", faultVA)
		return b.String()
	}
	pa := mem.Pa_t(*leaf&PTE_ADDR) + mem.Pa_t(faultVA&(mem.PGSIZE-1))
	code := mem.Physmem.Dmap8(pa)
	if len(code) > 64 {
		code = code[:64]
	}

	fmt.Fprintf(&b, "disassembly at %#x:\n", faultVA)
	off := 0
	for off < len(code) && off < 32 {
		inst, derr := x86asm.Decode(code[off:], 64)
		if derr != nil {
			fmt.Fprintf(&b, "  %#x: <bad instruction>\n", faultVA+uintptr(off))
			break
		}
		fmt.Fprintf(&b, "  %#x: %s\n", faultVA+uintptr(off), x86asm.GNUSyntax(inst, uint64(faultVA+uintptr(off)), nil))
		off += inst.Len
	}
	return b.String()
}
