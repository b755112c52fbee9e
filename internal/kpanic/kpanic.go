// Package kpanic implements the kernel's fatal-error convention: a
// register/stack dump followed by an actual Go panic. Kernel invariant
// violations must be loud; user-space bugs must never reach here (they
// are turned into Err_t returns at the syscall boundary instead, in
// internal/syscall).
package kpanic

import (
	"fmt"

	"github.com/chris17453/watos/internal/caller"
)

// Panic prints a formatted message, the call stack, and extra context
// lines, then panics. Call this only for violated kernel invariants
// (corrupted allocator state, an impossible PTE, a superblock with no
// valid slot) — never for a condition a user process can trigger.
func Panic(msg string, context ...string) {
	s := fmt.Sprintf("KERNEL PANIC: %s\n%s", msg, caller.Dump(2))
	for _, c := range context {
		s += c + "\n"
	}
	panic(s)
}
