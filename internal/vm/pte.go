// Package vm implements the page-table manager, address space manager,
// and page-fault handler: 4-level x86-64 translation, VMA tracking per
// address space, and demand paging (zero-fill, file-backed, and
// copy-on-write).
package vm

import "github.com/chris17453/watos/internal/mem"

// Pte is one leaf or directory translation entry.
type Pte = uint64

// Hardware-meaningful PTE flags.
const (
	PTE_P  Pte = 1 << 0 // present
	PTE_W  Pte = 1 << 1 // writable
	PTE_U  Pte = 1 << 2 // user-accessible
	PTE_A  Pte = 1 << 5 // accessed
	PTE_D  Pte = 1 << 6 // dirty
	PTE_PS Pte = 1 << 7 // large page (unused: only 4 KiB leaves are built)
	PTE_G  Pte = 1 << 8 // global

	// Software-defined flags, ignored by real hardware.
	PTE_COW   Pte = 1 << 9  // copy-on-write: present+read-only, fault on write
	PTE_WIRED Pte = 1 << 10 // pinned, never demand-reclaimed

	PTE_NX Pte = 1 << 63 // no-execute

	PTE_ADDR Pte = Pte(mem.PGMASK) // mask extracting the frame address
)

// Memtype_t names the caching behavior of a mapping.
type Memtype_t uint8

const (
	MEM_NORMAL Memtype_t = iota
	MEM_DEVICE
	MEM_WRITECOMBINE
)

// KernelBase is the lowest virtual address of the kernel half. Every
// address space shares identical mappings at and above this address;
// addresses below it are the user half VMAs cover.
const KernelBase = uintptr(1) << 47

// permsOK rejects illegal PTE flag combinations: user bit in the
// kernel range, and writable+executable together.
func permsOK(va uintptr, flags Pte) bool {
	if va >= KernelBase && flags&PTE_U != 0 {
		return false
	}
	if flags&PTE_W != 0 && flags&PTE_NX == 0 {
		return false // writable and executable simultaneously
	}
	return true
}

// PermsOK is permsOK exported for callers outside package vm (the ELF
// loader's segment mapper) that insert a VMA with an attacker-chosen
// protection before any PTE exists to check.
func PermsOK(va uintptr, prot Prot_t) bool {
	return permsOK(va, protToPTE(prot))
}
