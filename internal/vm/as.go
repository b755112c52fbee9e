package vm

import (
	"sync"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
)

// As_t is a process address space: a page-table root plus the VMA list
// covering the user half. Its mutex serializes VMA-list and page-table
// mutation and is held only across the mutation itself, never across a
// return to user mode.
type As_t struct {
	sync.Mutex
	Root   mem.Pa_t
	Region Vmregion_t
	brkVMA *Vma_t // the single heap VMA brk(2) grows/shrinks
	pgfl   bool   // debug: page-fault handling in progress
}

// LockPmap acquires the AS mutex and marks that fault handling may
// follow, used to catch reentrant-lock bugs during development.
func (as *As_t) LockPmap() {
	as.Lock()
	as.pgfl = true
}

// UnlockPmap releases the AS mutex.
func (as *As_t) UnlockPmap() {
	as.pgfl = false
	as.Unlock()
}

// NewAS creates a fresh address space sharing the kernel half of
// kernelPML4 (pass 0 to build the very first, kernel-only AS at boot).
func NewAS(kernelPML4 mem.Pa_t) (*As_t, defs.Err_t) {
	root, err := NewRoot(kernelPML4)
	if err != 0 {
		return nil, err
	}
	return &As_t{Root: root}, 0
}

// Destroy releases every user frame and page-table page owned by as.
// Must only be called once the last process referencing it has exited.
func (as *As_t) Destroy() {
	DestroyUser(as.Root)
}

// CloneAS builds a child address space sharing parent's kernel half
// and copy-on-write cloning its user half: every present leaf in both
// the parent and the child is marked read-only and COW, and the VMA
// list is duplicated so both address spaces track the same regions
// independently from that point on.
func CloneAS(parent *As_t) (*As_t, defs.Err_t) {
	parent.LockPmap()
	defer parent.UnlockPmap()

	root, err := CloneUserCow(parent.Root)
	if err != 0 {
		return nil, err
	}
	child := &As_t{Root: root}
	for _, v := range parent.Region.All() {
		v.Flags |= VMA_COW
		cv := *v
		child.Region.Insert(&cv)
	}
	if parent.brkVMA != nil {
		if cv, ok := child.Region.Lookup(parent.brkVMA.Start); ok {
			child.brkVMA = cv
		}
	}
	return child, 0
}

// InsertVMA adds a fully-specified VMA, used directly by the ELF loader
// and mmap(fixed-hint) paths once a location has been chosen.
func (as *As_t) InsertVMA(v *Vma_t) {
	as.Region.Insert(v)
}

// SetBrkVMA designates v (already inserted) as the heap VMA brk(2)
// grows.
func (as *As_t) SetBrkVMA(v *Vma_t) { as.brkVMA = v }

// Brk implements brk(new_end): grows or shrinks the heap VMA, refusing
// to collide with another region.
func (as *As_t) Brk(newEnd uintptr) (uintptr, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()
	if as.brkVMA == nil {
		// The first brk places the heap at the lowest free page.
		start, ok := as.Region.FindGap(mem.PGSIZE, mem.PGSIZE, 0)
		if !ok {
			return 0, defs.ENOMEM
		}
		if newEnd <= start {
			return start, 0
		}
		if as.Region.overlaps(start, newEnd) {
			return start, defs.ENOMEM
		}
		as.Region.Insert(&Vma_t{Start: start, End: newEnd, Prot: PROT_R | PROT_W, Type: VMA_ANON})
		as.brkVMA, _ = as.Region.Lookup(start)
		return newEnd, 0
	}
	v := as.brkVMA
	if newEnd < v.Start {
		return v.End, defs.EINVAL
	}
	if newEnd > v.End {
		if as.Region.overlaps(v.End, newEnd) {
			return v.End, defs.ENOMEM
		}
		v.End = newEnd
		return v.End, 0
	}
	// shrinking: unmap the pages given back.
	as.unmapRange(newEnd, v.End)
	v.End = newEnd
	return v.End, 0
}

// MmapAnon implements mmap_anon(hint, len, prot): inserts a VMA at a
// gap found by FindGap; pages are not pre-populated.
func (as *As_t) MmapAnon(hint, length uintptr, prot Prot_t) (uintptr, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()
	length = roundup(length)
	start, ok := as.Region.FindGap(length, mem.PGSIZE, hint)
	if !ok {
		return 0, defs.ENOMEM
	}
	if !permsOK(start, protToPTE(prot)) {
		return 0, defs.EINVAL
	}
	as.Region.Insert(&Vma_t{Start: start, End: start + length, Prot: prot, Type: VMA_ANON})
	return start, 0
}

// Munmap implements munmap(addr, len): splits as needed, unmaps covered
// PTEs, releases frames, invalidates the TLB.
func (as *As_t) Munmap(addr, length uintptr) defs.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()
	end := addr + roundup(length)
	as.unmapRange(addr, end)
	as.Region.Remove(addr, end)
	return 0
}

func (as *As_t) unmapRange(start, end uintptr) {
	for va := start; va < end; va += mem.PGSIZE {
		if pa, ok := Unmap(as.Root, va); ok {
			mem.Physmem.FrameRelease(pa)
		}
	}
}

// Mprotect implements mprotect(addr, len, prot): updates the protection
// of every VMA covering the range, splitting at the boundaries, and
// re-protects any already-present PTEs in place.
func (as *As_t) Mprotect(addr, length uintptr, prot Prot_t) defs.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()
	end := addr + roundup(length)
	if !permsOK(addr, protToPTE(prot)) {
		return defs.EINVAL
	}
	as.Region.Split(addr, end, func(v *Vma_t) { v.Prot = prot })
	for va := addr; va < end; va += mem.PGSIZE {
		v, ok := as.Region.Lookup(va)
		if !ok {
			continue
		}
		if leaf, err := walk(as.Root, va, false); err == 0 && leaf != nil && *leaf&Pte(PTE_P) != 0 {
			Protect(as.Root, va, v.pteFlags())
		}
	}
	return 0
}

func protToPTE(prot Prot_t) Pte {
	v := &Vma_t{Prot: prot}
	return v.pteFlags()
}

func roundup(n uintptr) uintptr { return (n + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1) }
