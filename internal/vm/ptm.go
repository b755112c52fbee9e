package vm

import (
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
)

func pml4i(va uintptr) int { return int((va >> 39) & 0x1ff) }
func pdpti(va uintptr) int { return int((va >> 30) & 0x1ff) }
func pdi(va uintptr) int   { return int((va >> 21) & 0x1ff) }
func pti(va uintptr) int   { return int((va >> 12) & 0x1ff) }

// newPTPage allocates a fresh, zeroed page-table page and returns its
// physical address, tagged distinctly from user data frames.
func newPTPage() (mem.Pa_t, defs.Err_t) {
	return mem.Physmem.AllocFrame(defs.F_PAGETABLE)
}

// walk descends the 4-level radix tree rooted at `root`, returning a
// pointer to the level-1 (leaf) entry for va. When create is false, a
// missing intermediate level yields (nil, 0) rather than allocating.
func walk(root mem.Pa_t, va uintptr, create bool) (*Pte, defs.Err_t) {
	cur := root
	idxs := []int{pml4i(va), pdpti(va), pdi(va)}
	for _, idx := range idxs {
		pm := mem.Physmem.DmapPmap(cur)
		e := pm[idx]
		if e&Pte(PTE_P) == 0 {
			if !create {
				return nil, 0
			}
			np, err := newPTPage()
			if err != 0 {
				return nil, err
			}
			e = Pte(np) | PTE_P | PTE_W | PTE_U
			pm[idx] = e
		}
		cur = mem.Pa_t(e & PTE_ADDR)
	}
	leaf := mem.Physmem.DmapPmap(cur)
	return (*Pte)(&leaf[pti(va)]), 0
}

// invalidate issues the single-page TLB invalidation required after any
// mapping/permission change. On real hardware this is `invlpg`; the
// host harness has no TLB, so this is a documented no-op call site kept
// so every place that must invalidate the TLB on real hardware stays
// visible and auditable.
func invalidate(va uintptr) {}

// Map installs a present leaf mapping va -> pa with the given flags.
// Illegal flag combinations are rejected at this boundary, before any
// page-table page is touched.
func Map(root mem.Pa_t, va uintptr, pa mem.Pa_t, flags Pte) defs.Err_t {
	if !permsOK(va, flags) {
		return defs.EINVAL
	}
	leaf, err := walk(root, va, true)
	if err != 0 {
		return err
	}
	*leaf = Pte(pa&mem.PGMASK) | flags | PTE_P
	invalidate(va)
	return 0
}

// Unmap clears the leaf mapping at va, returning the physical address
// that had been mapped there (ok=false if nothing was mapped).
func Unmap(root mem.Pa_t, va uintptr) (mem.Pa_t, bool) {
	leaf, err := walk(root, va, false)
	if err != 0 || leaf == nil || *leaf&Pte(PTE_P) == 0 {
		return 0, false
	}
	pa := mem.Pa_t(*leaf & PTE_ADDR)
	*leaf = 0
	invalidate(va)
	return pa, true
}

// Protect updates the permission flags of an existing present leaf,
// preserving its physical address and software flags (cow/wired).
func Protect(root mem.Pa_t, va uintptr, flags Pte) defs.Err_t {
	if !permsOK(va, flags) {
		return defs.EINVAL
	}
	leaf, err := walk(root, va, false)
	if err != 0 {
		return err
	}
	if leaf == nil || *leaf&Pte(PTE_P) == 0 {
		return defs.EFAULT
	}
	pa := *leaf & PTE_ADDR
	*leaf = pa | (*leaf & Pte(PTE_COW|PTE_WIRED)) | flags | PTE_P
	invalidate(va)
	return 0
}

// Walk exposes the raw (entry, level) the PTM contract names; level is
// always 1 (a 4 KiB leaf) since WATOS never creates huge pages.
func Walk(root mem.Pa_t, va uintptr, create bool) (*Pte, int, defs.Err_t) {
	leaf, err := walk(root, va, create)
	return leaf, 1, err
}

// NewRoot allocates a fresh PML4 page and copies in the kernel-half
// entries shared by every address space.
func NewRoot(kernelPML4 mem.Pa_t) (mem.Pa_t, defs.Err_t) {
	root, err := newPTPage()
	if err != 0 {
		return 0, err
	}
	if kernelPML4 != 0 {
		dst := mem.Physmem.DmapPmap(root)
		src := mem.Physmem.DmapPmap(kernelPML4)
		for i := 256; i < 512; i++ { // upper half, canonical kernel range
			dst[i] = src[i]
		}
	}
	return root, 0
}

// cloneLevel recursively clones the user-half (low 256 entries at the
// top level only; lower levels are entirely user) portion of the
// page-table tree, marking every present leaf copy-on-write in both the
// parent and the child and bumping the underlying frame's refcount. The
// actual copy happens lazily on the child's next write fault.
func cloneLevel(parent mem.Pa_t, level int, lo, hi int) (mem.Pa_t, defs.Err_t) {
	child, err := newPTPage()
	if err != 0 {
		return 0, err
	}
	psrc := mem.Physmem.DmapPmap(parent)
	pdst := mem.Physmem.DmapPmap(child)
	for i := lo; i < hi; i++ {
		e := psrc[i]
		if e&Pte(PTE_P) == 0 {
			continue
		}
		if level == 1 {
			// leaf: mark both copies read-only + COW, bump refcount.
			ro := e &^ Pte(PTE_W) | PTE_COW
			psrc[i] = ro
			pdst[i] = ro
			mem.Physmem.FrameRetain(mem.Pa_t(e & PTE_ADDR))
		} else {
			childSub, err := cloneLevel(mem.Pa_t(e&PTE_ADDR), level-1, 0, 512)
			if err != 0 {
				return 0, err
			}
			pdst[i] = Pte(childSub) | (e &^ PTE_ADDR)
		}
	}
	return child, 0
}

// CloneUserCow duplicates the parent's user-half page tables into a
// fresh PML4 sharing the same kernel-half entries by reference.
func CloneUserCow(parentRoot mem.Pa_t) (mem.Pa_t, defs.Err_t) {
	child, err := NewRoot(parentRoot)
	if err != 0 {
		return 0, err
	}
	psrc := mem.Physmem.DmapPmap(parentRoot)
	pdst := mem.Physmem.DmapPmap(child)
	for i := 0; i < 256; i++ { // user half only
		e := psrc[i]
		if e&Pte(PTE_P) == 0 {
			continue
		}
		sub, err := cloneLevel(mem.Pa_t(e&PTE_ADDR), 3, 0, 512)
		if err != 0 {
			return 0, err
		}
		pdst[i] = Pte(sub) | (e &^ PTE_ADDR)
	}
	return child, 0
}

// destroyLevel walks every present leaf under a page-table subtree,
// releasing the frames it references (user-data leaves) or recursing
// (directory levels), then frees the page-table page itself.
func destroyLevel(root mem.Pa_t, level int) {
	pm := mem.Physmem.DmapPmap(root)
	for i := 0; i < 512; i++ {
		e := pm[i]
		if e&Pte(PTE_P) == 0 {
			continue
		}
		child := mem.Pa_t(e & PTE_ADDR)
		if level == 1 {
			mem.Physmem.FrameRelease(child)
		} else {
			destroyLevel(child, level-1)
		}
	}
	mem.Physmem.FrameRelease(root)
}

// DestroyUser walks all user leaves of root, releases referenced
// frames, and frees page-table pages, leaving the shared kernel half
// untouched.
func DestroyUser(root mem.Pa_t) {
	pm := mem.Physmem.DmapPmap(root)
	for i := 0; i < 256; i++ {
		e := pm[i]
		if e&Pte(PTE_P) == 0 {
			continue
		}
		destroyLevel(mem.Pa_t(e&PTE_ADDR), 3)
		pm[i] = 0
	}
	mem.Physmem.FrameRelease(root)
}

// current records which address space root is "active" (on real
// hardware, loaded into CR3). The host harness has no CR3; this is the
// documented stand-in every context switch goes through.
var current mem.Pa_t

// Activate loads root as the active address space.
func Activate(root mem.Pa_t) { current = root }

// Current returns the currently active AS root.
func Current() mem.Pa_t { return current }
