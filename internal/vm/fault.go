// fault.go classifies a CPU page fault and either services it and
// resumes, delivers a fatal signal, or panics.
package vm

import (
	"github.com/chris17453/watos/internal/circbut"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
)

// AccessKind names the kind of access that faulted.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExec
)

// Cause names why the CPU raised the fault.
type Cause uint8

const (
	CauseNotPresent Cause = iota
	CausePermission
	CauseReserved
)

// FaultRecord is one entry of the fault record ring a kernel panic
// dump includes: the most recent faults leading up to it.
type FaultRecord struct {
	VA       uintptr
	Access   AccessKind
	WasUser  bool
	Present  bool
	Cause    Cause
	Resolved bool
	Detail   string
}

// Outcome names how a fault was disposed of.
type Outcome uint8

const (
	OutcomeResumed Outcome = iota
	OutcomeSignal
	OutcomePanic
)

// faultLog keeps the last 64 fault records across every address space,
// consulted by kpanic-style dumps.
var faultLog = circbut.NewRing[FaultRecord](64)

// FaultLog returns the most recent fault records, oldest first.
func FaultLog() []FaultRecord { return faultLog.Entries() }

// FileReader is implemented by whatever backs a file-backed VMA (VFS
// hands the fault handler a small closure rather than importing vfs
// directly, avoiding an import cycle between vm and vfs).
type FileReader interface {
	ReadPage(offset int64, buf []byte) (int, defs.Err_t)
}

// Handle classifies and services a page fault for address space as. It
// returns the disposition and, for OutcomeSignal, the error that
// should terminate the faulting process.
func Handle(as *As_t, va uintptr, access AccessKind, wasUser, present bool) (Outcome, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()

	rec := FaultRecord{VA: va, Access: access, WasUser: wasUser, Present: present}

	if !wasUser {
		// Copy-in/copy-out (Userbuf_t) reports its faults as user
		// accesses and turns an unresolved one into EFAULT, so a
		// kernel-mode fault reaching the handler is a bug.
		rec.Cause = CauseReserved
		rec.Detail = "kernel-mode fault outside copy-in/out"
		faultLog.Push(rec)
		return OutcomePanic, defs.EFAULT
	}

	pageVA := va &^ (mem.PGSIZE - 1)
	v, ok := as.Region.Lookup(va)
	if !ok {
		rec.Cause = CauseNotPresent
		rec.Detail = "no VMA covers address"
		faultLog.Push(rec)
		return OutcomeSignal, defs.EFAULT
	}

	// permission mismatch: write to a read-only, non-COW mapping, or
	// exec of non-executable memory.
	if access == AccessWrite && v.Prot&PROT_W == 0 && v.Flags&VMA_COW == 0 {
		rec.Cause = CausePermission
		rec.Detail = "write to read-only VMA"
		faultLog.Push(rec)
		return OutcomeSignal, defs.EFAULT
	}
	if access == AccessExec && v.Prot&PROT_X == 0 {
		rec.Cause = CausePermission
		rec.Detail = "exec of non-executable VMA"
		faultLog.Push(rec)
		return OutcomeSignal, defs.EFAULT
	}

	leaf, err := walk(as.Root, pageVA, true)
	if err != 0 {
		rec.Detail = "page-table allocation failed"
		faultLog.Push(rec)
		return OutcomeSignal, defs.ENOMEM
	}

	switch {
	case *leaf&Pte(PTE_P) != 0 && *leaf&Pte(PTE_COW) != 0 && access == AccessWrite:
		rec.Cause = CausePermission
		if err := serviceCOW(as, leaf, pageVA, v); err != 0 {
			faultLog.Push(rec)
			return OutcomeSignal, err
		}
	case *leaf&Pte(PTE_P) == 0 && v.Type == VMA_ANON:
		rec.Cause = CauseNotPresent
		if err := serviceAnon(leaf, pageVA, v); err != 0 {
			faultLog.Push(rec)
			return OutcomeSignal, err
		}
	case *leaf&Pte(PTE_P) == 0 && (v.Type == VMA_FILE_PRIVATE || v.Type == VMA_FILE_SHARED):
		rec.Cause = CauseNotPresent
		if err := serviceFile(leaf, pageVA, v); err != 0 {
			faultLog.Push(rec)
			return OutcomeSignal, err
		}
	case *leaf&Pte(PTE_P) != 0:
		// already resolved by a racing fault (single-CPU: by a nested
		// call before this one returned); nothing to do.
	default:
		rec.Detail = "unclassified fault"
		faultLog.Push(rec)
		return OutcomeSignal, defs.EFAULT
	}

	rec.Resolved = true
	faultLog.Push(rec)
	invalidate(pageVA)
	return OutcomeResumed, 0
}

// serviceAnon allocates a zeroed frame and maps it with the VMA's
// protection.
func serviceAnon(leaf *Pte, va uintptr, v *Vma_t) defs.Err_t {
	pa, err := mem.Physmem.AllocFrame(defs.F_ANON)
	if err != 0 {
		return err
	}
	*leaf = Pte(pa&mem.PGMASK) | v.pteFlags() | PTE_P
	return 0
}

// serviceFile fetches the covering page from the file's backing and
// maps it. A short read (near EOF) is zero-padded.
func serviceFile(leaf *Pte, va uintptr, v *Vma_t) defs.Err_t {
	pa, err := mem.Physmem.AllocFrame(defs.F_FILE)
	if err != 0 {
		return err
	}
	if v.Backing != nil && v.Backing.Read != nil {
		off := v.FileOffset + int64(va-v.Start)
		buf := mem.Physmem.Dmap8(pa)[:mem.PGSIZE]
		if _, rerr := v.Backing.Read(off, buf); rerr != nil {
			mem.Physmem.FrameRelease(pa)
			return defs.EIO
		}
	}
	*leaf = Pte(pa&mem.PGMASK) | v.pteFlags() | PTE_P
	return 0
}

// serviceCOW allocates a fresh frame, copies the shared page, remaps it
// writable, and drops the old frame's reference.
func serviceCOW(as *As_t, leaf *Pte, va uintptr, v *Vma_t) defs.Err_t {
	oldPA := mem.Pa_t(*leaf & PTE_ADDR)
	if mem.Physmem.Refcnt(oldPA) == 1 {
		// sole owner: no copy needed, just drop COW and make writable.
		*leaf = Pte(oldPA&mem.PGMASK) | (v.pteFlags() &^ PTE_COW) | PTE_P
		return 0
	}
	newPA, err := mem.Physmem.AllocFrame(defs.F_ANON)
	if err != 0 {
		return err
	}
	copy(mem.Physmem.Dmap8(newPA)[:mem.PGSIZE], mem.Physmem.Dmap8(oldPA)[:mem.PGSIZE])
	*leaf = Pte(newPA&mem.PGMASK) | (v.pteFlags() &^ PTE_COW) | PTE_P
	mem.Physmem.FrameRelease(oldPA)
	return 0
}
