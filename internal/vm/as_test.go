package vm

import (
	"testing"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
)

// initPhysForTest resets the global frame allocator with nframes free
// 4 KiB frames, enough for one test's page-table and data pages.
func initPhysForTest(t *testing.T, nframes int) {
	t.Helper()
	phys := mem.Init(nframes*mem.PGSIZE, 0)
	phys.Release(0, nframes)
}

func TestBrkGrowsAndShrinks(t *testing.T) {
	initPhysForTest(t, 64)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	end, err := as.Brk(mem.PGSIZE * 2)
	if err != 0 {
		t.Fatalf("Brk grow: %s", err)
	}
	if end != mem.PGSIZE*2 {
		t.Fatalf("Brk returned %#x, want %#x", end, mem.PGSIZE*2)
	}
	if v, ok := as.Region.Lookup(mem.PGSIZE); !ok || v.Type != VMA_ANON {
		t.Fatalf("brk region should be a mapped anon VMA")
	}
	end, err = as.Brk(mem.PGSIZE)
	if err != 0 {
		t.Fatalf("Brk shrink: %s", err)
	}
	if end != mem.PGSIZE {
		t.Fatalf("Brk after shrink = %#x, want %#x", end, mem.PGSIZE)
	}
	if _, ok := as.Region.Lookup(mem.PGSIZE + 100); ok {
		t.Fatalf("shrunk-away range should no longer be covered")
	}
}

func TestMmapAnonThenMunmap(t *testing.T) {
	initPhysForTest(t, 64)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	addr, err := as.MmapAnon(0, mem.PGSIZE, PROT_R|PROT_W)
	if err != 0 {
		t.Fatalf("MmapAnon: %s", err)
	}
	if _, ok := as.Region.Lookup(addr); !ok {
		t.Fatalf("mapped range should be present in the region")
	}
	outcome, ferr := Handle(as, addr, AccessWrite, true, false)
	if outcome != OutcomeResumed || ferr != 0 {
		t.Fatalf("first touch of a fresh anon mapping should resume cleanly, got %v/%s", outcome, ferr)
	}
	if err := as.Munmap(addr, mem.PGSIZE); err != 0 {
		t.Fatalf("Munmap: %s", err)
	}
	if _, ok := as.Region.Lookup(addr); ok {
		t.Fatalf("unmapped range should no longer be covered")
	}
}

func TestMprotectFlipsFaultOutcome(t *testing.T) {
	initPhysForTest(t, 64)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	addr, err := as.MmapAnon(0, mem.PGSIZE, PROT_R|PROT_W)
	if err != 0 {
		t.Fatalf("MmapAnon: %s", err)
	}
	if _, ferr := Handle(as, addr, AccessWrite, true, false); ferr != 0 {
		t.Fatalf("initial write fault: %s", ferr)
	}
	if err := as.Mprotect(addr, mem.PGSIZE, PROT_R); err != 0 {
		t.Fatalf("Mprotect: %s", err)
	}
	outcome, ferr := Handle(as, addr, AccessWrite, true, true)
	if outcome != OutcomeSignal || ferr != defs.EFAULT {
		t.Fatalf("write after Mprotect(PROT_R) should signal EFAULT, got %v/%s", outcome, ferr)
	}
}

func TestCloneASSharesCOWUntilWrite(t *testing.T) {
	initPhysForTest(t, 64)
	parent, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	addr, err := parent.MmapAnon(0, mem.PGSIZE, PROT_R|PROT_W)
	if err != 0 {
		t.Fatalf("MmapAnon: %s", err)
	}
	if _, ferr := Handle(parent, addr, AccessWrite, true, false); ferr != 0 {
		t.Fatalf("parent write fault: %s", ferr)
	}
	parentLeaf, _, werr := Walk(parent.Root, addr, false)
	if werr != 0 || parentLeaf == nil {
		t.Fatalf("expected a present leaf in the parent after the fault")
	}
	parentPA := mem.Pa_t(*parentLeaf & PTE_ADDR)

	child, err := CloneAS(parent)
	if err != 0 {
		t.Fatalf("CloneAS: %s", err)
	}
	if mem.Physmem.Refcnt(parentPA) != 2 {
		t.Fatalf("CloneAS should bump the shared frame's refcount to 2, got %d", mem.Physmem.Refcnt(parentPA))
	}

	// Writing through the child must copy rather than mutate the
	// parent's frame.
	outcome, ferr := Handle(child, addr, AccessWrite, true, true)
	if outcome != OutcomeResumed || ferr != 0 {
		t.Fatalf("child COW write fault: %v/%s", outcome, ferr)
	}
	childLeaf, _, werr := Walk(child.Root, addr, false)
	if werr != 0 || childLeaf == nil {
		t.Fatalf("expected a present leaf in the child after its COW fault")
	}
	childPA := mem.Pa_t(*childLeaf & PTE_ADDR)
	if childPA == parentPA {
		t.Fatalf("child's post-COW frame must differ from the parent's")
	}
	if mem.Physmem.Refcnt(parentPA) != 1 {
		t.Fatalf("parent's frame should be sole-owned again after the child's copy, got refcnt %d", mem.Physmem.Refcnt(parentPA))
	}
}
