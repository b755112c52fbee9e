package vm

import (
	"testing"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
)

func TestHandleKernelModeFaultPanics(t *testing.T) {
	initPhysForTest(t, 16)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	outcome, ferr := Handle(as, 0x1000, AccessRead, false, false)
	if outcome != OutcomePanic || ferr != defs.EFAULT {
		t.Fatalf("kernel-mode fault should panic, got %v/%s", outcome, ferr)
	}
}

func TestHandleNoVMASignals(t *testing.T) {
	initPhysForTest(t, 16)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	outcome, ferr := Handle(as, 0x9000, AccessRead, true, false)
	if outcome != OutcomeSignal || ferr != defs.EFAULT {
		t.Fatalf("fault with no covering VMA should signal EFAULT, got %v/%s", outcome, ferr)
	}
}

func TestHandleExecOfNonExecutableSignals(t *testing.T) {
	initPhysForTest(t, 16)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	addr, err := as.MmapAnon(0, mem.PGSIZE, PROT_R|PROT_W)
	if err != 0 {
		t.Fatalf("MmapAnon: %s", err)
	}
	outcome, ferr := Handle(as, addr, AccessExec, true, false)
	if outcome != OutcomeSignal || ferr != defs.EFAULT {
		t.Fatalf("exec of a non-executable VMA should signal EFAULT, got %v/%s", outcome, ferr)
	}
}

func TestHandleFileBackedShortReadZeroPads(t *testing.T) {
	initPhysForTest(t, 16)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	src := []byte("hello")
	backing := &Backing{
		Bytes: int64(len(src)),
		Read: func(off int64, buf []byte) (int, error) {
			if off >= int64(len(src)) {
				return 0, nil
			}
			n := copy(buf, src[off:])
			return n, nil
		},
	}
	addr := uintptr(0x40000)
	as.InsertVMA(&Vma_t{Start: addr, End: addr + mem.PGSIZE, Prot: PROT_R, Type: VMA_FILE_PRIVATE, Backing: backing})

	outcome, ferr := Handle(as, addr, AccessRead, true, false)
	if outcome != OutcomeResumed || ferr != 0 {
		t.Fatalf("file-backed fault should resume cleanly, got %v/%s", outcome, ferr)
	}
	leaf, _, werr := Walk(as.Root, addr, false)
	if werr != 0 || leaf == nil {
		t.Fatalf("expected a present leaf after servicing the file-backed fault")
	}
	pa := mem.Pa_t(*leaf & PTE_ADDR)
	page := mem.Physmem.Dmap8(pa)
	if string(page[:len(src)]) != string(src) {
		t.Fatalf("page content = %q, want %q", page[:len(src)], src)
	}
	for i := len(src); i < mem.PGSIZE; i++ {
		if page[i] != 0 {
			t.Fatalf("byte %d past the short read should be zero-padded, got %#x", i, page[i])
		}
	}
}

func TestHandleWriteToReadOnlyVMASignals(t *testing.T) {
	initPhysForTest(t, 16)
	as, err := NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	addr, err := as.MmapAnon(0, mem.PGSIZE, PROT_R)
	if err != 0 {
		t.Fatalf("MmapAnon: %s", err)
	}
	outcome, ferr := Handle(as, addr, AccessWrite, true, false)
	if outcome != OutcomeSignal || ferr != defs.EFAULT {
		t.Fatalf("write to a read-only VMA should signal EFAULT, got %v/%s", outcome, ferr)
	}
}
