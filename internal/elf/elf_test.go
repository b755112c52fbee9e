package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
	"github.com/chris17453/watos/internal/vm"
)

const (
	elfclass64    = 2
	elfdata2lsb   = 1
	evCurrent     = 1
	etExec        = 2
	emX86_64      = 62
	ptLoad        = 1
	pfX           = 1
	pfW           = 2
	pfR           = 4
	ehdrSize      = 64
	phdrEntrySize = 56
)

// buildMinimalELF assembles a one-segment ET_EXEC ELF64 image by hand:
// a single PT_LOAD segment mapping payload at vaddr,
// readable and executable, entry point at vaddr.
func buildMinimalELF(t *testing.T, vaddr uint64, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', elfclass64, elfdata2lsb, evCurrent}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(etExec))
	binary.Write(&buf, binary.LittleEndian, uint16(emX86_64))
	binary.Write(&buf, binary.LittleEndian, uint32(evCurrent))
	binary.Write(&buf, binary.LittleEndian, uint64(vaddr)) // e_entry
	binary.Write(&buf, binary.LittleEndian, uint64(ehdrSize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))        // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))        // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrEntrySize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	segOff := uint64(ehdrSize + phdrEntrySize)
	binary.Write(&buf, binary.LittleEndian, uint32(ptLoad))
	binary.Write(&buf, binary.LittleEndian, uint32(pfR|pfX))
	binary.Write(&buf, binary.LittleEndian, segOff)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr) // p_paddr, unused
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint64(mem.PGSIZE))

	buf.Write(payload)
	return buf.Bytes()
}

func initPhysForTest(t *testing.T, nframes int) {
	t.Helper()
	phys := mem.Init(nframes*mem.PGSIZE, 0)
	phys.Release(0, nframes)
}

func TestLoadRejectsGarbage(t *testing.T) {
	initPhysForTest(t, 32)
	as, err := vm.NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	if _, lerr := Load(as, []byte("not an elf file"), nil, nil, ""); lerr != defs.ENOEXEC {
		t.Fatalf("Load of garbage = %s, want ENOEXEC", lerr)
	}
}

func TestLoadMapsSegmentAndBuildsStack(t *testing.T) {
	initPhysForTest(t, 64)
	as, err := vm.NewAS(0)
	if err != 0 {
		t.Fatalf("NewAS: %s", err)
	}
	const vaddr = 0x400000
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw := buildMinimalELF(t, vaddr, payload)

	img, lerr := Load(as, raw, []string{"init", "-x"}, []string{"HOME=/"}, "init")
	if lerr != 0 {
		t.Fatalf("Load: %s", lerr)
	}
	if img.Entry != vaddr {
		t.Fatalf("Entry = %#x, want %#x", img.Entry, vaddr)
	}
	if img.SP == 0 {
		t.Fatalf("expected a non-zero initial stack pointer")
	}

	if _, ok := as.Region.Lookup(vaddr); !ok {
		t.Fatalf("expected a VMA covering the loaded segment")
	}
	if _, ok := as.Region.Lookup(StackTop - 1); !ok {
		t.Fatalf("expected the stack VMA to cover the top of the address space")
	}

	outcome, ferr := vm.Handle(as, vaddr, vm.AccessRead, true, false)
	if outcome != vm.OutcomeResumed || ferr != 0 {
		t.Fatalf("faulting in the loaded segment: %v/%s", outcome, ferr)
	}
	leaf, _, werr := vm.Walk(as.Root, vaddr, false)
	if werr != 0 || leaf == nil {
		t.Fatalf("expected a present leaf after the fault")
	}
	pa := mem.Pa_t(*leaf & vm.PTE_ADDR)
	got := mem.Physmem.Dmap8(pa)[:len(payload)]
	if !bytes.Equal(got, payload) {
		t.Fatalf("segment content mismatch after fault-in")
	}
}
