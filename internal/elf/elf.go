// Package elf loads an ET_EXEC or ET_DYN image into a freshly
// allocated address space using the standard library's ELF reader for
// parsing, then builds the VMAs and initial stack the loaded program
// expects at entry.
package elf

import (
	"bytes"
	"crypto/rand"
	"debug/elf"
	"encoding/binary"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/vm"
)

// StackTop is the fixed high user address the initial stack grows down
// from.
const StackTop = uintptr(0x0000_7ffff_fff_f000)

// StackSize is the size of the initial stack VMA below StackTop; its
// pages are faulted in on demand.
const StackSize = 8 * 1 << 20

// auxv tag values from the platform ABI.
const (
	AT_NULL   = 0
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_ENTRY  = 9
	AT_RANDOM = 25
	AT_EXECFN = 31
)

// Image describes where execution should resume after a successful
// load.
type Image struct {
	Entry uintptr
	SP    uintptr
}

// fileBacking lets a PT_LOAD segment fault its pages in directly from
// the ELF byte buffer without a real file description.
type fileBacking struct {
	data []byte
}

func (b *fileBacking) read(off int64, buf []byte) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}
	n := copy(buf, b.data[off:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

// Load validates raw, maps its PT_LOAD segments into as, builds the
// initial stack with argv/envp/auxv, and returns the entry point and
// initial stack pointer. On any validation failure as is left with
// nothing inserted.
func Load(as *vm.As_t, raw []byte, argv, envp []string, execfn string) (Image, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return Image{}, defs.ENOEXEC
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Data != elf.ELFDATA2LSB {
		return Image{}, defs.ENOEXEC
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return Image{}, defs.ENOEXEC
	}

	var phdrVA uintptr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := mapSegment(as, raw, prog); err != 0 {
			// as arrives empty, so clearing the user half drops
			// exactly the segments inserted so far.
			as.Region.Remove(0, vm.KernelBase)
			return Image{}, err
		}
	}
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_PHDR {
			phdrVA = uintptr(prog.Vaddr)
		}
	}
	stackBottom := StackTop - StackSize
	as.InsertVMA(&vm.Vma_t{
		Start: stackBottom, End: StackTop,
		Prot: vm.PROT_R | vm.PROT_W, Type: vm.VMA_ANON, Flags: vm.VMA_GROWSDOWN,
	})

	sp, serr := buildStack(as, argv, envp, phdrVA, int(f.FileHeader.Entry), len(f.Progs), execfn)
	if serr != 0 {
		return Image{}, serr
	}

	return Image{Entry: uintptr(f.FileHeader.Entry), SP: sp}, 0
}

func mapSegment(as *vm.As_t, raw []byte, prog *elf.Prog) defs.Err_t {
	var prot vm.Prot_t = vm.PROT_R
	if prog.Flags&elf.PF_W != 0 {
		prot |= vm.PROT_W
	}
	if prog.Flags&elf.PF_X != 0 {
		prot |= vm.PROT_X
	}

	start := uintptr(prog.Vaddr) &^ (uintptr(0xfff))
	end := (uintptr(prog.Vaddr+prog.Memsz) + 0xfff) &^ 0xfff
	if prog.Off > uint64(len(raw)) || prog.Filesz > uint64(len(raw))-prog.Off {
		return defs.ENOEXEC
	}
	segData := raw[prog.Off : prog.Off+prog.Filesz]

	if !vm.PermsOK(start, prot) {
		return defs.ENOEXEC
	}

	v := &vm.Vma_t{
		Start: start, End: end, Prot: prot, Type: vm.VMA_FILE_PRIVATE,
		Backing:    &vm.Backing{Read: (&fileBacking{data: segData}).read, Bytes: int64(len(segData))},
		FileOffset: int64(uintptr(prog.Vaddr) - start),
	}
	as.InsertVMA(v)
	return 0
}

// buildStack lays out argc/argv/envp/auxv at the top of the stack VMA
// per the platform ABI and returns the resulting stack pointer.
func buildStack(as *vm.As_t, argv, envp []string, phdrVA uintptr, entry, phnum int, execfn string) (uintptr, defs.Err_t) {
	var randbuf [16]byte
	rand.Read(randbuf[:])

	var blob bytes.Buffer
	writeStr := func(s string) int64 {
		off := int64(blob.Len())
		blob.WriteString(s)
		blob.WriteByte(0)
		return off
	}
	argvOff := make([]int64, len(argv))
	for i, s := range argv {
		argvOff[i] = writeStr(s)
	}
	envpOff := make([]int64, len(envp))
	for i, s := range envp {
		envpOff[i] = writeStr(s)
	}
	execfnOff := writeStr(execfn)
	randOff := int64(blob.Len())
	blob.Write(randbuf[:])

	blobLen := blob.Len()
	base := StackTop - StackSize/2 // plenty of headroom below the pointer table
	base = base &^ 0xf

	stringsBase := base - uintptr(blobLen)
	stringsBase &^= 0xf

	type auxEnt struct{ tag, val uint64 }
	aux := []auxEnt{
		{AT_PHDR, uint64(phdrVA)},
		{AT_PHENT, 56},
		{AT_PHNUM, uint64(phnum)},
		{AT_PAGESZ, 4096},
		{AT_ENTRY, uint64(entry)},
		{AT_RANDOM, uint64(stringsBase) + uint64(randOff)},
		{AT_EXECFN, uint64(stringsBase) + uint64(execfnOff)},
		{AT_NULL, 0},
	}

	var ptrTable bytes.Buffer
	put64 := func(v uint64) { binary.Write(&ptrTable, binary.LittleEndian, v) }
	put64(uint64(len(argv)))
	for _, o := range argvOff {
		put64(uint64(stringsBase) + uint64(o))
	}
	put64(0)
	for _, o := range envpOff {
		put64(uint64(stringsBase) + uint64(o))
	}
	put64(0)
	for _, a := range aux {
		put64(a.tag)
		put64(a.val)
	}

	sp := stringsBase - uintptr(ptrTable.Len())
	sp &^= 0xf

	ub := vm.NewUserbuf(as, stringsBase, blobLen, true)
	if _, err := ub.CopyOut(blob.Bytes()); err != 0 {
		return 0, err
	}
	ub2 := vm.NewUserbuf(as, sp, ptrTable.Len(), true)
	if _, err := ub2.CopyOut(ptrTable.Bytes()); err != 0 {
		return 0, err
	}
	return sp, 0
}
