// Package boot models the handoff from firmware/bootloader to the
// kernel proper: the physical memory map, the kernel image's own
// bounds, and a source of boot-time randomness. cmd/watos consumes an
// Info value to bring up internal/mem and internal/proc before
// spawning the first process.
package boot

import (
	"crypto/rand"
	"fmt"

	"github.com/chris17453/watos/internal/mem"
	"github.com/chris17453/watos/internal/vm"
)

// RangeType classifies one entry of the firmware-provided memory map.
type RangeType int

const (
	RangeUsable RangeType = iota
	RangeReserved
	RangeACPIReclaim
	RangeACPINVS
	RangeBad
)

// MemRange is one entry of the firmware memory map, in the same shape
// a UEFI GetMemoryMap call or multiboot mmap tag would hand the kernel.
type MemRange struct {
	Start mem.Pa_t
	Len   mem.Pa_t
	Type  RangeType
}

// Framebuffer describes the linear framebuffer UEFI GOP (or an
// equivalent) handed off, if any. Width/Height/Pitch are in pixels and
// bytes respectively; a zero Base means no framebuffer was provided.
type Framebuffer struct {
	Base          mem.Pa_t
	Width, Height int
	Pitch         int
	BitsPerPixel  int
}

// Info is everything the kernel needs from its loader before it can
// start managing memory and scheduling processes.
type Info struct {
	MemMap      []MemRange
	KernelStart mem.Pa_t
	KernelEnd   mem.Pa_t
	RAMBase     mem.Pa_t // physical base of the range Init reserves for itself
	RAMSize     int
	Framebuffer Framebuffer
	RandomSeed  [32]byte
}

// NewRandomSeed draws the boot-time entropy pool real firmware (a UEFI
// RNG protocol, or a CPU RDRAND fallback) would provide; the host
// harness has neither, so this reads the same entropy a real
// implementation would eventually mix in.
func NewRandomSeed() [32]byte {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("boot: failed to read random seed: " + err.Error())
	}
	return seed
}

// Apply brings up the physical frame allocator against Info's memory
// map: it reserves the whole RAM range by default (mem.Init's
// contract), then releases exactly the ranges the firmware map marks
// usable, and finally re-reserves the kernel image's own footprint so
// the allocator never hands out a frame the kernel is still using.
func Apply(info Info) *mem.Physmem_t {
	phys := mem.Init(info.RAMSize, info.RAMBase)
	for _, r := range info.MemMap {
		if r.Type == RangeUsable {
			phys.Release(r.Start, int(r.Len)/mem.PGSIZE)
		}
	}
	klen := info.KernelEnd - info.KernelStart
	phys.Reserve(info.KernelStart, klen, "kernel image")
	return phys
}

// BuildKernelPML4 allocates the page-table root every address space's
// kernel half is copied from. With no real higher-half kernel mapping
// to install (the host harness keeps the kernel's own data in ordinary
// Go memory, not in a mapped virtual range), this is simply a stable,
// shared, otherwise-empty root that NewAS/CloneAS copy forward.
func BuildKernelPML4() (mem.Pa_t, error) {
	root, err := vm.NewRoot(0)
	if err != 0 {
		return 0, fmt.Errorf("boot: allocating kernel PML4: %s", err)
	}
	return root, nil
}
