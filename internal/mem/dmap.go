// dmap.go provides the "direct map": a host-addressable view of each
// physical frame. On real hardware this is a fixed virtual alias of all
// of physical RAM; here RAM is a single host byte slice (mem.ram,
// allocated in Init) and Dmap/Dmap8 just slice into it.
package mem

import "unsafe"

// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]byte

// Pmap_t is a page-table page: 512 64-bit entries.
type Pmap_t [512]uint64

// Dmap8 returns the frame's bytes as a slice from p to the end of p's
// frame (p need not be frame-aligned).
func (phys *Physmem_t) Dmap8(p Pa_t) []byte {
	off := int(p - phys.base)
	if off < 0 || off >= len(phys.ram) {
		panic("mem: dmap address out of range")
	}
	end := off + PGSIZE - int(p&PGOFFSET)
	if end > len(phys.ram) {
		end = len(phys.ram)
	}
	return phys.ram[off:end]
}

// Dmap returns the frame containing p as a *Bytepg_t.
func (phys *Physmem_t) Dmap(p Pa_t) *Bytepg_t {
	b := phys.Dmap8(p.Frame())
	return (*Bytepg_t)(unsafe.Pointer(&b[0]))
}

// DmapPmap returns the frame containing p interpreted as a page-table
// page.
func (phys *Physmem_t) DmapPmap(p Pa_t) *Pmap_t {
	b := phys.Dmap8(p.Frame())
	return (*Pmap_t)(unsafe.Pointer(&b[0]))
}

// Contains reports whether p falls within the managed RAM range, used
// by callers validating a physical address before walking it.
func (phys *Physmem_t) Contains(p Pa_t) bool {
	off := int(p - phys.base)
	return off >= 0 && off < len(phys.ram)
}
