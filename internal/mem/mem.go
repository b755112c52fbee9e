// Package mem implements the physical frame allocator: it owns
// physical RAM, hands out zeroed 4 KiB frames with a refcount of 1, and
// reclaims them when the refcount returns to zero. This core targets a
// single CPU, so one free list plus one mutex is sufficient; physical
// RAM itself is a host-allocated byte slice standing in for the real
// thing (see mem/dmap.go).
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chris17453/watos/internal/defs"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a frame in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = PGSIZE - 1

// PGMASK masks the frame number of an address.
const PGMASK Pa_t = ^PGOFFSET

// Pa_t is a physical address.
type Pa_t uintptr

// Frame returns the frame-aligned base of address p.
func (p Pa_t) Frame() Pa_t { return p &^ PGOFFSET }

func pgn(p Pa_t) uint32 { return uint32(p >> PGSHIFT) }

// Physpg_t is the per-frame metadata record.
type Physpg_t struct {
	Refcnt int32
	Tag    defs.Ftag_t
	Owner  int64 // debug-only hint (PID or subsystem tag); never authoritative
	nexti  uint32
}

// Reservation records a range reserved at boot (firmware map, kernel
// image, MMIO) along with why, for audit and debugging.
type Reservation struct {
	Start, Len Pa_t
	Reason     string
}

// Physmem_t is the global physical memory manager.
type Physmem_t struct {
	sync.Mutex
	ram          []byte // host stand-in for physical RAM, see dmap.go
	base         Pa_t   // physical address corresponding to ram[0]
	Pgs          []Physpg_t
	startn       uint32
	freei        uint32 // index into Pgs of first free page, ^0 if none
	freelen      int32
	reservations []Reservation
}

// Physmem is the single global frame allocator instance.
var Physmem = &Physmem_t{}

// Init reserves `total` bytes of host memory to stand in for physical
// RAM and marks every frame `reserved` until freed by the caller during
// the boot sequence, once firmware-map parsing identifies usable
// ranges.
func Init(totalBytes int, base Pa_t) *Physmem_t {
	phys := Physmem
	phys.ram = make([]byte, totalBytes)
	phys.base = base
	n := totalBytes / PGSIZE
	phys.Pgs = make([]Physpg_t, n)
	phys.startn = pgn(base)
	phys.freei = ^uint32(0)
	phys.freelen = 0
	for i := range phys.Pgs {
		phys.Pgs[i].Tag = defs.F_RESERVED
		phys.Pgs[i].Refcnt = 0
	}
	fmt.Printf("mem: reserved %d frames (%d MiB)\n", n, totalBytes>>20)
	return phys
}

// idx returns the Pgs index for a physical address, panicking on a
// kernel invariant violation (address outside the managed range is a
// programming bug, not a recoverable user error).
func (phys *Physmem_t) idx(p Pa_t) uint32 {
	i := pgn(p.Frame()) - phys.startn
	if int(i) >= len(phys.Pgs) {
		panic("mem: address outside managed range")
	}
	return i
}

// Release frees `n` reserved frames starting at `start` into the free
// pool; a page becomes free only through this path or FrameRelease.
func (phys *Physmem_t) Release(start Pa_t, n int) {
	phys.Lock()
	defer phys.Unlock()
	for i := 0; i < n; i++ {
		idx := phys.idx(start + Pa_t(i*PGSIZE))
		phys.Pgs[idx].Tag = defs.F_FREE
		phys.Pgs[idx].Refcnt = 0
		phys.pushFree(idx)
	}
}

func (phys *Physmem_t) pushFree(idx uint32) {
	phys.Pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
}

func (phys *Physmem_t) popFree() (uint32, bool) {
	if phys.freei == ^uint32(0) {
		return 0, false
	}
	idx := phys.freei
	phys.freei = phys.Pgs[idx].nexti
	phys.freelen--
	return idx, true
}

// Reserve marks [start, start+len) unavailable to the allocator, for
// firmware, the kernel image, or MMIO.
func (phys *Physmem_t) Reserve(start, length Pa_t, reason string) {
	phys.Lock()
	defer phys.Unlock()
	n := int(util_roundup(length)) / PGSIZE
	for i := 0; i < n; i++ {
		idx := phys.idx(start + Pa_t(i*PGSIZE))
		phys.Pgs[idx].Tag = defs.F_RESERVED
	}
	// Unlink the newly reserved frames from the free list.
	prev := ^uint32(0)
	for i := phys.freei; i != ^uint32(0); i = phys.Pgs[i].nexti {
		if phys.Pgs[i].Tag == defs.F_FREE {
			prev = i
			continue
		}
		if prev == ^uint32(0) {
			phys.freei = phys.Pgs[i].nexti
		} else {
			phys.Pgs[prev].nexti = phys.Pgs[i].nexti
		}
		phys.freelen--
	}
	phys.reservations = append(phys.reservations, Reservation{start, length, reason})
}

func util_roundup(l Pa_t) Pa_t {
	return (l + PGOFFSET) &^ PGOFFSET
}

// AllocFrame hands out a zeroed frame of the requested type with
// refcount 1, or (0, OutOfMemory). Zeroing happens here, eagerly, on
// every allocation rather than lazily deferred to the free path.
func (phys *Physmem_t) AllocFrame(tag defs.Ftag_t) (Pa_t, defs.Err_t) {
	phys.Lock()
	idx, ok := phys.popFree()
	phys.Unlock()
	if !ok {
		return 0, defs.ENOMEM
	}
	phys.Pgs[idx].Refcnt = 1
	phys.Pgs[idx].Tag = tag
	pa := Pa_t(idx+phys.startn) << PGSHIFT
	clear(phys.Dmap8(pa))
	return pa, 0
}

// FrameRetain increments a frame's refcount. It is an error to retain a
// frame that isn't currently allocated (refcount 0).
func (phys *Physmem_t) FrameRetain(p Pa_t) defs.Err_t {
	idx := phys.idx(p)
	for {
		old := atomic.LoadInt32(&phys.Pgs[idx].Refcnt)
		if old <= 0 {
			return defs.EINVFRAME
		}
		if atomic.CompareAndSwapInt32(&phys.Pgs[idx].Refcnt, old, old+1) {
			return 0
		}
	}
}

// FrameRelease decrements a frame's refcount, returning it to the free
// pool when it reaches zero. It never underflows: decrementing an
// already-free frame is a kernel invariant violation.
func (phys *Physmem_t) FrameRelease(p Pa_t) {
	idx := phys.idx(p)
	c := atomic.AddInt32(&phys.Pgs[idx].Refcnt, -1)
	if c < 0 {
		panic("mem: frame refcount underflow")
	}
	if c == 0 {
		phys.Lock()
		phys.Pgs[idx].Tag = defs.F_FREE
		phys.pushFree(idx)
		phys.Unlock()
	}
}

// Refcnt reports a frame's current reference count.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	return int(atomic.LoadInt32(&phys.Pgs[phys.idx(p)].Refcnt))
}

// Tag reports a frame's current type tag.
func (phys *Physmem_t) Tag(p Pa_t) defs.Ftag_t {
	return phys.Pgs[phys.idx(p)].Tag
}

// SetOwner records the debug-only owner hint for a frame.
func (phys *Physmem_t) SetOwner(p Pa_t, owner int64) {
	phys.Pgs[phys.idx(p)].Owner = owner
}

// Stats_t summarizes the allocator's current frame usage.
type Stats_t struct {
	Total, Free int
	InUse       map[defs.Ftag_t]int
}

// Stats reports total/free frame counts and a breakdown of in-use frames
// by type tag.
func (phys *Physmem_t) Stats() Stats_t {
	phys.Lock()
	defer phys.Unlock()
	st := Stats_t{Total: len(phys.Pgs), Free: int(phys.freelen), InUse: map[defs.Ftag_t]int{}}
	for i := range phys.Pgs {
		if phys.Pgs[i].Tag != defs.F_FREE {
			st.InUse[phys.Pgs[i].Tag]++
		}
	}
	return st
}
