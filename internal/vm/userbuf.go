package vm

import (
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/mem"
)

// Userbuf_t copies bytes between kernel memory and a user virtual
// address range, page by page, triggering the fault handler as needed
// and stopping cleanly at the first page that cannot be made present
// (bad address, permission mismatch) rather than touching memory it
// isn't entitled to.
type Userbuf_t struct {
	as       *As_t
	userva   uintptr
	remain   int
	writable bool // true for a copy-out (kernel -> user) destination
}

// Fakeubuf_t adapts an in-kernel []byte to the same interface, used by
// syscall handlers exercising paths that would otherwise copy to/from
// user memory (the console device, /dev/null, kernel-internal callers).
type Fakeubuf_t struct {
	buf []byte
	off int
}

// Useriovec_t is one entry of a scatter/gather copy request, mirroring
// the layout a user process passes to readv/writev.
type Useriovec_t struct {
	Base uintptr
	Len  int
}

// NewUserbuf builds a copy helper bound to one address space and range.
func NewUserbuf(as *As_t, va uintptr, length int, writable bool) *Userbuf_t {
	return &Userbuf_t{as: as, userva: va, remain: length, writable: writable}
}

func NewFakeubuf(buf []byte) *Fakeubuf_t { return &Fakeubuf_t{buf: buf} }

// Remain reports how many bytes are left to transfer.
func (u *Userbuf_t) Remain() int { return u.remain }

// CopyOut copies len(src) bytes from kernel memory src to the user
// range, touching each destination page through the fault handler
// before writing to it so copy-on-write and demand-zero pages get
// faulted in exactly as a real store instruction would.
func (u *Userbuf_t) CopyOut(src []byte) (int, defs.Err_t) {
	return u.transfer(src, true)
}

// CopyIn copies len(dst) bytes from the user range into kernel memory
// dst.
func (u *Userbuf_t) CopyIn(dst []byte) (int, defs.Err_t) {
	return u.transfer(dst, false)
}

// transfer walks page by page; toUser selects direction. On a fault it
// retries the same page once after Handle resolves it, then gives up —
// a second fault on the same access means the address is not one the
// process is entitled to touch.
func (u *Userbuf_t) transfer(buf []byte, toUser bool) (int, defs.Err_t) {
	n := len(buf)
	if n > u.remain {
		n = u.remain
	}
	done := 0
	for done < n {
		pageOff := int(u.userva) & (mem.PGSIZE - 1)
		chunk := mem.PGSIZE - pageOff
		if chunk > n-done {
			chunk = n - done
		}

		access := AccessRead
		if toUser {
			access = AccessWrite
		}
		leaf, err := walk(u.as.Root, u.userva, false)
		if err != 0 || leaf == nil || *leaf&Pte(PTE_P) == 0 ||
			(toUser && *leaf&Pte(PTE_COW) != 0) {
			if _, ferr := Handle(u.as, u.userva, access, true, leaf != nil && *leaf&Pte(PTE_P) != 0); ferr != 0 {
				return done, defs.EFAULT
			}
			leaf, err = walk(u.as.Root, u.userva, false)
			if err != 0 || leaf == nil || *leaf&Pte(PTE_P) == 0 {
				return done, defs.EFAULT
			}
		}

		pa := mem.Pa_t(*leaf&PTE_ADDR) + mem.Pa_t(pageOff)
		page := mem.Physmem.Dmap8(pa)[:chunk]
		if toUser {
			copy(page, buf[done:done+chunk])
		} else {
			copy(buf[done:done+chunk], page)
		}

		done += chunk
		u.userva += uintptr(chunk)
		u.remain -= chunk
	}
	return done, 0
}

func (f *Fakeubuf_t) CopyOut(src []byte) (int, defs.Err_t) {
	n := copy(f.buf[f.off:], src)
	f.off += n
	return n, 0
}

func (f *Fakeubuf_t) CopyIn(dst []byte) (int, defs.Err_t) {
	n := copy(dst, f.buf[f.off:])
	f.off += n
	return n, 0
}

func (f *Fakeubuf_t) Remain() int { return len(f.buf) - f.off }
