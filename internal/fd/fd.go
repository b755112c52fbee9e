// Package fd implements the per-process file descriptor table entry
// and current-working-directory tracking shared by every open
// descriptor, regardless of what backs it.
package fd

import (
	"sync"

	"github.com/chris17453/watos/internal/bpath"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/ustr"
)

// Permission bits recorded alongside an open descriptor.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t is one entry of a process's file descriptor table. Offset is
// owned here, not by the backing Fdops_i: descriptors that refer to the
// same Fd_t (a table shared with CLONE_FILES, or fds 0-2 bound to one
// stdio entry) share the cursor, while a Copyfd duplicate and
// descriptors opened independently (even of the same path) each have
// their own.
type Fd_t struct {
	sync.Mutex
	Fops   fdops.Fdops_i
	Perms  int
	Offset int64
	Append bool // O_APPEND: every write reseeks to EOF first, regardless of Offset
}

// Copyfd duplicates an open file descriptor by reopening its
// underlying file description, used by dup/dup2 and by clone(2) when
// the fd table is copied rather than shared.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	f.Lock()
	nf := &Fd_t{Fops: f.Fops, Perms: f.Perms, Offset: f.Offset, Append: f.Append}
	f.Unlock()
	if err := nf.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nf, 0
}

// ClosePanic closes a descriptor whose close is expected to always
// succeed (an internally-held fd, not one a user holds the last
// reference to); a failure here is a kernel invariant violation.
func ClosePanic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close must succeed")
	}
}

// Cwd_t tracks one process's current working directory.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p when p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

// Canonicalpath resolves p relative to cwd and lexically cleans it.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd builds a Cwd_t rooted at "/", backed by fd.
func MkRootCwd(f *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: f, Path: ustr.MkUstrRoot()}
}
