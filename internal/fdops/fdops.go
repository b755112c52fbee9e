// Package fdops defines the operations every open file description
// must implement, independent of what backs it (a WFSv3 inode, the
// console, /dev/null, a pipe, a raw disk). internal/wfs and
// internal/console provide concrete implementations, which internal/vfs
// wraps to count open files per mount; internal/proc's file descriptor
// table holds fd.Fd_t entries, each carrying one of these.
package fdops

import (
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/vm"
)

// Fdops_i is the set of operations an open file description supports.
// Every method returns an Err_t rather than a Go error so it can cross
// the syscall boundary directly.
type Fdops_i interface {
	Read(dst Copier, offset int64) (int, defs.Err_t)
	Write(src Copier, offset int64, append bool) (int, defs.Err_t)
	Lseek(off int64, whence int) (int64, defs.Err_t)
	Reopen() defs.Err_t
	Close() defs.Err_t
	Fstat(*Stat_t) defs.Err_t
	Truncate(newlen uint) defs.Err_t
	Readdir() ([]Dirent_t, defs.Err_t)
	Pathi() Inum_t
}

// Copier abstracts a copy-in/copy-out endpoint: a real user buffer
// (vm.Userbuf_t) or an in-kernel stand-in (vm.Fakeubuf_t), exactly the
// pair internal/vm exposes.
type Copier interface {
	CopyOut(src []byte) (int, defs.Err_t)
	CopyIn(dst []byte) (int, defs.Err_t)
	Remain() int
}

var (
	_ Copier = (*vm.Userbuf_t)(nil)
	_ Copier = (*vm.Fakeubuf_t)(nil)
)

// Inum_t identifies a file uniquely within its filesystem, used for
// fstat's device/inode pair.
type Inum_t int

// Dirent_t is one directory entry, the format an open directory's
// Readdir hands back; vfs.Dirent_t is this same type, kept as one
// definition here so fdops does not need to import vfs to describe it.
type Dirent_t struct {
	Name string
	Inum Inum_t
	Type defs.Ftype_t
}

// Stat_t is the syscall-visible file metadata record.
type Stat_t struct {
	Dev, Ino int
	Mode     uint32
	Size     int64
	Type     defs.Ftype_t
}

