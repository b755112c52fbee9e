// Package vfs implements the mount table and path resolver shared by
// every filesystem mounted into the single global namespace: it walks
// path components one at a time, follows symlinks up to a bounded
// depth, crosses mount points, and translates the result into an open
// file descriptor backed by whichever filesystem owns the target path.
package vfs

import (
	"sync"

	"github.com/chris17453/watos/internal/bpath"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/limits"
	"github.com/chris17453/watos/internal/ustr"
)

// Inum_t identifies a file within the filesystem that owns it; the
// same type fdops.Stat_t's Ino field carries across the syscall
// boundary.
type Inum_t = fdops.Inum_t

// Dirent_t is one entry returned by Readdir.
type Dirent_t = fdops.Dirent_t

// Filesystem_i is the operation set a mounted filesystem implements.
// Every path-shaped argument is already canonicalized and relative to
// the filesystem's own root; vfs handles cross-mount traversal and
// symlink-following above this boundary.
type Filesystem_i interface {
	Root() Inum_t
	Lookup(dir Inum_t, name string) (Inum_t, defs.Ftype_t, defs.Err_t)
	Open(inum Inum_t, flags int) (fdops.Fdops_i, defs.Err_t)
	Create(dir Inum_t, name string, mode uint32) (Inum_t, defs.Err_t)
	Mkdir(dir Inum_t, name string, mode uint32) (Inum_t, defs.Err_t)
	Unlink(dir Inum_t, name string) defs.Err_t
	Rmdir(dir Inum_t, name string) defs.Err_t
	Rename(oldDir Inum_t, oldName string, newDir Inum_t, newName string) defs.Err_t
	Symlink(dir Inum_t, name, target string) defs.Err_t
	Readlink(inum Inum_t) (string, defs.Err_t)
	Readdir(dir Inum_t) ([]Dirent_t, defs.Err_t)
	Stat(inum Inum_t, st *fdops.Stat_t) defs.Err_t
	Sync() defs.Err_t
	Unmount() defs.Err_t
}

// Mount_t is one entry of the mount table: a filesystem grafted onto a
// canonical absolute path.
type Mount_t struct {
	Path      ustr.Ustr
	Fs        Filesystem_i
	ReadOnly  bool
	openFiles int // outstanding fds rooted under this mount; Unmount refuses while > 0
}

// Table_t is the single global mount table; lookups pick the longest
// matching mount path when paths overlap (e.g. "/" and "/mnt").
type Table_t struct {
	sync.Mutex
	mounts []*Mount_t
}

// Table is the kernel's single mount namespace.
var Table = &Table_t{}

// Mount grafts fs onto path, which must already be canonical. Mounting
// over a path that is already a mount point, or mounting before "/"
// exists for any non-root path, is rejected.
func (t *Table_t) Mount(path ustr.Ustr, fs Filesystem_i, readOnly bool) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	for _, m := range t.mounts {
		if m.Path.Eq(path) {
			return defs.EEXIST
		}
	}
	if !path.Eq(ustr.MkUstrRoot()) && t.findLocked(ustr.MkUstrRoot()) == nil {
		return defs.EINVAL
	}
	t.mounts = append(t.mounts, &Mount_t{Path: path, Fs: fs, ReadOnly: readOnly})
	return 0
}

// Unmount removes the mount at path, refusing while any fd opened
// through it remains outstanding.
func (t *Table_t) Unmount(path ustr.Ustr) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	for i, m := range t.mounts {
		if !m.Path.Eq(path) {
			continue
		}
		if m.openFiles > 0 {
			return defs.EBUSY
		}
		if err := m.Fs.Unmount(); err != 0 {
			return err
		}
		t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
		return 0
	}
	return defs.ENOENT
}

// findLocked returns the mount with the longest path prefix of p, or
// nil if no mount covers p (only possible before root is mounted).
func (t *Table_t) findLocked(p ustr.Ustr) *Mount_t {
	var best *Mount_t
	bestLen := -1
	for _, m := range t.mounts {
		if isPrefix(m.Path, p) && len(m.Path) > bestLen {
			best = m
			bestLen = len(m.Path)
		}
	}
	return best
}

func isPrefix(prefix, p ustr.Ustr) bool {
	if prefix.Eq(ustr.MkUstrRoot()) {
		return true
	}
	if len(p) < len(prefix) {
		return false
	}
	if !ustr.Ustr(p[:len(prefix)]).Eq(prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// resolved names one file found during resolution: which mount and
// filesystem-local inode it lives at.
type resolved struct {
	mount *Mount_t
	inum  Inum_t
	ftype defs.Ftype_t
}

// resolve walks the canonical absolute path full, following symlinks
// up to limits.Syslimit.MaxSymlinks times. When nofollowLast is true, a
// symlink at the final component is returned unresolved (the stat/
// lstat/readlink/rename distinction).
func resolve(full ustr.Ustr, nofollowLast bool) (resolved, defs.Err_t) {
	return resolveDepth(full, nofollowLast, 0)
}

func resolveDepth(full ustr.Ustr, nofollowLast bool, depth int) (resolved, defs.Err_t) {
	if depth > limits.Syslimit.MaxSymlinks {
		return resolved{}, defs.EINVAL
	}
	Table.Lock()
	m := Table.findLocked(full)
	Table.Unlock()
	if m == nil {
		return resolved{}, defs.ENOENT
	}
	rel := full[len(m.Path):]
	cur := m.Fs.Root()
	ftype := defs.F_DIR
	comps := ustr.Ustr(rel).Split()
	for i, c := range comps {
		name := string(c)
		next, nt, err := m.Fs.Lookup(cur, name)
		if err != 0 {
			return resolved{}, err
		}
		isLast := i == len(comps)-1
		if nt == defs.F_SYMLINK && !(isLast && nofollowLast) {
			target, rerr := m.Fs.Readlink(next)
			if rerr != 0 {
				return resolved{}, rerr
			}
			var newFull ustr.Ustr
			if len(target) > 0 && target[0] == '/' {
				newFull = bpath.Canonicalize(ustr.Ustr(target))
			} else {
				dir := m.Path
				for _, c := range comps[:i] {
					dir = dir.Extend(c)
				}
				newFull = bpath.Canonicalize(dir.Extend(ustr.Ustr(target)))
			}
			rest := comps[i+1:]
			for _, r := range rest {
				newFull = newFull.Extend(r)
			}
			return resolveDepth(bpath.Canonicalize(newFull), nofollowLast, depth+1)
		}
		cur = next
		ftype = nt
	}
	return resolved{mount: m, inum: cur, ftype: ftype}, 0
}

// Open resolves path (relative to cwd unless absolute) and opens it,
// returning a ready-to-install fd.Fd_t. O_CREAT/O_EXCL create the leaf
// via the owning filesystem's Create before opening.
func Open(cwd *fd.Cwd_t, path ustr.Ustr, flags int, mode uint32) (*fd.Fd_t, defs.Err_t) {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	r, err := resolve(full, false)
	created := false
	if err == defs.ENOENT && flags&defs.O_CREAT != 0 {
		dirPath, base := splitParent(full)
		dr, derr := resolve(dirPath, false)
		if derr != 0 {
			return nil, derr
		}
		inum, cerr := dr.mount.Fs.Create(dr.inum, base, mode)
		if cerr != 0 {
			return nil, cerr
		}
		r = resolved{mount: dr.mount, inum: inum, ftype: defs.F_REGULAR}
		err = 0
		created = true
	}
	if err != 0 {
		return nil, err
	}
	if !created && flags&(defs.O_CREAT|defs.O_EXCL) == defs.O_CREAT|defs.O_EXCL {
		return nil, defs.EEXIST
	}
	if r.ftype == defs.F_DIR && flags != defs.O_RDONLY {
		return nil, defs.EISDIR
	}
	ops, operr := r.mount.Fs.Open(r.inum, flags)
	if operr != 0 {
		return nil, operr
	}
	r.mount.openFiles++
	perms := fd.FD_READ
	switch flags & (defs.O_WRONLY | defs.O_RDWR) {
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	return &fd.Fd_t{Fops: &countedOps{Fdops_i: ops, mount: r.mount}, Perms: perms, Append: flags&defs.O_APPEND != 0}, 0
}

// countedOps wraps a filesystem's Fdops_i so that the mount's
// openFiles count (what Unmount's Busy check reads) is decremented
// exactly once the descriptor is actually closed, including through a
// Reopen'd dup that is closed independently.
type countedOps struct {
	fdops.Fdops_i
	mount *Mount_t
}

func (c *countedOps) Reopen() defs.Err_t {
	if err := c.Fdops_i.Reopen(); err != 0 {
		return err
	}
	Table.Lock()
	c.mount.openFiles++
	Table.Unlock()
	return 0
}

func (c *countedOps) Close() defs.Err_t {
	err := c.Fdops_i.Close()
	Table.Lock()
	c.mount.openFiles--
	Table.Unlock()
	return err
}

// Mkdir creates a directory at path.
func Mkdir(cwd *fd.Cwd_t, path ustr.Ustr, mode uint32) defs.Err_t {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	dirPath, base := splitParent(full)
	dr, err := resolve(dirPath, false)
	if err != 0 {
		return err
	}
	_, cerr := dr.mount.Fs.Mkdir(dr.inum, base, mode)
	return cerr
}

// Unlink removes a non-directory entry at path.
func Unlink(cwd *fd.Cwd_t, path ustr.Ustr) defs.Err_t {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	dirPath, base := splitParent(full)
	dr, err := resolve(dirPath, false)
	if err != 0 {
		return err
	}
	return dr.mount.Fs.Unlink(dr.inum, base)
}

// Rmdir removes an empty directory at path.
func Rmdir(cwd *fd.Cwd_t, path ustr.Ustr) defs.Err_t {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	dirPath, base := splitParent(full)
	dr, err := resolve(dirPath, false)
	if err != 0 {
		return err
	}
	return dr.mount.Fs.Rmdir(dr.inum, base)
}

// Rename moves oldPath to newPath; cross-filesystem renames are
// rejected since no filesystem can atomically commit a rename that
// spans two independent on-disk trees.
func Rename(cwd *fd.Cwd_t, oldPath, newPath ustr.Ustr) defs.Err_t {
	oldFull := bpath.Canonicalize(cwd.Fullpath(oldPath))
	newFull := bpath.Canonicalize(cwd.Fullpath(newPath))
	oldDirPath, oldBase := splitParent(oldFull)
	newDirPath, newBase := splitParent(newFull)
	oldDr, err := resolve(oldDirPath, false)
	if err != 0 {
		return err
	}
	newDr, err := resolve(newDirPath, false)
	if err != 0 {
		return err
	}
	if oldDr.mount != newDr.mount {
		return defs.EBUSY
	}
	return oldDr.mount.Fs.Rename(oldDr.inum, oldBase, newDr.inum, newBase)
}

// Readdir lists the entries of the directory at path.
func Readdir(cwd *fd.Cwd_t, path ustr.Ustr) ([]Dirent_t, defs.Err_t) {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	r, err := resolve(full, false)
	if err != 0 {
		return nil, err
	}
	if r.ftype != defs.F_DIR {
		return nil, defs.ENOTDIR
	}
	return r.mount.Fs.Readdir(r.inum)
}

// Stat fills st with metadata for path, following a trailing symlink.
func Stat(cwd *fd.Cwd_t, path ustr.Ustr, st *fdops.Stat_t) defs.Err_t {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	r, err := resolve(full, false)
	if err != 0 {
		return err
	}
	return r.mount.Fs.Stat(r.inum, st)
}

// Symlink creates a symlink at path pointing at target.
func Symlink(cwd *fd.Cwd_t, path ustr.Ustr, target string) defs.Err_t {
	full := bpath.Canonicalize(cwd.Fullpath(path))
	dirPath, base := splitParent(full)
	dr, err := resolve(dirPath, false)
	if err != 0 {
		return err
	}
	return dr.mount.Fs.Symlink(dr.inum, base, target)
}

// splitParent divides a canonical absolute path into its parent
// directory path and final component.
func splitParent(full ustr.Ustr) (ustr.Ustr, string) {
	comps := full.Split()
	if len(comps) == 0 {
		return ustr.MkUstrRoot(), ""
	}
	base := string(comps[len(comps)-1])
	dir := ustr.MkUstrRoot()
	for _, c := range comps[:len(comps)-1] {
		dir = dir.Extend(c)
	}
	return dir, base
}
