package vfs_test

import (
	"sync"
	"testing"

	"github.com/chris17453/watos/internal/bcache"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/ustr"
	"github.com/chris17453/watos/internal/vfs"
	"github.com/chris17453/watos/internal/vm"
	"github.com/chris17453/watos/internal/wfs"
)

type memDisk struct {
	sync.Mutex
	blocks map[int][wfs.BSIZE]byte
}

func newMemDisk() *memDisk { return &memDisk{blocks: map[int][wfs.BSIZE]byte{}} }

func (d *memDisk) ReadBlock(num int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	b := d.blocks[num]
	copy(buf, b[:])
	return nil
}
func (d *memDisk) WriteBlock(num int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	var b [wfs.BSIZE]byte
	copy(b[:], buf)
	d.blocks[num] = b
	return nil
}
func (d *memDisk) Sync() error { return nil }

var _ bcache.Device = (*memDisk)(nil)

// freshMount formats a WFSv3 image, mounts it at "/" in a fresh mount
// table, and returns the filesystem plus a root-anchored cwd.
func freshMount(t *testing.T) (*wfs.Fs_t, *fd.Cwd_t) {
	t.Helper()
	disk := newMemDisk()
	if err := wfs.Format(disk, 512, 64); err != 0 {
		t.Fatalf("Format: %s", err)
	}
	fsys, merr := wfs.Mount(disk, 64)
	if merr != 0 {
		t.Fatalf("Mount: %s", merr)
	}
	vfs.Table = &vfs.Table_t{}
	if terr := vfs.Table.Mount(ustr.MkUstrRoot(), fsys, false); terr != 0 {
		t.Fatalf("vfs.Table.Mount: %s", terr)
	}
	return fsys, fd.MkRootCwd(nil)
}

func TestOpenCreateWriteReadThroughVFS(t *testing.T) {
	_, cwd := freshMount(t)
	f, err := vfs.Open(cwd, ustr.Ustr("/greeting.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open(O_CREAT): %s", err)
	}
	src := vm.NewFakeubuf([]byte("hi"))
	if _, werr := f.Fops.Write(src, 0, false); werr != 0 {
		t.Fatalf("Write: %s", werr)
	}
	buf := make([]byte, 2)
	dst := vm.NewFakeubuf(buf)
	if _, rerr := f.Fops.Read(dst, 0); rerr != 0 {
		t.Fatalf("Read: %s", rerr)
	}
	if string(buf) != "hi" {
		t.Fatalf("read back %q, want \"hi\"", buf)
	}
	if err := f.Fops.Close(); err != 0 {
		t.Fatalf("Close: %s", err)
	}
}

func TestOpenExistingWithoutCreateFailsWhenMissing(t *testing.T) {
	_, cwd := freshMount(t)
	if _, err := vfs.Open(cwd, ustr.Ustr("/missing.txt"), defs.O_RDONLY, 0); err != defs.ENOENT {
		t.Fatalf("Open of a missing file without O_CREAT = %s, want ENOENT", err)
	}
}

func TestOpenExclRejectsExistingFile(t *testing.T) {
	_, cwd := freshMount(t)
	f, err := vfs.Open(cwd, ustr.Ustr("/x.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open: %s", err)
	}
	f.Fops.Close()
	if _, err := vfs.Open(cwd, ustr.Ustr("/x.txt"), defs.O_CREAT|defs.O_EXCL, 0644); err != defs.EEXIST {
		t.Fatalf("Open(O_CREAT|O_EXCL) on an existing file = %s, want EEXIST", err)
	}
}

func TestMkdirAndNestedOpen(t *testing.T) {
	_, cwd := freshMount(t)
	if err := vfs.Mkdir(cwd, ustr.Ustr("/sub"), 0755); err != 0 {
		t.Fatalf("Mkdir: %s", err)
	}
	f, err := vfs.Open(cwd, ustr.Ustr("/sub/leaf.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open nested path: %s", err)
	}
	f.Fops.Close()
	ents, derr := vfs.Readdir(cwd, ustr.Ustr("/sub"))
	if derr != 0 {
		t.Fatalf("Readdir: %s", derr)
	}
	found := false
	for _, e := range ents {
		if e.Name == "leaf.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected leaf.txt in /sub, got %+v", ents)
	}
}

func TestUnlinkAndRmdir(t *testing.T) {
	_, cwd := freshMount(t)
	f, err := vfs.Open(cwd, ustr.Ustr("/a.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open: %s", err)
	}
	f.Fops.Close()
	if err := vfs.Unlink(cwd, ustr.Ustr("/a.txt")); err != 0 {
		t.Fatalf("Unlink: %s", err)
	}
	if _, err := vfs.Open(cwd, ustr.Ustr("/a.txt"), defs.O_RDONLY, 0); err != defs.ENOENT {
		t.Fatalf("file should be gone after Unlink, got %s", err)
	}

	if err := vfs.Mkdir(cwd, ustr.Ustr("/d"), 0755); err != 0 {
		t.Fatalf("Mkdir: %s", err)
	}
	if err := vfs.Rmdir(cwd, ustr.Ustr("/d")); err != 0 {
		t.Fatalf("Rmdir: %s", err)
	}
}

func TestRenameWithinSameMount(t *testing.T) {
	_, cwd := freshMount(t)
	f, err := vfs.Open(cwd, ustr.Ustr("/old.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open: %s", err)
	}
	f.Fops.Close()
	if err := vfs.Rename(cwd, ustr.Ustr("/old.txt"), ustr.Ustr("/new.txt")); err != 0 {
		t.Fatalf("Rename: %s", err)
	}
	var st fdops.Stat_t
	if err := vfs.Stat(cwd, ustr.Ustr("/new.txt"), &st); err != 0 {
		t.Fatalf("Stat(new.txt): %s", err)
	}
}

func TestUnmountRefusesWhileFileOpen(t *testing.T) {
	_, cwd := freshMount(t)
	f, err := vfs.Open(cwd, ustr.Ustr("/held.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open: %s", err)
	}
	if err := vfs.Table.Unmount(ustr.MkUstrRoot()); err != defs.EBUSY {
		t.Fatalf("Unmount with an open fd = %s, want EBUSY", err)
	}
	f.Fops.Close()
	if err := vfs.Table.Unmount(ustr.MkUstrRoot()); err != 0 {
		t.Fatalf("Unmount after close: %s", err)
	}
}

func TestUnmountDecrementsAcrossReopen(t *testing.T) {
	_, cwd := freshMount(t)
	f, err := vfs.Open(cwd, ustr.Ustr("/dupme.txt"), defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("Open: %s", err)
	}
	dup, derr := fd.Copyfd(f)
	if derr != 0 {
		t.Fatalf("Copyfd: %s", derr)
	}
	f.Fops.Close()
	if err := vfs.Table.Unmount(ustr.MkUstrRoot()); err != defs.EBUSY {
		t.Fatalf("Unmount while the dup is still open = %s, want EBUSY", err)
	}
	dup.Fops.Close()
	if err := vfs.Table.Unmount(ustr.MkUstrRoot()); err != 0 {
		t.Fatalf("Unmount after both copies closed: %s", err)
	}
}
