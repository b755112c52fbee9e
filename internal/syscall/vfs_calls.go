package syscall

import (
	"encoding/binary"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/proc"
	"github.com/chris17453/watos/internal/vfs"
	"github.com/chris17453/watos/internal/vm"
)

// defaultCreateMode is the permission bits a file created via open's
// O_CREAT gets; the ABI's open(path_ptr, path_len, mode) has no
// separate permission-bits argument, so every created file starts at
// this mode and mode(2)/chmod is left for a future syscall.
const defaultCreateMode = 0644

func sysOpen(p *proc.Proc_t, a Args) int {
	path, err := copyInPath(p, a.A0, int(a.A1))
	if err != 0 {
		return err.Rc()
	}
	flags := int(a.A2)
	nfd, oerr := vfs.Open(p.Cwd, path, flags, defaultCreateMode)
	if oerr != 0 {
		return oerr.Rc()
	}
	p.Lock()
	num, lerr := p.LowestFreeFd()
	if lerr != 0 {
		p.Unlock()
		fd.ClosePanic(nfd)
		return lerr.Rc()
	}
	p.Fds[num] = nfd
	p.Unlock()
	return num
}

func sysClose(p *proc.Proc_t, a Args) int {
	fdno := int(a.A0)
	p.Lock()
	f, ok := p.Fds[fdno]
	if ok {
		delete(p.Fds, fdno)
	}
	p.Unlock()
	if !ok {
		return defs.EINVAL.Rc()
	}
	return f.Fops.Close().Rc()
}

func sysRead(p *proc.Proc_t, a Args) int {
	f, lerr := fdLookup(p, int(a.A0))
	if lerr != 0 {
		return lerr.Rc()
	}
	if f.Perms&fd.FD_READ == 0 {
		return defs.EPERM.Rc()
	}
	n, cerr := clampIOLen(int(a.A2))
	if cerr != 0 {
		return cerr.Rc()
	}
	f.Lock()
	defer f.Unlock()
	ub := vm.NewUserbuf(p.As, a.A1, n, true)
	got, rerr := f.Fops.Read(ub, f.Offset)
	if rerr != 0 {
		return rerr.Rc()
	}
	f.Offset += int64(got)
	return got
}

func sysWrite(p *proc.Proc_t, a Args) int {
	f, lerr := fdLookup(p, int(a.A0))
	if lerr != 0 {
		return lerr.Rc()
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return defs.EPERM.Rc()
	}
	n, cerr := clampIOLen(int(a.A2))
	if cerr != 0 {
		return cerr.Rc()
	}
	f.Lock()
	defer f.Unlock()
	offset := f.Offset
	if f.Append {
		var st fdops.Stat_t
		if serr := f.Fops.Fstat(&st); serr != 0 {
			return serr.Rc()
		}
		offset = st.Size
	}
	ub := vm.NewUserbuf(p.As, a.A1, n, false)
	wrote, werr := f.Fops.Write(ub, offset, f.Append)
	if werr != 0 {
		return werr.Rc()
	}
	f.Offset = offset + int64(wrote)
	return wrote
}

func sysSeek(p *proc.Proc_t, a Args) int {
	f, lerr := fdLookup(p, int(a.A0))
	if lerr != 0 {
		return lerr.Rc()
	}
	off := int64(a.A1)
	whence := int(a.A2)
	f.Lock()
	defer f.Unlock()
	switch whence {
	case defs.SEEK_CUR:
		off = f.Offset + off
		whence = defs.SEEK_SET
	case defs.SEEK_SET, defs.SEEK_END:
		// resolved directly by the backing Fdops_i below
	default:
		return defs.EINVAL.Rc()
	}
	pos, serr := f.Fops.Lseek(off, whence)
	if serr != 0 {
		return serr.Rc()
	}
	f.Offset = pos
	return int(pos)
}

func sysStat(p *proc.Proc_t, a Args) int {
	path, err := copyInPath(p, a.A0, int(a.A1))
	if err != 0 {
		return err.Rc()
	}
	var st fdops.Stat_t
	if serr := vfs.Stat(p.Cwd, path, &st); serr != 0 {
		return serr.Rc()
	}
	return copyOutStat(p, a.A2, &st)
}

// copyOutStat serializes a Stat_t as five little-endian 8-byte fields
// (dev, ino, mode, size, type) the way accnt.Rusage_t.Bytes packs its
// own fixed record for copy-out.
func copyOutStat(p *proc.Proc_t, ptr uintptr, st *fdops.Stat_t) int {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:], uint64(st.Dev))
	binary.LittleEndian.PutUint64(buf[8:], uint64(st.Ino))
	binary.LittleEndian.PutUint64(buf[16:], uint64(st.Mode))
	binary.LittleEndian.PutUint64(buf[24:], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[32:], uint64(st.Type))
	ub := vm.NewUserbuf(p.As, ptr, len(buf), true)
	if _, err := ub.CopyOut(buf); err != 0 {
		return err.Rc()
	}
	return 0
}

// direntRecSize is one getdents-style record: inum(8) + type(1) +
// pad(7) + a fixed 48-byte NUL-padded name field.
const direntRecSize = 64

func sysReaddir(p *proc.Proc_t, a Args) int {
	f, lerr := fdLookup(p, int(a.A0))
	if lerr != 0 {
		return lerr.Rc()
	}
	outCap := int(a.A2)
	if outCap < 0 {
		return defs.EINVAL.Rc()
	}
	entries, derr := f.Fops.Readdir()
	if derr != 0 {
		return derr.Rc()
	}
	maxEntries := outCap / direntRecSize
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	buf := make([]byte, len(entries)*direntRecSize)
	for i, e := range entries {
		rec := buf[i*direntRecSize : (i+1)*direntRecSize]
		binary.LittleEndian.PutUint64(rec[0:], uint64(e.Inum))
		rec[8] = byte(e.Type)
		name := []byte(e.Name)
		if len(name) > direntRecSize-16 {
			name = name[:direntRecSize-16]
		}
		copy(rec[16:], name)
	}
	ub := vm.NewUserbuf(p.As, a.A1, len(buf), true)
	if _, err := ub.CopyOut(buf); err != 0 {
		return err.Rc()
	}
	return len(entries)
}

func sysMkdir(p *proc.Proc_t, a Args) int {
	path, err := copyInPath(p, a.A0, int(a.A1))
	if err != 0 {
		return err.Rc()
	}
	if merr := vfs.Mkdir(p.Cwd, path, uint32(a.A2)); merr != 0 {
		return merr.Rc()
	}
	return 0
}

func sysRmdir(p *proc.Proc_t, a Args) int {
	path, err := copyInPath(p, a.A0, int(a.A1))
	if err != 0 {
		return err.Rc()
	}
	if rerr := vfs.Rmdir(p.Cwd, path); rerr != 0 {
		return rerr.Rc()
	}
	return 0
}

func sysUnlink(p *proc.Proc_t, a Args) int {
	path, err := copyInPath(p, a.A0, int(a.A1))
	if err != 0 {
		return err.Rc()
	}
	if uerr := vfs.Unlink(p.Cwd, path); uerr != 0 {
		return uerr.Rc()
	}
	return 0
}

func sysRename(p *proc.Proc_t, a Args) int {
	from, err := copyInPath(p, a.A0, int(a.A1))
	if err != 0 {
		return err.Rc()
	}
	to, err := copyInPath(p, a.A2, int(a.A3))
	if err != 0 {
		return err.Rc()
	}
	if rerr := vfs.Rename(p.Cwd, from, to); rerr != 0 {
		return rerr.Rc()
	}
	return 0
}

func sysTruncate(p *proc.Proc_t, a Args) int {
	f, lerr := fdLookup(p, int(a.A0))
	if lerr != 0 {
		return lerr.Rc()
	}
	if terr := f.Fops.Truncate(uint(a.A1)); terr != 0 {
		return terr.Rc()
	}
	return 0
}
