package wfs

import (
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/vfs"
)

// File_t is the open file description WFSv3 hands back from Open; it
// holds no cursor of its own (the owning fd.Fd_t tracks that) so that
// dup'd and independently-opened descriptors behave correctly without
// this type needing to know which case it's in.
type File_t struct {
	fs         *Fs_t
	inum       vfs.Inum_t
	appendMode bool
}

// locate finds the extent and in-extent block covering logical file
// offset off, the read/write path's binary-search-over-extents step
// done as a linear scan since WFSv3 caps a file at MaxInlineExtents
// extents.
func locate(in *Inode_t, off int64) (ext Extent_t, blockIdx int, inBlockOff int, ok bool) {
	pos := int64(0)
	for _, e := range in.Extents() {
		span := int64(e.Len) * BSIZE
		if off < pos+span {
			rel := off - pos
			return e, int(rel / BSIZE), int(rel % BSIZE), true
		}
		pos += span
	}
	return Extent_t{}, 0, 0, false
}

func (f *File_t) Read(dst fdops.Copier, offset int64) (int, defs.Err_t) {
	f.fs.Lock()
	in, err := f.fs.loadInode(f.inum)
	f.fs.Unlock()
	if err != 0 {
		return 0, err
	}
	if in.Type() == defs.F_DIR {
		return 0, defs.EISDIR
	}
	size := in.Size()
	if offset >= size {
		return 0, 0
	}
	want := dst.Remain()
	if int64(want) > size-offset {
		want = int(size - offset)
	}
	total := 0
	for total < want {
		ext, blockIdx, inOff, ok := locate(in, offset+int64(total))
		if !ok {
			break
		}
		f.fs.Lock()
		blk, berr := f.fs.bc.Get(int(ext.Start)+blockIdx, false)
		f.fs.Unlock()
		if berr != 0 {
			return total, berr
		}
		n := BSIZE - inOff
		if n > want-total {
			n = want - total
		}
		wrote, cerr := dst.CopyOut(blk.Data[inOff : inOff+n])
		f.fs.Lock()
		f.fs.bc.Release(blk)
		f.fs.Unlock()
		if cerr != 0 {
			return total, cerr
		}
		total += wrote
		if wrote < n {
			break
		}
	}
	return total, 0
}

func (f *File_t) Write(src fdops.Copier, offset int64, appendFlag bool) (int, defs.Err_t) {
	f.fs.Lock()
	defer f.fs.Unlock()
	in, err := f.fs.loadInode(f.inum)
	if err != 0 {
		return 0, err
	}
	if in.Type() != defs.F_REGULAR {
		return 0, defs.EINVAL
	}
	if appendFlag || f.appendMode {
		offset = in.Size()
	}
	n := src.Remain()
	if n == 0 {
		return 0, 0
	}
	payload := make([]byte, n)
	if _, cerr := src.CopyIn(payload); cerr != 0 {
		return 0, cerr
	}

	newSize := offset + int64(n)
	if newSize > in.Size() {
		if gerr := f.growLocked(in, newSize); gerr != 0 {
			return 0, gerr
		}
	}

	written := 0
	for written < n {
		ext, blockIdx, inOff, ok := locate(in, offset+int64(written))
		if !ok {
			break
		}
		// copy-on-write: allocate a fresh block, copy forward any
		// untouched prefix/suffix of the old block, overlay the
		// payload, then swap the inode's extent pointer to the new
		// location and retire the old one only once the transaction
		// commits.
		newExt, aerr := f.fs.allocBlocks(1)
		if aerr != 0 {
			return written, aerr
		}
		oldBlk, oerr := f.fs.bc.Get(int(ext.Start)+blockIdx, false)
		if oerr != 0 {
			return written, oerr
		}
		newBlk, nerr := f.fs.bc.Get(int(newExt.Start), true)
		if nerr != 0 {
			f.fs.bc.Release(oldBlk)
			return written, nerr
		}
		copy(newBlk.Data[:], oldBlk.Data[:])
		chunk := BSIZE - inOff
		if chunk > n-written {
			chunk = n - written
		}
		copy(newBlk.Data[inOff:inOff+chunk], payload[written:written+chunk])
		newBlk.MarkDirty()
		f.fs.bc.Release(newBlk)
		f.fs.bc.Release(oldBlk)
		f.fs.freed = append(f.fs.freed, Extent_t{Start: ext.Start + uint32(blockIdx), Len: 1})

		exts, serr := replaceBlock(in.Extents(), ext, blockIdx, newExt.Start)
		if serr != 0 {
			return written, serr
		}
		if serr := in.SetExtents(exts); serr != 0 {
			return written, serr
		}
		written += chunk
	}
	if serr := f.fs.storeInode(f.inum, in); serr != 0 {
		return written, serr
	}
	if cerr := f.fs.commit(); cerr != 0 {
		return written, cerr
	}
	return written, 0
}

// growLocked extends in's extent list with freshly allocated,
// zero-filled blocks until it covers newSize bytes.
func (f *File_t) growLocked(in *Inode_t, newSize int64) defs.Err_t {
	cur := int64(0)
	for _, e := range in.Extents() {
		cur += int64(e.Len) * BSIZE
	}
	need := newSize - cur
	for need > 0 {
		n := uint32((need + BSIZE - 1) / BSIZE)
		if n > ExtentMaxLen {
			n = ExtentMaxLen
		}
		ext, err := f.fs.allocBlocks(n)
		if err != 0 {
			return err
		}
		for i := uint32(0); i < ext.Len; i++ {
			blk, gerr := f.fs.bc.Get(int(ext.Start+i), true)
			if gerr != 0 {
				return gerr
			}
			blk.MarkDirty()
			f.fs.bc.Release(blk)
		}
		exts := append(in.Extents(), ext)
		if serr := in.SetExtents(exts); serr != 0 {
			return serr
		}
		need -= int64(n) * BSIZE
	}
	in.SetSize(newSize)
	in.SetMtime(now())
	return 0
}

// replaceBlock finds which entry of exts is target and splits it
// around blockIdx (an index within target, not within the whole file)
// into an untouched prefix run, the single freshly-written block, and
// an untouched suffix run — whichever of the three are non-empty —
// preserving logical-offset order. This is the literal per-write split
// spec's extent model calls for: a write never edits an existing
// extent record, it retires the old one and installs up to three new
// ones in its place.
func replaceBlock(exts []Extent_t, target Extent_t, blockIdx int, newStart uint32) ([]Extent_t, defs.Err_t) {
	idx := -1
	for i, e := range exts {
		if e.Start == target.Start && e.Len == target.Len {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, defs.ECORRUPT
	}
	var repl []Extent_t
	if blockIdx > 0 {
		repl = append(repl, Extent_t{Start: target.Start, Len: uint32(blockIdx)})
	}
	repl = append(repl, Extent_t{Start: newStart, Len: 1})
	if rem := int(target.Len) - blockIdx - 1; rem > 0 {
		repl = append(repl, Extent_t{Start: target.Start + uint32(blockIdx) + 1, Len: uint32(rem)})
	}
	out := make([]Extent_t, 0, len(exts)-1+len(repl))
	out = append(out, exts[:idx]...)
	out = append(out, repl...)
	out = append(out, exts[idx+1:]...)
	if len(out) > MaxInlineExtents {
		return nil, defs.ENOSPC
	}
	return out, 0
}

func (f *File_t) Lseek(off int64, whence int) (int64, defs.Err_t) {
	if whence == defs.SEEK_END {
		f.fs.Lock()
		in, err := f.fs.loadInode(f.inum)
		f.fs.Unlock()
		if err != 0 {
			return 0, err
		}
		off += in.Size()
	}
	if off < 0 {
		return 0, defs.EINVAL
	}
	return off, 0
}

func (f *File_t) Reopen() defs.Err_t { return 0 }
func (f *File_t) Close() defs.Err_t  { return 0 }

func (f *File_t) Fstat(st *fdops.Stat_t) defs.Err_t {
	f.fs.Lock()
	defer f.fs.Unlock()
	return f.fs.Stat(f.inum, st)
}

func (f *File_t) Truncate(newlen uint) defs.Err_t {
	f.fs.Lock()
	defer f.fs.Unlock()
	in, err := f.fs.loadInode(f.inum)
	if err != 0 {
		return err
	}
	if terr := f.fs.truncateLocked(f.inum, in, int64(newlen)); terr != 0 {
		return terr
	}
	return f.fs.commit()
}

// truncateLocked replaces in's extent list with one sized to newlen,
// freeing every extent made unreachable only once the caller commits.
func (fs *Fs_t) truncateLocked(inum vfs.Inum_t, in *Inode_t, newlen int64) defs.Err_t {
	old := in.Extents()
	fs.freed = append(fs.freed, old...)
	if err := in.SetExtents(nil); err != 0 {
		return err
	}
	in.SetSize(0)
	if newlen > 0 {
		file := &File_t{fs: fs, inum: inum}
		if err := file.growLocked(in, newlen); err != 0 {
			return err
		}
	}
	in.SetMtime(now())
	return fs.storeInode(inum, in)
}

// Readdir lists the directory this descriptor was opened on, the path
// an open fd reaches WFSv3's own Readdir by.
func (f *File_t) Readdir() ([]fdops.Dirent_t, defs.Err_t) {
	return f.fs.Readdir(f.inum)
}

func (f *File_t) Pathi() fdops.Inum_t { return fdops.Inum_t(f.inum) }

var _ fdops.Fdops_i = (*File_t)(nil)
