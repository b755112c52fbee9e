package wfs

import (
	"encoding/binary"
	"hash/fnv"

	"golang.org/x/text/unicode/norm"

	"github.com/chris17453/watos/internal/defs"
)

// Directory entry slot layout, DirEntSize (64) bytes:
//   0:8   inode number
//   8:10  name length (0 means the slot is free)
//   10    type hint
//   11    padding
//   12:16 fnv32 hash of the normalized name, checked before a full
//         byte compare the way a B+tree's key would short-circuit a
//         leaf scan
//   16:16+DirNameMax  name bytes

func directSlot(buf []byte) (inum uint64, nameLen int, ftype defs.Ftype_t, hash uint32, name []byte) {
	inum = binary.LittleEndian.Uint64(buf[0:8])
	nameLen = int(binary.LittleEndian.Uint16(buf[8:10]))
	ftype = defs.Ftype_t(buf[10])
	hash = binary.LittleEndian.Uint32(buf[12:16])
	name = buf[16 : 16+nameLen]
	return
}

func writeSlot(buf []byte, inum uint64, name string, ftype defs.Ftype_t) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[0:8], inum)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(name)))
	buf[10] = byte(ftype)
	binary.LittleEndian.PutUint32(buf[12:16], nameHash(name))
	copy(buf[16:16+len(name)], name)
}

// NormalizeName applies Unicode NFC normalization to a directory entry
// name before it is hashed or compared, so that visually identical
// names composed differently by different user-space tools collide
// into the same directory slot instead of silently coexisting as
// distinct entries.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

func nameHash(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// dirSlotCount is how many DirEntSize slots fit in one block.
const dirSlotCount = BSIZE / DirEntSize

// forEachSlot calls f for every slot across dir's extents, stopping
// early if f returns true. f receives the slot's block number and
// bytes, so callers can mutate the slot and mark its block dirty.
func (fs *Fs_t) forEachSlot(in *Inode_t, f func(blockNum uint32, buf []byte) bool) defs.Err_t {
	for _, ext := range in.Extents() {
		for b := uint32(0); b < ext.Len; b++ {
			blkNum := ext.Start + b
			blk, err := fs.bc.Get(int(blkNum), false)
			if err != 0 {
				return err
			}
			stop := false
			for slot := 0; slot < dirSlotCount; slot++ {
				buf := blk.Data[slot*DirEntSize : (slot+1)*DirEntSize]
				if f(blkNum, buf) {
					stop = true
					break
				}
			}
			fs.bc.Release(blk)
			if stop {
				return 0
			}
		}
	}
	return 0
}

// dirLookup scans dir's entries for name, returning its inode number
// and type hint.
func (fs *Fs_t) dirLookup(dir *Inode_t, name string) (Inum_t, defs.Ftype_t, defs.Err_t) {
	name = NormalizeName(name)
	h := nameHash(name)
	var found Inum_t = -1
	var ftype defs.Ftype_t
	err := fs.forEachSlot(dir, func(_ uint32, buf []byte) bool {
		inum, nlen, t, hash, nbuf := directSlot(buf)
		if nlen == 0 || hash != h {
			return false
		}
		if string(nbuf) != name {
			return false
		}
		found = Inum_t(inum)
		ftype = t
		return true
	})
	if err != 0 {
		return 0, 0, err
	}
	if found < 0 {
		return 0, 0, defs.ENOENT
	}
	return found, ftype, 0
}

// dirInsert adds a (name -> inum, ftype) entry to dir, reusing a free
// slot if one exists or growing the directory by one block otherwise.
// Returns EEXIST if name is already present.
func (fs *Fs_t) dirInsert(dir Inum_t, name string, inum Inum_t, ftype defs.Ftype_t) defs.Err_t {
	name = NormalizeName(name)
	if len(name) == 0 || len(name) > DirNameMax {
		return defs.EINVAL
	}
	din, err := fs.loadInode(dir)
	if err != 0 {
		return err
	}
	if _, _, lerr := fs.dirLookup(din, name); lerr == 0 {
		return defs.EEXIST
	}

	placed := false
	err = fs.forEachSlot(din, func(blkNum uint32, buf []byte) bool {
		_, nlen, _, _, _ := directSlot(buf)
		if nlen != 0 {
			return false
		}
		writeSlot(buf, uint64(inum), name, ftype)
		fs.markBlockDirty(blkNum)
		placed = true
		return true
	})
	if err != 0 {
		return err
	}
	if placed {
		return 0
	}

	ext, aerr := fs.allocBlocks(1)
	if aerr != 0 {
		return aerr
	}
	exts := append(din.Extents(), ext)
	if serr := din.SetExtents(exts); serr != 0 {
		return serr
	}
	din.SetSize(din.Size() + BSIZE)
	blk, gerr := fs.bc.Get(int(ext.Start), true)
	if gerr != 0 {
		return gerr
	}
	writeSlot(blk.Data[0:DirEntSize], uint64(inum), name, ftype)
	blk.MarkDirty()
	fs.bc.Release(blk)
	fs.storeInode(dir, din)
	return 0
}

// dirRemove clears the slot holding name, failing with ENOENT if it
// isn't present.
func (fs *Fs_t) dirRemove(dir Inum_t, name string) defs.Err_t {
	name = NormalizeName(name)
	din, err := fs.loadInode(dir)
	if err != 0 {
		return err
	}
	removed := false
	err = fs.forEachSlot(din, func(blkNum uint32, buf []byte) bool {
		_, nlen, _, hash, nbuf := directSlot(buf)
		if nlen == 0 || hash != nameHash(name) || string(nbuf) != name {
			return false
		}
		for i := range buf {
			buf[i] = 0
		}
		fs.markBlockDirty(blkNum)
		removed = true
		return true
	})
	if err != 0 {
		return err
	}
	if !removed {
		return defs.ENOENT
	}
	return 0
}

// dirIsEmpty reports whether dir has no entries besides "." and "..",
// the precondition rmdir enforces.
func (fs *Fs_t) dirIsEmpty(dir *Inode_t) (bool, defs.Err_t) {
	empty := true
	err := fs.forEachSlot(dir, func(_ uint32, buf []byte) bool {
		_, nlen, _, _, name := directSlot(buf)
		if nlen == 0 {
			return false
		}
		if string(name) == "." || string(name) == ".." {
			return false
		}
		empty = false
		return true
	})
	return empty, err
}

// dirList returns every entry in dir, "." and ".." included.
func (fs *Fs_t) dirList(dir *Inode_t) ([]dirEntView, defs.Err_t) {
	var out []dirEntView
	err := fs.forEachSlot(dir, func(_ uint32, buf []byte) bool {
		inum, nlen, ftype, _, name := directSlot(buf)
		if nlen == 0 {
			return false
		}
		out = append(out, dirEntView{Name: string(name), Inum: Inum_t(inum), Type: ftype})
		return false
	})
	return out, err
}

type dirEntView struct {
	Name string
	Inum Inum_t
	Type defs.Ftype_t
}
