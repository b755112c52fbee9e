package wfs

import (
	"sync"
	"time"

	"github.com/chris17453/watos/internal/bcache"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/vfs"
)

// Fs_t is one mounted WFSv3 filesystem instance.
type Fs_t struct {
	sync.Mutex
	bc *bcache.Cache_t

	curSlot     int
	generation  uint64
	totalBlocks uint64
	bitmapStart uint64
	bitmapLen   uint64
	inodeBmap   uint64
	inodeBmLen  uint64
	inodeStart  uint64
	inodeLen    uint64
	inodeCount  uint64

	freed []Extent_t // blocks displaced by the transaction in progress
}

// Mount reads both superblock slots from disk, recovers via the higher
// valid generation, and returns a ready-to-use filesystem.
func Mount(disk bcache.Device, cacheBlocks int) (*Fs_t, defs.Err_t) {
	bc := bcache.New(disk, cacheBlocks)
	blkA, err := bc.Get(SuperSlotA, false)
	if err != 0 {
		return nil, err
	}
	sbA := &Superblock_t{Data: &blkA.Data}
	blkB, err := bc.Get(SuperSlotB, false)
	if err != 0 {
		bc.Release(blkA)
		return nil, err
	}
	sbB := &Superblock_t{Data: &blkB.Data}

	sb, slot, ok := pickSuperblockSlot(sbA, sbB)
	bc.Release(blkA)
	bc.Release(blkB)
	if !ok {
		return nil, defs.ECORRUPT
	}

	fs := &Fs_t{
		bc:          bc,
		curSlot:     slot,
		generation:  sb.Generation(),
		totalBlocks: sb.TotalBlocks(),
		bitmapStart: sb.BitmapStart(),
		bitmapLen:   sb.BitmapLen(),
		inodeBmap:   sb.InodeBitmap(),
		inodeBmLen:  sb.InodeBmLen(),
		inodeStart:  sb.InodeStart(),
		inodeLen:    sb.InodeLen(),
		inodeCount:  sb.InodeCount(),
	}
	return fs, 0
}

func pickSuperblockSlot(a, b *Superblock_t) (*Superblock_t, int, bool) {
	sb, ok := pickSuperblock(a, b)
	if !ok {
		return nil, 0, false
	}
	if sb == a {
		return sb, SuperSlotA, true
	}
	return sb, SuperSlotB, true
}

// Root returns the filesystem's root directory inode number.
func (fs *Fs_t) Root() vfs.Inum_t { return RootInum }

// firstDataBlock is the first block number past the fixed metadata
// region (superblock slots, bitmaps, inode table).
func (fs *Fs_t) firstDataBlock() uint32 {
	return uint32(fs.inodeStart + fs.inodeLen)
}

// inodeLoc returns the block number and in-block byte offset of inum's
// record.
func (fs *Fs_t) inodeLoc(inum vfs.Inum_t) (blockNum int, off int) {
	idx := int(inum)
	blockNum = int(fs.inodeStart) + idx/InodesPerBlock
	off = (idx % InodesPerBlock) * InodeSize
	return
}

func (fs *Fs_t) loadInode(inum vfs.Inum_t) (*Inode_t, defs.Err_t) {
	blockNum, off := fs.inodeLoc(inum)
	blk, err := fs.bc.Get(blockNum, false)
	if err != 0 {
		return nil, err
	}
	data := make([]byte, InodeSize)
	copy(data, blk.Data[off:off+InodeSize])
	fs.bc.Release(blk)
	return &Inode_t{Data: data}, 0
}

// storeInode writes in's in-memory record back to its block, stamping
// a fresh checksum first. The record is copied into its fixed inode
// table slot in place and that block is marked dirty; the operation's
// displaced data extents (not the inode table block) are what commit
// later frees.
func (fs *Fs_t) storeInode(inum vfs.Inum_t, in *Inode_t) defs.Err_t {
	in.SetGeneration(fs.generation + 1)
	in.FinalizeCRC()
	blockNum, off := fs.inodeLoc(inum)
	blk, err := fs.bc.Get(blockNum, false)
	if err != 0 {
		return err
	}
	copy(blk.Data[off:off+InodeSize], in.Data)
	blk.MarkDirty()
	fs.bc.Release(blk)
	return 0
}

func (fs *Fs_t) markBlockDirty(blockNum uint32) {
	blk, err := fs.bc.Get(int(blockNum), false)
	if err != 0 {
		return
	}
	blk.MarkDirty()
	fs.bc.Release(blk)
}

// allocBlocks reserves n fresh data blocks, the only way WFSv3 ever
// obtains space to write into — every mutation that needs room
// allocates new blocks here rather than touching an existing one.
func (fs *Fs_t) allocBlocks(n uint32) (Extent_t, defs.Err_t) {
	return allocRun(fs.bc, fs.bitmapStart, fs.firstDataBlock(), uint32(fs.totalBlocks), n)
}

// allocInode reserves a free inode number, marking it used in the
// inode bitmap.
func (fs *Fs_t) allocInode() (vfs.Inum_t, defs.Err_t) {
	for i := uint32(0); i < uint32(fs.inodeCount); i++ {
		free, err := bitTest(fs.bc, fs.inodeBmap, i)
		if err != 0 {
			return 0, err
		}
		if !free {
			continue
		}
		if err := bitSet(fs.bc, fs.inodeBmap, i, false); err != 0 {
			return 0, err
		}
		return vfs.Inum_t(i), 0
	}
	return 0, defs.ENOSPC
}

func (fs *Fs_t) freeInode(inum vfs.Inum_t) defs.Err_t {
	return bitSet(fs.bc, fs.inodeBmap, uint32(inum), true)
}

// commit makes every block written during the in-progress operation
// durable, then atomically advances the filesystem to the new
// generation by writing the other superblock slot, and only then
// returns the blocks the operation displaced to the free pool. This is
// the six-step sequence every mutating call ends with: write-through
// the cache, barrier, prepare the new superblock, write it (the
// durability point), and free what's now unreachable.
func (fs *Fs_t) commit() defs.Err_t {
	if err := fs.bc.Barrier(); err != 0 {
		return err
	}

	newSlot := otherSlot(fs.curSlot)
	blk, err := fs.bc.Get(newSlot, true)
	if err != 0 {
		return err
	}
	sb := &Superblock_t{Data: &blk.Data}
	sb.SetMagic(magicValue)
	sb.SetVersion(1)
	sb.SetTotalBlocks(fs.totalBlocks)
	sb.SetBitmapStart(fs.bitmapStart)
	sb.SetBitmapLen(fs.bitmapLen)
	sb.SetInodeBitmap(fs.inodeBmap)
	sb.SetInodeBmLen(fs.inodeBmLen)
	sb.SetInodeStart(fs.inodeStart)
	sb.SetInodeLen(fs.inodeLen)
	sb.SetInodeCount(fs.inodeCount)
	sb.SetGeneration(fs.generation + 1)
	sb.SetFreeBlocks(0)
	sb.FinalizeCRC()
	blk.MarkDirty()
	fs.bc.Release(blk)

	if err := fs.bc.Barrier(); err != 0 {
		return err
	}
	fs.curSlot = newSlot
	fs.generation++

	freed := fs.freed
	fs.freed = nil
	for _, e := range freed {
		if err := freeRun(fs.bc, fs.bitmapStart, e); err != 0 {
			return err
		}
	}
	return 0
}

func now() int64 { return time.Now().UnixNano() }

// Lookup, Create, Mkdir, Unlink, Rmdir, Rename, Symlink, Readlink,
// Readdir, Stat, Sync, and Unmount implement vfs.Filesystem_i.

func (fs *Fs_t) Lookup(dir vfs.Inum_t, name string) (vfs.Inum_t, defs.Ftype_t, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	din, err := fs.loadInode(dir)
	if err != 0 {
		return 0, 0, err
	}
	return fs.dirLookup(din, name)
}

func (fs *Fs_t) Open(inum vfs.Inum_t, flags int) (fdops.Fdops_i, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	in, err := fs.loadInode(inum)
	if err != 0 {
		return nil, err
	}
	if flags&defs.O_TRUNC != 0 && in.Type() == defs.F_REGULAR {
		if terr := fs.truncateLocked(inum, in, 0); terr != 0 {
			return nil, terr
		}
		if cerr := fs.commit(); cerr != 0 {
			return nil, cerr
		}
	}
	return &File_t{fs: fs, inum: inum, appendMode: flags&defs.O_APPEND != 0}, 0
}

func (fs *Fs_t) Create(dir vfs.Inum_t, name string, mode uint32) (vfs.Inum_t, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	inum, err := fs.allocInode()
	if err != 0 {
		return 0, err
	}
	in := &Inode_t{Data: make([]byte, InodeSize)}
	in.SetType(defs.F_REGULAR)
	in.SetMode(mode)
	in.SetNlink(1)
	in.SetMtime(now())
	in.SetCtime(now())
	if serr := fs.storeInode(inum, in); serr != 0 {
		return 0, serr
	}
	if derr := fs.dirInsert(dir, name, inum, defs.F_REGULAR); derr != 0 {
		return 0, derr
	}
	if cerr := fs.commit(); cerr != 0 {
		return 0, cerr
	}
	return inum, 0
}

func (fs *Fs_t) Mkdir(dir vfs.Inum_t, name string, mode uint32) (vfs.Inum_t, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	inum, err := fs.allocInode()
	if err != 0 {
		return 0, err
	}
	ext, aerr := fs.allocBlocks(1)
	if aerr != 0 {
		return 0, aerr
	}
	blk, gerr := fs.bc.Get(int(ext.Start), true)
	if gerr != 0 {
		return 0, gerr
	}
	writeSlot(blk.Data[0*DirEntSize:1*DirEntSize], uint64(inum), ".", defs.F_DIR)
	writeSlot(blk.Data[1*DirEntSize:2*DirEntSize], uint64(dir), "..", defs.F_DIR)
	blk.MarkDirty()
	fs.bc.Release(blk)

	in := &Inode_t{Data: make([]byte, InodeSize)}
	in.SetType(defs.F_DIR)
	in.SetMode(mode)
	in.SetNlink(2)
	in.SetSize(BSIZE)
	in.SetMtime(now())
	in.SetCtime(now())
	if serr := in.SetExtents([]Extent_t{ext}); serr != 0 {
		return 0, serr
	}
	if serr := fs.storeInode(inum, in); serr != 0 {
		return 0, serr
	}
	if derr := fs.dirInsert(dir, name, inum, defs.F_DIR); derr != 0 {
		return 0, derr
	}
	if din, derr2 := fs.loadInode(dir); derr2 == 0 {
		din.SetNlink(din.Nlink() + 1)
		fs.storeInode(dir, din)
	}
	if cerr := fs.commit(); cerr != 0 {
		return 0, cerr
	}
	return inum, 0
}

func (fs *Fs_t) Unlink(dir vfs.Inum_t, name string) defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	inum, ftype, lerr := func() (vfs.Inum_t, defs.Ftype_t, defs.Err_t) {
		din, err := fs.loadInode(dir)
		if err != 0 {
			return 0, 0, err
		}
		return fs.dirLookup(din, name)
	}()
	if lerr != 0 {
		return lerr
	}
	if ftype == defs.F_DIR {
		return defs.EISDIR
	}
	if derr := fs.dirRemove(dir, name); derr != 0 {
		return derr
	}
	in, ierr := fs.loadInode(inum)
	if ierr != 0 {
		return ierr
	}
	nlink := in.Nlink()
	if nlink > 0 {
		nlink--
	}
	in.SetNlink(nlink)
	if nlink == 0 {
		fs.freed = append(fs.freed, in.Extents()...)
		fs.freeInode(inum)
	}
	if serr := fs.storeInode(inum, in); serr != 0 {
		return serr
	}
	return fs.commit()
}

func (fs *Fs_t) Rmdir(dir vfs.Inum_t, name string) defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	din, err := fs.loadInode(dir)
	if err != 0 {
		return err
	}
	inum, ftype, lerr := fs.dirLookup(din, name)
	if lerr != 0 {
		return lerr
	}
	if ftype != defs.F_DIR {
		return defs.ENOTDIR
	}
	target, terr := fs.loadInode(inum)
	if terr != 0 {
		return terr
	}
	empty, eerr := fs.dirIsEmpty(target)
	if eerr != 0 {
		return eerr
	}
	if !empty {
		return defs.EINVAL
	}
	if derr := fs.dirRemove(dir, name); derr != 0 {
		return derr
	}
	fs.freed = append(fs.freed, target.Extents()...)
	fs.freeInode(inum)
	din.SetNlink(din.Nlink() - 1)
	if serr := fs.storeInode(dir, din); serr != 0 {
		return serr
	}
	return fs.commit()
}

func (fs *Fs_t) Rename(oldDir vfs.Inum_t, oldName string, newDir vfs.Inum_t, newName string) defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	odin, err := fs.loadInode(oldDir)
	if err != 0 {
		return err
	}
	inum, ftype, lerr := fs.dirLookup(odin, oldName)
	if lerr != 0 {
		return lerr
	}
	if _, _, exists := fs.mustLoadAndLookup(newDir, newName); exists == 0 {
		if derr := fs.dirRemove(newDir, newName); derr != 0 {
			return derr
		}
	}
	if derr := fs.dirInsert(newDir, newName, inum, ftype); derr != 0 {
		return derr
	}
	if derr := fs.dirRemove(oldDir, oldName); derr != 0 {
		return derr
	}
	return fs.commit()
}

func (fs *Fs_t) mustLoadAndLookup(dir vfs.Inum_t, name string) (vfs.Inum_t, defs.Ftype_t, defs.Err_t) {
	din, err := fs.loadInode(dir)
	if err != 0 {
		return 0, 0, err
	}
	return fs.dirLookup(din, name)
}

func (fs *Fs_t) Symlink(dir vfs.Inum_t, name, target string) defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	inum, err := fs.allocInode()
	if err != 0 {
		return err
	}
	in := &Inode_t{Data: make([]byte, InodeSize)}
	in.SetType(defs.F_SYMLINK)
	in.SetNlink(1)
	in.SetMtime(now())
	in.SetCtime(now())
	if serr := in.SetSymlinkTarget(target); serr != 0 {
		return serr
	}
	in.SetSize(int64(len(target)))
	if serr := fs.storeInode(inum, in); serr != 0 {
		return serr
	}
	if derr := fs.dirInsert(dir, name, inum, defs.F_SYMLINK); derr != 0 {
		return derr
	}
	return fs.commit()
}

func (fs *Fs_t) Readlink(inum vfs.Inum_t) (string, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	in, err := fs.loadInode(inum)
	if err != 0 {
		return "", err
	}
	if in.Type() != defs.F_SYMLINK {
		return "", defs.EINVAL
	}
	return in.SymlinkTarget(), 0
}

func (fs *Fs_t) Readdir(dir vfs.Inum_t) ([]vfs.Dirent_t, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	din, err := fs.loadInode(dir)
	if err != 0 {
		return nil, err
	}
	if din.Type() != defs.F_DIR {
		return nil, defs.ENOTDIR
	}
	views, derr := fs.dirList(din)
	if derr != 0 {
		return nil, derr
	}
	out := make([]vfs.Dirent_t, len(views))
	for i, v := range views {
		out[i] = vfs.Dirent_t{Name: v.Name, Inum: v.Inum, Type: v.Type}
	}
	return out, 0
}

func (fs *Fs_t) Stat(inum vfs.Inum_t, st *fdops.Stat_t) defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	in, err := fs.loadInode(inum)
	if err != 0 {
		return err
	}
	st.Dev = defs.D_RAWDISK
	st.Ino = int(inum)
	st.Mode = in.Mode()
	st.Size = in.Size()
	st.Type = in.Type()
	return 0
}

func (fs *Fs_t) Sync() defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	return fs.bc.Barrier()
}

func (fs *Fs_t) Unmount() defs.Err_t {
	fs.Lock()
	defer fs.Unlock()
	return fs.bc.Barrier()
}

var _ vfs.Filesystem_i = (*Fs_t)(nil)
