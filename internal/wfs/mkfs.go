package wfs

import (
	"github.com/chris17453/watos/internal/bcache"
	"github.com/chris17453/watos/internal/defs"
)

// ceilDiv divides rounding up.
func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// Format lays out a fresh WFSv3 image across totalBlocks blocks of
// disk and writes both superblock slots, an empty data-block bitmap,
// an empty inode bitmap, and a root directory inode in one single
// pass rather than growing the image incrementally. inodeCount sizes
// the fixed inode table; the caller picks it from the target image
// size the way an offline image builder would.
func Format(disk bcache.Device, totalBlocks uint64, inodeCount uint64) defs.Err_t {
	if totalBlocks < FirstMeta+4 {
		return defs.EINVAL
	}
	bitsPerBlock := uint64(BSIZE * 8)
	bitmapStart := uint64(FirstMeta)
	bitmapLen := ceilDiv(totalBlocks, bitsPerBlock)
	inodeBmap := bitmapStart + bitmapLen
	inodeBmLen := ceilDiv(inodeCount, bitsPerBlock)
	inodeStart := inodeBmap + inodeBmLen
	inodeLen := ceilDiv(inodeCount, uint64(InodesPerBlock))
	firstData := uint32(inodeStart + inodeLen)
	if uint64(firstData) >= totalBlocks {
		return defs.EINVAL
	}

	bc := bcache.New(disk, int(bitmapLen+inodeBmLen+inodeLen+8))

	// Every data block starts free: set every bit of the data bitmap.
	for i := uint64(0); i < bitmapLen; i++ {
		blk, err := bc.Get(int(bitmapStart+i), true)
		if err != 0 {
			return err
		}
		for j := range blk.Data {
			blk.Data[j] = 0xff
		}
		blk.MarkDirty()
		bc.Release(blk)
	}
	// Every inode starts free except inode 0, reserved for the root
	// directory.
	for i := uint64(0); i < inodeBmLen; i++ {
		blk, err := bc.Get(int(inodeBmap+i), true)
		if err != 0 {
			return err
		}
		for j := range blk.Data {
			blk.Data[j] = 0xff
		}
		blk.MarkDirty()
		bc.Release(blk)
	}
	if err := bitSet(bc, inodeBmap, uint32(RootInum), false); err != 0 {
		return err
	}
	// The inode table itself starts zeroed.
	for i := uint64(0); i < inodeLen; i++ {
		blk, err := bc.Get(int(inodeStart+i), true)
		if err != 0 {
			return err
		}
		bc.Release(blk)
	}

	fs := &Fs_t{
		bc:          bc,
		curSlot:     SuperSlotA,
		generation:  0,
		totalBlocks: totalBlocks,
		bitmapStart: bitmapStart,
		bitmapLen:   bitmapLen,
		inodeBmap:   inodeBmap,
		inodeBmLen:  inodeBmLen,
		inodeStart:  inodeStart,
		inodeLen:    inodeLen,
		inodeCount:  inodeCount,
	}

	rootExt, err := fs.allocBlocks(1)
	if err != 0 {
		return err
	}
	blk, gerr := bc.Get(int(rootExt.Start), true)
	if gerr != 0 {
		return gerr
	}
	writeSlot(blk.Data[0*DirEntSize:1*DirEntSize], uint64(RootInum), ".", defs.F_DIR)
	writeSlot(blk.Data[1*DirEntSize:2*DirEntSize], uint64(RootInum), "..", defs.F_DIR)
	blk.MarkDirty()
	bc.Release(blk)

	root := &Inode_t{Data: make([]byte, InodeSize)}
	root.SetType(defs.F_DIR)
	root.SetMode(0755)
	root.SetNlink(2)
	root.SetSize(BSIZE)
	root.SetMtime(now())
	root.SetCtime(now())
	if serr := root.SetExtents([]Extent_t{rootExt}); serr != 0 {
		return serr
	}
	if serr := fs.storeInode(RootInum, root); serr != 0 {
		return serr
	}

	if err := bc.Barrier(); err != 0 {
		return err
	}

	for _, slot := range []int{SuperSlotA, SuperSlotB} {
		sblk, serr := bc.Get(slot, true)
		if serr != 0 {
			return serr
		}
		sb := &Superblock_t{Data: &sblk.Data}
		sb.SetMagic(magicValue)
		sb.SetVersion(1)
		sb.SetTotalBlocks(totalBlocks)
		sb.SetBitmapStart(bitmapStart)
		sb.SetBitmapLen(bitmapLen)
		sb.SetInodeBitmap(inodeBmap)
		sb.SetInodeBmLen(inodeBmLen)
		sb.SetInodeStart(inodeStart)
		sb.SetInodeLen(inodeLen)
		sb.SetInodeCount(inodeCount)
		sb.SetGeneration(1)
		sb.SetFreeBlocks(0)
		sb.FinalizeCRC()
		sblk.MarkDirty()
		bc.Release(sblk)
	}

	return bc.Barrier()
}
