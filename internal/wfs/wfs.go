// Package wfs implements WFSv3, a copy-on-write on-disk filesystem: a
// dual-slot superblock committed by a single atomic write, an inode
// table addressed by inode number, inline extents describing each
// file's data, and hashed directory entries. File data is copy-on-write:
// a write puts each touched block in a newly allocated block, and the
// displaced blocks are freed only after commit has written the other
// superblock slot. Directory slots, inode table records and both
// bitmaps are updated in place in the block cache; commit flushes them
// before writing the superblock slot, and the older slot does not keep
// their previous contents.
package wfs

import (
	"github.com/chris17453/watos/internal/bcache"
)

// BSIZE is the filesystem's block size, matching the block cache's.
const BSIZE = bcache.BSIZE

// Block numbers below are fixed offsets in every WFSv3 image; mkfs
// lays blocks out in exactly this order.
const (
	SuperSlotA = 0
	SuperSlotB = 1
	FirstMeta  = 2
)

// InodeSize is the on-disk size of one inode record.
const InodeSize = 256

// InodesPerBlock is how many inode records fit in one block.
const InodesPerBlock = BSIZE / InodeSize

// MaxInlineExtents is the number of extent records carried directly in
// an inode, before an overflow location would be needed. WFSv3 images
// built by this kernel never grow a file past this many extents worth
// of fragmentation (each extent up to ExtentMaxLen blocks), which is
// generous enough that no overflow path is implemented.
const MaxInlineExtents = 8

// ExtentMaxLen bounds how many contiguous blocks a single extent
// record may span, keeping the allocator's best-fit search bounded.
const ExtentMaxLen = 1 << 16

// DirEntSize is the on-disk size of one directory entry slot.
const DirEntSize = 64

// DirNameMax is the longest filename a directory entry slot can hold
// inline.
const DirNameMax = 48

// RootInum is the filesystem root directory's inode number, fixed at
// mkfs time.
const RootInum = 0
