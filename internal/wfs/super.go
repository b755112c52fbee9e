package wfs

import (
	"encoding/binary"
	"hash/crc32"
)

// fieldr/fieldw read and write the nth 8-byte little-endian field of a
// fixed-layout metadata block, the same narrow accessor discipline the
// teacher's on-disk superblock uses instead of a struct cast over raw
// bytes.
func fieldr(d []byte, n int) uint64 {
	return binary.LittleEndian.Uint64(d[n*8:])
}

func fieldw(d []byte, n int, v uint64) {
	binary.LittleEndian.PutUint64(d[n*8:], v)
}

// crc32cTable is the Castagnoli table WFSv3 uses for every metadata
// checksum, matching spec's CRC32C requirement.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crcRegionEnd is the byte offset at which the trailing CRC32C field
// begins; everything before it is covered by the checksum.
const crcRegionEnd = BSIZE - 8

// Superblock_t is an accessor over one in-memory copy of a superblock
// block's bytes.
type Superblock_t struct {
	Data *[BSIZE]byte
}

const (
	sbMagic       = 0
	sbVersion     = 1
	sbTotalBlocks = 2
	sbBitmapStart = 3
	sbBitmapLen   = 4
	sbInodeStart  = 5
	sbInodeLen    = 6
	sbInodeCount  = 7
	sbGeneration  = 8
	sbFreeBlocks  = 9
	sbInodeBitmap = 10
	sbInodeBmLen  = 11
)

const magicValue = 0x3356534657000000 // "WFSv3" tagged into the high bytes

func (sb *Superblock_t) Magic() uint64       { return fieldr(sb.Data[:], sbMagic) }
func (sb *Superblock_t) Version() uint64     { return fieldr(sb.Data[:], sbVersion) }
func (sb *Superblock_t) TotalBlocks() uint64 { return fieldr(sb.Data[:], sbTotalBlocks) }
func (sb *Superblock_t) BitmapStart() uint64 { return fieldr(sb.Data[:], sbBitmapStart) }
func (sb *Superblock_t) BitmapLen() uint64   { return fieldr(sb.Data[:], sbBitmapLen) }
func (sb *Superblock_t) InodeStart() uint64  { return fieldr(sb.Data[:], sbInodeStart) }
func (sb *Superblock_t) InodeLen() uint64    { return fieldr(sb.Data[:], sbInodeLen) }
func (sb *Superblock_t) InodeCount() uint64  { return fieldr(sb.Data[:], sbInodeCount) }
func (sb *Superblock_t) Generation() uint64  { return fieldr(sb.Data[:], sbGeneration) }
func (sb *Superblock_t) FreeBlocks() uint64  { return fieldr(sb.Data[:], sbFreeBlocks) }
func (sb *Superblock_t) InodeBitmap() uint64 { return fieldr(sb.Data[:], sbInodeBitmap) }
func (sb *Superblock_t) InodeBmLen() uint64  { return fieldr(sb.Data[:], sbInodeBmLen) }

func (sb *Superblock_t) SetMagic(v uint64)       { fieldw(sb.Data[:], sbMagic, v) }
func (sb *Superblock_t) SetVersion(v uint64)     { fieldw(sb.Data[:], sbVersion, v) }
func (sb *Superblock_t) SetTotalBlocks(v uint64) { fieldw(sb.Data[:], sbTotalBlocks, v) }
func (sb *Superblock_t) SetBitmapStart(v uint64) { fieldw(sb.Data[:], sbBitmapStart, v) }
func (sb *Superblock_t) SetBitmapLen(v uint64)   { fieldw(sb.Data[:], sbBitmapLen, v) }
func (sb *Superblock_t) SetInodeStart(v uint64)  { fieldw(sb.Data[:], sbInodeStart, v) }
func (sb *Superblock_t) SetInodeLen(v uint64)    { fieldw(sb.Data[:], sbInodeLen, v) }
func (sb *Superblock_t) SetInodeCount(v uint64)  { fieldw(sb.Data[:], sbInodeCount, v) }
func (sb *Superblock_t) SetGeneration(v uint64)  { fieldw(sb.Data[:], sbGeneration, v) }
func (sb *Superblock_t) SetFreeBlocks(v uint64)  { fieldw(sb.Data[:], sbFreeBlocks, v) }
func (sb *Superblock_t) SetInodeBitmap(v uint64) { fieldw(sb.Data[:], sbInodeBitmap, v) }
func (sb *Superblock_t) SetInodeBmLen(v uint64)  { fieldw(sb.Data[:], sbInodeBmLen, v) }

// FinalizeCRC computes and stores the block's checksum over every byte
// but the checksum field itself, the last step before a superblock
// slot is written during commit.
func (sb *Superblock_t) FinalizeCRC() {
	sum := crc32.Checksum(sb.Data[:crcRegionEnd], crc32cTable)
	binary.LittleEndian.PutUint32(sb.Data[crcRegionEnd:], sum)
}

// ValidCRC reports whether the stored checksum matches the block's
// contents.
func (sb *Superblock_t) ValidCRC() bool {
	want := binary.LittleEndian.Uint32(sb.Data[crcRegionEnd:])
	got := crc32.Checksum(sb.Data[:crcRegionEnd], crc32cTable)
	return want == got
}

// pickSuperblock reads both superblock slots and returns the one with
// a valid checksum and the higher generation — the crash recovery
// rule: a slot with a bad CRC never finished writing and is discarded
// outright, and between two valid slots the higher generation is the
// one a commit completed most recently.
func pickSuperblock(a, b *Superblock_t) (*Superblock_t, bool) {
	aOK, bOK := a.ValidCRC() && a.Magic() == magicValue, b.ValidCRC() && b.Magic() == magicValue
	switch {
	case aOK && bOK:
		if a.Generation() >= b.Generation() {
			return a, true
		}
		return b, true
	case aOK:
		return a, true
	case bOK:
		return b, true
	default:
		return nil, false
	}
}

// otherSlot returns the block number of the superblock slot not
// currently selected, the slot the next commit writes to.
func otherSlot(cur int) int {
	if cur == SuperSlotA {
		return SuperSlotB
	}
	return SuperSlotA
}
