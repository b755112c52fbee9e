// Package bcache implements an LRU block cache with reference pinning
// in front of a block device: callers Get a block (pinning it so it
// cannot be evicted), mutate its Data in place, mark it dirty, and
// Release it; Flush and Barrier provide the durability points the
// filesystem's commit protocol needs.
package bcache

import (
	"container/list"
	"sync"

	"github.com/chris17453/watos/internal/defs"
)

// BSIZE is the size of a disk block in bytes.
const BSIZE = 4096

// Device is the block device a cache sits in front of.
type Device interface {
	ReadBlock(num int, buf []byte) error
	WriteBlock(num int, buf []byte) error
	Sync() error
}

// Block_t is one cached disk block.
type Block_t struct {
	Num   int
	Data  [BSIZE]byte
	dirty bool
	pin   int
}

// Cache_t is an LRU block cache with a fixed capacity measured in
// blocks. Unpinned blocks are evicted oldest-first once the cache is
// full; a pinned block (one with an outstanding Get not yet Released)
// is never evicted.
type Cache_t struct {
	sync.Mutex
	disk   Device
	cap    int
	blocks map[int]*list.Element // num -> element holding *Block_t
	lru    *list.List            // front = most recently used
}

// New creates a cache of the given block capacity in front of disk.
func New(disk Device, capacity int) *Cache_t {
	return &Cache_t{disk: disk, cap: capacity, blocks: map[int]*list.Element{}, lru: list.New()}
}

// Get returns the block numbered `num`, pinning it. If the block isn't
// resident, it is read from disk (or, when zeroFill is true, created
// zeroed without a disk read — used when a caller is about to
// overwrite the entire block, e.g. allocating a fresh metadata block).
func (c *Cache_t) Get(num int, zeroFill bool) (*Block_t, defs.Err_t) {
	c.Lock()
	if e, ok := c.blocks[num]; ok {
		b := e.Value.(*Block_t)
		b.pin++
		c.lru.MoveToFront(e)
		c.Unlock()
		return b, 0
	}
	if err := c.evictOneLocked(); err != 0 {
		c.Unlock()
		return nil, err
	}
	b := &Block_t{Num: num, pin: 1}
	e := c.lru.PushFront(b)
	c.blocks[num] = e
	c.Unlock()

	if !zeroFill {
		if err := c.disk.ReadBlock(num, b.Data[:]); err != nil {
			c.Release(b)
			return nil, defs.EIO
		}
	}
	return b, 0
}

// evictOneLocked drops the least-recently-used unpinned, clean block
// to make room for a new one. Dirty blocks are never silently dropped
// — callers must Flush before the cache can be pressured into evicting
// one, which in this single-writer-transaction design never actually
// happens (a transaction's working set is bounded well under
// capacity), but the check stays as the kernel invariant it would be a
// bug to violate.
func (c *Cache_t) evictOneLocked() defs.Err_t {
	if len(c.blocks) < c.cap {
		return 0
	}
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Block_t)
		if b.pin == 0 && !b.dirty {
			c.lru.Remove(e)
			delete(c.blocks, b.Num)
			return 0
		}
	}
	return defs.ENOHEAP
}

// MarkDirty flags a pinned block as modified, due to be written out by
// the next Flush/Barrier.
func (b *Block_t) MarkDirty() { b.dirty = true }

// Release unpins a block, making it eligible for eviction once its
// pin count returns to zero.
func (c *Cache_t) Release(b *Block_t) {
	c.Lock()
	defer c.Unlock()
	if b.pin <= 0 {
		panic("bcache: release of unpinned block")
	}
	b.pin--
}

// Flush writes every dirty block to the underlying device without
// necessarily making them durable (no Sync).
func (c *Cache_t) Flush() defs.Err_t {
	c.Lock()
	dirty := make([]*Block_t, 0)
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Block_t)
		if b.dirty {
			dirty = append(dirty, b)
		}
	}
	c.Unlock()
	for _, b := range dirty {
		if err := c.disk.WriteBlock(b.Num, b.Data[:]); err != nil {
			return defs.EIO
		}
		b.dirty = false
	}
	return 0
}

// Barrier flushes dirty blocks and then calls Sync, the durability
// point a transaction commit depends on: everything written before a
// Barrier call is guaranteed on stable storage before it returns.
func (c *Cache_t) Barrier() defs.Err_t {
	if err := c.Flush(); err != 0 {
		return err
	}
	if err := c.disk.Sync(); err != nil {
		return defs.EIO
	}
	return 0
}
