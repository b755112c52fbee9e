// Package hostdisk implements a block device backed by a regular host
// file, the stand-in for a real AHCI/NVMe disk this kernel runs
// against.
package hostdisk

import (
	"os"
	"sync"

	"github.com/chris17453/watos/internal/bcache"
)

// File is a block device backed by an *os.File, serializing every
// seek+read or seek+write pair under a single lock so concurrent
// callers never interleave on the shared file offset.
type File struct {
	sync.Mutex
	f *os.File
}

// Open opens (or creates, given os.O_CREATE) path as a block device.
func Open(path string, flag int, perm os.FileMode) (*File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// ReadBlock reads block `num` into buf, which must be exactly
// bcache.BSIZE bytes.
func (d *File) ReadBlock(num int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	if _, err := d.f.Seek(int64(num)*bcache.BSIZE, 0); err != nil {
		return err
	}
	_, err := d.f.Read(buf)
	return err
}

// WriteBlock writes buf (exactly bcache.BSIZE bytes) to block `num`.
func (d *File) WriteBlock(num int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	if _, err := d.f.Seek(int64(num)*bcache.BSIZE, 0); err != nil {
		return err
	}
	_, err := d.f.Write(buf)
	return err
}

// Sync flushes the host file to stable storage, the durability
// primitive bcache.Barrier depends on.
func (d *File) Sync() error {
	d.Lock()
	defer d.Unlock()
	return d.f.Sync()
}

// Close releases the underlying file.
func (d *File) Close() error {
	d.Lock()
	defer d.Unlock()
	return d.f.Close()
}

// Grow extends the backing file to hold at least nblocks blocks,
// zero-filling the new region, used by mkwfs to size a fresh image.
func (d *File) Grow(nblocks int) error {
	d.Lock()
	defer d.Unlock()
	size := int64(nblocks) * bcache.BSIZE
	st, err := d.f.Stat()
	if err != nil {
		return err
	}
	if st.Size() >= size {
		return nil
	}
	return d.f.Truncate(size)
}

var _ bcache.Device = (*File)(nil)
