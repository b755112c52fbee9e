// Package console implements the device backing fds 0/1/2: a thin
// Fdops_i wrapper over the host's standard input and output, the
// external collaborator real hardware console input/output would be.
package console

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fdops"
)

// Device is the console file description. Every fd opened against the
// console device shares the same Device; Reopen just bumps a refcount
// rather than duplicating any host resource.
type Device struct {
	sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	refs   int
	closed bool
}

// New builds a console device reading from r and writing to w.
func New(r io.Reader, w io.Writer) *Device {
	return &Device{in: bufio.NewReader(r), out: w, refs: 1}
}

// Default returns a console device wired to the host's stdin/stdout,
// the one cmd/watos installs as fds 0/1/2 for a freshly spawned
// process.
func Default() *Device {
	return New(os.Stdin, os.Stdout)
}

func (d *Device) Read(dst fdops.Copier, offset int64) (int, defs.Err_t) {
	d.Lock()
	defer d.Unlock()
	if d.closed {
		return 0, defs.EIO
	}
	buf := make([]byte, dst.Remain())
	if len(buf) == 0 {
		return 0, 0
	}
	n, err := d.in.Read(buf)
	if n == 0 && err != nil {
		if err == io.EOF {
			return 0, 0
		}
		return 0, defs.EIO
	}
	wrote, cerr := dst.CopyOut(buf[:n])
	if cerr != 0 {
		return 0, cerr
	}
	return wrote, 0
}

func (d *Device) Write(src fdops.Copier, offset int64, appendFlag bool) (int, defs.Err_t) {
	d.Lock()
	defer d.Unlock()
	if d.closed {
		return 0, defs.EIO
	}
	buf := make([]byte, src.Remain())
	n, cerr := src.CopyIn(buf)
	if cerr != 0 {
		return 0, cerr
	}
	if n == 0 {
		return 0, 0
	}
	wrote, err := d.out.Write(buf[:n])
	if err != nil {
		return wrote, defs.EIO
	}
	return wrote, 0
}

// Lseek fails: the console has no notion of a position to seek within.
func (d *Device) Lseek(off int64, whence int) (int64, defs.Err_t) { return 0, defs.EINVAL }

func (d *Device) Reopen() defs.Err_t {
	d.Lock()
	defer d.Unlock()
	d.refs++
	return 0
}

func (d *Device) Close() defs.Err_t {
	d.Lock()
	defer d.Unlock()
	d.refs--
	if d.refs <= 0 {
		d.closed = true
	}
	return 0
}

func (d *Device) Fstat(st *fdops.Stat_t) defs.Err_t {
	st.Dev = defs.D_CONSOLE
	st.Ino = 0
	st.Type = defs.F_DEVICE
	st.Size = 0
	return 0
}

func (d *Device) Truncate(newlen uint) defs.Err_t { return defs.EINVAL }
func (d *Device) Readdir() ([]fdops.Dirent_t, defs.Err_t) {
	return nil, defs.ENOTDIR
}
func (d *Device) Pathi() fdops.Inum_t { return 0 }

var _ fdops.Fdops_i = (*Device)(nil)
