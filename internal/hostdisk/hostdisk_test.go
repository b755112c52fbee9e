package hostdisk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chris17453/watos/internal/bcache"
)

func TestReadWriteBlockRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.Grow(4); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	want := bytes.Repeat([]byte{0xab}, bcache.BSIZE)
	if err := d.WriteBlock(2, want); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	got := make([]byte, bcache.BSIZE)
	if err := d.ReadBlock(2, got); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back mismatch")
	}

	other := make([]byte, bcache.BSIZE)
	if err := d.ReadBlock(0, other); err != nil {
		t.Fatalf("ReadBlock(0): %v", err)
	}
	for i, b := range other {
		if b != 0 {
			t.Fatalf("untouched block 0 byte %d = %#x, want zero", i, b)
		}
	}
}

func TestGrowExtendsFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if err := d.Grow(10); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	st, serr := os.Stat(path)
	if serr != nil {
		t.Fatalf("Stat: %v", serr)
	}
	if st.Size() != 10*bcache.BSIZE {
		t.Fatalf("file size = %d, want %d", st.Size(), 10*bcache.BSIZE)
	}
}
