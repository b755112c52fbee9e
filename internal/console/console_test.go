package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/vm"
)

func TestWriteGoesToUnderlyingWriter(t *testing.T) {
	var out bytes.Buffer
	d := New(strings.NewReader(""), &out)
	src := vm.NewFakeubuf([]byte("hello\n"))
	n, err := d.Write(src, 0, false)
	if err != 0 {
		t.Fatalf("Write: %s", err)
	}
	if n != len("hello\n") {
		t.Fatalf("Write returned %d, want %d", n, len("hello\n"))
	}
	if out.String() != "hello\n" {
		t.Fatalf("underlying writer got %q", out.String())
	}
}

func TestReadDrainsUnderlyingReader(t *testing.T) {
	d := New(strings.NewReader("abc"), &bytes.Buffer{})
	buf := make([]byte, 3)
	dst := vm.NewFakeubuf(buf)
	n, err := d.Read(dst, 0)
	if err != 0 {
		t.Fatalf("Read: %s", err)
	}
	if n != 3 || string(buf) != "abc" {
		t.Fatalf("Read = %d,%q want 3,\"abc\"", n, buf)
	}
}

func TestReadAtEOFReturnsZero(t *testing.T) {
	d := New(strings.NewReader(""), &bytes.Buffer{})
	buf := make([]byte, 4)
	dst := vm.NewFakeubuf(buf)
	n, err := d.Read(dst, 0)
	if err != 0 || n != 0 {
		t.Fatalf("Read at EOF = %d,%s want 0,success", n, err)
	}
}

func TestReopenIncrementsRefsAndCloseNeverErrors(t *testing.T) {
	d := New(strings.NewReader(""), &bytes.Buffer{})
	if err := d.Reopen(); err != 0 {
		t.Fatalf("Reopen: %s", err)
	}
	if err := d.Close(); err != 0 {
		t.Fatalf("Close: %s", err)
	}
	if err := d.Close(); err != 0 {
		t.Fatalf("Close: %s", err)
	}
	if !d.closed {
		t.Fatalf("device should be marked closed once refs drop to zero")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	d := New(strings.NewReader(""), &bytes.Buffer{})
	d.Close()
	src := vm.NewFakeubuf([]byte("x"))
	if _, err := d.Write(src, 0, false); err != defs.EIO {
		t.Fatalf("Write after close = %s, want EIO", err)
	}
}

func TestFstatReportsConsoleDevice(t *testing.T) {
	d := New(strings.NewReader(""), &bytes.Buffer{})
	var st fdops.Stat_t
	if err := d.Fstat(&st); err != 0 {
		t.Fatalf("Fstat: %s", err)
	}
	if st.Type != defs.F_DEVICE {
		t.Fatalf("Fstat.Type = %v, want F_DEVICE", st.Type)
	}
}
