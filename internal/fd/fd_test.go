package fd

import (
	"strings"
	"testing"

	"github.com/chris17453/watos/internal/console"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fdops"
	"github.com/chris17453/watos/internal/ustr"
)

func testConsoleFd() *Fd_t {
	return &Fd_t{Fops: console.New(strings.NewReader(""), new(strings.Builder)), Perms: FD_READ | FD_WRITE}
}

func TestCopyfdSharesFopsButNotOffset(t *testing.T) {
	f := testConsoleFd()
	f.Offset = 42
	nf, err := Copyfd(f)
	if err != 0 {
		t.Fatalf("Copyfd: %s", err)
	}
	if nf.Fops != f.Fops {
		t.Fatalf("Copyfd should share the underlying file description")
	}
	if nf.Offset != 42 {
		t.Fatalf("Copyfd should preserve the cursor at the moment of duplication")
	}
	nf.Offset = 100
	if f.Offset != 42 {
		t.Fatalf("independently dup'd descriptors must not share an Offset field")
	}
}

func TestClosePanicOnFailingCloseePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected ClosePanic to panic when the underlying Close fails")
		}
	}()
	f := &Fd_t{Fops: &alwaysFailClose{}}
	ClosePanic(f)
}

func TestMkRootCwdFullpath(t *testing.T) {
	cwd := MkRootCwd(nil)
	if cwd.Path.String() != "/" {
		t.Fatalf("MkRootCwd path = %q, want /", cwd.Path.String())
	}
	abs := cwd.Fullpath(ustr.Ustr("/abs/path"))
	if abs.String() != "/abs/path" {
		t.Fatalf("Fullpath(absolute) should pass through unchanged, got %q", abs.String())
	}
	// Fullpath's relative join is lexically raw (it can yield a doubled
	// slash at the root); Canonicalpath is what callers actually use to
	// resolve a relative path cleanly.
	got := cwd.Canonicalpath(ustr.Ustr("etc/passwd"))
	if got.String() != "/etc/passwd" {
		t.Fatalf("Canonicalpath(relative) from root = %q, want /etc/passwd", got.String())
	}
}

func TestCanonicalpathCollapsesDotDot(t *testing.T) {
	cwd := MkRootCwd(nil)
	cwd.Path = ustr.Ustr("/home/user")
	got := cwd.Canonicalpath(ustr.Ustr("../other"))
	if got.String() != "/home/other" {
		t.Fatalf("Canonicalpath(../other) from /home/user = %q, want /home/other", got.String())
	}
}

// alwaysFailClose is an fdops.Fdops_i stand-in whose Close always
// reports failure, used to exercise ClosePanic's invariant check.
type alwaysFailClose struct {
	fdops.Fdops_i
}

func (a *alwaysFailClose) Close() defs.Err_t { return defs.EIO }
