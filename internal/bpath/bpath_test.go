package bpath

import (
	"testing"

	"github.com/chris17453/watos/internal/ustr"
)

func TestCanonicalizeCollapsesDotAndDotDot(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/a/./b", "/a/b"},
		{"/a/b/../c", "/a/c"},
		{"/a//b", "/a/b"},
		{"/../a", "/a"},
		{"/", "/"},
		{"/a/b/", "/a/b"},
	}
	for _, c := range cases {
		got := Canonicalize(ustr.Ustr(c.in))
		if got.String() != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got.String(), c.want)
		}
	}
}
