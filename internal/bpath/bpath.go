// Package bpath canonicalizes absolute paths: it collapses "." and ".."
// components and repeated slashes without touching the filesystem. The
// symlink-following and mount-crossing parts of path resolution live in
// internal/vfs, which calls Canonicalize on every path it is handed.
package bpath

import "github.com/chris17453/watos/internal/ustr"

// Canonicalize resolves "." and ".." components of an absolute path
// purely lexically and returns a path with a single leading '/' and no
// trailing slash (except for the root itself). It never touches the
// filesystem; ".." above the root is clamped at the root, matching
// standard lexical path cleaning (there is no parent of "/").
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := p.Split()
	var stack []ustr.Ustr
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	out := ustr.MkUstrRoot()
	for i, c := range stack {
		if i == 0 {
			out = ustr.Ustr("/")
			out = append(out, c...)
		} else {
			out = out.Extend(c)
		}
	}
	return out
}
