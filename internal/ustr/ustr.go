// Package ustr implements the immutable byte-string path type used
// throughout the VFS layer.
package ustr

// Ustr is an immutable path/name value. Kernel path handling avoids the
// standard string type so that path bytes arriving from user memory
// never need an extra validity check beyond what copy-in already does.
type Ustr []uint8

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrRoot returns "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrDot returns ".".
func MkUstrDot() Ustr { return Ustr(".") }

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice truncates buf at the first NUL byte, for converting a
// fixed-size C-style buffer copied in from user memory.
func MkUstrSlice(buf []uint8) Ustr {
	for i := range buf {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Isdot reports whether us is exactly ".".
func (us Ustr) Isdot() bool { return len(us) == 1 && us[0] == '.' }

// Isdotdot reports whether us is exactly "..".
func (us Ustr) Isdotdot() bool { return len(us) == 2 && us[0] == '.' && us[1] == '.' }

// Eq reports byte-wise equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// Extend appends '/' + p and returns a fresh Ustr.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr is Extend for a Go string component.
func (us Ustr) ExtendStr(p string) Ustr { return us.Extend(Ustr(p)) }

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool { return len(us) > 0 && us[0] == '/' }

// IndexByte returns the index of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts to a Go string.
func (us Ustr) String() string { return string(us) }

// Split breaks us into '/'-delimited components, discarding empty ones
// (so "//a//b/" yields ["a","b"]).
func (us Ustr) Split() []Ustr {
	var out []Ustr
	start := -1
	for i := 0; i <= len(us); i++ {
		if i == len(us) || us[i] == '/' {
			if start >= 0 {
				out = append(out, us[start:i])
			}
			start = -1
		} else if start < 0 {
			start = i
		}
	}
	return out
}
