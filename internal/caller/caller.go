// Package caller provides call-stack introspection used by kernel panic
// dumps.
package caller

import (
	"fmt"
	"runtime"
)

// Dump renders the call stack starting at the given skip depth as a
// multi-line string, most recent call first.
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
