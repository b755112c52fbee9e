// Package stats implements lightweight, compile-time-gated counters, so
// a release build doesn't pay for instrumentation. Heavier export
// (pprof profiles) lives beside the subsystem it instruments
// (internal/mem.Physmem.Profile), not here — this package is only the
// cheap per-event tally primitive.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Enabled gates whether counters actually increment. Flipping it to true
// is a recompile.
const Enabled = false

// Counter_t is a monotonic event counter.
type Counter_t int64

// Inc increments the counter when counting is enabled.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add adds n to the counter when counting is enabled.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Get reads the counter value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Dump renders every Counter_t field of st as a printable report.
func Dump(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
