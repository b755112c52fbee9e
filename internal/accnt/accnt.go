// Package accnt accumulates per-process CPU accounting: nanosecond
// counters for user and system time, with a snapshot/merge API a
// wait(2)-style call can hand back to a parent as rusage.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chris17453/watos/internal/util"
)

// Accnt_t accumulates user/system time in nanoseconds. The embedded
// mutex lets callers take a consistent snapshot when exporting usage.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Io_time removes time spent blocked on I/O from system time, so a
// blocking syscall's wait doesn't inflate the process's CPU accounting.
func (a *Accnt_t) Io_time(since int64) {
	a.Systadd(-(a.Now() - since))
}

// Sleep_time removes time spent in sleep(2) from system time.
func (a *Accnt_t) Sleep_time(since int64) {
	a.Systadd(-(a.Now() - since))
}

// Finish adds elapsed time since inttime to system time, for closing out
// accounting at syscall return.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// Add merges n's counters into a, used when a zombie's usage is folded
// into its parent at wait(2).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	defer a.Unlock()
	n.Lock()
	defer n.Unlock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
}

// Rusage_t is the exported, copy-in/copy-out-friendly form of Accnt_t.
type Rusage_t struct {
	UserSecs, UserUsecs int
	SysSecs, SysUsecs   int
}

// Fetch takes a consistent snapshot and renders it as Rusage_t.
func (a *Accnt_t) Fetch() Rusage_t {
	a.Lock()
	defer a.Unlock()
	us, uu := totv(a.Userns)
	ss, su := totv(a.Sysns)
	return Rusage_t{UserSecs: us, UserUsecs: uu, SysSecs: ss, SysUsecs: su}
}

func totv(nanos int64) (int, int) {
	secs := int(nanos / 1e9)
	usecs := int((nanos % 1e9) / 1000)
	return secs, usecs
}

// Bytes serializes the rusage record little-endian, for copy-out to a
// user-supplied buffer.
func (r Rusage_t) Bytes() []uint8 {
	out := make([]uint8, 4*8)
	util.Writen(out, 8, 0, r.UserSecs)
	util.Writen(out, 8, 8, r.UserUsecs)
	util.Writen(out, 8, 16, r.SysSecs)
	util.Writen(out, 8, 24, r.SysUsecs)
	return out
}
