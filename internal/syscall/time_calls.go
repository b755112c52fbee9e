package syscall

import (
	"time"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/proc"
)

func sysClockNow(p *proc.Proc_t, a Args) int {
	return int(time.Now().UnixNano())
}

// sysSleep blocks the calling process for a0 nanoseconds, the
// cooperative scheduler's one genuinely time-based suspension point.
// Time spent here is charged to system time then backed out of the
// process's accounting, mirroring Accnt_t's Sleep_time convention for
// blocking syscalls.
func sysSleep(p *proc.Proc_t, a Args) int {
	if int64(a.A0) < 0 {
		return defs.EINVAL.Rc()
	}
	since := p.Accnt.Now()
	time.Sleep(time.Duration(a.A0))
	p.Accnt.Sleep_time(since)
	return 0
}
