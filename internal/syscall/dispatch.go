package syscall

import (
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/proc"
	"github.com/chris17453/watos/internal/ustr"
	"github.com/chris17453/watos/internal/vm"
)

// Args is the syscall entry's register file: up to six argument
// registers, carrying the syscall number in a fixed register per the
// calling convention.
type Args struct {
	A0, A1, A2, A3, A4, A5 uintptr
}

// Dispatch runs the syscall num on behalf of pid and returns the
// ABI-level result: non-negative on success, -Err_t on failure, the
// same convention defs.Err_t.Rc() produces. A process whose own
// process-table entry has vanished (already reaped) gets EFAULT; an
// unrecognized syscall number gets Unsupported rather than a panic,
// since a user-space bug must never bring down the kernel. Allocator
// exhaustion (ENOMEM) is reported as NoSpace (ENOSPC).
func Dispatch(pid defs.Pid_t, num Num, a Args) (rc int) {
	defer func() {
		if rc == defs.ENOMEM.Rc() {
			rc = defs.ENOSPC.Rc()
		}
	}()
	p, ok := proc.Table.Get(pid)
	if !ok {
		return defs.EFAULT.Rc()
	}

	switch num {
	case SYS_EXIT:
		return sysExit(p, a)
	case SYS_GETPID:
		return sysGetpid(p, a)
	case SYS_SPAWN:
		return sysSpawn(p, a)
	case SYS_WAIT:
		return sysWait(p, a)
	case SYS_YIELD:
		return sysYield(p, a)

	case SYS_OPEN:
		return sysOpen(p, a)
	case SYS_CLOSE:
		return sysClose(p, a)
	case SYS_READ:
		return sysRead(p, a)
	case SYS_WRITE:
		return sysWrite(p, a)
	case SYS_SEEK:
		return sysSeek(p, a)
	case SYS_STAT:
		return sysStat(p, a)
	case SYS_READDIR:
		return sysReaddir(p, a)
	case SYS_MKDIR:
		return sysMkdir(p, a)
	case SYS_RMDIR:
		return sysRmdir(p, a)
	case SYS_UNLINK:
		return sysUnlink(p, a)
	case SYS_RENAME:
		return sysRename(p, a)
	case SYS_TRUNCATE:
		return sysTruncate(p, a)

	case SYS_BRK:
		return sysBrk(p, a)
	case SYS_MMAP_ANON:
		return sysMmapAnon(p, a)
	case SYS_MUNMAP:
		return sysMunmap(p, a)
	case SYS_MPROTECT:
		return sysMprotect(p, a)

	case SYS_CLOCK_NOW:
		return sysClockNow(p, a)
	case SYS_SLEEP:
		return sysSleep(p, a)

	default:
		return defs.ENOSYS.Rc()
	}
}

// fdLookup resolves a0 as a file descriptor number in p's table.
func fdLookup(p *proc.Proc_t, fdno int) (*fd.Fd_t, defs.Err_t) {
	p.Lock()
	f, ok := p.Fds[fdno]
	p.Unlock()
	if !ok {
		return nil, defs.EINVAL
	}
	return f, 0
}

// copyInPath reads a path argument out of p's address space, refusing
// anything past MaxPathLen regardless of what length the caller
// claims.
func copyInPath(p *proc.Proc_t, ptr uintptr, length int) (ustr.Ustr, defs.Err_t) {
	if length < 0 || length > MaxPathLen {
		return nil, defs.EINVAL
	}
	buf := make([]byte, length)
	ub := vm.NewUserbuf(p.As, ptr, length, false)
	if _, err := ub.CopyIn(buf); err != 0 {
		return nil, err
	}
	return ustr.Ustr(buf), 0
}

// clampIOLen bounds a user-claimed read/write length to MaxIOChunk.
func clampIOLen(n int) (int, defs.Err_t) {
	if n < 0 {
		return 0, defs.EINVAL
	}
	if n > MaxIOChunk {
		n = MaxIOChunk
	}
	return n, 0
}
