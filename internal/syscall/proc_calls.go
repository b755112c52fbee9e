package syscall

import (
	"encoding/binary"

	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/proc"
	"github.com/chris17453/watos/internal/vm"
)

func sysExit(p *proc.Proc_t, a Args) int {
	proc.Exit(p.Pid, int(a.A0))
	return 0
}

func sysGetpid(p *proc.Proc_t, a Args) int {
	return int(p.Pid)
}

func sysYield(p *proc.Proc_t, a Args) int {
	proc.Sched.Yield(p.Pid)
	return 0
}

func sysWait(p *proc.Proc_t, a Args) int {
	childPid := defs.Pid_t(a.A0)
	pid, code, err := proc.Wait(p.Pid, childPid)
	if err != 0 {
		return err.Rc()
	}
	// Pack (pid, code) into one ABI word the way wait's result register
	// carries both: pid in the high 32 bits, exit code in the low 32.
	return int(pid)<<32 | (code & 0xffffffff)
}

// sysSpawn copies an ELF image and argument vector out of p's address
// space and starts a new process, inheriting p's fd 0 as stdio.
func sysSpawn(p *proc.Proc_t, a Args) int {
	elfLen := int(a.A1)
	if elfLen <= 0 || elfLen > MaxElfLen {
		return defs.EINVAL.Rc()
	}
	elfBytes := make([]byte, elfLen)
	ub := vm.NewUserbuf(p.As, a.A0, elfLen, false)
	if _, err := ub.CopyIn(elfBytes); err != 0 {
		return err.Rc()
	}

	argc := int(a.A3)
	if argc < 0 || argc > MaxArgv {
		return defs.EINVAL.Rc()
	}
	argv, err := copyInArgv(p, a.A2, argc)
	if err != 0 {
		return err.Rc()
	}

	p.Lock()
	stdio := p.Fds[0]
	p.Unlock()

	pid, serr := proc.Spawn(p.Pid, elfBytes, argv, nil, stdio)
	if serr != 0 {
		return serr.Rc()
	}
	return int(pid)
}

// copyInArgv decodes argc (ptr, len) pairs starting at argvPtr — 16
// bytes each, little-endian — and copies each named string in turn.
func copyInArgv(p *proc.Proc_t, argvPtr uintptr, argc int) ([]string, defs.Err_t) {
	if argc == 0 {
		return nil, 0
	}
	descTable := make([]byte, argc*16)
	ub := vm.NewUserbuf(p.As, argvPtr, len(descTable), false)
	if _, err := ub.CopyIn(descTable); err != 0 {
		return nil, err
	}
	argv := make([]string, argc)
	for i := 0; i < argc; i++ {
		ptr := uintptr(binary.LittleEndian.Uint64(descTable[i*16:]))
		length := int(binary.LittleEndian.Uint64(descTable[i*16+8:]))
		if length < 0 || length > MaxArgLen {
			return nil, defs.EINVAL
		}
		buf := make([]byte, length)
		sub := vm.NewUserbuf(p.As, ptr, length, false)
		if _, err := sub.CopyIn(buf); err != 0 {
			return nil, err
		}
		argv[i] = string(buf)
	}
	return argv, 0
}
