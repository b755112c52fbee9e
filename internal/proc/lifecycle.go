package proc

import (
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/elf"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/mem"
	"github.com/chris17453/watos/internal/vm"
)

// KernelPML4 is the page-table root every address space's kernel half
// is copied from. Set once at boot by cmd/watos before the first spawn.
var KernelPML4 mem.Pa_t

// Spawn allocates a fresh address space, loads elfBytes into it, and
// places the new process in the ready queue. stdio is the
// descriptor the process inherits (console, typically); pass nil for
// PID 0/1's bootstrap case where no console exists yet.
func Spawn(ppid defs.Pid_t, elfBytes []byte, argv, envp []string, stdio *fd.Fd_t) (defs.Pid_t, defs.Err_t) {
	as, err := vm.NewAS(KernelPML4)
	if err != 0 {
		return 0, err
	}

	execfn := ""
	if len(argv) > 0 {
		execfn = argv[0]
	}
	if _, lerr := elf.Load(as, elfBytes, argv, envp, execfn); lerr != 0 {
		as.Destroy()
		return 0, lerr
	}

	cwd := fd.MkRootCwd(stdio)
	p, terr := Table.newProc(ppid, as, newFdTable(stdio), cwd)
	if terr != 0 {
		as.Destroy()
		return 0, terr
	}

	p.Lock()
	p.State = ST_READY
	p.Unlock()
	Sched.Enqueue(p.Pid)
	return p.Pid, 0
}

// Exit transitions pid to zombie: releases its address space and fd
// table, records the exit code, reparents its children to PID 1, and
// wakes a parent blocked in Wait.
func Exit(pid defs.Pid_t, code int) defs.Err_t {
	p, ok := Table.Get(pid)
	if !ok {
		return defs.EINVAL
	}
	p.Lock()
	if p.State == ST_ZOMBIE || p.State == ST_DEAD {
		p.Unlock()
		return 0
	}
	for fdno, f := range p.Fds {
		fd.ClosePanic(f)
		delete(p.Fds, fdno)
	}
	p.As.Destroy()
	p.ExitCode = code
	p.State = ST_ZOMBIE
	children := p.Children
	p.Children = nil
	p.Unlock()
	Sched.remove(pid)

	for _, c := range children {
		if cp, ok := Table.Get(c); ok {
			cp.Lock()
			cp.Ppid = defs.PID_LAUNCH
			cp.Unlock()
			if lp, ok := Table.Get(defs.PID_LAUNCH); ok {
				lp.Lock()
				lp.Children = append(lp.Children, c)
				lp.Unlock()
			}
		}
	}

	if parent, ok := Table.Get(p.Ppid); ok {
		parent.Lock()
		parent.waiters.Broadcast()
		parent.Unlock()
	}
	return 0
}

// Wait blocks the caller until a zombie child exists (a specific child
// when childPid != 0, any child otherwise), reaps it, and returns its
// pid and exit code.
func Wait(parentPid, childPid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	parent, ok := Table.Get(parentPid)
	if !ok {
		return 0, 0, defs.EINVAL
	}
	for {
		parent.Lock()
		if len(parent.Children) == 0 {
			parent.Unlock()
			return 0, 0, defs.EINVAL
		}
		for _, c := range parent.Children {
			if childPid != 0 && c != childPid {
				continue
			}
			cp, ok := Table.Get(c)
			if !ok {
				continue
			}
			cp.Lock()
			if cp.State == ST_ZOMBIE {
				code := cp.ExitCode
				parent.Accnt.Add(&cp.Accnt)
				cp.State = ST_DEAD
				cp.Unlock()
				removeChild(parent, c)
				parent.Unlock()
				Table.reap(c)
				return c, code, 0
			}
			cp.Unlock()
		}
		parent.waiters.Wait()
		parent.Unlock()
	}
}

func removeChild(parent *Proc_t, pid defs.Pid_t) {
	out := parent.Children[:0]
	for _, c := range parent.Children {
		if c != pid {
			out = append(out, c)
		}
	}
	parent.Children = out
}

// Clone creates a child of pid: sharing its address space when
// CLONE_VM is set, copy-on-write cloning it otherwise; sharing the fd
// table when CLONE_FILES is set, duplicating every entry otherwise.
func Clone(pid defs.Pid_t, flags int) (defs.Pid_t, defs.Err_t) {
	p, ok := Table.Get(pid)
	if !ok {
		return 0, defs.EINVAL
	}
	p.Lock()
	var childAS *vm.As_t
	var err defs.Err_t
	if flags&CLONE_VM != 0 {
		childAS = p.As
	} else {
		childAS, err = vm.CloneAS(p.As)
		if err != 0 {
			p.Unlock()
			return 0, err
		}
	}

	var childFds map[int]*fd.Fd_t
	if flags&CLONE_FILES != 0 {
		childFds = p.Fds
	} else {
		childFds = make(map[int]*fd.Fd_t, len(p.Fds))
		for i, f := range p.Fds {
			nf, derr := fd.Copyfd(f)
			if derr != 0 {
				p.Unlock()
				return 0, derr
			}
			childFds[i] = nf
		}
	}
	cwd := &fd.Cwd_t{Fd: p.Cwd.Fd, Path: append([]byte(nil), p.Cwd.Path...)}
	p.Unlock()

	child, terr := Table.newProc(pid, childAS, childFds, cwd)
	if terr != 0 {
		return 0, terr
	}
	child.Accnt = p.Accnt
	child.Lock()
	child.State = ST_READY
	child.Unlock()
	Sched.Enqueue(child.Pid)
	return child.Pid, 0
}
