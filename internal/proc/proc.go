// Package proc implements the process table, PID namespace, and
// lifecycle transitions: spawn, exit, wait, and clone. Its scheduler
// maintains the single FIFO ready queue described for a cooperative,
// single-CPU core.
package proc

import (
	"sync"

	"github.com/chris17453/watos/internal/accnt"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/limits"
	"github.com/chris17453/watos/internal/vm"
)

// State_t is a process's lifecycle state.
type State_t int

const (
	ST_NEW State_t = iota
	ST_READY
	ST_RUNNING
	ST_BLOCKED
	ST_ZOMBIE
	ST_DEAD
)

func (s State_t) String() string {
	switch s {
	case ST_NEW:
		return "new"
	case ST_READY:
		return "ready"
	case ST_RUNNING:
		return "running"
	case ST_BLOCKED:
		return "blocked"
	case ST_ZOMBIE:
		return "zombie"
	case ST_DEAD:
		return "dead"
	default:
		return "unknown"
	}
}

// Clone flags for the clone(2)-style operation PM exposes.
const (
	CLONE_VM    = 1 << 0 // share the address space instead of CoW-cloning it
	CLONE_FILES = 1 << 1 // share the fd table instead of duplicating it
)

// Proc_t is one process table entry.
type Proc_t struct {
	sync.Mutex
	Pid      defs.Pid_t
	Ppid     defs.Pid_t
	State    State_t
	As       *vm.As_t
	Fds      map[int]*fd.Fd_t
	Cwd      *fd.Cwd_t
	Accnt    accnt.Accnt_t
	Children []defs.Pid_t
	ExitCode int
	waiters  *sync.Cond
	doomed   bool
}

// newFdTable seeds a fresh process's descriptor table with fds 0-2
// already bound to stdio, mirroring the default stdin/stdout/stderr wiring
// every process expects at spawn.
func newFdTable(stdio *fd.Fd_t) map[int]*fd.Fd_t {
	t := make(map[int]*fd.Fd_t, limits.Syslimit.MaxFds)
	if stdio != nil {
		t[0] = stdio
		t[1] = stdio
		t[2] = stdio
	}
	return t
}

// LowestFreeFd returns the smallest non-negative integer not currently
// in use in p's fd table, the allocation rule open(2) and dup(2) use.
func (p *Proc_t) LowestFreeFd() (int, defs.Err_t) {
	for i := 0; i < limits.Syslimit.MaxFds; i++ {
		if _, ok := p.Fds[i]; !ok {
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

// Table_t is the global process table and PID namespace.
type Table_t struct {
	sync.Mutex
	procs  map[defs.Pid_t]*Proc_t
	nextid defs.Pid_t
}

// Table is the single global process table instance.
var Table = &Table_t{procs: map[defs.Pid_t]*Proc_t{}}

// allocPid returns the next unused PID, wrapping around to the lowest
// reusable id once the namespace is exhausted upward.
func (t *Table_t) allocPid() (defs.Pid_t, defs.Err_t) {
	min := defs.Pid_t(limits.Syslimit.MinPid)
	max := defs.Pid_t(limits.Syslimit.MaxPid)
	if t.nextid < min {
		t.nextid = min
	}
	start := t.nextid
	for {
		id := t.nextid
		t.nextid++
		if t.nextid > max {
			t.nextid = min
		}
		if _, taken := t.procs[id]; !taken {
			return id, 0
		}
		if t.nextid == start {
			return 0, defs.ENOHEAP
		}
	}
}

// Get returns the process table entry for pid, if any.
func (t *Table_t) Get(pid defs.Pid_t) (*Proc_t, bool) {
	t.Lock()
	defer t.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// newProc allocates a fresh process table entry with a new PID, the
// given parent, address space, fd table, and cwd, placing it in state
// `new` before the caller finishes populating it.
func (t *Table_t) newProc(ppid defs.Pid_t, as *vm.As_t, fds map[int]*fd.Fd_t, cwd *fd.Cwd_t) (*Proc_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if len(t.procs) >= limits.Syslimit.MaxProcs {
		return nil, defs.ENOHEAP
	}
	pid, err := t.allocPid()
	if err != 0 {
		return nil, err
	}
	p := &Proc_t{Pid: pid, Ppid: ppid, State: ST_NEW, As: as, Fds: fds, Cwd: cwd}
	p.waiters = sync.NewCond(p)
	t.procs[pid] = p
	if parent, ok := t.procs[ppid]; ok {
		parent.Children = append(parent.Children, pid)
	}
	return p, 0
}

// reap removes a zombie's table entry once its parent has collected
// its exit status, the final step of wait(2).
func (t *Table_t) reap(pid defs.Pid_t) {
	t.Lock()
	defer t.Unlock()
	delete(t.procs, pid)
}

// NewFixed installs a process at a specific PID, bypassing normal
// allocation — used once at boot for PID_IDLE and PID_LAUNCH, whose
// numbers are fixed by convention rather than assigned.
func (t *Table_t) NewFixed(pid, ppid defs.Pid_t, as *vm.As_t, fds map[int]*fd.Fd_t, cwd *fd.Cwd_t) (*Proc_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if _, taken := t.procs[pid]; taken {
		return nil, defs.EEXIST
	}
	p := &Proc_t{Pid: pid, Ppid: ppid, State: ST_NEW, As: as, Fds: fds, Cwd: cwd}
	p.waiters = sync.NewCond(p)
	t.procs[pid] = p
	if pid >= t.nextid {
		t.nextid = pid + 1
	}
	return p, 0
}
