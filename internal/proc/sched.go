package proc

import (
	"container/list"
	"sync"

	"github.com/chris17453/watos/internal/defs"
)

// Sched_t is the single FIFO ready queue: round-robin, no priorities.
// PID 0 (idle) is never enqueued; Next returns it whenever the queue
// is empty.
type Sched_t struct {
	sync.Mutex
	ready   *list.List // of defs.Pid_t
	current defs.Pid_t
}

// Sched is the global scheduler instance.
var Sched = &Sched_t{ready: list.New()}

// Enqueue places pid at the back of the ready queue, transitioning it
// to ready. Called on spawn, on wake from a blocking wait, and after a
// cooperative yield.
func (s *Sched_t) Enqueue(pid defs.Pid_t) {
	s.Lock()
	defer s.Unlock()
	s.ready.PushBack(pid)
	if p, ok := Table.Get(pid); ok {
		p.Lock()
		p.State = ST_READY
		p.Unlock()
	}
}

// Next dequeues and returns the next ready pid, or PID_IDLE if the
// queue is empty (the idle loop halting the CPU).
func (s *Sched_t) Next() defs.Pid_t {
	s.Lock()
	defer s.Unlock()
	e := s.ready.Front()
	if e == nil {
		s.current = defs.PID_IDLE
		return defs.PID_IDLE
	}
	s.ready.Remove(e)
	pid := e.Value.(defs.Pid_t)
	s.current = pid
	if p, ok := Table.Get(pid); ok {
		p.Lock()
		p.State = ST_RUNNING
		p.Unlock()
	}
	return pid
}

// Current reports the pid the scheduler most recently dispatched.
func (s *Sched_t) Current() defs.Pid_t {
	s.Lock()
	defer s.Unlock()
	return s.current
}

// Yield cooperatively returns pid to the back of the ready queue,
// called at the end of a syscall or timer-tick handler.
func (s *Sched_t) Yield(pid defs.Pid_t) {
	if pid == defs.PID_IDLE {
		return
	}
	s.Enqueue(pid)
}

// remove drops pid from the ready queue without changing its state,
// used when a process blocks or exits before its turn comes back
// around.
func (s *Sched_t) remove(pid defs.Pid_t) {
	s.Lock()
	defer s.Unlock()
	for e := s.ready.Front(); e != nil; e = e.Next() {
		if e.Value.(defs.Pid_t) == pid {
			s.ready.Remove(e)
			return
		}
	}
}
