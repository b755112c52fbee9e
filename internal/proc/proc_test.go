package proc

import (
	"bytes"
	"container/list"
	"encoding/binary"
	"testing"

	"github.com/chris17453/watos/internal/console"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/mem"
	"github.com/chris17453/watos/internal/vm"
)

const (
	ehdrSize      = 64
	phdrEntrySize = 56
)

// buildMinimalELF assembles a one-segment ET_EXEC ELF64 image: a single
// PT_LOAD segment mapping payload at vaddr, readable and executable.
func buildMinimalELF(t *testing.T, vaddr uint64, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(62)) // EM_X86_64
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrEntrySize))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))

	segOff := uint64(ehdrSize + phdrEntrySize)
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(5)) // PF_R|PF_X
	binary.Write(&buf, binary.LittleEndian, segOff)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint64(mem.PGSIZE))
	buf.Write(payload)
	return buf.Bytes()
}

func freshTableAndPhys(t *testing.T, nframes int) {
	t.Helper()
	phys := mem.Init(nframes*mem.PGSIZE, 0)
	phys.Release(0, nframes)
	Table = &Table_t{procs: map[defs.Pid_t]*Proc_t{}}
	Sched = &Sched_t{ready: list.New()}
}

func testStdio() *fd.Fd_t {
	return &fd.Fd_t{Fops: console.Default(), Perms: fd.FD_READ | fd.FD_WRITE}
}

func newTestAS(t *testing.T) (*vm.As_t, defs.Err_t) {
	t.Helper()
	return vm.NewAS(0)
}

func TestSpawnPlacesProcessInReadyQueue(t *testing.T) {
	freshTableAndPhys(t, 64)
	raw := buildMinimalELF(t, 0x400000, []byte{0x90, 0x90})
	pid, err := Spawn(defs.PID_LAUNCH, raw, []string{"init"}, nil, testStdio())
	if err != 0 {
		t.Fatalf("Spawn: %s", err)
	}
	p, ok := Table.Get(pid)
	if !ok {
		t.Fatalf("spawned process missing from table")
	}
	if p.State != ST_READY {
		t.Fatalf("state = %s, want ready", p.State)
	}
	if got := Sched.Next(); got != pid {
		t.Fatalf("scheduler returned %d, want the spawned pid %d", got, pid)
	}
}

func TestSpawnRejectsGarbageELF(t *testing.T) {
	freshTableAndPhys(t, 64)
	if _, err := Spawn(defs.PID_LAUNCH, []byte("garbage"), nil, nil, testStdio()); err != defs.ENOEXEC {
		t.Fatalf("Spawn of garbage = %s, want ENOEXEC", err)
	}
}

func TestExitThenWaitReapsChild(t *testing.T) {
	freshTableAndPhys(t, 64)
	parentAS, aerr := newTestAS(t)
	if aerr != 0 {
		t.Fatalf("newTestAS: %s", aerr)
	}
	parent, terr := Table.newProc(defs.PID_LAUNCH, parentAS, newFdTable(testStdio()), fd.MkRootCwd(testStdio()))
	if terr != 0 {
		t.Fatalf("newProc: %s", terr)
	}

	raw := buildMinimalELF(t, 0x400000, []byte{0x90})
	pid, err := Spawn(parent.Pid, raw, []string{"child"}, nil, testStdio())
	if err != 0 {
		t.Fatalf("Spawn: %s", err)
	}
	if err := Exit(pid, 7); err != 0 {
		t.Fatalf("Exit: %s", err)
	}
	cp, ok := Table.Get(pid)
	if !ok || cp.State != ST_ZOMBIE {
		t.Fatalf("child should be a zombie after Exit")
	}

	gotPid, code, werr := Wait(parent.Pid, pid)
	if werr != 0 {
		t.Fatalf("Wait: %s", werr)
	}
	if gotPid != pid || code != 7 {
		t.Fatalf("Wait = (%d,%d), want (%d,7)", gotPid, code, pid)
	}
	if _, ok := Table.Get(pid); ok {
		t.Fatalf("reaped child should no longer be in the table")
	}
}

func TestExitReparentsOrphansToLaunch(t *testing.T) {
	freshTableAndPhys(t, 64)
	launchAS, lerr := newTestAS(t)
	if lerr != 0 {
		t.Fatalf("newTestAS: %s", lerr)
	}
	if _, terr := Table.NewFixed(defs.PID_LAUNCH, defs.PID_IDLE, launchAS, newFdTable(nil), fd.MkRootCwd(nil)); terr != 0 {
		t.Fatalf("NewFixed: %s", terr)
	}

	raw := buildMinimalELF(t, 0x400000, []byte{0x90})
	midPid, err := Spawn(defs.PID_LAUNCH, raw, []string{"mid"}, nil, testStdio())
	if err != 0 {
		t.Fatalf("Spawn mid: %s", err)
	}
	grandchildPid, err := Spawn(midPid, raw, []string{"grandchild"}, nil, testStdio())
	if err != 0 {
		t.Fatalf("Spawn grandchild: %s", err)
	}

	if err := Exit(midPid, 0); err != 0 {
		t.Fatalf("Exit mid: %s", err)
	}
	gc, ok := Table.Get(grandchildPid)
	if !ok {
		t.Fatalf("grandchild should still be in the table")
	}
	if gc.Ppid != defs.PID_LAUNCH {
		t.Fatalf("orphaned grandchild Ppid = %d, want PID_LAUNCH", gc.Ppid)
	}
}

func TestCloneSharesVMWhenFlagSet(t *testing.T) {
	freshTableAndPhys(t, 64)
	raw := buildMinimalELF(t, 0x400000, []byte{0x90})
	pid, err := Spawn(defs.PID_LAUNCH, raw, []string{"p"}, nil, testStdio())
	if err != 0 {
		t.Fatalf("Spawn: %s", err)
	}
	p, _ := Table.Get(pid)

	childPid, cerr := Clone(pid, CLONE_VM|CLONE_FILES)
	if cerr != 0 {
		t.Fatalf("Clone: %s", cerr)
	}
	cp, _ := Table.Get(childPid)
	if cp.As != p.As {
		t.Fatalf("CLONE_VM should share the parent's address space")
	}
}

func TestCloneDuplicatesASWithoutCloneVM(t *testing.T) {
	freshTableAndPhys(t, 64)
	raw := buildMinimalELF(t, 0x400000, []byte{0x90})
	pid, err := Spawn(defs.PID_LAUNCH, raw, []string{"p"}, nil, testStdio())
	if err != 0 {
		t.Fatalf("Spawn: %s", err)
	}
	p, _ := Table.Get(pid)

	childPid, cerr := Clone(pid, 0)
	if cerr != 0 {
		t.Fatalf("Clone: %s", cerr)
	}
	cp, _ := Table.Get(childPid)
	if cp.As == p.As {
		t.Fatalf("without CLONE_VM the child should get its own cloned address space")
	}
}
