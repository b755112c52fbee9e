package syscall

import (
	"github.com/chris17453/watos/internal/proc"
	"github.com/chris17453/watos/internal/vm"
)

func sysBrk(p *proc.Proc_t, a Args) int {
	actual, err := p.As.Brk(a.A0)
	if err != 0 {
		return err.Rc()
	}
	return int(actual)
}

func sysMmapAnon(p *proc.Proc_t, a Args) int {
	prot := vm.Prot_t(a.A2)
	addr, err := p.As.MmapAnon(a.A0, a.A1, prot)
	if err != 0 {
		return err.Rc()
	}
	return int(addr)
}

func sysMunmap(p *proc.Proc_t, a Args) int {
	if err := p.As.Munmap(a.A0, a.A1); err != 0 {
		return err.Rc()
	}
	return 0
}

func sysMprotect(p *proc.Proc_t, a Args) int {
	prot := vm.Prot_t(a.A2)
	if err := p.As.Mprotect(a.A0, a.A1, prot); err != 0 {
		return err.Rc()
	}
	return 0
}
