// Command watos boots the kernel core against a host-backed disk image:
// it brings up the frame allocator and page-table machinery, mounts a
// WFSv3 root filesystem, loads one ELF binary as the init process, and
// runs it to completion. There is no CPU/instruction interpreter in
// this tree (spec's non-goals place a DOS16/BASIC emulator layer out of
// scope, and with it any general instruction execution engine), so
// "running" a process here means handing its mapped image to the
// lifecycle and syscall layers the way a trap handler would, not
// fetching and decoding its machine code.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chris17453/watos/internal/boot"
	"github.com/chris17453/watos/internal/console"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/hostdisk"
	"github.com/chris17453/watos/internal/limits"
	"github.com/chris17453/watos/internal/mem"
	"github.com/chris17453/watos/internal/proc"
	"github.com/chris17453/watos/internal/ustr"
	"github.com/chris17453/watos/internal/vfs"
	"github.com/chris17453/watos/internal/vm"
	"github.com/chris17453/watos/internal/wfs"
)

// Default layout for a freshly created disk image, sized for a small
// root filesystem rather than any real deployment; mkwfs exposes the
// same knobs for building an image ahead of time.
const (
	defaultTotalBlocks = 65536
	defaultInodeCount  = 4096
	defaultRAMBytes    = 64 << 20
)

func main() {
	diskPath := flag.String("disk", "watos.img", "path to the WFSv3 disk image (created if missing)")
	ramBytes := flag.Int("ram", defaultRAMBytes, "size in bytes of the simulated physical RAM pool")
	cacheBlocks := flag.Int("cache-blocks", limits.Syslimit.BCacheBlks, "block cache capacity in blocks")
	flag.Parse()
	limits.Syslimit.BCacheBlks = *cacheBlocks

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: watos [flags] <init-elf> [argv...]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	initPath, argv := args[0], args

	elfBytes, err := os.ReadFile(initPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watos: reading %s: %v\n", initPath, err)
		os.Exit(1)
	}

	if err := run(*diskPath, *ramBytes, elfBytes, argv); err != nil {
		fmt.Fprintf(os.Stderr, "watos: %v\n", err)
		os.Exit(1)
	}
}

func run(diskPath string, ramBytes int, elfBytes []byte, argv []string) error {
	info := boot.Info{
		MemMap:     []boot.MemRange{{Start: 0, Len: mem.Pa_t(ramBytes), Type: boot.RangeUsable}},
		RAMBase:    0,
		RAMSize:    ramBytes,
		RandomSeed: boot.NewRandomSeed(),
	}
	boot.Apply(info)

	kpml4, err := boot.BuildKernelPML4()
	if err != nil {
		return fmt.Errorf("building kernel page table: %w", err)
	}
	proc.KernelPML4 = kpml4

	disk, freshImage, err := openOrCreateImage(diskPath)
	if err != nil {
		return fmt.Errorf("opening disk image: %w", err)
	}
	defer disk.Close()

	if freshImage {
		if err := disk.Grow(defaultTotalBlocks); err != nil {
			return fmt.Errorf("sizing fresh image: %w", err)
		}
		if ferr := wfs.Format(disk, defaultTotalBlocks, defaultInodeCount); ferr != 0 {
			return fmt.Errorf("formatting fresh image: %s", ferr)
		}
	}

	rootFs, ferr := wfs.Mount(disk, limits.Syslimit.BCacheBlks)
	if ferr != 0 {
		return fmt.Errorf("mounting root filesystem: %s", ferr)
	}
	if merr := vfs.Table.Mount(ustr.MkUstrRoot(), rootFs, false); merr != 0 {
		return fmt.Errorf("mounting / : %s", merr)
	}

	idleAS, aerr := vm.NewAS(kpml4)
	if aerr != 0 {
		return fmt.Errorf("building idle address space: %s", aerr)
	}
	if _, terr := proc.Table.NewFixed(defs.PID_IDLE, defs.PID_IDLE, idleAS, nil, nil); terr != 0 {
		return fmt.Errorf("installing idle process: %s", terr)
	}
	launchAS, aerr := vm.NewAS(kpml4)
	if aerr != 0 {
		return fmt.Errorf("building launch address space: %s", aerr)
	}
	if _, terr := proc.Table.NewFixed(defs.PID_LAUNCH, defs.PID_IDLE, launchAS, nil, nil); terr != 0 {
		return fmt.Errorf("installing launch process: %s", terr)
	}

	stdio := &fd.Fd_t{Fops: console.Default(), Perms: fd.FD_READ | fd.FD_WRITE}
	pid, serr := proc.Spawn(defs.PID_LAUNCH, elfBytes, argv, nil, stdio)
	if serr != 0 {
		return fmt.Errorf("spawning %s: %s", argv[0], serr)
	}
	fmt.Printf("watos: spawned pid %d from %s\n", pid, argv[0])

	proc.Sched.Next() // dispatch init; no trap loop exists to run it further
	if eerr := proc.Exit(pid, 0); eerr != 0 {
		return fmt.Errorf("retiring pid %d: %s", pid, eerr)
	}
	reapedPid, code, werr := proc.Wait(defs.PID_LAUNCH, pid)
	if werr != 0 {
		return fmt.Errorf("waiting for pid %d: %s", pid, werr)
	}
	fmt.Printf("watos: pid %d exited with code %d\n", reapedPid, code)

	if serr := rootFs.Sync(); serr != 0 {
		return fmt.Errorf("syncing root filesystem: %s", serr)
	}
	if uerr := vfs.Table.Unmount(ustr.MkUstrRoot()); uerr != 0 {
		return fmt.Errorf("unmounting /: %s", uerr)
	}
	return nil
}

// openOrCreateImage opens path as a block device, reporting whether it
// had to be created (and so still needs formatting) by checking its
// size before any writes land.
func openOrCreateImage(path string) (*hostdisk.File, bool, error) {
	fresh := false
	if st, serr := os.Stat(path); serr != nil || st.Size() == 0 {
		fresh = true
	}
	disk, err := hostdisk.Open(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, err
	}
	return disk, fresh, nil
}
