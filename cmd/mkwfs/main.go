// Command mkwfs builds a formatted WFSv3 disk image offline, optionally
// seeding it by copying a host directory tree into the new root.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chris17453/watos/internal/bcache"
	"github.com/chris17453/watos/internal/defs"
	"github.com/chris17453/watos/internal/fd"
	"github.com/chris17453/watos/internal/hostdisk"
	"github.com/chris17453/watos/internal/ustr"
	"github.com/chris17453/watos/internal/vfs"
	"github.com/chris17453/watos/internal/vm"
	"github.com/chris17453/watos/internal/wfs"
)

const (
	totalBlocks = 65536
	inodeCount  = 4096
	cacheBlocks = 4096
)

func main() {
	if len(os.Args) < 2 {
		fmt.Printf("usage: mkwfs <output image> [skel dir]\n")
		os.Exit(1)
	}
	image := os.Args[1]

	disk, err := hostdisk.Open(image, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Printf("opening %s: %v\n", image, err)
		os.Exit(1)
	}
	if err := disk.Grow(totalBlocks); err != nil {
		fmt.Printf("sizing %s: %v\n", image, err)
		os.Exit(1)
	}
	if ferr := wfs.Format(disk, totalBlocks, inodeCount); ferr != 0 {
		fmt.Printf("formatting %s: %s\n", image, ferr)
		os.Exit(1)
	}

	root, ferr := wfs.Mount(disk, cacheBlocks)
	if ferr != 0 {
		fmt.Printf("mounting fresh image: %s\n", ferr)
		os.Exit(1)
	}
	if merr := vfs.Table.Mount(ustr.MkUstrRoot(), root, false); merr != 0 {
		fmt.Printf("mounting /: %s\n", merr)
		os.Exit(1)
	}

	if len(os.Args) >= 3 {
		addfiles(os.Args[2])
	}

	if serr := root.Sync(); serr != 0 {
		fmt.Printf("syncing image: %s\n", serr)
		os.Exit(1)
	}
	if uerr := vfs.Table.Unmount(ustr.MkUstrRoot()); uerr != 0 {
		fmt.Printf("unmounting: %s\n", uerr)
		os.Exit(1)
	}
	if err := disk.Close(); err != nil {
		fmt.Printf("closing %s: %v\n", image, err)
		os.Exit(1)
	}
}

// cwd is a root-relative cursor good enough for resolving the paths
// addfiles builds from a walked skeleton directory; nothing here ever
// opens a path relative to a real per-process current directory.
var cwd = fd.MkRootCwd(nil)

// addfiles walks skeldir on the host and replicates its tree into the
// freshly mounted image, directories first so every file's parent
// already exists by the time it's created.
func addfiles(skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		dst := ustr.Ustr("/" + strings.TrimPrefix(rel, "/"))

		if d.IsDir() {
			if merr := vfs.Mkdir(cwd, dst, 0755); merr != 0 {
				fmt.Printf("mkdir %v: %s\n", rel, merr)
			}
			return nil
		}
		copydata(path, dst)
		return nil
	})
	if err != nil {
		fmt.Printf("error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

// copydata streams the host file at src into the image at dst,
// creating it fresh; WFSv3's copy-on-write write path handles growth
// a block at a time on its own, so this just pushes bytes through.
func copydata(src string, dst ustr.Ustr) {
	in, err := os.Open(src)
	if err != nil {
		fmt.Printf("open %s: %v\n", src, err)
		os.Exit(1)
	}
	defer in.Close()

	out, operr := vfs.Open(cwd, dst, defs.O_CREAT|defs.O_WRONLY|defs.O_TRUNC, 0644)
	if operr != 0 {
		fmt.Printf("create %s: %s\n", dst, operr)
		os.Exit(1)
	}
	defer fd.ClosePanic(out)

	buf := make([]byte, bcache.BSIZE)
	offset := int64(0)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			ub := vm.NewFakeubuf(buf[:n])
			wrote, werr := out.Fops.Write(ub, offset, false)
			if werr != 0 {
				fmt.Printf("write %s: %s\n", dst, werr)
				os.Exit(1)
			}
			offset += int64(wrote)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			fmt.Printf("read %s: %v\n", src, rerr)
			os.Exit(1)
		}
	}
}
