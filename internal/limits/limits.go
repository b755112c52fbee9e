// Package limits holds the kernel's compiled-in resource limits as a
// handful of package vars. cmd/watos may override the defaults from
// command-line flags at boot, the only configuration layer a
// freestanding kernel core has.
package limits

// Syslimit_t holds process-wide resource caps.
type Syslimit_t struct {
	MaxProcs    int // ceiling on live process table entries
	MaxFds      int // per-process file-descriptor table capacity
	MaxSymlinks int // bound on symlink-following depth during resolution
	MinPid      int // lowest PID the allocator reuses
	MaxPid      int // PID space wraps here
	BCacheBlks  int // block cache capacity, in blocks
	InodeCache  int // cached inode records kept per mount
}

// Syslimit is the live, mutable set of limits. cmd/watos may overwrite
// individual fields from flags before FA/PM/VFS initialize; nothing
// after boot may change it; it has no lock, since this is compile-time-ish
// config, not a runtime-mutated data structure.
var Syslimit = Syslimit_t{
	MaxProcs:    4096,
	MaxFds:      64,
	MaxSymlinks: 8,
	MinPid:      1,
	MaxPid:      1 << 20,
	BCacheBlks:  4096,
	InodeCache:  2048,
}
