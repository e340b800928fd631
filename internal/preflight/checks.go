package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// diskFloor is the minimum free-space ratio below which preflight fails. It
// mirrors the floor the artifact store applies to submissions, so a daemon
// that passes preflight also accepts work.
const diskFloor = 0.05

// statfs allows tests to stub filesystem stats.
var statfs = unix.Statfs

// CheckDirectoryAccess verifies that the directory exists and is readable,
// writable, and traversable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace fails when the filesystem holding path is nearly full.
func CheckDiskSpace(name, path string) Result {
	var stat unix.Statfs_t
	if err := statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return Result{Name: name, Passed: true, Detail: "filesystem size unknown"}
	}
	ratio := float64(free) / float64(total)
	if ratio < diskFloor {
		return Result{Name: name, Detail: fmt.Sprintf("%s is %.1f%% full", path, (1-ratio)*100)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%.1f%% free", ratio*100)}
}
