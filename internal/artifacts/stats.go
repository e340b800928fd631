package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"quaver/internal/services"
)

// freeSpaceFloor is the minimum free-space ratio required before the store
// accepts new work (e.g. 0.05 => refuse submissions when over 95% full).
const freeSpaceFloor = 0.05

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// DiskStats describes artifact store usage and the filesystem around it.
type DiskStats struct {
	Namespaces   int     `json:"namespaces"`
	TotalBytes   int64   `json:"total_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalFSBytes uint64  `json:"total_fs_bytes"`
	FreeRatio    float64 `json:"free_ratio"`
}

// DiskStats scans the namespace directories and reports usage alongside
// filesystem free-space figures.
func (s *Store) DiskStats() (DiskStats, error) {
	var stats DiskStats
	entries, err := os.ReadDir(s.root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return stats, fmt.Errorf("artifacts: list root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		stats.Namespaces++
		size, err := dirSize(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		stats.TotalBytes += size
	}

	total, free, err := s.statfs(s.root)
	if err != nil {
		return stats, fmt.Errorf("artifacts: statfs: %w", err)
	}
	stats.TotalFSBytes = total
	stats.FreeBytes = free
	stats.FreeRatio = 1.0
	if total > 0 {
		stats.FreeRatio = float64(free) / float64(total)
	}
	return stats, nil
}

// CheckFreeSpace fails when the filesystem under the artifacts root is
// below the free-space floor. Both submission and startup preflight use it
// so a full disk refuses work before any stage runs.
func (s *Store) CheckFreeSpace() error {
	total, free, err := s.statfs(s.root)
	if err != nil {
		return fmt.Errorf("artifacts: statfs: %w", err)
	}
	if total == 0 {
		return nil
	}
	ratio := float64(free) / float64(total)
	if ratio >= freeSpaceFloor {
		return nil
	}
	return services.Wrap(
		services.ErrResourceExhausted,
		"preflight",
		"check disk space",
		fmt.Sprintf("Artifacts filesystem is %.1f%% full; free space before submitting more work", (1-ratio)*100),
		nil,
	)
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
