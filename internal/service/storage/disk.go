package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStatus is the free space on the filesystem holding the output directory.
type DiskStatus struct {
	Free  uint64
	Floor uint64
}

// Low reports whether free space is below the floor.
func (d DiskStatus) Low() bool { return d.Free < d.Floor }

func (d DiskStatus) FreeMB() float64 { return float64(d.Free) / (1024 * 1024) }

// DiskChecker measures free space under a path.
type DiskChecker struct {
	path  string
	floor uint64
	usage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewDiskChecker(path string, floor uint64) *DiskChecker {
	return &DiskChecker{path: path, floor: floor, usage: disk.UsageWithContext}
}

// Check reports the free space. The path need not exist yet; its nearest
// existing parent is measured.
func (c *DiskChecker) Check(ctx context.Context) (DiskStatus, error) {
	target := existingParent(c.path)
	usage, err := c.usage(ctx, target)
	if err != nil {
		return DiskStatus{Floor: c.floor}, fmt.Errorf("failed to read disk usage of %s: %w", target, err)
	}
	return DiskStatus{Free: usage.Free, Floor: c.floor}, nil
}

func existingParent(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
