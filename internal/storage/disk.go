package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskUsage describes the filesystem holding the storage root, in bytes.
type DiskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// DiskUsage reports space on the filesystem containing the storage root.
// Free counts blocks available to unprivileged users.
func (s *Sink) DiskUsage() (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("failed to stat %s: %w", s.root, err)
	}

	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	return DiskUsage{
		Total: total,
		Used:  total - st.Bfree*bsize,
		Free:  st.Bavail * bsize,
	}, nil
}

// GiB converts bytes to gibibytes.
func GiB(b uint64) float64 {
	return float64(b) / (1 << 30)
}
