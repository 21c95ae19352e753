package app

import "syscall"

type diskStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// diskUsage reports the filesystem holding the data root, or nil when it
// cannot be read.
func diskUsage(path string) *diskStats {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return nil
	}
	bs := uint64(st.Bsize)
	d := &diskStats{
		TotalBytes:     st.Blocks * bs,
		AvailableBytes: st.Bavail * bs,
	}
	d.UsedBytes = d.TotalBytes - st.Bfree*bs
	if d.TotalBytes > 0 {
		d.UsedPercent = 100 * float64(d.UsedBytes) / float64(d.TotalBytes)
	}
	return d
}
