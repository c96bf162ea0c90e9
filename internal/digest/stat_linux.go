//go:build linux

package digest

import (
	"io/fs"
	"syscall"
	"time"
)

// changeTime extracts the inode change time from a FileInfo.
func changeTime(info fs.FileInfo) (time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec), true
}
