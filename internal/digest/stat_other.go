//go:build !linux

package digest

import (
	"io/fs"
	"time"
)

// changeTime is unavailable here; size and mtime checks still apply.
func changeTime(fs.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
