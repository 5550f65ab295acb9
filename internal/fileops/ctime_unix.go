//go:build linux || darwin || freebsd || netbsd || openbsd

package fileops

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// changeTime returns the inode change time of path, falling back to the
// modification time when it cannot be read.
func changeTime(path string, info fs.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Ctim.Unix())
}
