//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package fileops

import (
	"io/fs"
	"time"
)

func changeTime(_ string, info fs.FileInfo) time.Time {
	return info.ModTime()
}
