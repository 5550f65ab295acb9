package fileops

import (
	"fmt"
	"io/fs"
	"math"
	"path"
	"strings"
	"time"
)

// EntryType distinguishes files from folders in a listing.
type EntryType string

const (
	TypeFile   EntryType = "file"
	TypeFolder EntryType = "folder"
)

const (
	folderIcon      = "bi bi-folder-fill"
	genericFileIcon = "bi bi-file-earmark"
)

// iconTypes are the extensions with a dedicated Bootstrap file-type icon.
var iconTypes = map[string]bool{
	"aac": true, "ai": true, "bmp": true, "cs": true, "css": true, "csv": true,
	"doc": true, "docx": true, "exe": true, "gif": true, "heic": true, "html": true,
	"java": true, "jpg": true, "js": true, "json": true, "jsx": true, "key": true,
	"m4p": true, "md": true, "mdx": true, "mov": true, "mp3": true, "mp4": true,
	"otf": true, "pdf": true, "php": true, "png": true, "pptx": true, "psd": true,
	"py": true, "raw": true, "rb": true, "sass": true, "scss": true, "sh": true,
	"sql": true, "svg": true, "tiff": true, "tsx": true, "ttf": true, "txt": true,
	"wav": true, "woff": true, "xlsx": true, "xml": true, "yml": true,
}

// FileEntry describes one directory child. It is derived from filesystem
// metadata at read time and never cached.
type FileEntry struct {
	Name     string
	Size     int64
	Created  time.Time
	Modified time.Time
	Type     EntryType
	Link     string // slash-separated, relative to the user root
	Icon     string
}

// IsDir reports whether the entry is a folder.
func (e FileEntry) IsDir() bool {
	return e.Type == TypeFolder
}

// HumanSize renders Size with binary units, e.g. "1.5KiB".
func (e FileEntry) HumanSize() string {
	return HumanSize(e.Size)
}

// HumanSize formats n bytes with one decimal and binary unit prefixes.
func HumanSize(n int64) string {
	num := float64(n)
	for _, unit := range []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi"} {
		if math.Abs(num) < 1024.0 {
			return fmt.Sprintf("%3.1f%sB", num, unit)
		}
		num /= 1024.0
	}
	return fmt.Sprintf("%.1fYiB", num)
}

// IconClass returns the icon class for a file name.
func IconClass(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return genericFileIcon
	}
	ext := name[i+1:]
	if iconTypes[ext] {
		return "bi bi-filetype-" + ext
	}
	return genericFileIcon
}

func newEntry(absPath, relDir string, info fs.FileInfo) FileEntry {
	e := FileEntry{
		Name:     info.Name(),
		Size:     info.Size(),
		Created:  changeTime(absPath, info),
		Modified: info.ModTime(),
		Link:     path.Join(relDir, info.Name()),
	}
	if info.IsDir() {
		e.Type = TypeFolder
		e.Icon = folderIcon
	} else {
		e.Type = TypeFile
		e.Icon = IconClass(info.Name())
	}
	return e
}
