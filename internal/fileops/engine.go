// Package fileops performs listing and mutating operations on paths that
// have already been confined to a user root.
package fileops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/confine"
	"github.com/fruitsalade/filebrowser/internal/integrity"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/internal/sanitize"
)

// DefaultAllowedExtensions is the upload allow-list used when none is configured.
var DefaultAllowedExtensions = []string{"txt", "pdf", "png", "jpg", "jpeg", "gif"}

const (
	tempPrefix  = ".filebrowser-"
	tempPattern = tempPrefix + "*.tmp"
)

// Config holds engine settings.
type Config struct {
	Resolver          *confine.Resolver
	Verifier          *integrity.Verifier
	AllowedExtensions []string
}

// Engine executes file operations. Mutations on the same user root are
// serialized; reads take no lock.
type Engine struct {
	resolver *confine.Resolver
	verifier *integrity.Verifier
	allowed  map[string]bool
	locks    *rootLocks
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = integrity.Default()
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = true
	}

	return &Engine{
		resolver: cfg.Resolver,
		verifier: verifier,
		allowed:  allowed,
		locks:    newRootLocks(),
	}, nil
}

// Allowed reports whether a file name carries an uploadable extension.
func (e *Engine) Allowed(filename string) bool {
	ext := sanitize.Extension(filename)
	return ext != "" && e.allowed[ext]
}

// List returns the direct children of dir in enumeration order.
func (e *Engine) List(dir confine.ResolvedPath) ([]FileEntry, error) {
	f, err := os.Open(dir.Path())
	if err != nil {
		return nil, opErr("list", dir.Rel(), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, opErr("list", dir.Rel(), err)
	}
	if !info.IsDir() {
		return nil, &OpError{Op: "list", Path: dir.Rel(), Err: ErrNotADirectory}
	}

	// File.ReadDir keeps directory order; os.ReadDir would sort.
	dirents, err := f.ReadDir(-1)
	if err != nil {
		return nil, opErr("list", dir.Rel(), err)
	}

	entries := make([]FileEntry, 0, len(dirents))
	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), tempPrefix) && strings.HasSuffix(d.Name(), ".tmp") {
			continue
		}
		fi, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if os.IsNotExist(err) {
				continue
			}
			return nil, opErr("list", dir.Rel(), err)
		}
		entries = append(entries, newEntry(filepath.Join(dir.Path(), d.Name()), dir.Rel(), fi))
	}
	return entries, nil
}

// Stat describes a single path without following a final symlink.
func (e *Engine) Stat(p confine.ResolvedPath) (FileEntry, error) {
	info, err := os.Lstat(p.Path())
	if err != nil {
		return FileEntry{}, opErr("stat", p.Rel(), err)
	}
	entry := newEntry(p.Path(), p.Parent().Rel(), info)
	if p.IsRoot() {
		entry.Link = ""
	}
	return entry, nil
}

// CreateFolder creates one directory named after the sanitized rawName.
func (e *Engine) CreateFolder(dir confine.ResolvedPath, rawName string) (confine.ResolvedPath, error) {
	name := sanitize.Name(rawName)
	if name == "" {
		return confine.ResolvedPath{}, &OpError{Op: "create_folder", Path: dir.Rel(), Err: ErrInvalidName}
	}
	target, err := e.resolver.Child(dir, name)
	if err != nil {
		return confine.ResolvedPath{}, err
	}

	unlock := e.locks.lock(dir.Root().Identity())
	defer unlock()

	if err := e.resolver.Verify(target); err != nil {
		return confine.ResolvedPath{}, err
	}
	if err := os.Mkdir(target.Path(), 0755); err != nil {
		metrics.RecordFileOperation("create_folder", false)
		return confine.ResolvedPath{}, opErr("create_folder", target.Rel(), err)
	}

	metrics.RecordFileOperation("create_folder", true)
	logging.Info("folder created",
		zap.String("identity", dir.Root().Identity()),
		zap.String("path", target.Rel()))
	return target, nil
}

// UploadResult describes a stored upload.
type UploadResult struct {
	Path   confine.ResolvedPath
	Name   string
	Size   int64
	Digest integrity.Digest
}

// Upload stores the content of r in dir under the sanitized filename,
// replacing any existing file of that name. The write goes to a temporary
// file in dir that is renamed into place once complete.
func (e *Engine) Upload(dir confine.ResolvedPath, filename string, r io.Reader) (UploadResult, error) {
	if !e.Allowed(filename) {
		return UploadResult{}, &OpError{Op: "upload", Path: filename, Err: ErrUnsupportedType}
	}
	name, err := sanitize.Filename(filename)
	if err != nil {
		return UploadResult{}, &OpError{Op: "upload", Path: filename, Err: ErrInvalidName}
	}
	target, err := e.resolver.Child(dir, name)
	if err != nil {
		return UploadResult{}, err
	}

	info, err := os.Stat(dir.Path())
	if err != nil {
		return UploadResult{}, opErr("upload", dir.Rel(), err)
	}
	if !info.IsDir() {
		return UploadResult{}, &OpError{Op: "upload", Path: dir.Rel(), Err: ErrNotADirectory}
	}

	unlock := e.locks.lock(dir.Root().Identity())
	defer unlock()

	if existing, err := os.Lstat(target.Path()); err == nil && existing.IsDir() {
		return UploadResult{}, &OpError{Op: "upload", Path: target.Rel(), Err: ErrAlreadyExists}
	}
	if err := e.resolver.Verify(target); err != nil {
		return UploadResult{}, err
	}

	tmp, err := os.CreateTemp(dir.Path(), tempPattern)
	if err != nil {
		return UploadResult{}, e.failUpload(target, err)
	}
	tmpName := tmp.Name()

	hw := e.verifier.NewWriter()
	if _, err := io.Copy(io.MultiWriter(tmp, hw), r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return UploadResult{}, e.failUpload(target, fmt.Errorf("write: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return UploadResult{}, e.failUpload(target, fmt.Errorf("close temp: %w", err))
	}

	if err := e.resolver.Verify(target); err != nil {
		os.Remove(tmpName)
		return UploadResult{}, err
	}
	if err := os.Rename(tmpName, target.Path()); err != nil {
		os.Remove(tmpName)
		return UploadResult{}, e.failUpload(target, fmt.Errorf("rename temp: %w", err))
	}

	metrics.RecordFileOperation("upload", true)
	metrics.RecordUpload(hw.Size())
	logging.Info("file uploaded",
		zap.String("identity", dir.Root().Identity()),
		zap.String("path", target.Rel()),
		zap.Int64("size", hw.Size()),
		zap.String("digest", string(hw.Digest())))

	return UploadResult{
		Path:   target,
		Name:   name,
		Size:   hw.Size(),
		Digest: hw.Digest(),
	}, nil
}

func (e *Engine) failUpload(target confine.ResolvedPath, err error) error {
	metrics.RecordFileOperation("upload", false)
	logging.Error("upload failed",
		zap.String("identity", target.Root().Identity()),
		zap.String("path", target.Rel()),
		zap.Error(err))
	return &OpError{Op: "upload", Path: target.Rel(), Err: fmt.Errorf("%w: %w", ErrIO, err)}
}

// Rename renames the entry oldName in dir to the sanitized newName. A file
// keeps the extension of its old name; when the old name has none, suffix
// is used instead. Directories are renamed without an extension.
func (e *Engine) Rename(dir confine.ResolvedPath, oldName, newName, suffix string) (confine.ResolvedPath, error) {
	source, err := e.resolver.Child(dir, oldName)
	if err != nil {
		return confine.ResolvedPath{}, err
	}

	base := sanitize.Name(newName)
	if base == "" {
		return confine.ResolvedPath{}, &OpError{Op: "rename", Path: source.Rel(), Err: ErrInvalidName}
	}

	unlock := e.locks.lock(dir.Root().Identity())
	defer unlock()

	info, err := os.Lstat(source.Path())
	if err != nil {
		return confine.ResolvedPath{}, opErr("rename", source.Rel(), err)
	}

	finalName := base
	if !info.IsDir() {
		ext := oldExtension(oldName)
		if ext == "" {
			ext = suffix
		}
		finalName = sanitize.WithExtension(base, ext)
	}

	target, err := e.resolver.Child(dir, finalName)
	if err != nil {
		return confine.ResolvedPath{}, err
	}
	if _, err := os.Lstat(target.Path()); err == nil {
		return confine.ResolvedPath{}, &OpError{Op: "rename", Path: target.Rel(), Err: ErrAlreadyExists}
	} else if !os.IsNotExist(err) {
		return confine.ResolvedPath{}, opErr("rename", target.Rel(), err)
	}

	if err := e.resolver.Verify(source); err != nil {
		return confine.ResolvedPath{}, err
	}
	if err := e.resolver.Verify(target); err != nil {
		return confine.ResolvedPath{}, err
	}
	if err := os.Rename(source.Path(), target.Path()); err != nil {
		metrics.RecordFileOperation("rename", false)
		return confine.ResolvedPath{}, opErr("rename", source.Rel(), err)
	}

	metrics.RecordFileOperation("rename", true)
	logging.Info("entry renamed",
		zap.String("identity", dir.Root().Identity()),
		zap.String("from", source.Rel()),
		zap.String("to", target.Rel()))
	return target, nil
}

// oldExtension returns the suffix after the last '.' of a file name. A
// leading dot marks a hidden file, not an extension.
func oldExtension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i+1:]
}

// Delete removes a file, or a directory only when it is empty. Directory
// removal is never recursive.
func (e *Engine) Delete(target confine.ResolvedPath) error {
	if target.IsRoot() {
		return &OpError{Op: "delete", Path: target.Rel(), Err: ErrRootDeletion}
	}

	unlock := e.locks.lock(target.Root().Identity())
	defer unlock()

	info, err := os.Lstat(target.Path())
	if err != nil {
		return opErr("delete", target.Rel(), err)
	}

	if info.IsDir() {
		empty, err := isEmptyDir(target.Path())
		if err != nil {
			return opErr("delete", target.Rel(), err)
		}
		if !empty {
			metrics.RecordFileOperation("delete", false)
			return &OpError{Op: "delete", Path: target.Rel(), Err: ErrNotEmpty}
		}
	}

	if err := e.resolver.Verify(target); err != nil {
		return err
	}
	// os.Remove uses rmdir for directories, which fails on a non-empty one
	// even if an entry appeared after the check above.
	if err := os.Remove(target.Path()); err != nil {
		metrics.RecordFileOperation("delete", false)
		return opErr("delete", target.Rel(), err)
	}

	metrics.RecordFileOperation("delete", true)
	logging.Info("entry deleted",
		zap.String("identity", target.Root().Identity()),
		zap.String("path", target.Rel()),
		zap.Bool("folder", info.IsDir()))
	return nil
}

func isEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// rootLocks hands out one mutex per user identity and frees it when the
// last holder is done.
type rootLocks struct {
	mu    sync.Mutex
	locks map[string]*rootLock
}

type rootLock struct {
	sync.Mutex
	refs int
}

func newRootLocks() *rootLocks {
	return &rootLocks{locks: make(map[string]*rootLock)}
}

func (l *rootLocks) lock(identity string) func() {
	l.mu.Lock()
	rl, ok := l.locks[identity]
	if !ok {
		rl = &rootLock{}
		l.locks[identity] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, identity)
		}
		l.mu.Unlock()
	}
}
