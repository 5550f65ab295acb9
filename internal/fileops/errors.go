package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/fruitsalade/filebrowser/internal/confine"
)

// Operation errors. Confinement failures are not wrapped in these; they
// surface as *confine.ConfinementError.
var (
	ErrNotFound        = errors.New("no such file or directory")
	ErrNotADirectory   = errors.New("not a directory")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotEmpty        = errors.New("directory is not empty")
	ErrUnsupportedType = errors.New("file format not supported")
	ErrInvalidName     = errors.New("name not allowed")
	ErrRootDeletion    = errors.New("cannot delete user root")
	ErrIO              = errors.New("filesystem error")
)

// OpError records a failed operation and the user-relative path it acted on.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// opErr builds an OpError, mapping raw OS errors onto the sentinels above.
// Confinement errors are returned unchanged.
func opErr(op, rel string, err error) error {
	if errors.Is(err, confine.ErrConfinement) {
		return err
	}
	return &OpError{Op: op, Path: rel, Err: classify(err)}
}

func classify(err error) error {
	switch {
	case isSentinel(err):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		return fmt.Errorf("%w: %w", ErrNotEmpty, err)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %w", ErrNotADirectory, err)
	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}

func isSentinel(err error) bool {
	for _, s := range []error{
		ErrNotFound, ErrNotADirectory, ErrAlreadyExists, ErrNotEmpty,
		ErrUnsupportedType, ErrInvalidName, ErrRootDeletion, ErrIO,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
