// Package confine maps user-supplied relative paths onto absolute filesystem
// locations inside a per-user root, and refuses anything that would leave it.
//
// The containment test is structural: a candidate is inside a root only when
// filepath.Rel from the root yields no leading ".." component, evaluated on
// symlink-resolved paths. Raw string containment is never used.
package confine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/logging"
)

// maxLinkHops bounds symlink chasing for dangling links.
const maxLinkHops = 40

// Confinement errors. Every error returned by this package for a rejected
// path satisfies errors.Is(err, ErrConfinement).
var (
	ErrConfinement     = errors.New("path escapes user root")
	ErrTraversal       = errors.New("path traversal detected")
	ErrSymlinkEscape   = errors.New("symlink escape detected")
	ErrInvalidIdentity = errors.New("invalid user identity")
	ErrInvalidName     = errors.New("invalid entry name")
	ErrUnresolvable    = errors.New("path cannot be resolved")
)

// ConfinementError wraps a confinement failure with context.
type ConfinementError struct {
	Op   string // resolution step that failed
	Path string // the offending path, as supplied
	Err  error
}

func (e *ConfinementError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfinementError) Unwrap() error {
	return e.Err
}

// Is makes every ConfinementError match ErrConfinement.
func (e *ConfinementError) Is(target error) bool {
	return target == ErrConfinement
}

// Config holds resolver settings.
type Config struct {
	StorageRoot string
	CreateDirs  bool
}

// Resolver resolves and re-validates paths under a storage root that holds
// one directory per user identity.
type Resolver struct {
	base string // absolute, symlink-free storage root
}

// NewResolver creates a resolver for the given storage root.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("storage root is required")
	}

	abs, err := filepath.Abs(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("absolute storage root %s: %w", cfg.StorageRoot, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(abs, 0755); mkErr != nil {
				return nil, fmt.Errorf("create storage root %s: %w", abs, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat storage root %s: %w", abs, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}

	base, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", abs, err)
	}
	return &Resolver{base: base}, nil
}

// Base returns the resolved storage root.
func (r *Resolver) Base() string {
	return r.base
}

// UserRoot is one identity's exclusive subtree. Its directory name is the
// identity itself.
type UserRoot struct {
	identity string
	path     string
}

// Identity returns the user identity owning this root.
func (u UserRoot) Identity() string { return u.identity }

// Path returns the absolute root directory.
func (u UserRoot) Path() string { return u.path }

// ResolvedPath is an absolute path proven to lie inside its UserRoot.
// The zero value is not valid; obtain one from a Resolver.
type ResolvedPath struct {
	root     UserRoot
	realRoot string
	abs      string
}

// Path returns the absolute filesystem path.
func (p ResolvedPath) Path() string { return p.abs }

// Root returns the owning user root.
func (p ResolvedPath) Root() UserRoot { return p.root }

// IsRoot reports whether the path is the user root itself.
func (p ResolvedPath) IsRoot() bool { return p.abs == p.realRoot }

// Rel returns the slash-separated path relative to the user root, "" for
// the root itself.
func (p ResolvedPath) Rel() string {
	rel, err := filepath.Rel(p.realRoot, p.abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Base returns the last element of the path, "" for the user root.
func (p ResolvedPath) Base() string {
	if p.IsRoot() {
		return ""
	}
	return filepath.Base(p.abs)
}

// Parent returns the containing directory. The parent of the root is the root.
func (p ResolvedPath) Parent() ResolvedPath {
	if p.IsRoot() {
		return p
	}
	return ResolvedPath{root: p.root, realRoot: p.realRoot, abs: filepath.Dir(p.abs)}
}

// Root returns the UserRoot for identity. The directory need not exist yet.
func (r *Resolver) Root(identity string) (UserRoot, error) {
	if !validComponent(identity) {
		return UserRoot{}, &ConfinementError{Op: "root", Path: identity, Err: ErrInvalidIdentity}
	}
	return UserRoot{identity: identity, path: filepath.Join(r.base, identity)}, nil
}

// Resolve confines requested to root. An empty request, "/" or "." is the
// root itself; a leading "/" is root-relative. Any ".." that climbs above
// the root, and any symlink whose target leaves it, is a ConfinementError.
func (r *Resolver) Resolve(root UserRoot, requested string) (ResolvedPath, error) {
	realRoot, err := r.realRoot(root)
	if err != nil {
		return ResolvedPath{}, err
	}

	clean, err := cleanRelative(requested)
	if err != nil {
		return ResolvedPath{}, r.reject(root, "check_traversal", requested, err)
	}

	joined := filepath.Join(realRoot, filepath.FromSlash(clean))
	if !within(joined, realRoot) {
		return ResolvedPath{}, r.reject(root, "check_traversal", requested, ErrTraversal)
	}

	resolved, err := evalExisting(joined, 0)
	if err != nil {
		return ResolvedPath{}, r.reject(root, "resolve_symlink", requested, ErrUnresolvable)
	}
	if !within(resolved, realRoot) {
		logging.Warn("symlink escape attempt",
			zap.String("identity", root.identity),
			zap.String("path", joined),
			zap.String("target", resolved))
		return ResolvedPath{}, r.reject(root, "check_symlink", requested, ErrSymlinkEscape)
	}

	return ResolvedPath{root: root, realRoot: realRoot, abs: resolved}, nil
}

// ResolveEntry resolves dir and appends name as a single, unfollowed
// component. Mutations that act on a directory entry (rename, delete,
// create) use this so a symlink is handled as the link, never its target.
func (r *Resolver) ResolveEntry(root UserRoot, dir, name string) (ResolvedPath, error) {
	parent, err := r.Resolve(root, dir)
	if err != nil {
		return ResolvedPath{}, err
	}
	return r.Child(parent, name)
}

// Child appends a single validated component to an already resolved directory.
func (r *Resolver) Child(dir ResolvedPath, name string) (ResolvedPath, error) {
	if !validComponent(name) {
		return ResolvedPath{}, r.reject(dir.root, "check_name", name, ErrInvalidName)
	}
	return ResolvedPath{root: dir.root, realRoot: dir.realRoot, abs: filepath.Join(dir.abs, name)}, nil
}

// Verify re-checks confinement of p at the moment of a filesystem call.
// Intervening changes (a directory swapped for a symlink) are caught here.
func (r *Resolver) Verify(p ResolvedPath) error {
	if p.abs == "" {
		return &ConfinementError{Op: "verify", Path: "", Err: ErrUnresolvable}
	}

	realRoot, err := r.realRoot(p.root)
	if err != nil {
		return err
	}
	if realRoot != p.realRoot {
		return r.reject(p.root, "verify_root", p.abs, ErrSymlinkEscape)
	}
	if p.IsRoot() {
		return nil
	}
	if !within(p.abs, realRoot) {
		return r.reject(p.root, "verify", p.abs, ErrTraversal)
	}

	parent, err := evalExisting(filepath.Dir(p.abs), 0)
	if err != nil {
		return r.reject(p.root, "verify", p.abs, ErrUnresolvable)
	}
	if !within(parent, realRoot) {
		return r.reject(p.root, "verify", p.abs, ErrSymlinkEscape)
	}
	return nil
}

// realRoot resolves a user root and checks it is exactly <base>/<identity>,
// so no two identities can share a subtree.
func (r *Resolver) realRoot(root UserRoot) (string, error) {
	if !validComponent(root.identity) || root.path == "" {
		return "", &ConfinementError{Op: "root", Path: root.identity, Err: ErrInvalidIdentity}
	}
	resolved, err := evalExisting(root.path, 0)
	if err != nil {
		return "", &ConfinementError{Op: "resolve_root", Path: root.identity, Err: ErrUnresolvable}
	}
	rel, err := filepath.Rel(r.base, resolved)
	if err != nil || rel != root.identity {
		return "", r.reject(root, "check_root", root.path, ErrSymlinkEscape)
	}
	return resolved, nil
}

func (r *Resolver) reject(root UserRoot, op, p string, err error) error {
	logging.Debug("path rejected",
		zap.String("identity", root.identity),
		zap.String("op", op),
		zap.String("path", p),
		zap.Error(err))
	return &ConfinementError{Op: op, Path: p, Err: err}
}

// cleanRelative normalizes a slash-separated request to a clean relative
// path, or reports traversal if it climbs above its start.
func cleanRelative(requested string) (string, error) {
	if strings.ContainsRune(requested, 0) {
		return "", ErrTraversal
	}
	p := strings.ReplaceAll(requested, `\`, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ".", nil
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrTraversal
	}
	return clean, nil
}

// evalExisting resolves symlinks along p. Components that do not exist yet
// are appended unresolved; dangling links are followed lexically so their
// destination is still subject to the containment check.
func evalExisting(p string, hops int) (string, error) {
	if hops > maxLinkHops {
		return "", fmt.Errorf("too many links resolving %s", p)
	}

	var rest []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return joinRest(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		if info, lerr := os.Lstat(cur); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			resolved, terr := evalExisting(target, hops+1)
			if terr != nil {
				return "", terr
			}
			return joinRest(resolved, rest), nil
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

func joinRest(head string, rest []string) string {
	parts := make([]string, 0, len(rest)+1)
	parts = append(parts, head)
	for i := len(rest) - 1; i >= 0; i-- {
		parts = append(parts, rest[i])
	}
	return filepath.Join(parts...)
}

// within reports whether p equals base or lies below it, by path components.
func within(p, base string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// validComponent reports whether s is usable as exactly one path element.
func validComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
