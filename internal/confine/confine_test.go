package confine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	resolver *Resolver
	alice    UserRoot
	base     string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	storage := filepath.Join(t.TempDir(), "users_space")

	resolver, err := NewResolver(Config{StorageRoot: storage, CreateDirs: true})
	require.NoError(t, err)

	for _, dir := range []string{
		"alice/home/alice/docs",
		"alicebob/home/alicebob",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(resolver.Base(), dir), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(resolver.Base(), "alice", "notes.txt"), []byte("n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(resolver.Base(), "alicebob", "secret.txt"), []byte("s"), 0644))

	alice, err := resolver.Root("alice")
	require.NoError(t, err)

	return fixture{resolver: resolver, alice: alice, base: resolver.Base()}
}

func TestResolveInsideRoot(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		requested string
		wantRel   string
	}{
		{"", ""},
		{"/", ""},
		{".", ""},
		{"notes.txt", "notes.txt"},
		{"/home/alice", "home/alice"},
		{"home/alice/docs/", "home/alice/docs"},
		{"home/./alice//docs", "home/alice/docs"},
		{"home/alice/../alice/docs", "home/alice/docs"},
		{"home/../notes.txt", "notes.txt"},
		{"home/not-yet-created.txt", "home/not-yet-created.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			p, err := f.resolver.Resolve(f.alice, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRel, p.Rel())
			assert.True(t, within(p.Path(), filepath.Join(f.base, "alice")))
		})
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	f := newFixture(t)

	for _, requested := range []string{
		"..",
		"../",
		"../../etc/passwd",
		"/../../etc/passwd",
		"home/../../alicebob/secret.txt",
		"home/alice/../../../alicebob",
		`..\..\etc\passwd`,
		"docs/\x00/x",
	} {
		t.Run(requested, func(t *testing.T) {
			_, err := f.resolver.Resolve(f.alice, requested)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfinement), "want ErrConfinement, got %v", err)

			var cerr *ConfinementError
			assert.True(t, errors.As(err, &cerr))
		})
	}
}

func TestResolveAliceEtcPasswd(t *testing.T) {
	f := newFixture(t)

	p, err := f.resolver.Resolve(f.alice, "../../etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfinement)
	assert.ErrorIs(t, err, ErrTraversal)
	assert.Empty(t, p.Path())
}

// Any mix of ".." segments either stays inside alice's root or is rejected.
func TestResolveDotDotNeverEscapes(t *testing.T) {
	f := newFixture(t)
	aliceDir := filepath.Join(f.base, "alice")
	segments := []string{"..", "home", "alice", ".", "docs", "x"}

	var walk func(prefix []string, depth int)
	walk = func(prefix []string, depth int) {
		if depth == 0 {
			requested := strings.Join(prefix, "/")
			p, err := f.resolver.Resolve(f.alice, requested)
			if err != nil {
				assert.ErrorIs(t, err, ErrConfinement, requested)
				return
			}
			assert.True(t, within(p.Path(), aliceDir), "%q resolved to %s", requested, p.Path())
			return
		}
		for _, s := range segments {
			walk(append(append([]string{}, prefix...), s), depth-1)
		}
	}
	walk(nil, 4)
}

func TestSiblingRootWithSharedPrefix(t *testing.T) {
	f := newFixture(t)

	// "alicebob" contains "alice" as a substring; it must still be foreign.
	_, err := f.resolver.Resolve(f.alice, "../alicebob/secret.txt")
	assert.ErrorIs(t, err, ErrConfinement)

	// A symlink inside alice's root that points into alicebob's root.
	link := filepath.Join(f.base, "alice", "peek")
	require.NoError(t, os.Symlink(filepath.Join(f.base, "alicebob"), link))

	_, err = f.resolver.Resolve(f.alice, "peek/secret.txt")
	assert.ErrorIs(t, err, ErrSymlinkEscape)
}

func TestSymlinkEscape(t *testing.T) {
	f := newFixture(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "loot.txt"), []byte("x"), 0644))

	require.NoError(t, os.Symlink(outside, filepath.Join(f.base, "alice", "out")))

	_, err := f.resolver.Resolve(f.alice, "out")
	assert.ErrorIs(t, err, ErrSymlinkEscape)

	_, err = f.resolver.Resolve(f.alice, "out/loot.txt")
	assert.ErrorIs(t, err, ErrSymlinkEscape)

	// Not-yet-existing children of an escaping link are still rejected.
	_, err = f.resolver.Resolve(f.alice, "out/new.txt")
	assert.ErrorIs(t, err, ErrSymlinkEscape)
}

func TestDanglingSymlinkEscape(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(t.TempDir(), "missing", "file")

	require.NoError(t, os.Symlink(target, filepath.Join(f.base, "alice", "dangling")))

	_, err := f.resolver.Resolve(f.alice, "dangling")
	assert.ErrorIs(t, err, ErrSymlinkEscape)
}

func TestSymlinkInsideRootIsAllowed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Symlink(filepath.Join(f.base, "alice", "home", "alice", "docs"),
		filepath.Join(f.base, "alice", "shortcut")))

	p, err := f.resolver.Resolve(f.alice, "shortcut")
	require.NoError(t, err)
	assert.Equal(t, "home/alice/docs", p.Rel())
}

func TestRootRejectsBadIdentity(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../alice"} {
		_, err := f.resolver.Root(id)
		assert.ErrorIs(t, err, ErrInvalidIdentity, id)
		assert.ErrorIs(t, err, ErrConfinement, id)
	}
}

func TestRootThatIsSymlinkToAnotherRoot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Symlink(filepath.Join(f.base, "alicebob"), filepath.Join(f.base, "mallory")))

	mallory, err := f.resolver.Root("mallory")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(mallory, "")
	assert.ErrorIs(t, err, ErrConfinement)
}

func TestResolveEntryDoesNotFollowLastComponent(t *testing.T) {
	f := newFixture(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(f.base, "alice", "link")))

	p, err := f.resolver.ResolveEntry(f.alice, "/", "link")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.base, "alice", "link"), p.Path())
	assert.Equal(t, "link", p.Base())

	for _, name := range []string{"", ".", "..", "a/b", `..\x`} {
		_, err := f.resolver.ResolveEntry(f.alice, "/", name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestVerifyCatchesSwappedDirectory(t *testing.T) {
	f := newFixture(t)

	p, err := f.resolver.ResolveEntry(f.alice, "home/alice/docs", "new.txt")
	require.NoError(t, err)
	require.NoError(t, f.resolver.Verify(p))

	// Swap docs for a link pointing outside after resolution.
	docs := filepath.Join(f.base, "alice", "home", "alice", "docs")
	require.NoError(t, os.RemoveAll(docs))
	require.NoError(t, os.Symlink(t.TempDir(), docs))

	assert.ErrorIs(t, f.resolver.Verify(p), ErrSymlinkEscape)
}

func TestVerifyRoot(t *testing.T) {
	f := newFixture(t)
	p, err := f.resolver.Resolve(f.alice, "")
	require.NoError(t, err)
	assert.True(t, p.IsRoot())
	assert.NoError(t, f.resolver.Verify(p))
	assert.Equal(t, p, p.Parent())

	assert.Error(t, f.resolver.Verify(ResolvedPath{}))
}

func TestNewResolverRequiresDirectory(t *testing.T) {
	_, err := NewResolver(Config{StorageRoot: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = NewResolver(Config{StorageRoot: file})
	assert.Error(t, err)
}
