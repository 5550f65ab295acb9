// Package provision creates the on-disk structure for a new user root.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/confine"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
)

// Seed content placed in every new home directory.
const (
	HomeDir        = "home"
	DocumentsDir   = "Documents"
	WelcomeFile    = "welcome.txt"
	welcomeMessage = "Welcome to your file browser, %s!\n\nUpload files, create folders and organise your documents here.\n"
)

// Provisioner creates user roots under a storage root.
type Provisioner struct {
	resolver *confine.Resolver
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(resolver *confine.Resolver) *Provisioner {
	return &Provisioner{resolver: resolver}
}

// Provision creates <storage>/<identity>/home/<identity>/ with a Documents
// folder and a welcome file. Existing directories and files are left as
// they are, so it is safe to run again.
func (p *Provisioner) Provision(ctx context.Context, identity string) (confine.UserRoot, error) {
	if err := ctx.Err(); err != nil {
		return confine.UserRoot{}, err
	}

	root, err := p.resolver.Root(identity)
	if err != nil {
		return confine.UserRoot{}, err
	}

	if err := os.MkdirAll(root.Path(), 0755); err != nil {
		metrics.RecordProvision(false)
		return confine.UserRoot{}, fmt.Errorf("create user root: %w", err)
	}

	home, err := p.resolver.Resolve(root, filepath.Join(HomeDir, identity))
	if err != nil {
		metrics.RecordProvision(false)
		return confine.UserRoot{}, fmt.Errorf("resolve home: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(home.Path(), DocumentsDir), 0755); err != nil {
		metrics.RecordProvision(false)
		return confine.UserRoot{}, fmt.Errorf("create home dir: %w", err)
	}

	if err := writeOnce(filepath.Join(home.Path(), WelcomeFile), fmt.Sprintf(welcomeMessage, identity)); err != nil {
		metrics.RecordProvision(false)
		return confine.UserRoot{}, fmt.Errorf("write welcome file: %w", err)
	}

	metrics.RecordProvision(true)
	logging.Info("user root provisioned",
		zap.String("identity", identity),
		zap.String("path", root.Path()))
	return root, nil
}

// Exists reports whether the user root directory is present.
func (p *Provisioner) Exists(identity string) (bool, error) {
	root, err := p.resolver.Root(identity)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(root.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// writeOnce creates path with content unless it already exists.
func writeOnce(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
