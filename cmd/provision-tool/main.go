// provision-tool creates or repairs user roots on disk.
//
// With -user it provisions a single identity. With -all it provisions every
// user stored in PostgreSQL, which repairs accounts whose storage failed to
// provision at registration time. Existing files are never overwritten.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/confine"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/provision"
	"github.com/fruitsalade/filebrowser/internal/users"
)

type toolConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	StorageRoot string `envconfig:"STORAGE_ROOT" default:"users_space"`
}

func main() {
	user := flag.String("user", "", "Identity to provision")
	all := flag.Bool("all", false, "Provision every registered user")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: "info", Format: "console"}); err != nil {
		panic("logging init: " + err.Error())
	}
	defer logging.Sync()

	var cfg toolConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logging.Fatal("config error", zap.Error(err))
	}
	if *user == "" && !*all {
		flag.Usage()
		os.Exit(2)
	}

	resolver, err := confine.NewResolver(confine.Config{
		StorageRoot: cfg.StorageRoot,
		CreateDirs:  true,
	})
	if err != nil {
		logging.Fatal("storage root init failed", zap.Error(err))
	}
	prov := provision.NewProvisioner(resolver)

	ctx := context.Background()

	identities := []string{}
	if *user != "" {
		if err := users.ValidateUsername(*user); err != nil {
			logging.Fatal("invalid identity", zap.String("user", *user), zap.Error(err))
		}
		identities = append(identities, *user)
	}
	if *all {
		names, err := listUsers(ctx, cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("failed to list users", zap.Error(err))
		}
		identities = append(identities, names...)
	}

	failed := 0
	for _, id := range identities {
		root, err := prov.Provision(ctx, id)
		if err != nil {
			failed++
			logging.Error("provision failed", zap.String("user", id), zap.Error(err))
			continue
		}
		logging.Info("provisioned", zap.String("user", id), zap.String("root", root.Path()))
	}

	logging.Info("provision-tool done",
		zap.Int("total", len(identities)),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

// listUsers waits for PostgreSQL and returns every username.
func listUsers(ctx context.Context, databaseURL string) ([]string, error) {
	store, err := users.Connect(ctx, databaseURL, users.DefaultBackoff)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.ListUsernames(ctx)
}
