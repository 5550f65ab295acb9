// File browser server
//
// Features:
// - Per-user storage roots with path confinement
// - Browse, download, upload, create folder, rename, delete
// - Download integrity checks (X-File-Hash / X-File-Integrity)
// - Local accounts (bcrypt + JWT) and optional OIDC
// - Prometheus metrics & structured logging (zap)
// - Per-user rate limiting
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/api"
	"github.com/fruitsalade/filebrowser/internal/auth"
	"github.com/fruitsalade/filebrowser/internal/config"
	"github.com/fruitsalade/filebrowser/internal/confine"
	"github.com/fruitsalade/filebrowser/internal/fileops"
	"github.com/fruitsalade/filebrowser/internal/integrity"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/internal/provision"
	"github.com/fruitsalade/filebrowser/internal/ratelimit"
	"github.com/fruitsalade/filebrowser/internal/users"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("file browser server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	resolver, err := confine.NewResolver(confine.Config{
		StorageRoot: cfg.StorageRoot,
		CreateDirs:  true,
	})
	if err != nil {
		logging.Fatal("storage root init failed", zap.Error(err))
	}

	verifier, err := integrity.New(cfg.HashAlgorithm)
	if err != nil {
		logging.Fatal("hash algorithm init failed", zap.Error(err))
	}

	engine, err := fileops.New(fileops.Config{
		Resolver:          resolver,
		Verifier:          verifier,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		logging.Fatal("file engine init failed", zap.Error(err))
	}

	provisioner := provision.NewProvisioner(resolver)

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	userStore, err := users.Connect(ctx, cfg.DatabaseURL, users.DefaultBackoff)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer userStore.Close()

	if err := userStore.Migrate(ctx); err != nil {
		logging.Fatal("migration failed", zap.Error(err))
	}

	userService := users.NewService(userStore, provisioner)

	// Initialize auth
	authHandler := auth.New(cfg.JWTSecret, cfg.TokenTTL)

	oidcProvider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
		IssuerURL: cfg.OIDCIssuerURL,
		ClientID:  cfg.OIDCClientID,
	}, userService)
	if err != nil {
		logging.Fatal("OIDC provider init failed", zap.Error(err))
	}
	if oidcProvider != nil {
		authHandler.SetOIDCProvider(oidcProvider)
		logging.Info("OIDC enabled", zap.String("issuer", cfg.OIDCIssuerURL))
	}

	rateLimiter := ratelimit.New(cfg.RateLimitRPM)
	if rateLimiter.Enabled() {
		go rateLimiter.Run(ctx, time.Hour, 24*time.Hour)
		logging.Info("rate limiter enabled", zap.Int("rpm", cfg.RateLimitRPM))
	}

	srv := api.NewServer(api.Config{
		Resolver:      resolver,
		Engine:        engine,
		Verifier:      verifier,
		Users:         userService,
		Auth:          authHandler,
		RateLimiter:   rateLimiter,
		MaxUploadSize: cfg.MaxUploadSize,
		SecureCookies: cfg.UseTLS(),
		HealthCheck:   userStore.Ping,
	})

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.UseTLS() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	if cfg.UseTLS() {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
