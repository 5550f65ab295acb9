package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/internal/users"
)

// OIDCConfig holds OIDC provider configuration.
type OIDCConfig struct {
	IssuerURL string // e.g. https://keycloak.example.com/realms/files
	ClientID  string
}

// AccountLinker records an externally authenticated identity as a local
// account and provisions its root. It fails for names that cannot be used.
type AccountLinker interface {
	EnsureExternal(ctx context.Context, username string) (*users.User, error)
}

// OIDCProvider validates OIDC ID tokens and maps them to local identities.
type OIDCProvider struct {
	verifier *oidc.IDTokenVerifier
	accounts AccountLinker

	mu     sync.Mutex
	linked map[string]bool
}

// NewOIDCProvider discovers the issuer and builds a verifier.
// Returns nil if IssuerURL is empty (OIDC disabled).
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, accounts AccountLinker) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}

	logging.Info("OIDC provider initialized",
		zap.String("issuer", cfg.IssuerURL),
		zap.String("client_id", cfg.ClientID))

	return newOIDCProvider(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), accounts), nil
}

func newOIDCProvider(v *oidc.IDTokenVerifier, accounts AccountLinker) *OIDCProvider {
	return &OIDCProvider{
		verifier: v,
		accounts: accounts,
		linked:   make(map[string]bool),
	}
}

// ValidateToken verifies tokenStr as an ID token. The preferred_username
// claim becomes the identity; on first sight it is linked to a local account.
func (o *OIDCProvider) ValidateToken(ctx context.Context, tokenStr string) (*Claims, error) {
	idToken, err := o.verifier.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	var oidcClaims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&oidcClaims); err != nil {
		return nil, fmt.Errorf("parse oidc claims: %w", err)
	}

	username := oidcClaims.PreferredUsername
	if username == "" {
		return nil, fmt.Errorf("oidc token has no preferred_username")
	}
	if err := o.link(ctx, username); err != nil {
		metrics.RecordAuthAttempt(false)
		return nil, err
	}

	metrics.RecordAuthAttempt(true)
	return &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: oidcClaims.Sub,
			Issuer:  idToken.Issuer,
		},
	}, nil
}

func (o *OIDCProvider) link(ctx context.Context, username string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.linked[username] {
		return nil
	}
	if o.accounts == nil {
		return fmt.Errorf("oidc user %q: no account store", username)
	}
	if _, err := o.accounts.EnsureExternal(ctx, username); err != nil {
		return fmt.Errorf("oidc user %q: %w", username, err)
	}
	o.linked[username] = true
	logging.Info("OIDC user ready", zap.String("username", username))
	return nil
}
