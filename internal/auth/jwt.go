// Package auth provides JWT-based authentication middleware with metrics.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/pkg/protocol"
)

// CookieName is the cookie that may carry the session token.
const CookieName = "token"

const issuer = "filebrowser"

type contextKey string

const (
	userContextKey contextKey = "user"
)

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth issues and validates session tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration
	oidc   *OIDCProvider
}

// New creates a new Auth handler.
func New(jwtSecret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{
		secret: []byte(jwtSecret),
		ttl:    ttl,
	}
}

// SetOIDCProvider enables OIDC ID tokens as an alternative credential.
func (a *Auth) SetOIDCProvider(p *OIDCProvider) {
	a.oidc = p
}

// HasOIDC returns true if an OIDC provider is configured.
func (a *Auth) HasOIDC() bool {
	return a.oidc != nil
}

// Issue signs a session token for username.
func (a *Auth) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// Validate parses and verifies a session token.
func (a *Auth) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("token has no username")
	}
	return claims, nil
}

// Middleware validates the session token, trying a local JWT first and an
// OIDC ID token second, and stores the claims in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.Validate(tokenStr)
		if err != nil && a.oidc != nil {
			claims, err = a.oidc.ValidateToken(r.Context(), tokenStr)
		}
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Debug("token rejected", zap.Error(err))
			sendAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := logging.WithIdentity(WithClaims(r.Context(), claims), claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// Identity returns the authenticated username, or "".
func Identity(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Username
	}
	return ""
}

// SessionCookie builds the cookie that carries a session token.
func SessionCookie(token string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
