// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/auth"
	"github.com/fruitsalade/filebrowser/internal/confine"
	"github.com/fruitsalade/filebrowser/internal/fileops"
	"github.com/fruitsalade/filebrowser/internal/integrity"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/internal/ratelimit"
	"github.com/fruitsalade/filebrowser/internal/users"
	"github.com/fruitsalade/filebrowser/pkg/protocol"
)

// DefaultMaxUploadSize is 15 MiB.
const DefaultMaxUploadSize = 15 << 20

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// Config bundles the server's collaborators.
type Config struct {
	Resolver      *confine.Resolver
	Engine        *fileops.Engine
	Verifier      *integrity.Verifier
	Users         *users.Service
	Auth          *auth.Auth
	RateLimiter   *ratelimit.Limiter
	MaxUploadSize int64
	SecureCookies bool
	// HealthCheck reports backing service health, e.g. a database ping.
	HealthCheck func(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	resolver      *confine.Resolver
	engine        *fileops.Engine
	verifier      *integrity.Verifier
	users         *users.Service
	auth          *auth.Auth
	rateLimiter   *ratelimit.Limiter
	maxUploadSize int64
	secureCookies bool
	healthCheck   func(ctx context.Context) error
}

// NewServer creates a new server.
func NewServer(cfg Config) *Server {
	s := &Server{
		resolver:      cfg.Resolver,
		engine:        cfg.Engine,
		verifier:      cfg.Verifier,
		users:         cfg.Users,
		auth:          cfg.Auth,
		rateLimiter:   cfg.RateLimiter,
		maxUploadSize: cfg.MaxUploadSize,
		secureCookies: cfg.SecureCookies,
		healthCheck:   cfg.HealthCheck,
	}
	if s.maxUploadSize <= 0 {
		s.maxUploadSize = DefaultMaxUploadSize
	}
	if s.verifier == nil {
		s.verifier = integrity.Default()
	}
	if s.rateLimiter == nil {
		s.rateLimiter = ratelimit.New(0)
	}
	return s
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	public := http.NewServeMux()
	public.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	public.HandleFunc("POST /api/v1/auth/token", s.handleLogin)
	public.HandleFunc("POST /api/v1/auth/logout", s.handleLogout)
	ipLimited := ratelimit.Middleware(s.rateLimiter, ratelimit.ClientIP)(public)
	mux.Handle("/api/v1/auth/", ipLimited)

	// Protected endpoints
	protected := http.NewServeMux()

	// Read endpoints; listings are gzipped when the client accepts it
	browse := gzhttp.GzipHandler(http.HandlerFunc(s.handleBrowse))
	protected.Handle("GET /api/v1/files", browse)
	protected.Handle("GET /api/v1/files/{path...}", browse)
	protected.HandleFunc("GET /api/v1/download/{path...}", s.handleDownload)

	// Write endpoints
	protected.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	protected.HandleFunc("POST /api/v1/upload", s.handleUpload)
	protected.HandleFunc("POST /api/v1/rename", s.handleRename)
	protected.HandleFunc("POST /api/v1/delete", s.handleDelete)

	// Auth first, then the per-identity limiter
	identityKey := func(r *http.Request) (string, bool) {
		id := auth.Identity(r.Context())
		return id, id != ""
	}
	limited := ratelimit.Middleware(s.rateLimiter, identityKey)(protected)
	mux.Handle("/api/v1/", s.auth.Middleware(limited))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck != nil {
		if err := s.healthCheck(r.Context()); err != nil {
			logging.WithContext(r.Context()).Warn("health check failed", zap.Error(err))
			s.sendJSON(w, http.StatusServiceUnavailable, protocol.HealthResponse{Status: "unavailable"})
			return
		}
	}
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok"})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// userRoot returns the root of the authenticated identity.
func (s *Server) userRoot(r *http.Request) (confine.UserRoot, error) {
	return s.resolver.Root(auth.Identity(r.Context()))
}

// resolve confines a requested path to the caller's root.
func (s *Server) resolve(r *http.Request, requested string) (confine.ResolvedPath, error) {
	root, err := s.userRoot(r)
	if err != nil {
		return confine.ResolvedPath{}, err
	}
	return s.resolver.Resolve(root, requested)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// sendCoreError maps a core error to a status code and a user-facing
// message. Confinement failures are reported as not found.
func (s *Server) sendCoreError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.WithContext(r.Context()).With(zap.Error(err))

	switch {
	case errors.Is(err, confine.ErrConfinement):
		metrics.RecordConfinementViolation()
		log.Warn("confinement violation")
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, fileops.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, fileops.ErrNotADirectory):
		s.sendError(w, http.StatusBadRequest, "not a directory")
	case errors.Is(err, fileops.ErrAlreadyExists):
		s.sendError(w, http.StatusBadRequest, "a file or folder with that name already exists")
	case errors.Is(err, fileops.ErrNotEmpty):
		s.sendError(w, http.StatusBadRequest, "folder is not empty")
	case errors.Is(err, fileops.ErrUnsupportedType):
		s.sendError(w, http.StatusBadRequest, "file format not supported")
	case errors.Is(err, fileops.ErrInvalidName):
		s.sendError(w, http.StatusBadRequest, "name not supported")
	case errors.Is(err, fileops.ErrRootDeletion):
		s.sendError(w, http.StatusBadRequest, "cannot delete the root folder")
	case errors.Is(err, fileops.ErrIO):
		log.Error("filesystem error")
		s.sendError(w, http.StatusBadRequest, "operation failed, please try again")
	default:
		log.Error("unexpected error")
		s.sendInternalError(w, r, "internal error")
	}
}

// sendInternalError reports a 500 with the request ID, which ties the
// response to the server log.
func (s *Server) sendInternalError(w http.ResponseWriter, r *http.Request, message string) {
	s.sendJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{
		Error:   message,
		Code:    http.StatusInternalServerError,
		Details: "request_id: " + logging.GetRequestID(r.Context()),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
