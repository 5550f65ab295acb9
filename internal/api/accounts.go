package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/auth"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/users"
	"github.com/fruitsalade/filebrowser/pkg/protocol"
)

// ─── Accounts ───────────────────────────────────────────────────────────────

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.users.Register(r.Context(), users.RegisterRequest{
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})

	var verr *users.ValidationError
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusCreated, protocol.RegisterResponse{Username: user.Username, Provisioned: true})
	case errors.As(err, &verr):
		s.sendError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, users.ErrUserExists):
		s.sendError(w, http.StatusConflict, "user with name '"+req.Username+"' already exists")
	case errors.Is(err, users.ErrProvisionFailed) && user != nil:
		// The account exists; storage can be provisioned again later.
		s.sendJSON(w, http.StatusCreated, protocol.RegisterResponse{Username: user.Username, Provisioned: false})
	default:
		logging.WithContext(r.Context()).Error("registration failed", zap.Error(err))
		s.sendInternalError(w, r, "registration failed")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		s.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("login lookup failed", zap.Error(err))
		s.sendInternalError(w, r, "login failed")
		return
	}

	token, expires, err := s.auth.Issue(user.Username)
	if err != nil {
		logging.WithContext(r.Context()).Error("failed to sign token", zap.Error(err))
		s.sendInternalError(w, r, "failed to generate token")
		return
	}

	logging.WithContext(r.Context()).Info("login successful", zap.String("username", user.Username))
	http.SetCookie(w, auth.SessionCookie(token, expires, s.secureCookies))
	s.sendJSON(w, http.StatusOK, protocol.TokenResponse{
		Token:     token,
		ExpiresAt: expires,
		Username:  user.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, auth.SessionCookie("", time.Unix(0, 0), s.secureCookies))
	s.sendJSON(w, http.StatusOK, protocol.SuccessResponse{Success: true})
}
