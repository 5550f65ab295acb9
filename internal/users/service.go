package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/filebrowser/internal/confine"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
)

const (
	// bcrypt ignores input beyond this length.
	maxPasswordBytes = 72

	// ExternalPasswordHash marks accounts that sign in through an external
	// identity provider. It is not a bcrypt hash, so password login fails.
	ExternalPasswordHash = "oidc-managed"
)

// Provisioner creates storage for a newly registered identity.
type Provisioner interface {
	Provision(ctx context.Context, identity string) (confine.UserRoot, error)
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	Username        string
	Password        string
	ConfirmPassword string
}

// Service implements registration and login on top of a Store.
type Service struct {
	store       Store
	provisioner Provisioner
	cost        int
	dummyHash   []byte
}

// NewService creates a user service.
func NewService(store Store, provisioner Provisioner) *Service {
	return newService(store, provisioner, bcrypt.DefaultCost)
}

func newService(store Store, provisioner Provisioner, cost int) *Service {
	// Compared against when the user does not exist, so both failure paths
	// do the same bcrypt work.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	return &Service{
		store:       store,
		provisioner: provisioner,
		cost:        cost,
		dummyHash:   dummy,
	}
}

// Register validates the request, stores the user and then provisions the
// user's storage. Provisioning runs after the user row is committed and its
// failure is returned as ErrProvisionFailed alongside the created user, so
// callers can report it and retry provisioning separately.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := ValidateUsername(req.Username); err != nil {
		metrics.RecordRegistration(false)
		return nil, err
	}
	if req.Password == "" {
		metrics.RecordRegistration(false)
		return nil, &ValidationError{Field: "password", Message: "is required"}
	}
	if len(req.Password) > maxPasswordBytes {
		metrics.RecordRegistration(false)
		return nil, &ValidationError{Field: "password", Message: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)}
	}
	if req.Password != req.ConfirmPassword {
		metrics.RecordRegistration(false)
		return nil, &ValidationError{Field: "confirm_password", Message: "passwords don't match"}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		metrics.RecordRegistration(false)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.Create(ctx, req.Username, string(hashed))
	if err != nil {
		metrics.RecordRegistration(false)
		if errors.Is(err, ErrUserExists) {
			logging.Info("registration rejected: username taken", zap.String("username", req.Username))
		}
		return nil, err
	}
	metrics.RecordRegistration(true)

	if s.provisioner != nil {
		if _, err := s.provisioner.Provision(ctx, user.Username); err != nil {
			logging.Error("provisioning failed",
				zap.String("username", user.Username),
				zap.Error(err))
			return user, fmt.Errorf("%w: %w", ErrProvisionFailed, err)
		}
	}

	logging.Info("user registered", zap.String("username", user.Username))
	return user, nil
}

// EnsureExternal makes sure an identity vouched for by an external provider
// has an account and a provisioned root. The first sign-in creates the account
// with ExternalPasswordHash, which also reserves the username against local
// registration. A username already held by a local account is refused with
// ErrLocalAccount.
func (s *Service) EnsureExternal(ctx context.Context, username string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	user, err := s.store.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		user, err = s.store.Create(ctx, username, ExternalPasswordHash)
		if errors.Is(err, ErrUserExists) {
			// Lost a race with a concurrent sign-in or registration.
			user, err = s.store.GetByUsername(ctx, username)
		} else if err == nil {
			logging.Info("auto-created external user", zap.String("username", username))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ensure external user: %w", err)
	}
	if user.PasswordHash != ExternalPasswordHash {
		logging.Warn("external sign-in refused: local account", zap.String("username", username))
		return nil, ErrLocalAccount
	}

	if s.provisioner != nil {
		if _, err := s.provisioner.Provision(ctx, user.Username); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProvisionFailed, err)
		}
	}
	return user, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords both
// return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			metrics.RecordAuthAttempt(false)
			logging.Warn("login failed: unknown user", zap.String("username", username))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if user.PasswordHash == ExternalPasswordHash {
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: externally managed account", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: invalid password", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	metrics.RecordAuthAttempt(true)
	return user, nil
}
