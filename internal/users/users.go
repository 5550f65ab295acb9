// Package users manages user accounts: validation, password hashing,
// persistence and the registration workflow.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Username rules.
const (
	MinUsernameLength = 5
	MaxUsernameLength = 15
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrProvisionFailed    = errors.New("user created but storage provisioning failed")
	ErrLocalAccount       = errors.New("username belongs to a local account")
)

// User is a stored account.
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, username, passwordHash string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// ValidationError reports a rejected registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateUsername checks length and the allowed character set [A-Za-z0-9_].
// The username also names the user's storage directory.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return &ValidationError{
			Field:   "username",
			Message: fmt.Sprintf("must be between %d and %d characters", MinUsernameLength, MaxUsernameLength),
		}
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return &ValidationError{Field: "username", Message: "may contain only letters, digits and underscores"}
		}
	}
	return nil
}
