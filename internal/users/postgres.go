package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         SERIAL PRIMARY KEY,
	username   VARCHAR(15) NOT NULL UNIQUE,
	password   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL-backed user store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the users table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	logging.Debug("users schema ready")
	return nil
}

// Create inserts a user. A duplicate username yields ErrUserExists.
func (s *PostgresStore) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	u := &User{Username: username, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id, created_at`,
		username, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	logging.Info("user created", zap.String("username", username), zap.Int("user_id", u.ID))
	return u, nil
}

// GetByUsername looks a user up by name.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_at FROM users WHERE username = $1`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListUsernames returns every username ordered by ID.
func (s *PostgresStore) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
