package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/filebrowser")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "users_space", cfg.StorageRoot)
	assert.Equal(t, int64(15*1024*1024), cfg.MaxUploadSize)
	assert.Equal(t, []string{"txt", "pdf", "png", "jpg", "jpeg", "gif"}, cfg.AllowedExtensions)
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.UseTLS())
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/filebrowser")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/filebrowser")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ALLOWED_EXTENSIONS", "txt,md")
	t.Setenv("HASH_ALGORITHM", "MD5")
	t.Setenv("RATE_LIMIT_RPM", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"txt", "md"}, cfg.AllowedExtensions)
	assert.Equal(t, "md5", cfg.HashAlgorithm)
	assert.Equal(t, 30, cfg.RateLimitRPM)
}

func TestValidateRejectsUnknownHash(t *testing.T) {
	cfg := &Config{
		DatabaseURL:       "postgres://x",
		JWTSecret:         "s",
		StorageRoot:       "users_space",
		MaxUploadSize:     1,
		AllowedExtensions: []string{"txt"},
		HashAlgorithm:     "crc7",
	}
	assert.Error(t, cfg.Validate())

	cfg.HashAlgorithm = "xxhash"
	assert.NoError(t, cfg.Validate())

	cfg.MaxUploadSize = 0
	assert.Error(t, cfg.Validate())
}
