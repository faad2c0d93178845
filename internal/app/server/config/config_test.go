package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URI", "postgres://localhost/edusync")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8080", cfg.Server.RunAddress)
	assert.Equal(t, "migrations", cfg.DB.Migrations)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_uri: postgres://db/edu\nrun_address: :9090\nsession_ttl_hours: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/edu", cfg.DB.DatabaseURI)
	assert.Equal(t, ":9090", cfg.Server.RunAddress)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		contains string
	}{
		{
			name:     "no database",
			env:      map[string]string{},
			contains: "DATABASE_URI",
		},
		{
			name:     "admin without password",
			env:      map[string]string{"DATABASE_URI": "postgres://x", "ADMIN_LOGIN": "admin"},
			contains: "ADMIN_PASSWORD",
		},
		{
			name:     "zero ttl",
			env:      map[string]string{"DATABASE_URI": "postgres://x", "SESSION_TTL_HOURS": "0"},
			contains: "SESSION_TTL_HOURS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("DATABASE_URI", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
