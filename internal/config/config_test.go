package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRelayEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELAY_HOST", "relay.example.com:9001")
	t.Setenv("RELAY_PASSWORD", "hunter2")
	t.Setenv("RELAY_PROFILE", "")
	t.Setenv("RELAY_PROFILES_PATH", filepath.Join(t.TempDir(), "profiles.yaml"))
}

func TestLoad_Defaults(t *testing.T) {
	setRelayEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "relay.example.com:9001", cfg.Host)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "zlib", cfg.Compression)
	assert.False(t, cfg.HashPassword)
	assert.Equal(t, 100, cfg.FetchLineCount)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingHost(t *testing.T) {
	setRelayEnv(t)
	t.Setenv("RELAY_HOST", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_HOST")
}

func TestLoad_InvalidCompression(t *testing.T) {
	setRelayEnv(t)
	t.Setenv("RELAY_COMPRESSION", "gzip")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_COMPRESSION")
}

func TestLoad_ProfileOverrides(t *testing.T) {
	setRelayEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	yaml := `
home:
  host: home.example.net:8000
  password: sekrit
  tls: false
  compression: "off"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("RELAY_PROFILES_PATH", path)
	t.Setenv("RELAY_PROFILE", "home")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "home.example.net:8000", cfg.Host)
	assert.Equal(t, "sekrit", cfg.Password)
	assert.False(t, cfg.UseTLS)
	assert.Equal(t, "off", cfg.Compression)
}

func TestLoad_UnknownProfile(t *testing.T) {
	setRelayEnv(t)
	t.Setenv("RELAY_PROFILE", "missing")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "missing" not found`)
}

func TestLoadProfiles_MissingFileIsEmpty(t *testing.T) {
	profiles, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestLoadProfiles_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\tnot yaml"), 0o600))

	_, err := LoadProfiles(path)
	require.Error(t, err)
}
