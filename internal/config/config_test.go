package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SPOTIFY_ID", "SPOTIFY_SECRET", "DATABASE_URL", "SPOTIFY_PLAYER_SESSION"} {
		t.Setenv(k, "")
	}
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[spotify]
client_id = "file-id"
client_secret = "file-secret"
market = "JP"

[session]
url = "http://127.0.0.1:8080/"
id = "abc"

[player]
device_name = "kitchen"
owner_interval = "45s"
max_transient_retries = 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-id", cfg.Spotify.ClientID)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Session.URL)
	assert.True(t, cfg.UsesSessionServer())
	assert.Equal(t, "kitchen", cfg.Player.DeviceName)
	assert.Equal(t, 45*time.Second, cfg.Player.OwnerInterval)
	assert.Equal(t, 3, cfg.Player.MaxTransientRetries)
	// untouched keys keep defaults
	assert.Equal(t, 10*time.Second, cfg.Player.RemoteInterval)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[spotify]
client_id = "file-id"
client_secret = "file-secret"
`)
	t.Setenv("SPOTIFY_ID", "env-id")
	t.Setenv("DATABASE_URL", "postgres://localhost/player")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
	assert.Equal(t, "file-secret", cfg.Spotify.ClientSecret)
	assert.Equal(t, "postgres://localhost/player", cfg.Server.DatabaseURL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_InvalidToml(t *testing.T) {
	path := writeConfig(t, "[spotify\nclient_id = ")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingCredentials)

	cfg.Spotify.ClientID = "id"
	cfg.Spotify.ClientSecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "tokens/t.json"), expandPath("~/tokens/t.json"))
	assert.Equal(t, "/abs/t.json", expandPath("/abs/t.json"))
	assert.Equal(t, "", expandPath(""))
}
