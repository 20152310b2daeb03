// Package config loads settings for the player CLI and the session server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// AppName names the xdg subdirectories used for config and data files.
const AppName = "spotify-player"

// ErrMissingCredentials is returned when the Spotify client id or secret is unset.
var ErrMissingCredentials = errors.New("missing spotify client_id/client_secret (or SPOTIFY_ID/SPOTIFY_SECRET)")

type Config struct {
	Spotify SpotifyConfig `koanf:"spotify"`
	Server  ServerConfig  `koanf:"server"`
	Session SessionConfig `koanf:"session"`
	Player  PlayerConfig  `koanf:"player"`
	Log     LogConfig     `koanf:"log"`
}

// SpotifyConfig holds the OAuth application credentials.
type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
	Market       string `koanf:"market"` // ISO 3166-1 country code, "from_token" if empty
}

// ServerConfig configures the session server.
type ServerConfig struct {
	Addr        string `koanf:"addr"`
	DatabaseURL string `koanf:"database_url"` // in-memory sessions when empty
}

// SessionConfig points the player at a session server. When URL is empty the
// player refreshes tokens itself from the local token cache.
type SessionConfig struct {
	URL       string `koanf:"url"`
	ID        string `koanf:"id"`
	TokenFile string `koanf:"token_file"`
}

// PlayerConfig tunes the playback core.
type PlayerConfig struct {
	DeviceName          string        `koanf:"device_name"` // Connect device treated as this client
	OwnerInterval       time.Duration `koanf:"owner_interval"`
	RemoteInterval      time.Duration `koanf:"remote_interval"`
	RetryInterval       time.Duration `koanf:"retry_interval"`
	MaxTransientRetries int           `koanf:"max_transient_retries"`
	RequestsPerSecond   float64       `koanf:"requests_per_second"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Player: PlayerConfig{
			DeviceName:          "spotifyd",
			OwnerInterval:       30 * time.Second,
			RemoteInterval:      10 * time.Second,
			RetryInterval:       2 * time.Second,
			MaxTransientRetries: 5,
			RequestsPerSecond:   5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from path, or from the default locations when path
// is empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	paths := []string{path}
	if path == "" {
		paths = configPaths()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", p, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnv(cfg)

	cfg.Session.URL = strings.TrimSuffix(cfg.Session.URL, "/")
	if cfg.Session.TokenFile != "" {
		cfg.Session.TokenFile = expandPath(cfg.Session.TokenFile)
	}

	return cfg, nil
}

// Validate reports missing credentials.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// UsesSessionServer reports whether tokens come from a remote session server.
func (c *Config) UsesSessionServer() bool {
	return c.Session.URL != "" && c.Session.ID != ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SPOTIFY_ID"); v != "" {
		cfg.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_SECRET"); v != "" {
		cfg.Spotify.ClientSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Server.DatabaseURL = v
	}
	if v := os.Getenv("SPOTIFY_PLAYER_SESSION"); v != "" {
		cfg.Session.ID = v
	}
}

// configPaths lists config files in priority order (last wins).
func configPaths() []string {
	paths := []string{}

	if p, err := xdg.SearchConfigFile(filepath.Join(AppName, "config.toml")); err == nil {
		paths = append(paths, p)
	}

	paths = append(paths, "config.toml")
	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
