package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Remote      RemoteConfig      `toml:"remote"`
	Population  PopulationConfig  `toml:"population"`
	Groups      []GroupConfig     `toml:"groups"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string `toml:"redirect_uri" env:"SPOTIFY_REDIRECT_URI"`
}

// Map returns the credentials in the shape expected by services.NewSpotifyService.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
	}
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"NOWPLAYING_DB"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host" env:"NOWPLAYING_HOST"`
	Port int    `toml:"port" env:"NOWPLAYING_PORT"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RemoteConfig bounds every call made to the remote playlist service.
type RemoteConfig struct {
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// Timeout returns the per-request timeout, defaulting to 10 seconds.
func (r RemoteConfig) Timeout() time.Duration {
	if r.RequestTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.RequestTimeoutSeconds) * time.Second
}

// PopulationConfig controls background cache population.
type PopulationConfig struct {
	InitialDelaySeconds int `toml:"initial_delay_seconds"`
	PacingMS            int `toml:"pacing_ms"`
}

// InitialDelay is the wait before a population run issues its first fetch.
func (p PopulationConfig) InitialDelay() time.Duration {
	if p.InitialDelaySeconds < 0 {
		return 0
	}
	return time.Duration(p.InitialDelaySeconds) * time.Second
}

// Pacing is the minimum gap between two playlist fetches.
func (p PopulationConfig) Pacing() time.Duration {
	if p.PacingMS < 0 {
		return 0
	}
	return time.Duration(p.PacingMS) * time.Millisecond
}

// GroupConfig describes one dashboard view: where its playlist definitions live and how to read them.
type GroupConfig struct {
	Name          string            `toml:"name"`
	CSV           string            `toml:"csv"`
	DisplayColumn string            `toml:"display_column"`
	SourceColumn  string            `toml:"source_column"`
	Dividers      []string          `toml:"dividers"`
	Dedupe        bool              `toml:"dedupe"`
	Overrides     map[string]string `toml:"overrides"`
}

// Group looks up a group by name.
func (c *Config) Group(name string) (*GroupConfig, bool) {
	for i := range c.Groups {
		if c.Groups[i].Name == name {
			return &c.Groups[i], true
		}
	}
	return nil, false
}

// Validate checks the parts of the configuration the server can't run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}

	seen := make(map[string]bool, len(c.Groups))
	for i, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("%w: group #%d has no name", ErrInvalidConfig, i+1)
		}
		if seen[g.Name] {
			return fmt.Errorf("%w: duplicate group %q", ErrInvalidConfig, g.Name)
		}
		seen[g.Name] = true

		if g.CSV == "" {
			return fmt.Errorf("%w: group %q has no csv path", ErrInvalidConfig, g.Name)
		}
		if g.SourceColumn == "" {
			return fmt.Errorf("%w: group %q has no source_column", ErrInvalidConfig, g.Name)
		}
		for name, id := range g.Overrides {
			if id == "" {
				return fmt.Errorf("%w: group %q override for %q has an empty playlist id", ErrInvalidConfig, g.Name, name)
			}
		}
	}
	return nil
}

// ApplyEnv overlays credentials and server settings from environment variables.
//
// Unset variables leave the loaded values untouched.
func ApplyEnv(c *Config) error {
	for _, target := range []any{&c.Credentials.Spotify, &c.Server, &c.Database} {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file fall back to the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	groups := config.Groups
	config.Groups = nil

	md, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !md.IsDefined("groups") {
		config.Groups = groups
	}

	return config, nil
}

// SaveConfig writes the configuration back to disk as TOML.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
