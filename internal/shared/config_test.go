package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./nowplaying.db" {
			t.Errorf("expected database path ./nowplaying.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 8888 {
			t.Errorf("expected server port 8888, got %d", config.Server.Port)
		}
		if config.Credentials.Spotify.ClientID != "your_spotify_client_id" {
			t.Errorf("expected spotify client_id your_spotify_client_id, got %s", config.Credentials.Spotify.ClientID)
		}
		if len(config.Groups) != 3 {
			t.Fatalf("expected 3 default groups, got %d", len(config.Groups))
		}
		if config.Remote.Timeout() != 10*time.Second {
			t.Errorf("expected 10s timeout, got %v", config.Remote.Timeout())
		}
		if config.Population.Pacing() != 2*time.Second {
			t.Errorf("expected 2s pacing, got %v", config.Population.Pacing())
		}
		if config.Population.InitialDelay() != 3*time.Second {
			t.Errorf("expected 3s initial delay, got %v", config.Population.InitialDelay())
		}

		tracker, ok := config.Group("tracker")
		if !ok {
			t.Fatal("expected tracker group")
		}
		if len(tracker.Dividers) != 1 || tracker.Dividers[0] != "DIVIDER" {
			t.Errorf("expected DIVIDER marker, got %v", tracker.Dividers)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}
		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[server]
host = "0.0.0.0"
port = 9090

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"

[population]
pacing_ms = 250

[[groups]]
name = "only"
csv = "only.csv"
display_column = "Dashboard Name"
source_column = "Spotify Playlist Name"

[groups.overrides]
"Dup Name" = "abc123"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Server.Addr() != "0.0.0.0:9090" {
			t.Errorf("expected addr 0.0.0.0:9090, got %s", config.Server.Addr())
		}
		if config.Population.Pacing() != 250*time.Millisecond {
			t.Errorf("expected 250ms pacing, got %v", config.Population.Pacing())
		}
		if config.Population.InitialDelay() != 3*time.Second {
			t.Errorf("expected default initial delay to survive, got %v", config.Population.InitialDelay())
		}
		if len(config.Groups) != 1 {
			t.Fatalf("expected file groups to replace defaults, got %d", len(config.Groups))
		}
		if config.Groups[0].Overrides["Dup Name"] != "abc123" {
			t.Errorf("expected override to be parsed, got %v", config.Groups[0].Overrides)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("SaveConfig Round Trip", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "saved.toml")
		config := DefaultConfig()
		config.Server.Port = 7777

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}
		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}
		if loaded.Server.Port != 7777 {
			t.Errorf("expected port 7777, got %d", loaded.Server.Port)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tt := []struct {
			name   string
			mutate func(c *Config)
		}{
			{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }},
			{name: "unnamed group", mutate: func(c *Config) { c.Groups[0].Name = "" }},
			{name: "duplicate group", mutate: func(c *Config) { c.Groups[1].Name = c.Groups[0].Name }},
			{name: "missing csv", mutate: func(c *Config) { c.Groups[0].CSV = "" }},
			{name: "missing source column", mutate: func(c *Config) { c.Groups[0].SourceColumn = "" }},
			{name: "empty override id", mutate: func(c *Config) { c.Groups[0].Overrides = map[string]string{"x": ""} }},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				config := DefaultConfig()
				tc.mutate(config)
				if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv("SPOTIFY_CLIENT_ID", "env_client")
		t.Setenv("NOWPLAYING_PORT", "9999")

		config := DefaultConfig()
		if err := ApplyEnv(config); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if config.Credentials.Spotify.ClientID != "env_client" {
			t.Errorf("expected env client id, got %s", config.Credentials.Spotify.ClientID)
		}
		if config.Server.Port != 9999 {
			t.Errorf("expected env port, got %d", config.Server.Port)
		}
		if config.Credentials.Spotify.ClientSecret != "your_spotify_client_secret" {
			t.Errorf("unset variables should not clear values, got %q", config.Credentials.Spotify.ClientSecret)
		}
	})

	t.Run("ApplyEnv Invalid Port", func(t *testing.T) {
		t.Setenv("NOWPLAYING_PORT", "not-a-number")
		if err := ApplyEnv(DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
