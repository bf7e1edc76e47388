package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shotonme/shotonme/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.API.URL != DefaultAPIURL {
		t.Errorf("API.URL = %q, want %q", cfg.API.URL, DefaultAPIURL)
	}
	if cfg.Push.URL != DefaultPushURL {
		t.Errorf("Push.URL = %q, want %q", cfg.Push.URL, DefaultPushURL)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("Timeout() = %v, want 15s", cfg.Timeout())
	}
	if cfg.BufferTTL() != 30*time.Second {
		t.Errorf("BufferTTL() = %v, want 30s", cfg.BufferTTL())
	}
	if cfg.Sync.MaxBuffered != 16 {
		t.Errorf("Sync.MaxBuffered = %d, want 16", cfg.Sync.MaxBuffered)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	// Test loading non-existent config
	_, err := Load(tmpDir)
	if !errors.HasCode(err, "S141") {
		t.Errorf("Load(missing) = %v, want S141", err)
	}

	configJSON := `{
  "api": {"url": "https://api.example.com", "timeout": "5s"},
  "push": {"url": "wss://api.example.com/ws"},
  "auth": {"viewer": "u1"}
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.API.URL != "https://api.example.com" {
		t.Errorf("API.URL = %q", cfg.API.URL)
	}
	if cfg.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", cfg.Timeout())
	}
	if cfg.Auth.Viewer != "u1" {
		t.Errorf("Auth.Viewer = %q", cfg.Auth.Viewer)
	}
	// Unset fields get defaults.
	if cfg.Push.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("Push.ReconnectDelay = %q, want default", cfg.Push.ReconnectDelay)
	}
	if cfg.Dir() != tmpDir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), tmpDir)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configYAML := `api:
  url: https://yaml.example.com
sync:
  bufferTTL: 0s
  maxBuffered: 4
`
	if err := os.WriteFile(filepath.Join(tmpDir, YAMLConfigFileName), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.API.URL != "https://yaml.example.com" {
		t.Errorf("API.URL = %q", cfg.API.URL)
	}
	if cfg.BufferTTL() != 0 {
		t.Errorf("BufferTTL() = %v, want 0", cfg.BufferTTL())
	}
	if cfg.Sync.MaxBuffered != 4 {
		t.Errorf("Sync.MaxBuffered = %d, want 4", cfg.Sync.MaxBuffered)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(tmpDir)
	if !errors.HasCode(err, "S120") {
		t.Fatalf("Load() = %v, want S120", err)
	}
	if !strings.Contains(err.Error(), "shotonme.json") {
		t.Errorf("error %q should name the file", err)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	env := "SHOTONME_VIEWER=from-dotenv\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAPIURL, "https://env.example.com")
	t.Setenv(EnvToken, "secret")
	t.Setenv(EnvTimeout, "7")
	t.Setenv(EnvViewer, "")
	os.Unsetenv(EnvViewer)

	cfg, err := Resolve(tmpDir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.API.URL != "https://env.example.com" {
		t.Errorf("API.URL = %q", cfg.API.URL)
	}
	if cfg.Auth.Token != "secret" {
		t.Errorf("Auth.Token = %q", cfg.Auth.Token)
	}
	if cfg.Timeout() != 7*time.Second {
		t.Errorf("Timeout() = %v, want 7s", cfg.Timeout())
	}
	if cfg.Auth.Viewer != "from-dotenv" {
		t.Errorf("Auth.Viewer = %q, want value from .env", cfg.Auth.Viewer)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		code   string
	}{
		{"relative api url", func(c *Config) { c.API.URL = "/api" }, "S121"},
		{"http push url", func(c *Config) { c.Push.URL = "http://x/ws" }, "S120"},
		{"bad timeout", func(c *Config) { c.API.Timeout = "soon" }, "S122"},
		{"zero timeout", func(c *Config) { c.API.Timeout = "0s" }, "S122"},
		{"negative ttl", func(c *Config) { c.Sync.BufferTTL = "-1s" }, "S122"},
		{"negative buffer cap", func(c *Config) { c.Sync.MaxBuffered = -1 }, "S123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.HasCode(err, tt.code) {
				t.Errorf("Validate() = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestSaveOmitsToken(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)

	cfg := New()
	cfg.Auth.Token = "secret"
	cfg.Auth.Viewer = "u1"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	if cfg.Auth.Token != "secret" {
		t.Error("SaveTo should not clear the in-memory token")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("saved config contains the token")
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.Auth.Viewer != "u1" {
		t.Errorf("Auth.Viewer = %q", loaded.Auth.Viewer)
	}
}

func TestExistsAndPrefPath(t *testing.T) {
	tmpDir := t.TempDir()
	if Exists(tmpDir) {
		t.Error("Exists() on empty dir = true")
	}
	cfg := New()
	if err := cfg.SaveTo(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	if !Exists(tmpDir) {
		t.Error("Exists() after save = false")
	}
	if got, want := cfg.PrefPath(), filepath.Join(tmpDir, DefaultPrefDir); got != want {
		t.Errorf("PrefPath() = %q, want %q", got, want)
	}
}
