package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shotonme/shotonme/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "shotonme.json"

	// YAMLConfigFileName is the alternative YAML configuration file.
	YAMLConfigFileName = "shotonme.yaml"

	// DefaultAPIURL is the default REST API base URL.
	DefaultAPIURL = "http://localhost:8080/api"

	// DefaultPushURL is the default push channel URL.
	DefaultPushURL = "ws://localhost:8080/ws"

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = "15s"

	// DefaultReconnectDelay is the default push reconnect delay.
	DefaultReconnectDelay = "3s"

	// DefaultBufferTTL is how long updates for unknown entities are kept.
	DefaultBufferTTL = "30s"

	// DefaultStubAddr is the default listen address of the stub backend.
	DefaultStubAddr = "localhost:8080"

	// DefaultPrefDir is the default preference database directory.
	DefaultPrefDir = ".shotonme/prefs"
)

// Environment variables that override file settings.
const (
	EnvAPIURL  = "SHOTONME_API_URL"
	EnvPushURL = "SHOTONME_PUSH_URL"
	EnvToken   = "SHOTONME_TOKEN"
	EnvViewer  = "SHOTONME_VIEWER"
	EnvTimeout = "SHOTONME_TIMEOUT"
	EnvPrefDir = "SHOTONME_PREF_DIR"
)

// Config is the client configuration.
type Config struct {
	// API contains REST client settings.
	API APIConfig `json:"api,omitempty" yaml:"api,omitempty"`

	// Push contains push channel settings.
	Push PushConfig `json:"push,omitempty" yaml:"push,omitempty"`

	// Sync contains reconciliation settings.
	Sync SyncConfig `json:"sync,omitempty" yaml:"sync,omitempty"`

	// Auth contains the bearer token and viewer identity.
	Auth AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`

	// Prefs contains local preference storage settings.
	Prefs PrefsConfig `json:"prefs,omitempty" yaml:"prefs,omitempty"`

	// Stub contains settings for the local stub backend.
	Stub StubConfig `json:"stub,omitempty" yaml:"stub,omitempty"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// APIConfig contains REST client settings.
type APIConfig struct {
	// URL is the REST API base URL.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Timeout bounds every request (e.g., "15s").
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// BreakerFailures is the number of consecutive outages that open the
	// circuit breaker. Zero disables the breaker.
	BreakerFailures int `json:"breakerFailures,omitempty" yaml:"breakerFailures,omitempty"`
}

// PushConfig contains push channel settings.
type PushConfig struct {
	// URL is the websocket URL.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// ReconnectDelay is the pause between reconnect attempts.
	ReconnectDelay string `json:"reconnectDelay,omitempty" yaml:"reconnectDelay,omitempty"`
}

// SyncConfig contains reconciliation settings.
type SyncConfig struct {
	// BufferTTL is how long an update for a not yet created entity is kept.
	// "0s" disables buffering.
	BufferTTL string `json:"bufferTTL,omitempty" yaml:"bufferTTL,omitempty"`

	// MaxBuffered caps buffered updates per entity.
	MaxBuffered int `json:"maxBuffered,omitempty" yaml:"maxBuffered,omitempty"`
}

// AuthConfig contains credentials.
type AuthConfig struct {
	// Token is the bearer token. Prefer the SHOTONME_TOKEN variable.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// Viewer is the signed-in user's id.
	Viewer string `json:"viewer,omitempty" yaml:"viewer,omitempty"`
}

// PrefsConfig contains preference storage settings.
type PrefsConfig struct {
	// Dir is the Pebble database directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// StubConfig contains stub backend settings.
type StubConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// StartingBalanceCents seeds every wallet.
	StartingBalanceCents int64 `json:"startingBalanceCents,omitempty" yaml:"startingBalanceCents,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Namespace is the metrics namespace.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// Addr serves /metrics when set.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified directory.
// It looks for shotonme.json, then shotonme.yaml.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		yamlPath := filepath.Join(dir, YAMLConfigFileName)
		if _, yerr := os.Stat(yamlPath); yerr == nil {
			path = yamlPath
		}
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path. Files ending in
// .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("S141").
				WithDetail("No shotonme.json found in " + filepath.Dir(path)).
				WithSuggestion("Create shotonme.json or set SHOTONME_API_URL")
		}
		return nil, errors.New("S120").Wrap(err)
	}

	cfg := &Config{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("S120").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check that the file is valid " + formatName(path))
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Resolve builds the effective configuration for dir: the config file when
// one exists, otherwise defaults, then .env and environment overrides.
func Resolve(dir string) (*Config, error) {
	cfg, err := Load(dir)
	if errors.HasCode(err, "S141") {
		cfg, err = New(), nil
	}
	if err != nil {
		return nil, err
	}

	// A missing .env is not an error.
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path as JSON. The auth
// token is never written.
func (c *Config) SaveTo(path string) error {
	out := *c
	out.Auth.Token = ""
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return errors.New("S120").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.New("S120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	// API
	if c.API.URL == "" {
		c.API.URL = DefaultAPIURL
	}
	if c.API.Timeout == "" {
		c.API.Timeout = DefaultTimeout
	}

	// Push
	if c.Push.URL == "" {
		c.Push.URL = DefaultPushURL
	}
	if c.Push.ReconnectDelay == "" {
		c.Push.ReconnectDelay = DefaultReconnectDelay
	}

	// Sync
	if c.Sync.BufferTTL == "" {
		c.Sync.BufferTTL = DefaultBufferTTL
	}
	if c.Sync.MaxBuffered == 0 {
		c.Sync.MaxBuffered = 16
	}

	// Prefs
	if c.Prefs.Dir == "" {
		c.Prefs.Dir = DefaultPrefDir
	}

	// Stub
	if c.Stub.Addr == "" {
		c.Stub.Addr = DefaultStubAddr
	}

	// Metrics
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "shotonme"
	}
}

// overrideFromEnv applies SHOTONME_* environment variables.
func (c *Config) overrideFromEnv() error {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.URL = v
	}
	if v := os.Getenv(EnvPushURL); v != "" {
		c.Push.URL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv(EnvViewer); v != "" {
		c.Auth.Viewer = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		// Bare numbers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			v = strconv.Itoa(n) + "s"
		}
		c.API.Timeout = v
	}
	if v := os.Getenv(EnvPrefDir); v != "" {
		c.Prefs.Dir = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.API.URL == "" {
		return errors.New("S121")
	}
	if u, err := url.Parse(c.API.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("S121").
			WithDetail("api.url must be an absolute URL, got " + strconv.Quote(c.API.URL))
	}
	if u, err := url.Parse(c.Push.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return errors.New("S120").
			WithDetail("push.url must use ws:// or wss://")
	}

	for name, raw := range map[string]string{
		"api.timeout":         c.API.Timeout,
		"push.reconnectDelay": c.Push.ReconnectDelay,
		"sync.bufferTTL":      c.Sync.BufferTTL,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return errors.New("S122").
				WithDetail(name + " must be a non-negative duration like \"15s\"")
		}
	}
	if t, _ := time.ParseDuration(c.API.Timeout); t == 0 {
		return errors.New("S122").WithDetail("api.timeout must be greater than zero")
	}
	if c.Sync.MaxBuffered < 0 {
		return errors.New("S123").WithDetail("sync.maxBuffered cannot be negative")
	}
	if c.API.BreakerFailures < 0 {
		return errors.New("S120").WithDetail("api.breakerFailures cannot be negative")
	}
	return nil
}

// Timeout returns the parsed request timeout.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.API.Timeout, DefaultTimeout)
}

// ReconnectDelay returns the parsed push reconnect delay.
func (c *Config) ReconnectDelay() time.Duration {
	return parseDuration(c.Push.ReconnectDelay, DefaultReconnectDelay)
}

// BufferTTL returns the parsed early update TTL.
func (c *Config) BufferTTL() time.Duration {
	return parseDuration(c.Sync.BufferTTL, DefaultBufferTTL)
}

// PrefPath returns the absolute preference database directory.
func (c *Config) PrefPath() string {
	if filepath.IsAbs(c.Prefs.Dir) {
		return c.Prefs.Dir
	}
	return filepath.Join(c.Dir(), c.Prefs.Dir)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func parseDuration(raw, fallback string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func formatName(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "YAML"
	default:
		return "JSON"
	}
}
