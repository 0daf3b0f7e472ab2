// Package config loads the stocktake configuration file and applies
// environment overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/authz"
	"github.com/felixgeelhaar/stocktake/internal/errors"
)

// Environment variables that override file values.
const (
	EnvHome     = "STOCKTAKE_HOME"
	EnvAPIURL   = "STOCKTAKE_API_URL"
	EnvLogLevel = "STOCKTAKE_LOG_LEVEL"
	EnvRedisURL = "STOCKTAKE_REDIS_URL"
)

// Identity provider kinds.
const (
	IdentityLocal  = "local"
	IdentityOAuth2 = "oauth2"
)

// Remote session store kinds.
const (
	RemoteHTTP  = "http"
	RemoteRedis = "redis"
	RemoteNone  = "none"
)

// Config is the on-disk configuration.
type Config struct {
	APIURL        string              `yaml:"api_url"`
	TokenTTL      Duration            `yaml:"token_ttl"`
	Identity      IdentityConfig      `yaml:"identity"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage,omitempty"`
	RemoteSession RemoteSessionConfig `yaml:"remote_session"`
	Log           LogConfig           `yaml:"log,omitempty"`
	Telemetry     TelemetryConfig     `yaml:"telemetry,omitempty"`
	Metrics       MetricsConfig       `yaml:"metrics,omitempty"`
}

type IdentityConfig struct {
	Kind   string       `yaml:"kind"`
	OAuth2 OAuth2Config `yaml:"oauth2,omitempty"`
	Local  LocalConfig  `yaml:"local,omitempty"`
}

type OAuth2Config struct {
	ClientID     string   `yaml:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

type LocalConfig struct {
	Issuer        string           `yaml:"issuer,omitempty"`
	SigningKey    string           `yaml:"signing_key,omitempty"`
	TokenLifetime Duration         `yaml:"token_lifetime,omitempty"`
	Users         []auth.LocalUser `yaml:"users,omitempty"`
}

// SessionConfig holds watcher settings. Timeouts are keyed by role name;
// any synonym authz.Parse understands is accepted.
type SessionConfig struct {
	PollInterval Duration                   `yaml:"poll_interval"`
	Timeouts     map[string]TimeoutOverride `yaml:"timeouts,omitempty"`
}

type TimeoutOverride struct {
	Idle     Duration `yaml:"idle,omitempty"`
	Absolute Duration `yaml:"absolute,omitempty"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

type RemoteSessionConfig struct {
	Kind      string `yaml:"kind"`
	RedisURL  string `yaml:"redis_url,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled,omitempty"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	Insecure   bool    `yaml:"insecure,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Address string `yaml:"address,omitempty"`
}

// Default returns a configuration for a local mock API with the local
// identity provider. It has no users and no signing key; Init adds them.
func Default() *Config {
	return &Config{
		APIURL:   "http://127.0.0.1:8787",
		TokenTTL: Duration(auth.DefaultTokenTTL),
		Identity: IdentityConfig{
			Kind:  IdentityLocal,
			Local: LocalConfig{Issuer: "stocktake", TokenLifetime: Duration(time.Hour)},
		},
		Session: SessionConfig{
			PollInterval: Duration(time.Minute),
		},
		RemoteSession: RemoteSessionConfig{Kind: RemoteHTTP, KeyPrefix: "stocktake"},
		Log:           LogConfig{Level: "warn", Format: "text"},
		Telemetry:     TelemetryConfig{SampleRate: 1.0},
		Metrics:       MetricsConfig{Address: "127.0.0.1:9464"},
	}
}

// Home returns the stocktake state directory: $STOCKTAKE_HOME, or
// ~/.stocktake.
func Home() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".stocktake"), nil
}

// Path returns the configuration file path.
func Path() (string, error) {
	dir, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads path, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewConfigNotFoundError(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides file values from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.RemoteSession.RedisURL = v
		if c.RemoteSession.Kind == "" || c.RemoteSession.Kind == RemoteNone {
			c.RemoteSession.Kind = RemoteRedis
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.APIURL == "" {
		add("api_url is required")
	}
	if c.TokenTTL <= 0 {
		add("token_ttl must be positive")
	}
	if c.Session.PollInterval <= 0 {
		add("session.poll_interval must be positive")
	}
	names := make([]string, 0, len(c.Session.Timeouts))
	for name := range c.Session.Timeouts {
		names = append(names, name)
	}
	sort.Strings(names)
	// Synonyms resolve to one role; two of them would override it in
	// map order.
	seen := make(map[authz.Role]string, len(names))
	for _, name := range names {
		o := c.Session.Timeouts[name]
		role := authz.Parse(name)
		switch first, dup := seen[role]; {
		case role == authz.RoleOther:
			add("session.timeouts: unknown role %q", name)
		case dup:
			add("session.timeouts: %q and %q both configure role %s", first, name, role)
		default:
			seen[role] = name
		}
		if o.Idle < 0 || o.Absolute < 0 {
			add("session.timeouts.%s: durations must not be negative", name)
		}
	}

	switch c.Identity.Kind {
	case IdentityLocal:
		if len(c.Identity.Local.SigningKey) < 32 {
			add("identity.local.signing_key must be at least 32 characters")
		}
		if c.Identity.Local.TokenLifetime < 0 {
			add("identity.local.token_lifetime must not be negative")
		}
	case IdentityOAuth2:
		if c.Identity.OAuth2.TokenURL == "" {
			add("identity.oauth2.token_url is required")
		}
		if c.Identity.OAuth2.ClientID == "" {
			add("identity.oauth2.client_id is required")
		}
	default:
		add("identity.kind must be %q or %q, got %q", IdentityLocal, IdentityOAuth2, c.Identity.Kind)
	}

	switch c.RemoteSession.Kind {
	case RemoteHTTP, RemoteNone:
	case RemoteRedis:
		if c.RemoteSession.RedisURL == "" {
			add("remote_session.redis_url is required for kind redis")
		}
	default:
		add("remote_session.kind must be http, redis or none, got %q", c.RemoteSession.Kind)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be between 0 and 1")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.NewConfigInvalidError(strings.Join(problems, "; "))
}

// TimeoutTable returns the default role timeouts with the configured
// overrides applied.
func (c *Config) TimeoutTable() authz.TimeoutTable {
	overrides := make(authz.TimeoutTable, len(c.Session.Timeouts))
	for name, o := range c.Session.Timeouts {
		overrides[authz.Parse(name)] = authz.TimeoutPolicy{Idle: o.Idle.D(), Absolute: o.Absolute.D()}
	}
	return authz.DefaultTimeouts.Merge(overrides)
}

// SQLitePath returns the configured database path, defaulting to
// state.db in the state directory.
func (c *Config) SQLitePath() (string, error) {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath, nil
	}
	dir, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// DemoPassword is the password of the users written by Init.
const DemoPassword = "stocktake"

// Init returns Default with a fresh signing key and three demo users,
// one per recognized role.
func Init() (*Config, error) {
	cfg := Default()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	cfg.Identity.Local.SigningKey = hex.EncodeToString(key)

	hash, err := auth.HashPassword(DemoPassword, 0)
	if err != nil {
		return nil, err
	}
	cfg.Identity.Local.Users = []auth.LocalUser{
		{Username: "root", PasswordHash: hash, Email: "root@stocktake.local", Role: "superuser"},
		{Username: "ana", PasswordHash: hash, Email: "ana@acme.example", Role: "admin", TenantID: "ACME"},
		{Username: "gus", PasswordHash: hash, Email: "gus@globex.example", Role: "guest", TenantID: "GLOBEX"},
	}
	return cfg, nil
}
