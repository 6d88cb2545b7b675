package internal

import (
	"fmt"
	"log/slog"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	pkgconfig "github.com/starford/ansuz/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	Server ServerConfig      `yaml:"server"`
	Sync   SyncConfig        `yaml:"sync"`
	Query  QueryConfig       `yaml:"query"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Query.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the notes vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ServerConfig holds the remote semantic-index service endpoint.
type ServerConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.TimeoutSeconds, validation.Min(0)),
	)
}

// SyncConfig controls the understanding-note sync pipeline.
type SyncConfig struct {
	Auto       bool   `yaml:"auto"`
	DebounceMS int    `yaml:"debounce_ms"`
	LedgerPath string `yaml:"ledger_path"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceMS, validation.Min(0)),
		validation.Field(&c.LedgerPath, validation.Required),
	)
}

// QueryConfig holds the retrieval tunables and query behavior toggles.
type QueryConfig struct {
	TopK                 int     `yaml:"top_k"`
	MinSimilarity        float64 `yaml:"min_similarity"`
	Auto                 bool    `yaml:"auto"`
	ShowSimilarityScores bool    `yaml:"show_similarity_scores"`
}

// Validate validates the query configuration.
func (c *QueryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TopK, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&c.MinSimilarity, validation.Min(0.0), validation.Max(1.0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8480,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Server: ServerConfig{
			URL:            "http://127.0.0.1:8742",
			TimeoutSeconds: 60,
		},
		Sync: SyncConfig{
			Auto:       true,
			DebounceMS: 500,
			LedgerPath: "./ansuz.db",
		},
		Query: QueryConfig{
			TopK:                 5,
			MinSimilarity:        0.7,
			Auto:                 false,
			ShowSimilarityScores: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

// SettingsStore guards the runtime-mutable settings (query tunables, sync
// and query toggles) and persists changes back to the config file.
type SettingsStore struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewSettingsStore wraps cfg. path may be empty, in which case updates are
// applied in memory only.
func NewSettingsStore(cfg *Config, path string) *SettingsStore {
	return &SettingsStore{cfg: cfg, path: path}
}

// QueryConfig returns the current query tunables.
func (s *SettingsStore) QueryConfig() QueryConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Query
}

// ServerConfig returns the current remote endpoint configuration.
func (s *SettingsStore) ServerConfig() ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Server
}

// SyncConfig returns the current sync configuration.
func (s *SettingsStore) SyncConfig() SyncConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Sync
}

// Update applies fn to the config, validates the result, and writes it back
// to the config file. On validation failure the previous config is kept.
func (s *SettingsStore) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	*s.cfg = next

	if s.path == "" {
		return nil
	}
	return pkgconfig.Save(s.path, s.cfg)
}
