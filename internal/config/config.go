package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Catalog CatalogConfig `toml:"catalog"`
	Uploads UploadsConfig `toml:"uploads"`
	Auth    AuthConfig    `toml:"auth"`
	Audit   AuditConfig   `toml:"audit"`
	Watcher WatcherConfig `toml:"watcher"`
	Logging LoggingConfig `toml:"logging"`
	Ngrok   NgrokConfig   `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string `toml:"port"`
	Host         string `toml:"host"`
	SiteRoot     string `toml:"site_root"`
	EnableCORS   bool   `toml:"enable_cors"`
	ReadTimeout  int    `toml:"read_timeout_seconds"`
	WriteTimeout int    `toml:"write_timeout_seconds"`
}

// CatalogConfig locates the catalog document and the content directories.
// Every path is relative to the site root and uses forward slashes, since
// the same strings are stored in track records and served to browsers.
type CatalogConfig struct {
	DocumentPath string `toml:"document_path"`
	MusicDir     string `toml:"music_dir"`
	CoversDir    string `toml:"covers_dir"`
	DefaultCover string `toml:"default_cover"`
}

// UploadsConfig contains upload limits
type UploadsConfig struct {
	MaxAudioBytes      int64 `toml:"max_audio_bytes"`
	MaxCoverBytes      int64 `toml:"max_cover_bytes"`
	PreferEmbeddedTags bool  `toml:"prefer_embedded_tags"`
}

// AuthConfig contains admin session configuration. The credentials
// themselves never live in the TOML file; they come from the environment.
type AuthConfig struct {
	SessionDuration string `toml:"session_duration"`
	SecureCookies   bool   `toml:"secure_cookies"`
	BindClient      bool   `toml:"bind_client"`
	LoginPerMinute  int    `toml:"login_attempts_per_minute"`
	LoginBurst      int    `toml:"login_burst"`

	Username     string `toml:"-"`
	PasswordHash string `toml:"-"`
}

// AuditConfig contains mutation journal configuration
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// WatcherConfig contains content directory watcher configuration
type WatcherConfig struct {
	Enabled         bool `toml:"enabled"`
	AutoPrune       bool `toml:"auto_prune"`
	DebounceSeconds int  `toml:"debounce_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"`
}

// Environment variables read on load.
const (
	EnvAdminUsername     = "ADMIN_USERNAME"
	EnvAdminPasswordHash = "ADMIN_PASSWORD_HASH"
	EnvNgrokAuthToken    = "NGROK_AUTHTOKEN"
)

// DefaultAdminUsername is used when ADMIN_USERNAME is unset.
const DefaultAdminUsername = "admin"

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			SiteRoot:     "./public",
			EnableCORS:   false,
			ReadTimeout:  60,
			WriteTimeout: 60,
		},
		Catalog: CatalogConfig{
			DocumentPath: "assets/music/tracks.json",
			MusicDir:     "assets/uploads/music",
			CoversDir:    "assets/uploads/covers",
			DefaultCover: "assets/images/default-cover.png",
		},
		Uploads: UploadsConfig{
			MaxAudioBytes:      10 * 1024 * 1024,
			MaxCoverBytes:      2 * 1024 * 1024,
			PreferEmbeddedTags: false,
		},
		Auth: AuthConfig{
			SessionDuration: "2h",
			SecureCookies:   false,
			BindClient:      true,
			LoginPerMinute:  10,
			LoginBurst:      5,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "./melodycloud.db",
		},
		Watcher: WatcherConfig{
			Enabled:         true,
			AutoPrune:       false,
			DebounceSeconds: 2,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Ngrok: NgrokConfig{
			Enabled:      false,
			AuthToken:    "",
			Domain:       "",
			EnableAuth:   false,
			AuthProvider: "google",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies secrets
// from the environment (and a .env file in the working directory, if any).
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.LoadEnv(".env"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnv reads the optional dotenv file and copies the admin credentials
// and the ngrok token into the configuration. Variables already present in
// the process environment win over the file.
func (c *Config) LoadEnv(dotenvPath string) error {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return fmt.Errorf("failed to load %s: %w", dotenvPath, err)
			}
		}
	}

	c.Auth.Username = os.Getenv(EnvAdminUsername)
	if c.Auth.Username == "" {
		c.Auth.Username = DefaultAdminUsername
	}
	c.Auth.PasswordHash = os.Getenv(EnvAdminPasswordHash)

	if c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = os.Getenv(EnvNgrokAuthToken)
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# MelodyCloud Configuration
# Admin credentials are read from the environment (or .env):
#   ADMIN_USERNAME, ADMIN_PASSWORD_HASH (generate with: melodycloud hash-password)
# Catalog paths are relative to server.site_root.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.SiteRoot == "" {
		return fmt.Errorf("server site root cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	rel := map[string]string{
		"catalog document path": c.Catalog.DocumentPath,
		"catalog music dir":     c.Catalog.MusicDir,
		"catalog covers dir":    c.Catalog.CoversDir,
		"catalog default cover": c.Catalog.DefaultCover,
	}
	for name, p := range rel {
		if err := validateRelative(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Catalog.MusicDir == c.Catalog.CoversDir {
		return fmt.Errorf("music and covers directories must differ")
	}

	if c.Uploads.MaxAudioBytes <= 0 || c.Uploads.MaxCoverBytes <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}

	if _, err := time.ParseDuration(c.Auth.SessionDuration); err != nil {
		return fmt.Errorf("invalid session duration: %w", err)
	}
	if c.Auth.LoginPerMinute < 1 || c.Auth.LoginBurst < 1 {
		return fmt.Errorf("login rate and burst must be at least 1")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit path cannot be empty when audit is enabled")
	}
	if c.Watcher.DebounceSeconds < 0 {
		return fmt.Errorf("watcher debounce must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// validateRelative accepts clean, site-relative, forward-slash paths only.
func validateRelative(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("path %q must use forward slashes", p)
	}
	if path.IsAbs(p) {
		return fmt.Errorf("path %q must be relative to the site root", p)
	}
	clean := path.Clean(p)
	if clean != p || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q must be a clean path inside the site root", p)
	}
	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// SitePath converts a site-relative path to a filesystem path.
func (c *Config) SitePath(rel string) string {
	return filepath.Join(c.Server.SiteRoot, filepath.FromSlash(rel))
}

// SessionTTL returns the parsed session duration. Validate guarantees it parses.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.SessionDuration)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// MaxRequestBytes bounds the whole upload request body.
func (c *Config) MaxRequestBytes() int64 {
	return c.Uploads.MaxAudioBytes + c.Uploads.MaxCoverBytes + 1<<20
}
