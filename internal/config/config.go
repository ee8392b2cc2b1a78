// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Layout on disk
	UsersDir string `envconfig:"USERS_DIR" default:"users"`
	SiteDir  string `envconfig:"SITE_DIR" default:"site"`

	// Credentials ("file" or "postgres")
	CredentialBackend string `envconfig:"CREDENTIAL_BACKEND" default:"file"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	PasswordHasher    string `envconfig:"PASSWORD_HASHER" default:"bcrypt"`
	BcryptCost        int    `envconfig:"BCRYPT_COST" default:"10"`

	// Sessions ("memory" or "redis")
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"memory"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionCookie  string        `envconfig:"SESSION_COOKIE" default:"fm_session"`
	CookieSecure   bool          `envconfig:"COOKIE_SECURE" default:"false"`

	// Delay before every POST
	ThrottleDelay time.Duration `envconfig:"THROTTLE_DELAY" default:"1s"`

	// Largest file the editor loads or saves, in bytes
	MaxContentSize int64 `envconfig:"MAX_CONTENT_SIZE" default:"10485760"`

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value combinations envconfig cannot express.
func (c *Config) Validate() error {
	c.CredentialBackend = strings.ToLower(c.CredentialBackend)
	c.SessionBackend = strings.ToLower(c.SessionBackend)
	c.PasswordHasher = strings.ToLower(c.PasswordHasher)

	switch c.CredentialBackend {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres credential backend")
		}
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.CredentialBackend)
	}

	switch c.SessionBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	switch c.PasswordHasher {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("unknown PASSWORD_HASHER %q", c.PasswordHasher)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ThrottleDelay < 0 {
		return fmt.Errorf("THROTTLE_DELAY must not be negative")
	}
	if c.MaxContentSize <= 0 {
		return fmt.Errorf("MAX_CONTENT_SIZE must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.UsersDir == "" || c.SiteDir == "" {
		return fmt.Errorf("USERS_DIR and SITE_DIR must not be empty")
	}
	return nil
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
