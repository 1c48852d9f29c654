// Package config loads gateway configuration from defaults, an optional YAML
// file and GAMEGATE_-prefixed environment variables, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "GAMEGATE_CONFIG"

// DefaultPaths are searched in order; the first existing file wins.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gamegate/config.yaml",
}

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Database   DatabaseConfig   `koanf:"database"`
	Auth       AuthConfig       `koanf:"auth"`
	ContentAPI ContentAPIConfig `koanf:"content_api"`
	IdP        IdPConfig        `koanf:"idp"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	// CORSOrigins lists allowed browser origins. Empty permits localhost only.
	CORSOrigins []string `koanf:"cors_origins"`
}

type LogConfig struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type AuthConfig struct {
	// Secret signs access tokens. Required.
	Secret string `koanf:"secret"`
	// StepUpSecret signs step-up tokens; falls back to Secret when empty so a
	// single-secret deployment still works.
	StepUpSecret string        `koanf:"step_up_secret"`
	Issuer       string        `koanf:"issuer"`
	AccessTTL    time.Duration `koanf:"access_ttl"`
	RefreshTTL   time.Duration `koanf:"refresh_ttl"`
	StepUpTTL    time.Duration `koanf:"step_up_ttl"`
	// RotateOnRefresh makes the refresh endpoint single-use: the redeemed
	// record is revoked before a new one is issued. Off by default to keep
	// multi-device sessions working.
	RotateOnRefresh bool `koanf:"rotate_on_refresh"`
	// InsecureSkipOTP accepts any OTP code during step-up verification.
	// Dev-only escape hatch for environments without an identity provider.
	InsecureSkipOTP bool `koanf:"insecure_skip_otp"`
}

type ContentAPIConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	// OwnershipChecks is "enforce" or "disabled". Disabled means ownership
	// verification passes for everyone (documented fail-open); enforce means
	// a delegate must be reachable and transport errors deny access.
	OwnershipChecks string `koanf:"ownership_checks"`
}

type IdPConfig struct {
	BaseURL      string        `koanf:"base_url"`
	Realm        string        `koanf:"realm"`
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	Timeout      time.Duration `koanf:"timeout"`
}

type RateLimitConfig struct {
	PerSecond int `koanf:"per_second"`
	Burst     int `koanf:"burst"`
}

const (
	OwnershipEnforce  = "enforce"
	OwnershipDisabled = "disabled"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Log: LogConfig{
			Level:   "info",
			Console: false,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:     "gamegate",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			StepUpTTL:  10 * time.Minute,
		},
		ContentAPI: ContentAPIConfig{
			Timeout:         30 * time.Second,
			OwnershipChecks: OwnershipDisabled,
		},
		IdP: IdPConfig{
			Realm:   "gamegate",
			Timeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerSecond: 50,
			Burst:     100,
		},
	}
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// GAMEGATE_AUTH_SECRET -> auth.secret, GAMEGATE_CONTENT_API__BASE_URL ->
	// content_api.base_url (double underscore separates nesting levels when
	// key names themselves contain underscores).
	err := k.Load(env.Provider("GAMEGATE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "GAMEGATE_"))
		if strings.Contains(s, "__") {
			return strings.ReplaceAll(s, "__", ".")
		}
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("config: auth.secret is required")
	}
	switch c.ContentAPI.OwnershipChecks {
	case OwnershipEnforce, OwnershipDisabled:
	default:
		return fmt.Errorf("config: content_api.ownership_checks must be %q or %q", OwnershipEnforce, OwnershipDisabled)
	}
	if c.ContentAPI.OwnershipChecks == OwnershipEnforce && strings.TrimSpace(c.ContentAPI.BaseURL) == "" {
		return errors.New("config: content_api.base_url is required when ownership checks are enforced")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.StepUpTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	return nil
}

func findConfigFile() string {
	if path := strings.TrimSpace(os.Getenv(PathEnvVar)); path != "" {
		return path
	}
	for _, path := range DefaultPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
