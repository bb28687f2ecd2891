package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level iotdash configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Authz     AuthzConfig     `yaml:"authz"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     int64      `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	StaticDir       string     `yaml:"static_dir"`
	TrustProxy      bool       `yaml:"trust_proxy"` // honor X-Forwarded-For; only behind a reverse proxy
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// AuthConfig controls token signing and verification.
type AuthConfig struct {
	PrivateKeyPath   string `yaml:"private_key_path"`
	PublicKeyPath    string `yaml:"public_key_path"`
	Algorithm        string `yaml:"algorithm"`
	Expire           string `yaml:"expire"`
	SystemExpire     string `yaml:"system_expire"`
	DirectoryTimeout string `yaml:"directory_timeout"`
}

// DatabaseConfig selects the directory database.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// RedisConfig points at the counter store. An empty Addr selects the
// in-process store, which is only correct for a single replica.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig controls the per-requester limiter.
type RateLimitConfig struct {
	Window         string `yaml:"window"`
	DefaultLimit   int64  `yaml:"default_limit"`
	OverrideTTL    string `yaml:"override_ttl"`
	LoginPerMinute int    `yaml:"login_per_minute"`
}

// AuthzConfig optionally replaces the built-in route and role tables.
type AuthzConfig struct {
	NoAccountRole string              `yaml:"no_account_role"`
	Routes        []RouteYAML         `yaml:"routes,omitempty"`
	Roles         map[string][]string `yaml:"roles,omitempty"`
}

// RouteYAML is one route rule in the configuration file.
type RouteYAML struct {
	Path         string `yaml:"path"`
	Method       string `yaml:"method"`
	Scope        string `yaml:"scope"`
	Limit        int64  `yaml:"limit,omitempty"`
	AccountParam string `yaml:"account_param,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     1 << 20,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			PrivateKeyPath:   "keys/private.pem",
			PublicKeyPath:    "keys/public.pem",
			Algorithm:        "RS256",
			Expire:           "24h",
			SystemExpire:     "87600h",
			DirectoryTimeout: "2s",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
		},
		RateLimit: RateLimitConfig{
			Window:         "1h",
			DefaultLimit:   1000,
			OverrideTTL:    "10m",
			LoginPerMinute: 10,
		},
		Authz: AuthzConfig{
			NoAccountRole: "newuser",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Duration parses a duration setting, returning fallback when s is empty.
func Duration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
