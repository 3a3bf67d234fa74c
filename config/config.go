// Package config defines the Cairn application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Cairn configuration.
type Config struct {
	Server    ServerConfig   `json:"server" yaml:"server"`
	Auth      AuthConfig     `json:"auth" yaml:"auth"`
	Database  DatabaseConfig `json:"database" yaml:"database"`
	MCP       MCPConfig      `json:"mcp" yaml:"mcp"`
	LogLevel  string         `json:"log_level" yaml:"log_level"`   // debug, info, warn, error
	LogFormat string         `json:"log_format" yaml:"log_format"` // text or json
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr              string        `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser     string        `json:"admin_user" yaml:"admin_user"`
	AdminPassHash string        `json:"admin_pass_hash" yaml:"admin_pass_hash"` // bcrypt hash
	TokenTTL      time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// MCPConfig controls the MCP endpoint served next to the REST API.
type MCPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":9090",
			ReadHeaderTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path: "./data/cairn.db",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CAIRN_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CAIRN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("CAIRN_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("CAIRN_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("CAIRN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		return fmt.Errorf("mcp.path %q must start with /", c.MCP.Path)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	return nil
}
