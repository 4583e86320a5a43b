// Package core holds project-wide configuration for the streamchat relay and
// its clients.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the project configuration file.
const ConfigFile = ".streamchat.yaml"

// Defaults applied to any setting left empty.
const (
	DefaultAddr          = ":3000"
	DefaultBootstrapPath = "/api/socket"
	DefaultSocketPath    = "/socket"
	DefaultAPIKeyEnv     = "OPENAI_API_KEY"
	DefaultModel         = "gpt-3.5-turbo"
	DefaultLogLevel      = "info"
	DefaultClientURL     = "http://localhost:3000"
)

// Config holds configuration loaded from .streamchat.yaml.
type Config struct {
	Server     ServerSettings     `yaml:"server"`
	Completion CompletionSettings `yaml:"completion"`
	Log        LogSettings        `yaml:"log"`
	Client     ClientSettings     `yaml:"client"`
}

// ServerSettings controls the relay host.
type ServerSettings struct {
	Addr          string `yaml:"addr"`           // HTTP listen address (default: :3000)
	BootstrapPath string `yaml:"bootstrap_path"` // channel bootstrap endpoint (default: /api/socket)
	SocketPath    string `yaml:"socket_path"`    // WebSocket endpoint (default: /socket)
	HealthAddr    string `yaml:"health_addr"`    // gRPC health listen address; empty disables it

	SendQueue      int      `yaml:"send_queue"`      // per-connection outbound frames before a slow client is dropped (default: 256)
	AllowedOrigins []string `yaml:"allowed_origins"` // browser origins allowed to open the socket; empty allows any
}

// CompletionSettings controls the upstream completion service.
type CompletionSettings struct {
	APIKeyEnv string `yaml:"api_key_env"` // env var name to read API key from (default: OPENAI_API_KEY)
	Model     string `yaml:"model"`       // model name (default: gpt-3.5-turbo)
	BaseURL   string `yaml:"base_url"`    // custom OpenAI-compatible API base URL
	Timeout   string `yaml:"timeout"`     // per-request timeout (e.g., "2m", "30s")
}

// LogSettings controls structured logging.
type LogSettings struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console output instead of JSON
}

// ClientSettings controls the chat client.
type ClientSettings struct {
	URL  string `yaml:"url"`  // relay base URL (default: http://localhost:3000)
	Seed string `yaml:"seed"` // path to a seed conversation file
}

// ConfigPath returns the configuration file path under root.
func ConfigPath(root string) string {
	return filepath.Join(root, ConfigFile)
}

// LoadConfig reads .streamchat.yaml from root and returns the parsed config
// with defaults applied. If the file does not exist, the defaults are
// returned with no error.
func LoadConfig(root string) (*Config, error) {
	path := ConfigPath(root)

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if _, err := cfg.Completion.RequestTimeout(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every empty setting with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.BootstrapPath == "" {
		c.Server.BootstrapPath = DefaultBootstrapPath
	}
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = DefaultSocketPath
	}
	if c.Completion.APIKeyEnv == "" {
		c.Completion.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Completion.Model == "" {
		c.Completion.Model = DefaultModel
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Client.URL == "" {
		c.Client.URL = DefaultClientURL
	}
}

// APIKey returns the completion API key from the configured environment
// variable. The key never lives in the config file itself.
func (c CompletionSettings) APIKey() string {
	name := c.APIKeyEnv
	if name == "" {
		name = DefaultAPIKeyEnv
	}
	return os.Getenv(name)
}

// RequestTimeout parses Timeout. An empty value means no timeout.
func (c CompletionSettings) RequestTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("completion.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("completion.timeout: negative duration %s", d)
	}
	return d, nil
}
