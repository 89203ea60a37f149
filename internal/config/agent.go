package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppDirName is the per-user application directory name.
const AppDirName = "WABDesk"

// Agent defaults.
const (
	DefaultHeartbeatInterval = 24 * time.Hour
	DefaultGraceWindow       = 72 * time.Hour
	DefaultInitialDelay      = 10 * time.Second
)

// DefaultConfigDir returns the per-OS application data directory
// (for example ~/.config/WABDesk or %AppData%\WABDesk).
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config directory: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// DefaultConfigPath returns the default agent config file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// AgentConfig holds the desktop agent's configuration.
type AgentConfig struct {
	ServerURL         string        `yaml:"server_url,omitempty"`
	DeviceLabel       string        `yaml:"device_label,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	GraceWindow       time.Duration `yaml:"grace_window,omitempty"`
	InitialDelay      time.Duration `yaml:"initial_delay,omitempty"`
	Proxy             ProxyConfig   `yaml:"proxy,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q is not an absolute URL", c.ServerURL)
	}
	if c.HeartbeatInterval < 0 || c.GraceWindow < 0 || c.InitialDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if c.GraceWindow > 0 && c.HeartbeatInterval > 0 && c.GraceWindow < c.HeartbeatInterval {
		return errors.New("grace_window must not be shorter than heartbeat_interval")
	}
	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return nil
}

// IsConfigured returns true if a server URL has been set.
func (c *AgentConfig) IsConfigured() bool {
	return c.ServerURL != ""
}

// ApplyDefaults fills unset durations with the built-in defaults.
func (c *AgentConfig) ApplyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.GraceWindow == 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
}

// Load reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*AgentConfig, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AgentConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *AgentConfig) SaveDefault() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}
