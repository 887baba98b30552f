package passbridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"mvdan.cc/sh/v3/shell"

	defaults "github.com/Paranoid-AF/passbridge/default"
)

// Config represents the daemon configuration.
type Config struct {
	Version  int            `toml:"version" json:"version"`
	Server   ServerConfig   `toml:"server" json:"server"`
	Autofill AutofillConfig `toml:"autofill" json:"autofill"`
	Tracking TrackingConfig `toml:"tracking" json:"tracking"`
}

// ServerConfig holds transport settings.
type ServerConfig struct {
	Socket string `toml:"socket" json:"socket,omitempty"`
}

// AutofillConfig gates autofill per site.
type AutofillConfig struct {
	Inject         bool     `toml:"inject" json:"inject"`
	Save           bool     `toml:"save" json:"save"`
	BlockedDomains []string `toml:"blocked_domains" json:"blocked_domains,omitempty"`
}

// TrackingConfig controls how long auto-saved login ids are remembered.
type TrackingConfig struct {
	TTLMinutes int `toml:"ttl_minutes" json:"ttl_minutes"`
}

// TTL returns the tracking id lifetime.
func (c TrackingConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// ConfigDir returns the config directory path.
// Resolution order: $PASSBRIDGE_CONFIG_DIR > $XDG_CONFIG_HOME/passbridge > ~/.config/passbridge
func ConfigDir() string {
	if dir := os.Getenv("PASSBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "passbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "passbridge-config")
	}
	return filepath.Join(home, ".config", "passbridge")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("passbridge: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from the default path, or returns defaults if the
// file does not exist.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, or returns defaults if it does not exist.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if !md.IsDefined("version") {
		cfg.Version = defaults.Version
	}
	if !md.IsDefined("autofill", "inject") {
		cfg.Autofill.Inject = defaults.Autofill.Inject
	}
	if !md.IsDefined("autofill", "save") {
		cfg.Autofill.Save = defaults.Autofill.Save
	}
	if cfg.Tracking.TTLMinutes == 0 {
		cfg.Tracking.TTLMinutes = defaults.Tracking.TTLMinutes
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if !cfg.Autofill.Inject && !cfg.Autofill.Save {
		warnings = append(warnings, "autofill.inject and autofill.save are both disabled; the daemon will never offer or save logins")
	}
	for _, d := range cfg.Autofill.BlockedDomains {
		if strings.ContainsAny(d, "/:") {
			warnings = append(warnings, fmt.Sprintf("blocked domain %q looks like a URL; use a bare host such as example.com", d))
		}
	}
	if cfg.Tracking.TTLMinutes < 0 {
		warnings = append(warnings, "tracking.ttl_minutes is negative; the default is used instead")
	}
	if cfg.Server.Socket != "" {
		if _, err := ExpandPath(cfg.Server.Socket); err != nil {
			warnings = append(warnings, fmt.Sprintf("server.socket cannot be expanded: %v", err))
		}
	}
	return warnings
}

// ExpandPath expands $VAR, ${VAR} and a leading ~ in a configured path.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = home + p[1:]
	}
	return shell.Expand(p, os.Getenv)
}

// ResolveSocket returns the configured socket path, if any.
// Priority: $PASSBRIDGE_SOCKET env > config value.
func ResolveSocket(cfg *Config) (string, error) {
	if path := os.Getenv("PASSBRIDGE_SOCKET"); path != "" {
		return path, nil
	}
	if cfg == nil || cfg.Server.Socket == "" {
		return "", nil
	}
	return ExpandPath(cfg.Server.Socket)
}

// SocketPath returns the socket the daemon listens on and clients dial.
// Priority: $PASSBRIDGE_SOCKET > server.socket > $XDG_RUNTIME_DIR/passbridge.sock > /tmp/passbridge-<uid>.sock
// A socket setting that cannot be expanded is skipped; ValidateConfig reports it.
func SocketPath(cfg *Config) string {
	if path, err := ResolveSocket(cfg); err == nil && path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "passbridge.sock")
	}
	return fmt.Sprintf("/tmp/passbridge-%d.sock", os.Getuid())
}
