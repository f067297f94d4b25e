// Package config loads the gateguard configuration file, operator-supplied
// safe-bin profile documents, and environment-sourced secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zwright8/gateguard/internal/execguard"
	"github.com/zwright8/gateguard/internal/logger"
	"github.com/zwright8/gateguard/internal/netguard"
	"github.com/zwright8/gateguard/internal/types"
)

var log = logger.New("config")

// Config is the gateguard configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Exec   ExecConfig   `yaml:"exec"`
	Fetch  FetchConfig  `yaml:"fetch"`
}

// ServerConfig holds check-API server settings.
type ServerConfig struct {
	Port     int            `yaml:"port"`
	LogLevel types.LogLevel `yaml:"log_level"`
	NoColor  bool           `yaml:"no_color"`
}

// ExecConfig holds the exec authorization settings.
type ExecConfig struct {
	// SafeBins names the utilities whose profiles are active.
	SafeBins []string `yaml:"safe_bins"`
	// Allowlist holds resolved-path patterns that bypass profile checks.
	Allowlist []string `yaml:"allowlist"`
	// TrustedDirs are operator additions to the trusted directory set.
	TrustedDirs []string `yaml:"trusted_dirs"`
	// ProfileDir is the directory of operator profile documents
	// (default: ~/.gateguard/profiles.d).
	ProfileDir string `yaml:"profile_dir"`
	// Watch enables hot reload of the profile directory.
	Watch bool `yaml:"watch"`
}

// FetchConfig holds the fetch authorization settings.
type FetchConfig struct {
	AllowPrivateNetwork bool     `yaml:"allow_private_network"`
	AllowBenchmarkRange bool     `yaml:"allow_benchmark_range"`
	HostnameAllowlist   []string `yaml:"hostname_allowlist"`
	MaxRedirects        int      `yaml:"max_redirects"`
}

// DefaultConfigPath returns ~/.gateguard/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".gateguard", "config.yaml")
}

// DefaultProfileDir returns ~/.gateguard/profiles.d.
func DefaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "profiles.d"
	}
	return filepath.Join(home, ".gateguard", "profiles.d")
}

// DefaultConfig returns the built-in defaults: every builtin safe-bin active,
// no allowlist, fail-closed fetch policy.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8815,
			LogLevel: types.LogLevelInfo,
		},
		Exec: ExecConfig{
			SafeBins:   execguard.DefaultRegistry().Names(),
			ProfileDir: DefaultProfileDir(),
		},
		Fetch: FetchConfig{
			MaxRedirects: netguard.DefaultMaxRedirects,
		},
	}
}

// Load reads and validates a config file. A missing file yields the defaults;
// a malformed file is an error rather than a silent fallback, so a typo never
// weakens policy unnoticed.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("no config at %s, using defaults", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if !c.Server.LogLevel.Valid() {
		return fmt.Errorf("invalid log_level %q", c.Server.LogLevel)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative, got %d", c.Fetch.MaxRedirects)
	}
	if c.Exec.ProfileDir == "" {
		c.Exec.ProfileDir = DefaultProfileDir()
	}
	return nil
}

// SafeBinSet converts the configured safe-bin names to the evaluator's set
// form.
func (c *ExecConfig) SafeBinSet() map[string]bool {
	set := make(map[string]bool, len(c.SafeBins))
	for _, name := range c.SafeBins {
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// AllowlistEntries converts the configured patterns to allowlist entries.
func (c *ExecConfig) AllowlistEntries() []execguard.AllowlistEntry {
	entries := make([]execguard.AllowlistEntry, 0, len(c.Allowlist))
	for _, p := range c.Allowlist {
		if p != "" {
			entries = append(entries, execguard.AllowlistEntry{Pattern: p})
		}
	}
	return entries
}

// Policy builds the fetch policy value for one call site.
func (c *FetchConfig) Policy() *netguard.Policy {
	return &netguard.Policy{
		AllowPrivateNetwork: c.AllowPrivateNetwork,
		AllowBenchmarkRange: c.AllowBenchmarkRange,
		HostnameAllowlist:   append([]string(nil), c.HostnameAllowlist...),
	}
}
