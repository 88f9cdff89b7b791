// ABOUTME: Configuration loading and parsing for copilot-super
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "COPILOT_SUPER_CONFIG"

// Config represents the complete copilot-super configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	SSE     SSEConfig     `yaml:"sse" toml:"sse"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Console ConsoleConfig `yaml:"console" toml:"console"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	Port         int   `yaml:"port" toml:"port"`                   // First port tried; 0 lets the OS choose
	PortAttempts int   `yaml:"port_attempts" toml:"port_attempts"` // Consecutive ports tried before falling back
	MaxBodyBytes int64 `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// SSEConfig holds stream keepalive timing
type SSEConfig struct {
	HeartbeatInterval     time.Duration `yaml:"-" toml:"-"`
	CallKeepaliveInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw     string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	CallKeepaliveIntervalRaw string `yaml:"call_keepalive_interval" toml:"call_keepalive_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ConsoleConfig controls the terminal reply surface
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         55433,
			PortAttempts: 10,
			MaxBodyBytes: 4 << 20,
		},
		SSE: SSEConfig{
			HeartbeatInterval:        15 * time.Second,
			CallKeepaliveInterval:    120 * time.Second,
			HeartbeatIntervalRaw:     "15s",
			CallKeepaliveIntervalRaw: "120s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Console: ConsoleConfig{Enabled: true},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML. Keys the file
// leaves out keep their Default values. Environment variables in the format
// ${VAR_NAME} are expanded. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if isTOML(path) {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
// found reports whether the file existed.
func LoadOrDefault(path string) (cfg *Config, found bool, err error) {
	cfg, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}

// DefaultPath returns the path to the config file.
// Priority: COPILOT_SUPER_CONFIG env var > XDG_CONFIG_HOME/copilot-super/config.yaml > ~/.config/copilot-super/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "copilot-super", "config.yaml")
}

// WriteDefault writes the default configuration to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.WriteString(defaultYAML); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}

const defaultYAML = `# copilot-super configuration

server:
  port: 55433          # first port tried; the next ones are used when it is busy
  port_attempts: 10
  max_body_bytes: 4194304

sse:
  heartbeat_interval: "15s"        # idle GET stream
  call_keepalive_interval: "120s"  # while a tool call waits for a reply

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json

console:
  enabled: true   # read replies from stdin
`

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Server.PortAttempts < 1 {
		return fmt.Errorf("server.port_attempts must be at least 1, got %d", c.Server.PortAttempts)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	if c.SSE.HeartbeatInterval <= 0 {
		return fmt.Errorf("sse.heartbeat_interval must be positive")
	}
	if c.SSE.CallKeepaliveInterval <= 0 {
		return fmt.Errorf("sse.call_keepalive_interval must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.SSE.HeartbeatIntervalRaw != "" {
		cfg.SSE.HeartbeatInterval, err = time.ParseDuration(cfg.SSE.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.SSE.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.SSE.CallKeepaliveIntervalRaw != "" {
		cfg.SSE.CallKeepaliveInterval, err = time.ParseDuration(cfg.SSE.CallKeepaliveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing call_keepalive_interval %q: %w", cfg.SSE.CallKeepaliveIntervalRaw, err)
		}
	}

	return nil
}
