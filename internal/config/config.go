package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the bridge. Everything is read once at
// startup; there is no hot reload.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	Session   SessionConfig   `json:"session"`
	Panel     PanelConfig     `json:"panel"`
	Relay     RelayConfig     `json:"relay"`
	Journal   JournalConfig   `json:"journal"`
	Keepalive KeepaliveConfig `json:"keepalive"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // debug | info | warn | error
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SessionConfig configures the protocol session and its credential store.
type SessionConfig struct {
	AuthDir             string `json:"authDir"`
	ReconnectDelayMs    int    `json:"reconnectDelayMs"`
	QueryTimeoutSeconds int    `json:"queryTimeoutSeconds"`
	SendRatePerSecond   int    `json:"sendRatePerSecond"`
}

// PanelConfig configures callbacks to the external panel.
type PanelConfig struct {
	URL string `json:"url"`
	// AllowedReactor restricts which identity may action reactions and
	// replies. Digits only; suffix-or-exact match. Empty allows all.
	AllowedReactor string `json:"allowedReactor"`
	RelayReplies   bool   `json:"relayReplies"`
	LogSkipped     bool   `json:"logSkippedReplies"`
}

// RelayConfig configures event fan-out.
type RelayConfig struct {
	BufferSize    int        `json:"bufferSize"`    // recent-event snapshot buffer
	StoreCapacity int        `json:"storeCapacity"` // correlation store ceiling
	AMQP          AMQPConfig `json:"amqp"`
}

// AMQPConfig configures the optional broker sink for relayed events.
type AMQPConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

// JournalConfig configures the local audit journal of sends and relayed
// events. The correlation map itself is always in-memory.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath,omitempty"`
}

// KeepaliveConfig configures the periodic self-ping that keeps free-tier
// hosting from idling the process out.
type KeepaliveConfig struct {
	Enabled         bool   `json:"enabled"`
	URL             string `json:"url,omitempty"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

// DefaultConfigDir returns the default config directory (~/.wabridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(home, ".wabridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	applyEnv(cfg)
	cfg.Session.AuthDir = ExpandPath(cfg.Session.AuthDir)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a config from defaults plus recognized environment variables.
// Used when no config file exists; keeps the env-only deployment path working.
func FromEnv() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	cfg.Session.AuthDir = ExpandPath(cfg.Session.AuthDir)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	return cfg
}

// applyEnv overlays the recognized environment variables on top of the loaded
// config. Env wins over file so hosted deployments can stay file-less.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PANEL_URL"); v != "" {
		cfg.Panel.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("AUTHORIZED_REACTION_NUMBER"); v != "" {
		cfg.Panel.AllowedReactor = v
	}
	if v := os.Getenv("LOG_REPLIES"); v != "" {
		cfg.Panel.LogSkipped = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RELAY_REPLIES"); v != "" {
		cfg.Panel.RelayReplies = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("KEEPALIVE_URL"); v != "" {
		cfg.Keepalive.Enabled = true
		cfg.Keepalive.URL = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Session.ReconnectDelayMs < 0 {
		errs = append(errs, "session.reconnectDelayMs must be >= 0")
	}
	if cfg.Session.QueryTimeoutSeconds < 1 {
		errs = append(errs, "session.queryTimeoutSeconds must be >= 1")
	}
	if cfg.Session.SendRatePerSecond < 1 {
		errs = append(errs, "session.sendRatePerSecond must be >= 1")
	}
	if cfg.Relay.BufferSize < 1 {
		errs = append(errs, "relay.bufferSize must be >= 1")
	}
	if cfg.Relay.StoreCapacity < 1 {
		errs = append(errs, "relay.storeCapacity must be >= 1")
	}
	if cfg.Relay.AMQP.Enabled && cfg.Relay.AMQP.URL == "" {
		errs = append(errs, "relay.amqp.url is required when relay.amqp is enabled")
	}
	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when journal is enabled")
	}
	if cfg.Keepalive.Enabled {
		if cfg.Keepalive.URL == "" {
			errs = append(errs, "keepalive.url is required when keepalive is enabled")
		}
		if cfg.Keepalive.IntervalSeconds < 1 {
			errs = append(errs, "keepalive.intervalSeconds must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
