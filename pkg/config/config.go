package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// AppName names the config, data and keyring locations.
	AppName = "redb-desk"

	EnvConfigFile = "REDB_DESK_CONFIG"
	EnvLogLevel   = "REDB_DESK_LOG_LEVEL"
	EnvDataDir    = "REDB_DESK_DATA_DIR"
)

// Config holds the settings of the data-access core.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	Streaming StreamingConfig `yaml:"streaming"`
	KeyValue  KeyValueConfig  `yaml:"keyvalue"`
	LogBroker LogBrokerConfig `yaml:"logbroker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type TimeoutConfig struct {
	// Connect bounds backend connect + ping.
	Connect time.Duration `yaml:"connect"`
	// Operation is applied to router calls whose context has no deadline.
	Operation time.Duration `yaml:"operation"`
	// Disconnect bounds teardown of one session.
	Disconnect time.Duration `yaml:"disconnect"`
}

type TunnelConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

type StreamingConfig struct {
	// BufferSize is the per-listener queue length.
	BufferSize int `yaml:"buffer_size"`
}

type KeyValueConfig struct {
	// MaxScanKeys bounds listContainers on the key-value backend.
	MaxScanKeys int `yaml:"max_scan_keys"`
	ScanCount   int `yaml:"scan_count"`
}

type LogBrokerConfig struct {
	// ConsumeTimeout bounds one consumeMessages call.
	ConsumeTimeout time.Duration `yaml:"consume_timeout"`
	MaxMessages    int           `yaml:"max_messages"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Address serves /metrics during long-running commands; empty disables it.
	Address string `yaml:"address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
		Timeouts: TimeoutConfig{
			Connect:    10 * time.Second,
			Operation:  30 * time.Second,
			Disconnect: 5 * time.Second,
		},
		Tunnel: TunnelConfig{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		Streaming: StreamingConfig{BufferSize: 256},
		KeyValue:  KeyValueConfig{MaxScanKeys: 1000, ScanCount: 100},
		LogBroker: LogBrokerConfig{ConsumeTimeout: 5 * time.Second, MaxMessages: 1000},
		Metrics:   MetricsConfig{Enabled: true},
	}
}

// DefaultConfigFile returns the config path, honoring REDB_DESK_CONFIG.
func DefaultConfigFile() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, AppName, "config.yaml")
}

// DefaultDataDir returns the directory holding the profile database.
func DefaultDataDir() string {
	if p := os.Getenv(EnvDataDir); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, AppName)
}

// Load reads configFile, writing the defaults there first if it does not exist.
// Zero values in the file fall back to defaults; environment overrides win.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	configDir := filepath.Dir(configFile)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configFile); err == nil {
		//nolint:gosec // configFile is chosen by the local user
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(configFile, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write default config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = d.Timeouts.Connect
	}
	if c.Timeouts.Operation == 0 {
		c.Timeouts.Operation = d.Timeouts.Operation
	}
	if c.Timeouts.Disconnect == 0 {
		c.Timeouts.Disconnect = d.Timeouts.Disconnect
	}
	if c.Tunnel.Timeout == 0 {
		c.Tunnel.Timeout = d.Tunnel.Timeout
	}
	if c.Streaming.BufferSize == 0 {
		c.Streaming.BufferSize = d.Streaming.BufferSize
	}
	if c.KeyValue.MaxScanKeys == 0 {
		c.KeyValue.MaxScanKeys = d.KeyValue.MaxScanKeys
	}
	if c.KeyValue.ScanCount == 0 {
		c.KeyValue.ScanCount = d.KeyValue.ScanCount
	}
	if c.LogBroker.ConsumeTimeout == 0 {
		c.LogBroker.ConsumeTimeout = d.LogBroker.ConsumeTimeout
	}
	if c.LogBroker.MaxMessages == 0 {
		c.LogBroker.MaxMessages = d.LogBroker.MaxMessages
	}
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.Timeouts.Connect < 0 || c.Timeouts.Operation < 0 || c.Tunnel.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Streaming.BufferSize < 1 {
		return fmt.Errorf("streaming.buffer_size must be at least 1")
	}
	if c.KeyValue.MaxScanKeys < 1 {
		return fmt.Errorf("keyvalue.max_scan_keys must be at least 1")
	}
	if c.LogBroker.MaxMessages < 1 {
		return fmt.Errorf("logbroker.max_messages must be at least 1")
	}
	return nil
}

// ProfileDBPath is where the connection registry keeps its bbolt file.
func (c *Config) ProfileDBPath() string {
	return filepath.Join(c.DataDir, "profiles.db")
}

// KeyringPath is the fallback file keyring location.
func (c *Config) KeyringPath() string {
	return filepath.Join(c.DataDir, "keyring.json")
}
