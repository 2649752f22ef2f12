// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/pidicon/config.yaml"

// Config represents the complete pidicond configuration.
type Config struct {
	// Devices contains device-specific configuration keyed by sanitized device id.
	Devices map[string]DeviceConfig `yaml:"devices" koanf:"devices"`

	// Default transport settings applied when a device omits a field.
	Default DeviceConfig `yaml:"default" koanf:"default"`

	// API settings for the REST/WebSocket control surface.
	API APIConfig `yaml:"api" koanf:"api"`

	// Bus settings for the MQTT command/state channel.
	Bus BusConfig `yaml:"bus" koanf:"bus"`

	// Store settings for the persisted runtime state file.
	Store StoreConfig `yaml:"store" koanf:"store"`

	// Monitor settings for the device watchdog.
	Monitor MonitorConfig `yaml:"monitor" koanf:"monitor"`
}

// DeviceConfig describes how to reach and drive one physical or virtual
// display device.
type DeviceConfig struct {
	Driver     string `yaml:"driver" koanf:"driver"`           // "panel", "matrix", or "mock"
	BaseURL    string `yaml:"base_url" koanf:"base_url"`       // REST base URL (panel driver)
	TopicBase  string `yaml:"topic_base" koanf:"topic_base"`   // MQTT topic prefix (matrix driver)
	StatsURL   string `yaml:"stats_url" koanf:"stats_url"`     // HTTP health-probe URL (matrix driver)
	Width      int    `yaml:"width" koanf:"width"`             // Panel width in pixels
	Height     int    `yaml:"height" koanf:"height"`           // Panel height in pixels
	ColorDepth int    `yaml:"color_depth" koanf:"color_depth"` // Bits per channel, typically 8
}

// APIConfig contains the REST/WebSocket server settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" koanf:"listen_addr"` // e.g. "0.0.0.0:8080"
}

// BusConfig contains MQTT command/state channel settings.
type BusConfig struct {
	BrokerURL string `yaml:"broker_url" koanf:"broker_url"` // e.g. "tcp://localhost:1883"
	ClientID  string `yaml:"client_id" koanf:"client_id"`
	Username  string `yaml:"username" koanf:"username"`
	Password  string `yaml:"password" koanf:"password"`
	Prefix    string `yaml:"prefix" koanf:"prefix"` // Topic namespace, e.g. "pidicon"
	QoS       byte   `yaml:"qos" koanf:"qos"`
}

// StoreConfig contains the persisted runtime-state file settings.
type StoreConfig struct {
	Path           string        `yaml:"path" koanf:"path"`                       // default "/data/runtime-state.json"
	DebounceWindow time.Duration `yaml:"debounce_window" koanf:"debounce_window"` // default 2s
}

// MonitorConfig contains watchdog settings.
type MonitorConfig struct {
	Enabled          bool          `yaml:"enabled" koanf:"enabled"`
	ProbeInterval    time.Duration `yaml:"probe_interval" koanf:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" koanf:"probe_timeout"`
	HealthAddr       string        `yaml:"health_addr" koanf:"health_addr"` // default "127.0.0.1:9998"
	DiskLowThreshold int64         `yaml:"disk_low_threshold_mb" koanf:"disk_low_threshold_mb"`
}

// LoadConfig reads and parses the configuration file.
//
// Parameters:
//   - path: Path to YAML configuration file
//
// Returns:
//   - *Config: Parsed configuration
//   - error: if file not found, invalid YAML, or validation fails
//
// Example:
//
//	cfg, err := LoadConfig("/etc/pidicon/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	devCfg := cfg.GetDeviceConfig("panel_1")
func LoadConfig(path string) (*Config, error) {
	// Read file
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file.
//
// Parameters:
//   - path: Destination file path
//
// Returns:
//   - error: if marshaling fails or file write fails
//
// Example:
//
//	cfg := DefaultConfig()
//	err := cfg.Save("/etc/pidicon/config.yaml")
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	// Marshal to YAML
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: write to a temp file in the same directory, sync to disk,
	// then rename to the target path. os.Rename is atomic on most filesystems,
	// so a crash mid-write leaves either the old file or the new file, never
	// a partially-written file.
	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// Write data to temp file
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	// Sync to disk to ensure data is persisted before rename
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Restrict config file to owner+group only: it may carry bus
	// credentials and should not be world-readable.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// GetDeviceConfig returns configuration for a device, falling back to defaults.
//
// This is the primary config lookup used by cmd/pidicond when constructing
// device transports. It performs a three-step lookup:
//  1. Check for device-specific configuration
//  2. Fall back to default configuration
//  3. Merge defaults for any unset fields
//
// Parameters:
//   - deviceID: Sanitized device id (e.g., "panel_1")
//
// Returns:
//   - DeviceConfig: Device-specific config merged with defaults
func (c *Config) GetDeviceConfig(deviceID string) DeviceConfig {
	// Start with default config
	result := c.Default

	// Look up device-specific config
	if devCfg, ok := c.Devices[deviceID]; ok {
		if devCfg.Driver != "" {
			result.Driver = devCfg.Driver
		}
		if devCfg.BaseURL != "" {
			result.BaseURL = devCfg.BaseURL
		}
		if devCfg.TopicBase != "" {
			result.TopicBase = devCfg.TopicBase
		}
		if devCfg.StatsURL != "" {
			result.StatsURL = devCfg.StatsURL
		}
		if devCfg.Width != 0 {
			result.Width = devCfg.Width
		}
		if devCfg.Height != 0 {
			result.Height = devCfg.Height
		}
		if devCfg.ColorDepth != 0 {
			result.ColorDepth = devCfg.ColorDepth
		}
	}

	return result
}

// Validate checks configuration for invalid values.
//
// Returns:
//   - error: describing the first validation error found, or nil if valid
func (c *Config) Validate() error {
	// Validate default config
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default config: %w", err)
	}

	// Validate each device config
	for name, devCfg := range c.Devices {
		if err := devCfg.ValidatePartial(); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	return nil
}

// Validate checks store configuration for invalid values.
func (s *StoreConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if s.DebounceWindow < 0 {
		return fmt.Errorf("debounce_window must not be negative")
	}
	return nil
}

// Validate checks device configuration for invalid values.
//
// This is used for validating the default configuration which must be complete.
func (d *DeviceConfig) Validate() error {
	if d.Driver == "" {
		return fmt.Errorf("driver cannot be empty")
	}
	switch d.Driver {
	case "panel", "matrix", "mock":
		// valid
	default:
		return fmt.Errorf("driver must be panel, matrix, or mock")
	}
	if d.Driver == "panel" && d.BaseURL == "" {
		return fmt.Errorf("base_url required for panel driver")
	}
	if d.Driver == "matrix" && d.TopicBase == "" {
		return fmt.Errorf("topic_base required for matrix driver")
	}
	if d.Width <= 0 {
		return fmt.Errorf("width must be positive")
	}
	if d.Height <= 0 {
		return fmt.Errorf("height must be positive")
	}
	return nil
}

// ValidatePartial checks device configuration for invalid values.
//
// This allows device-specific configs to omit fields (they'll inherit from default).
// Only validates fields that are explicitly set (non-zero/non-empty).
func (d *DeviceConfig) ValidatePartial() error {
	if d.Driver != "" {
		switch d.Driver {
		case "panel", "matrix", "mock":
			// valid
		default:
			return fmt.Errorf("driver must be panel, matrix, or mock")
		}
	}
	if d.Width < 0 {
		return fmt.Errorf("width must not be negative (0 means inherit default)")
	}
	if d.Height < 0 {
		return fmt.Errorf("height must not be negative (0 means inherit default)")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
//
// This is used when no config file exists or for testing.
//
// Returns:
//   - *Config: Configuration with production-tested defaults
func DefaultConfig() *Config {
	return &Config{
		Devices: make(map[string]DeviceConfig),
		Default: DeviceConfig{
			Driver:     "mock",
			Width:      64,
			Height:     32,
			ColorDepth: 8,
		},
		API: APIConfig{
			ListenAddr: "0.0.0.0:8080",
		},
		Bus: BusConfig{
			BrokerURL: "tcp://localhost:1883",
			ClientID:  "pidicond",
			Prefix:    "pidicon",
			QoS:       1,
		},
		Store: StoreConfig{
			Path:           "/data/runtime-state.json",
			DebounceWindow: 2 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:          true,
			ProbeInterval:    10 * time.Second,
			ProbeTimeout:     3 * time.Second,
			HealthAddr:       "127.0.0.1:9998",
			DiskLowThreshold: 1024,
		},
	}
}
