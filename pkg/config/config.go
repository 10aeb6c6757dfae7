/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/muninndb/muninn/pkg/ecc"
	"github.com/muninndb/muninn/pkg/store"
)

// Config describes one crash-log region and the surfaces over it.
type Config struct {
	Region  Region  `yaml:"region"`
	ECC     ECC     `yaml:"ecc"`
	API     API     `yaml:"api"`
	Archive Archive `yaml:"archive"`
	Logging Logging `yaml:"logging"`
}

// Region locates the backing file and sets the carve sizes. Sizes that
// are not powers of two are rounded down by the store.
type Region struct {
	Path        string `yaml:"path"`
	Size        int    `yaml:"size"`
	RecordSize  int    `yaml:"record_size"`
	ConsoleSize int    `yaml:"console_size"`
	TraceSize   int    `yaml:"trace_size"`
	MsgSize     int    `yaml:"msg_size"`
	TraceShards int    `yaml:"trace_shards"`
}

// ECC selects the redundancy strength. Size follows the historical
// convention: 0 disables redundancy, 1 means the default of 16 parity
// bytes, anything else is taken literally.
type ECC struct {
	Size      int `yaml:"size"`
	BlockSize int `yaml:"block_size"`
	Poly      int `yaml:"poly"`
}

// API configures the read-only inspection server.
type API struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// Archive locates the extraction sink database.
type Archive struct {
	Path string `yaml:"path"`
}

// Logging contains logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Region: Region{
			Path:        "./muninn-region.bin",
			Size:        1 << 20,
			RecordSize:  64 << 10,
			ConsoleSize: 64 << 10,
			TraceSize:   64 << 10,
			MsgSize:     64 << 10,
			TraceShards: 2,
		},
		ECC: ECC{
			Size: 1,
		},
		API: API{
			Bind: "127.0.0.1",
			Port: 9220,
		},
		Archive: Archive{
			Path: "./muninn-archive",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// StoreConfig translates the yaml form into the store's carve config.
func (c *Config) StoreConfig() store.Config {
	eccSize := c.ECC.Size
	if eccSize == 1 {
		eccSize = 16
	}
	return store.Config{
		RecordSize:  c.Region.RecordSize,
		ConsoleSize: c.Region.ConsoleSize,
		TraceSize:   c.Region.TraceSize,
		MsgSize:     c.Region.MsgSize,
		TraceShards: c.Region.TraceShards,
		ECCEnabled:  eccSize > 0,
		ECC: ecc.Params{
			ParitySize: eccSize,
			BlockSize:  c.ECC.BlockSize,
			Poly:       c.ECC.Poly,
		},
	}
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	// Validate path to prevent directory traversal
	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with secure permissions (0600)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./muninn.yaml"
	}

	// For Linux/macOS, use ~/.config/muninn/config.yaml
	configDir := filepath.Join(homeDir, ".config", "muninn")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
