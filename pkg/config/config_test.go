package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "./muninn-region.bin", config.Region.Path)
	assert.Equal(t, 1<<20, config.Region.Size)
	assert.Equal(t, 64<<10, config.Region.RecordSize)
	assert.Equal(t, 2, config.Region.TraceShards)
	assert.Equal(t, 1, config.ECC.Size)
	assert.Equal(t, "127.0.0.1", config.API.Bind)
	assert.Equal(t, 9220, config.API.Port)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestStoreConfig(t *testing.T) {
	t.Run("ecc size 1 means the default strength", func(t *testing.T) {
		cfg := DefaultConfig()
		sc := cfg.StoreConfig()
		assert.True(t, sc.ECCEnabled)
		assert.Equal(t, 16, sc.ECC.ParitySize)
	})

	t.Run("ecc size 0 disables redundancy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ECC.Size = 0
		assert.False(t, cfg.StoreConfig().ECCEnabled)
	})

	t.Run("explicit ecc size is taken literally", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ECC.Size = 32
		sc := cfg.StoreConfig()
		assert.True(t, sc.ECCEnabled)
		assert.Equal(t, 32, sc.ECC.ParitySize)
	})

	t.Run("region sizes carry over", func(t *testing.T) {
		cfg := DefaultConfig()
		sc := cfg.StoreConfig()
		assert.Equal(t, cfg.Region.RecordSize, sc.RecordSize)
		assert.Equal(t, cfg.Region.ConsoleSize, sc.ConsoleSize)
		assert.Equal(t, cfg.Region.TraceSize, sc.TraceSize)
		assert.Equal(t, cfg.Region.MsgSize, sc.MsgSize)
		assert.Equal(t, cfg.Region.TraceShards, sc.TraceShards)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("load existing config", func(t *testing.T) {
		tmpDir := t.TempDir()

		configPath := filepath.Join(tmpDir, "config.yaml")
		expectedConfig := &Config{
			Region: Region{
				Path:        "/var/lib/muninn/region.bin",
				Size:        2 << 20,
				RecordSize:  128 << 10,
				ConsoleSize: 64 << 10,
				TraceSize:   32 << 10,
				MsgSize:     32 << 10,
				TraceShards: 4,
			},
			ECC:     ECC{Size: 16, BlockSize: 128, Poly: 0x11d},
			API:     API{Bind: "0.0.0.0", Port: 9000},
			Archive: Archive{Path: "/var/lib/muninn/archive"},
			Logging: Logging{Level: "debug"},
		}

		err := SaveConfig(expectedConfig, configPath)
		require.NoError(t, err)

		loadedConfig, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, expectedConfig, loadedConfig)
	})

	t.Run("load non-existent config", func(t *testing.T) {
		_, err := LoadConfig("/non/existent/config.yaml")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "config file does not exist")
	})

	t.Run("load invalid yaml", func(t *testing.T) {
		tmpDir := t.TempDir()

		configPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644)
		require.NoError(t, err)

		_, err = LoadConfig(configPath)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	config := DefaultConfig()

	err := SaveConfig(config, configPath)
	require.NoError(t, err)

	// Verify file exists with secure permissions
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Verify content
	loadedConfig, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, config, loadedConfig)
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()
	assert.NotEmpty(t, path)
	assert.Contains(t, path, "muninn")
	assert.Contains(t, path, "config.yaml")
}

func TestConfigExists(t *testing.T) {
	tmpDir := t.TempDir()

	existingPath := filepath.Join(tmpDir, "exists.yaml")
	nonExistentPath := filepath.Join(tmpDir, "does-not-exist.yaml")

	err := os.WriteFile(existingPath, []byte("test"), 0644)
	require.NoError(t, err)

	assert.True(t, ConfigExists(existingPath))
	assert.False(t, ConfigExists(nonExistentPath))
}

func TestConfigYAMLMarshalling(t *testing.T) {
	config := &Config{
		Region: Region{
			Path:       "/test/region.bin",
			Size:       1 << 20,
			RecordSize: 4096,
		},
		ECC:     ECC{Size: 1},
		API:     API{Bind: "localhost", Port: 9999},
		Logging: Logging{Level: "warn"},
	}

	data, err := yaml.Marshal(config)
	require.NoError(t, err)

	var unmarshalled Config
	err = yaml.Unmarshal(data, &unmarshalled)
	require.NoError(t, err)

	assert.Equal(t, config, &unmarshalled)
}

func TestSaveConfigErrorHandling(t *testing.T) {
	config := DefaultConfig()

	// Try to save to a directory that can't be created
	invalidPath := "/invalid/path/that/cannot/be/created/config.yaml"

	err := SaveConfig(config, invalidPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create config directory")
}
