// Package config loads QuantumFS's mount-time configuration from a
// settings file, environment variables, and (via cmd/qfs) CLI flags,
// in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete QuantumFS mount configuration.
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Mount    MountConfig    `yaml:"mount"`
	Store    StoreConfig    `yaml:"store"`
	Manifest ManifestConfig `yaml:"manifest"`
	Cache    CacheConfig    `yaml:"cache"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"` // defaults to ~/.qfs/data
}

// MountConfig controls the FUSE mount itself.
type MountConfig struct {
	MountPoint   string        `yaml:"mount_point"`
	ReadOnly     bool          `yaml:"read_only"`
	AllowOther   bool          `yaml:"allow_other"`
	FSName       string        `yaml:"fsname"`
	MaxRead      uint32        `yaml:"max_read"`
	MaxWrite     uint32        `yaml:"max_write"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// StoreConfig points at the IPFS-compatible object-network endpoint.
type StoreConfig struct {
	IPFSServer string        `yaml:"ipfs_server"`
	IPFSPort   int           `yaml:"ipfs_port"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ManifestConfig points at the trust-anchor contract.
type ManifestConfig struct {
	Web3Endpoint string `yaml:"web3_endpoint"`
	Contract     string `yaml:"contract"`
	Address      string `yaml:"address"`
}

// CacheConfig controls the local object cache.
type CacheConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	EvictionPolicy string        `yaml:"eviction_policy"`
}

// NewDefault returns a configuration with QuantumFS's default values.
func NewDefault() *Configuration {
	home, _ := os.UserHomeDir()
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			DataDir:  filepath.Join(home, ".qfs", "data"),
		},
		Mount: MountConfig{
			ReadOnly:     true,
			FSName:       "qfs",
			MaxRead:      128 * 1024,
			MaxWrite:     128 * 1024,
			AttrTimeout:  240 * time.Second,
			EntryTimeout: 240 * time.Second,
		},
		Store: StoreConfig{
			IPFSServer: "127.0.0.1",
			IPFSPort:   5001,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			TTL:            5 * time.Minute,
			EvictionPolicy: "none",
		},
	}
}

// LoadFromFile loads and merges YAML configuration from filename into c.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overrides c with whichever of the QFS_-prefixed
// environment variables read below are set, per spec.md §6. Other
// QFS_ variables are ignored.
func (c *Configuration) LoadFromEnv() error {
	if v := os.Getenv("QFS_LOG_LEVEL"); v != "" {
		c.Global.LogLevel = v
	}
	if v := os.Getenv("QFS_DATA_DIR"); v != "" {
		c.Global.DataDir = v
	}
	if v := os.Getenv("QFS_MOUNTPOINT"); v != "" {
		c.Mount.MountPoint = v
	}
	if v := os.Getenv("QFS_IPFS_SERVER"); v != "" {
		c.Store.IPFSServer = v
	}
	if v := os.Getenv("QFS_IPFS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Store.IPFSPort = port
		}
	}
	if v := os.Getenv("QFS_WEB3"); v != "" {
		c.Manifest.Web3Endpoint = v
	}
	if v := os.Getenv("QFS_CONTRACT"); v != "" {
		c.Manifest.Contract = v
	}
	if v := os.Getenv("QFS_ADDRESS"); v != "" {
		c.Manifest.Address = v
	}
	return nil
}

// SaveToFile writes c to filename as YAML, creating parent directories
// as needed. No cmd/qfs subcommand calls it; a mount only reads
// settings.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(filename, data, 0o600)
}

// Validate checks that c is internally consistent enough to mount.
func (c *Configuration) Validate() error {
	if c.Mount.MountPoint == "" {
		return fmt.Errorf("mount.mount_point must be set")
	}
	if c.Store.IPFSServer == "" {
		return fmt.Errorf("store.ipfs_server must be set")
	}
	if c.Store.IPFSPort <= 0 {
		return fmt.Errorf("store.ipfs_port must be positive")
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	ok := false
	for _, lvl := range validLevels {
		if strings.EqualFold(c.Global.LogLevel, lvl) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid global.log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLevels, ", "))
	}

	return nil
}

// DefaultSettingsPath returns the default path to QuantumFS's settings
// file, ~/.qfs/settings, per spec.md §6.
func DefaultSettingsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".qfs", "settings")
}
