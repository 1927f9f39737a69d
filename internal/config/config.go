// Package config loads the settings shared by the example programs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cclsoftware/gattcentral"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Scan     ScanConfig    `yaml:"scan"`
	Connect  ConnectConfig `yaml:"connect"`

	// Simulate replaces the radio with a simulated heart rate monitor.
	Simulate bool `yaml:"simulate"`
}

// ScanConfig holds scan settings.
type ScanConfig struct {
	Mode                 string        `yaml:"mode"` // "balanced", "power-saving" or "low-latency"
	AdvertisementTimeout time.Duration `yaml:"advertisement_timeout"`
	Services             []string      `yaml:"services"`
}

// ConnectConfig selects the device to connect to.
type ConnectConfig struct {
	Device        string `yaml:"device"`
	AutoReconnect bool   `yaml:"auto_reconnect"`
	Mode          string `yaml:"mode"` // "balanced", "power-saving" or "throughput"
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gattcentral", "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Scan: ScanConfig{
			Mode:                 "balanced",
			AdvertisementTimeout: gattcentral.DefaultScanOptions().AdvertisementTimeout,
		},
		Connect: ConnectConfig{
			Mode: "balanced",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := gattcentral.ParseScanMode(c.Scan.Mode); err != nil {
		return fmt.Errorf("scan.mode: %w", err)
	}
	if c.Scan.AdvertisementTimeout < 0 {
		return fmt.Errorf("scan.advertisement_timeout must not be negative")
	}
	if _, err := c.ServiceFilter(); err != nil {
		return err
	}
	if _, err := gattcentral.ParseConnectionMode(c.Connect.Mode); err != nil {
		return fmt.Errorf("connect.mode: %w", err)
	}
	return nil
}

// Level returns the configured log level, or info when it is invalid.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// ScanOptions returns the scan options described by the config.
func (c *Config) ScanOptions() gattcentral.ScanOptions {
	mode, _ := gattcentral.ParseScanMode(c.Scan.Mode)
	return gattcentral.ScanOptions{
		Mode:                 mode,
		AdvertisementTimeout: c.Scan.AdvertisementTimeout,
	}
}

// ServiceFilter parses scan.services.
func (c *Config) ServiceFilter() (gattcentral.UUIDFilter, error) {
	var filter gattcentral.UUIDFilter
	for _, s := range c.Scan.Services {
		uuid, err := gattcentral.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("scan.services: %q: %w", s, err)
		}
		filter = append(filter, uuid)
	}
	return filter, nil
}

// ConnectionMode returns the configured connection mode.
func (c *Config) ConnectionMode() gattcentral.ConnectionMode {
	mode, _ := gattcentral.ParseConnectionMode(c.Connect.Mode)
	return mode
}
