package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cclsoftware/gattcentral"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Scan.AdvertisementTimeout != 10*time.Second {
		t.Errorf("Scan.AdvertisementTimeout = %v, want 10s", cfg.Scan.AdvertisementTimeout)
	}
	if cfg.Simulate {
		t.Error("Simulate should be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
scan:
  mode: low-latency
  advertisement_timeout: 30s
  services: ["180d", "0000180f-0000-1000-8000-00805f9b34fb"]
connect:
  device: "AA:BB:CC:DD:EE:FF"
  auto_reconnect: true
  mode: throughput
simulate: true
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Level() != logrus.DebugLevel {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
	opts := cfg.ScanOptions()
	if opts.Mode != gattcentral.ScanModeLowLatency || opts.AdvertisementTimeout != 30*time.Second {
		t.Errorf("ScanOptions() = %+v", opts)
	}
	filter, err := cfg.ServiceFilter()
	if err != nil {
		t.Fatalf("ServiceFilter() error = %v", err)
	}
	want := gattcentral.UUIDFilter{gattcentral.New16BitUUID(0x180D), gattcentral.New16BitUUID(0x180F)}
	if len(filter) != 2 || filter[0] != want[0] || filter[1] != want[1] {
		t.Errorf("ServiceFilter() = %v, want %v", filter, want)
	}
	if cfg.Connect.Device != "AA:BB:CC:DD:EE:FF" || !cfg.Connect.AutoReconnect {
		t.Errorf("Connect = %+v", cfg.Connect)
	}
	if cfg.ConnectionMode() != gattcentral.ConnectionModeThroughput {
		t.Errorf("ConnectionMode() = %v", cfg.ConnectionMode())
	}
	if !cfg.Simulate {
		t.Error("Simulate = false, want true")
	}
}

func TestLoadPartial(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Scan.Mode != "balanced" || cfg.Scan.AdvertisementTimeout != 10*time.Second {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scan: [unbalanced\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("got %v, want parse error", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want defaults", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad scan mode", func(c *Config) { c.Scan.Mode = "turbo" }, "scan.mode"},
		{"negative timeout", func(c *Config) { c.Scan.AdvertisementTimeout = -time.Second }, "advertisement_timeout"},
		{"bad service", func(c *Config) { c.Scan.Services = []string{"heart rate"} }, "scan.services"},
		{"bad connection mode", func(c *Config) { c.Connect.Mode = "fast" }, "connect.mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to mention %q", err, tt.errMsg)
			}
		})
	}
}
