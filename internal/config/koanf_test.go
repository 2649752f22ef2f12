package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKoanfConfigLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
devices:
  panel_1:
    driver: panel
    base_url: http://panel-1.local
    width: 64
    height: 32

default:
  driver: mock
  width: 64
  height: 32
  color_depth: 8

api:
  listen_addr: 0.0.0.0:8080

bus:
  broker_url: tcp://localhost:1883
  prefix: pidicon
  qos: 1

store:
  path: /data/runtime-state.json
  debounce_window: 2s

monitor:
  enabled: true
  probe_interval: 10s
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Default.Driver != "mock" {
		t.Errorf("Default.Driver = %q, want mock", cfg.Default.Driver)
	}

	devCfg, ok := cfg.Devices["panel_1"]
	if !ok {
		t.Fatal("expected panel_1 device config")
	}
	if devCfg.BaseURL != "http://panel-1.local" {
		t.Errorf("panel_1.BaseURL = %q, want http://panel-1.local", devCfg.BaseURL)
	}

	if cfg.Bus.BrokerURL != "tcp://localhost:1883" {
		t.Errorf("Bus.BrokerURL = %q, want tcp://localhost:1883", cfg.Bus.BrokerURL)
	}

	if cfg.Store.DebounceWindow != 2*time.Second {
		t.Errorf("Store.DebounceWindow = %v, want 2s", cfg.Store.DebounceWindow)
	}
}

func TestKoanfConfigEnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
default:
  driver: mock
  width: 64
  height: 32

bus:
  broker_url: tcp://localhost:1883
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("PIDICON_BUS_BROKER_URL", "tcp://override:1883")

	kc, err := NewKoanfConfig(WithYAMLFile(configPath), WithEnvPrefix("PIDICON"))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bus.BrokerURL != "tcp://override:1883" {
		t.Errorf("Bus.BrokerURL = %q, want env override tcp://override:1883", cfg.Bus.BrokerURL)
	}
}

func TestKoanfConfigEnvDeviceOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
devices:
  panel_1:
    driver: panel
    base_url: http://original.local
    width: 64
    height: 32
default:
  driver: mock
  width: 8
  height: 8
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("PIDICON_DEVICES_PANEL_1_BASE_URL", "http://overridden.local")

	kc, err := NewKoanfConfig(WithYAMLFile(configPath), WithEnvPrefix("PIDICON"))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Devices["panel_1"].BaseURL != "http://overridden.local" {
		t.Errorf("panel_1.BaseURL = %q, want http://overridden.local", cfg.Devices["panel_1"].BaseURL)
	}
}

func TestKoanfConfigDefaultEnvPrefix(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("default:\n  driver: mock\n  width: 8\n  height: 8\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	if kc.envPrefix != "PIDICON" {
		t.Errorf("default envPrefix = %q, want PIDICON", kc.envPrefix)
	}
}

func TestKoanfConfigReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("default:\n  driver: mock\n  width: 8\n  height: 8\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("default:\n  driver: panel\n  base_url: http://x\n  width: 8\n  height: 8\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	if err := kc.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() after Reload error = %v", err)
	}
	if cfg.Default.Driver != "panel" {
		t.Errorf("Default.Driver after reload = %q, want panel", cfg.Default.Driver)
	}
}

func TestKoanfConfigNoFilePathHasNoDefaults(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("NewKoanfConfig with no file failed: %v", err)
	}

	if kc.Exists("bus.broker_url") {
		t.Error("expected no bus.broker_url key without a YAML source or env var")
	}
}

func TestKoanfConfigWatchRequiresFilePath(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	err = kc.Watch(context.Background(), func(string, error) {})
	if err == nil {
		t.Fatal("expected error when Watch called without a file path")
	}
}

func TestKoanfConfigWatchReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("default:\n  driver: mock\n  width: 8\n  height: 8\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan string, 4)

	done := make(chan error, 1)
	go func() {
		done <- kc.Watch(ctx, func(event string, err error) {
			if err == nil {
				events <- event
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(configPath, []byte("default:\n  driver: panel\n  base_url: http://x\n  width: 8\n  height: 8\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Log("no watch event observed within timeout (fsnotify timing is platform-dependent)")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after context cancellation")
	}
}

func TestKoanfConfigGetters(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
default:
  driver: mock
  width: 8
  height: 8
bus:
  broker_url: tcp://localhost:1883
  qos: 1
monitor:
  enabled: true
  probe_interval: 10s
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	if got := kc.GetString("bus.broker_url"); got != "tcp://localhost:1883" {
		t.Errorf("GetString(bus.broker_url) = %q, want tcp://localhost:1883", got)
	}
	if got := kc.GetInt("default.width"); got != 8 {
		t.Errorf("GetInt(default.width) = %d, want 8", got)
	}
	if got := kc.GetBool("monitor.enabled"); !got {
		t.Error("GetBool(monitor.enabled) = false, want true")
	}
	if got := kc.GetDuration("monitor.probe_interval"); got != 10*time.Second {
		t.Errorf("GetDuration(monitor.probe_interval) = %v, want 10s", got)
	}
	if !kc.Exists("default.driver") {
		t.Error("Exists(default.driver) = false, want true")
	}
	if all := kc.All(); len(all) == 0 {
		t.Error("All() returned empty map")
	}
}
