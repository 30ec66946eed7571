package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `hub_addr: hub.example.com
use_tls: true
private_key: PVT_K1_abc
publish_path: /telemetry/
report_interval: 30s
metadata:
  chain: wax
  version: "3.6.1"
`
	configPath := filepath.Join(tmpDir, "qrypub.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.HubAddr != "hub.example.com" {
		t.Errorf("HubAddr = %s, want 'hub.example.com'", cfg.HubAddr)
	}
	if !cfg.UseTLS {
		t.Error("UseTLS = false, want true")
	}
	if cfg.PrivateKey != "PVT_K1_abc" {
		t.Errorf("PrivateKey = %s, want 'PVT_K1_abc'", cfg.PrivateKey)
	}
	if cfg.PublishPath != "/telemetry/" {
		t.Errorf("PublishPath = %s, want '/telemetry/'", cfg.PublishPath)
	}
	if cfg.Metadata["chain"] != "wax" {
		t.Errorf("Metadata[chain] = %v, want 'wax'", cfg.Metadata["chain"])
	}

	d, err := cfg.Interval()
	if err != nil {
		t.Fatalf("Interval() error = %v", err)
	}
	if d != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", d)
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/path/qrypub.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.HubAddr != DefaultHubAddr {
		t.Errorf("HubAddr = %s, want default %s", cfg.HubAddr, DefaultHubAddr)
	}
	if cfg.UseTLS {
		t.Error("UseTLS should default to false")
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "qrypub.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadFile(configPath)
	if err == nil {
		t.Error("LoadFile() should fail for invalid YAML")
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := &Config{HubAddr: "hub.example.com", PrivateKey: "PVT_K1_test"}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	path, _ := GetConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config permissions = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.PrivateKey != cfg.PrivateKey {
		t.Errorf("PrivateKey = %s, want %s", loaded.PrivateKey, cfg.PrivateKey)
	}
	if loaded.HubAddr != cfg.HubAddr {
		t.Errorf("HubAddr = %s, want %s", loaded.HubAddr, cfg.HubAddr)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvHubAddr, "10.0.0.5:7002")
	t.Setenv(EnvHubTLS, "true")
	t.Setenv(EnvPrivateKey, "PVT_K1_env")
	t.Setenv(EnvPublishPath, "/custom/")

	cfg := &Config{HubAddr: DefaultHubAddr}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.HubAddr != "10.0.0.5:7002" || !cfg.UseTLS || cfg.PrivateKey != "PVT_K1_env" || cfg.PublishPath != "/custom/" {
		t.Errorf("unexpected config after ApplyEnv: %+v", cfg)
	}

	t.Setenv(EnvHubTLS, "maybe")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("ApplyEnv() should fail for invalid boolean")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte("QRY_HUB_ADDR=from-dotenv:7002\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	t.Setenv(EnvHubAddr, "")
	os.Unsetenv(EnvHubAddr)

	if err := LoadEnvFiles(filepath.Join(tmpDir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if got := os.Getenv(EnvHubAddr); got != "from-dotenv:7002" {
		t.Errorf("%s = %q, want 'from-dotenv:7002'", EnvHubAddr, got)
	}
}

func TestInterval_Invalid(t *testing.T) {
	for _, v := range []string{"soon", "-1s", "0s"} {
		cfg := &Config{ReportInterval: v}
		if _, err := cfg.Interval(); err == nil {
			t.Errorf("Interval(%q) should fail", v)
		}
	}
}
