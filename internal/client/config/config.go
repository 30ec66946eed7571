package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHubAddr        = "localhost:7002"
	DefaultReportInterval = time.Minute
)

// Environment overrides.
const (
	EnvHubAddr        = "QRY_HUB_ADDR"
	EnvHubTLS         = "QRY_HUB_TLS"
	EnvPrivateKey     = "QRY_PRIVATE_KEY"
	EnvPublishPath    = "QRY_PUBLISH_PATH"
	EnvReportInterval = "QRY_REPORT_INTERVAL"
)

// Config is the publisher configuration stored in ~/.qrypub
type Config struct {
	HubAddr        string         `yaml:"hub_addr"`
	UseTLS         bool           `yaml:"use_tls"`
	PrivateKey     string         `yaml:"private_key,omitempty"`
	PublishPath    string         `yaml:"publish_path,omitempty"`
	ReportInterval string         `yaml:"report_interval,omitempty"`
	Metadata       map[string]any `yaml:"metadata,omitempty"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".qrypub"), nil
}

// LoadConfig reads ~/.qrypub. A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a config file. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{HubAddr: DefaultHubAddr}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.HubAddr == "" {
		cfg.HubAddr = DefaultHubAddr
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// The file may hold a private key.
	return os.WriteFile(path, data, 0600)
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from QRY_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvHubAddr); v != "" {
		c.HubAddr = v
	}
	if v := os.Getenv(EnvHubTLS); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHubTLS, err)
		}
		c.UseTLS = b
	}
	if v := os.Getenv(EnvPrivateKey); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv(EnvPublishPath); v != "" {
		c.PublishPath = v
	}
	if v := os.Getenv(EnvReportInterval); v != "" {
		c.ReportInterval = v
	}
	return nil
}

// Interval returns the usage report interval.
func (c *Config) Interval() (time.Duration, error) {
	if c.ReportInterval == "" {
		return DefaultReportInterval, nil
	}
	d, err := time.ParseDuration(c.ReportInterval)
	if err != nil {
		return 0, fmt.Errorf("report_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("report_interval must be positive, got %s", d)
	}
	return d, nil
}
