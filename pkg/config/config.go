// Package config loads the driver's settings: built-in defaults, then an
// optional YAML file, then ESPAT_* environment variables, then validation.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config represents the complete configuration
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	WiFi    WiFiConfig    `yaml:"wifi"`
	Adapter AdapterConfig `yaml:"adapter"`
	Log     LogConfig     `yaml:"log"`
}

// SerialConfig describes the UART and how EN/RST are wired
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// Enable and Reset name the modem line driving each pin: dtr, rts or none.
	Enable    string `yaml:"enable"`
	Reset     string `yaml:"reset"`
	ActiveLow bool   `yaml:"activeLow"`
}

type WiFiConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// AdapterConfig holds the handshake and reply timeouts. Zero waits forever.
type AdapterConfig struct {
	ResponseTimeoutMs int `yaml:"responseTimeoutMs"`
	InitTimeoutMs     int `yaml:"initTimeoutMs"`
}

// LogConfig selects the log level and an optional rotated file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

func (a AdapterConfig) ResponseTimeout() time.Duration {
	return time.Duration(a.ResponseTimeoutMs) * time.Millisecond
}

func (a AdapterConfig) InitTimeout() time.Duration {
	return time.Duration(a.InitTimeoutMs) * time.Millisecond
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, errors.Wrapf(err, "load config %s", path)
		}
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:   "/dev/ttyUSB0",
			Baud:   115200,
			Enable: "none",
			Reset:  "none",
		},
		Adapter: AdapterConfig{
			ResponseTimeoutMs: 10000,
			InitTimeoutMs:     5000,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("ESPAT_PORT"); port != "" {
		cfg.Serial.Port = port
	}
	if baud := os.Getenv("ESPAT_BAUD"); baud != "" {
		if n, err := strconv.Atoi(baud); err == nil {
			cfg.Serial.Baud = n
		}
	}
	if ssid := os.Getenv("ESPAT_SSID"); ssid != "" {
		cfg.WiFi.SSID = ssid
	}
	if password, ok := os.LookupEnv("ESPAT_PASSWORD"); ok {
		cfg.WiFi.Password = password
	}
	if level := os.Getenv("ESPAT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Serial.Port == "" {
		return errors.New("serial port must be set")
	}
	if cfg.Serial.Baud <= 0 {
		return errors.Errorf("invalid baud rate %d", cfg.Serial.Baud)
	}
	for _, line := range []string{cfg.Serial.Enable, cfg.Serial.Reset} {
		if !contains([]string{"dtr", "rts", "none"}, line) {
			return errors.Errorf("invalid control line %q (want dtr, rts or none)", line)
		}
	}
	if cfg.Serial.Enable != "none" && cfg.Serial.Enable == cfg.Serial.Reset {
		return errors.Errorf("enable and reset both use %s", cfg.Serial.Enable)
	}
	if cfg.Adapter.ResponseTimeoutMs < 0 || cfg.Adapter.InitTimeoutMs < 0 {
		return errors.New("timeouts must not be negative")
	}
	if !contains([]string{"debug", "info", "warn", "error"}, cfg.Log.Level) {
		return errors.Errorf("invalid log level %q", cfg.Log.Level)
	}
	if len(cfg.WiFi.SSID) > 32 {
		return errors.Errorf("ssid longer than 32 bytes")
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
