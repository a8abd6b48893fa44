// Package config handles configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/thane-openhab/config.yaml,
// /etc/thane-openhab/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thane-openhab", "config.yaml"))
	}

	paths = append(paths, "/etc/thane-openhab/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	OpenHAB  OpenHABConfig  `yaml:"openhab"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	// StartEnabled is the host "enabled" flag at process start. The
	// host API can toggle it afterwards. Nil means true.
	StartEnabled *bool `yaml:"start_enabled"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the host API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OpenHABConfig holds the initial connection parameters. At runtime
// they live in [Parameters] so the host can change them.
type OpenHABConfig struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	TimeoutSec int    `yaml:"timeout_sec"`
	// InsecureSkipVerify disables TLS verification for self-signed
	// reverse proxies in front of openHAB.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
	// DialRetries retries requests that failed to connect at all
	// (refused, unreachable). 0, the default, fails immediately.
	DialRetries int `yaml:"dial_retries"`
}

// Configured reports whether both URL and token are set.
func (c OpenHABConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// Timeout returns the per-request timeout.
func (c OpenHABConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// DialRetryDelay is the pause between dial retries.
const DialRetryDelay = 2 * time.Second

// RefreshConfig controls the reconciliation loop.
type RefreshConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// Interval returns the loop period.
func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// DispatchConfig paces outbound item commands. CommandsPerSecond of 0
// disables pacing.
type DispatchConfig struct {
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	Burst             int     `yaml:"burst"`
}

// MQTTConfig configures the optional MQTT mirror of published state.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix is the Home Assistant MQTT discovery prefix.
	// Empty disables discovery.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Defaults.
const (
	DefaultPort             = 8080
	DefaultRefreshInterval  = 60
	DefaultOpenHABTimeout   = 30
	DefaultDispatchBurst    = 1
	DefaultMQTTDeviceName   = "openhab"
	DefaultMQTTTopicPrefix  = "thane-openhab"
	DefaultLogFormat        = "text"
	defaultStartEnabledFlag = true
)

// Load reads configuration from a YAML file, expanding ${VAR}
// references against the environment, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied and no
// openHAB connection.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	c.OpenHAB.URL = strings.TrimRight(c.OpenHAB.URL, "/")
	if c.OpenHAB.TimeoutSec <= 0 {
		c.OpenHAB.TimeoutSec = DefaultOpenHABTimeout
	}
	if c.Refresh.IntervalSec <= 0 {
		c.Refresh.IntervalSec = DefaultRefreshInterval
	}
	if c.Dispatch.Burst <= 0 {
		c.Dispatch.Burst = DefaultDispatchBurst
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = DefaultMQTTDeviceName
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Enabled returns the initial host enabled flag.
func (c *Config) Enabled() bool {
	if c.StartEnabled == nil {
		return defaultStartEnabledFlag
	}
	return *c.StartEnabled
}

// Validate checks for values that would make the process misbehave.
// A missing openHAB URL or token is not an error: the host may supply
// them later through the parameter API.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.OpenHAB.URL != "" {
		if err := validateBaseURL(c.OpenHAB.URL); err != nil {
			errs = append(errs, fmt.Errorf("openhab.url: %w", err))
		}
	}
	if c.OpenHAB.DialRetries < 0 {
		errs = append(errs, fmt.Errorf("openhab.dial_retries must not be negative"))
	}
	if c.Dispatch.CommandsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("dispatch.commands_per_second must not be negative"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt.enabled is true"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q (want http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
