// Package config loads the daemon configuration from a YAML file over
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the chromad daemon configuration.
type Config struct {
	// Device is the serial device node, or "tcp:host:port" to reach the
	// protocol emulator.
	Device string `yaml:"device"`

	// BaudRate applies to serial devices only.
	BaudRate int `yaml:"baud_rate"`

	// AttemptTimeout bounds one request/response attempt.
	AttemptTimeout Duration `yaml:"attempt_timeout"`

	// OverallTimeout bounds one command including retries.
	OverallTimeout Duration `yaml:"overall_timeout"`

	// StatePollInterval is how often the daemon fetches the device state.
	StatePollInterval Duration `yaml:"state_poll_interval"`

	// DiagPollInterval is how often unframed device text is drained
	// between commands.
	DiagPollInterval Duration `yaml:"diag_poll_interval"`

	// StatusAddr is the websocket status feed listen address. Empty
	// disables the feed.
	StatusAddr string `yaml:"status_addr"`

	// MetricsAddr is the prometheus listen address. Empty disables the
	// endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is a logrus level name ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`
}

// Default returns the stock configuration for a directly attached
// instrument.
func Default() Config {
	return Config{
		Device:            "/dev/ttyUSB0",
		BaudRate:          115200,
		AttemptTimeout:    Duration(500 * time.Millisecond),
		OverallTimeout:    Duration(10 * time.Second),
		StatePollInterval: Duration(time.Second),
		DiagPollInterval:  Duration(250 * time.Millisecond),
		StatusAddr:        ":7125",
		MetricsAddr:       ":9101",
		LogLevel:          "info",
	}
}

// Load reads a YAML config file over the defaults. A missing path is not
// an error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the protocol layer cannot work with.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("config: device must be set")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("config: baud_rate %d is not positive", c.BaudRate)
	}
	if c.AttemptTimeout <= 0 || c.OverallTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.AttemptTimeout > c.OverallTimeout {
		return fmt.Errorf("config: attempt_timeout %v exceeds overall_timeout %v", c.AttemptTimeout, c.OverallTimeout)
	}
	if c.StatePollInterval <= 0 || c.DiagPollInterval <= 0 {
		return fmt.Errorf("config: poll intervals must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Level returns the parsed logrus level. Validate must have passed.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
