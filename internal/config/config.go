// Package config loads the node configuration from YAML and builds the
// firmware backend, HAL limits and logger it describes.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/sehal/internal/firmware/hsm"
	"github.com/remiblancher/sehal/internal/firmware/soft"
	"github.com/remiblancher/sehal/pkg/firmware"
	"github.com/remiblancher/sehal/pkg/hal"
)

// Backend names.
const (
	BackendSoft   = "soft"
	BackendPKCS11 = "pkcs11"
)

// Config is the YAML configuration.
type Config struct {
	Backend      string        `yaml:"backend"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Slots        uint32        `yaml:"slots"`

	Soft   SoftSettings   `yaml:"soft"`
	PKCS11 PKCS11Settings `yaml:"pkcs11"`
	Log    LogSettings    `yaml:"log"`
}

// SoftSettings configures the software element.
type SoftSettings struct {
	// StateFile persists the slot table. Empty keeps it in memory.
	StateFile string `yaml:"state_file"`
}

// PKCS11Settings selects the PKCS#11 module and token.
type PKCS11Settings struct {
	// Lib is the path to the PKCS#11 library (.so/.dylib/.dll)
	Lib string `yaml:"lib"`

	// Token identifies the token by label
	Token string `yaml:"token"`

	// Slot identifies the token by slot ID (less portable)
	Slot *uint `yaml:"slot"`

	// PinEnv is the name of the environment variable containing the PIN
	PinEnv string `yaml:"pin_env"`
}

// LogSettings selects the slog handler.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: an
// in-memory soft element with the HAL defaults.
func Default() *Config {
	return &Config{
		Backend:      BackendSoft,
		BusyTimeout:  hal.DefaultBusyTimeout,
		PollInterval: hal.DefaultPollInterval,
		Slots:        hal.DefaultMaxKeySlots,
		Log:          LogSettings{Level: "info", Format: "text"},
	}
}

// Load reads and validates a YAML configuration file. Absent fields keep
// the values from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSoft:
	case BackendPKCS11:
		if c.PKCS11.Lib == "" {
			return errors.New("pkcs11.lib is required")
		}
		if c.PKCS11.PinEnv == "" {
			return errors.New("pkcs11.pin_env is required (PIN must be provided via environment variable)")
		}
	default:
		return fmt.Errorf("unsupported backend: %q (expected %q or %q)", c.Backend, BackendSoft, BackendPKCS11)
	}

	if c.BusyTimeout < 0 {
		return errors.New("busy_timeout must not be negative")
	}
	if c.PollInterval < 0 {
		return errors.New("poll_interval must not be negative")
	}
	if c.BusyTimeout > 0 && c.PollInterval > c.BusyTimeout {
		return fmt.Errorf("poll_interval %s exceeds busy_timeout %s", c.PollInterval, c.BusyTimeout)
	}
	if c.Slots == 0 || c.Slots > 0xffff {
		return fmt.Errorf("slots must be between 1 and 65535, got %d", c.Slots)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %q", c.Log.Format)
	}
	return nil
}

// GetPIN retrieves the token PIN from the environment variable.
func (c *Config) GetPIN() (string, error) {
	pin := os.Getenv(c.PKCS11.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PKCS11.PinEnv)
	}
	return pin, nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Logger returns a slog logger writing to w in the configured format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	lvl, err := parseLevel(c.Log.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// HAL returns the Device configuration.
func (c *Config) HAL(logger *slog.Logger) hal.Config {
	cfg := hal.DefaultConfig()
	if c.BusyTimeout > 0 {
		cfg.BusyTimeout = c.BusyTimeout
	}
	if c.PollInterval > 0 {
		cfg.PollInterval = c.PollInterval
	}
	cfg.MaxKeySlots = c.Slots
	cfg.Backend = c.Backend
	cfg.Logger = logger
	return cfg
}

// Open constructs the configured firmware backend. The mailbox is not yet
// initialized.
func (c *Config) Open(logger *slog.Logger) (firmware.Mailbox, error) {
	switch c.Backend {
	case BackendSoft:
		el, err := soft.New(soft.Options{
			StateFile: c.Soft.StateFile,
			Slots:     c.Slots,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create soft element: %w", err)
		}
		return el, nil

	case BackendPKCS11:
		pin, err := c.GetPIN()
		if err != nil {
			return nil, err
		}
		mb, err := hsm.Open(hsm.Options{
			Lib:    c.PKCS11.Lib,
			Token:  c.PKCS11.Token,
			SlotID: c.PKCS11.Slot,
			PIN:    pin,
			Slots:  c.Slots,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open PKCS#11 backend: %w", err)
		}
		return mb, nil
	}
	return nil, fmt.Errorf("unsupported backend: %q", c.Backend)
}

// OpenDevice opens the backend and returns an uninitialized Device over it.
func (c *Config) OpenDevice(logger *slog.Logger) (*hal.Device, error) {
	mb, err := c.Open(logger)
	if err != nil {
		return nil, err
	}
	return hal.New(mb, c.HAL(logger)), nil
}
