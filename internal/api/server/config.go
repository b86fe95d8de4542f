// Package server provides HTTP server configuration and lifecycle management.
package server

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Port is the HTTP port.
	Port int

	// Host is the address to bind to (default: "").
	Host string

	// TLS configuration (optional)
	TLSCert string
	TLSKey  string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            8443,
		Host:            "",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Address returns the full listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the port range and that TLS files come in pairs.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls cert and key must be set together")
	}
	return nil
}
