/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Release       string
	Bind          string
	Port          int
	Prefix        string
	BaseURL       string
	OAuthClientID string
	StateSecret   string
	Database      string
	RedisURL      string
	TickInterval  time.Duration
	PingInterval  time.Duration
	Profile       bool
	TLSCert       string
	TLSKey        string
	Verbose       bool
}

func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("invalid tick interval (must be positive): %s", c.TickInterval)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("invalid ping interval (must be positive): %s", c.PingInterval)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if c.Database == "" {
		return errors.New("--database must not be empty")
	}

	c.Prefix = strings.TrimSuffix(c.Prefix, "/")
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	return nil
}

func (c *Config) Scheme() string {
	if c.TLSCert != "" && c.TLSKey != "" {
		return "https"
	}
	return "http"
}

// CallbackURL is where the OAuth provider sends players after they log in.
func (c *Config) CallbackURL() string {
	return c.BaseURL + c.Prefix + "/auth/itchio_callback"
}
