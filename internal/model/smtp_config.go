package model

import (
	"errors"
	"fmt"
	"time"
)

// SMTPConfig is the typed configuration of an smtp check
type SMTPConfig struct {
	Host           string  `mapstructure:"host" json:"host"`
	Port           int     `mapstructure:"port" json:"port"`
	TLS            string  `mapstructure:"tls" json:"tls"`
	Username       string  `mapstructure:"username" json:"username,omitempty"`
	Password       string  `mapstructure:"password" json:"-"`
	PasswordSecret string  `mapstructure:"password_secret" json:"-"`
	FromAddr       string  `mapstructure:"from_addr" json:"from_addr"`
	ToAddr         string  `mapstructure:"to_addr" json:"to_addr"`
	SubjectPrefix  string  `mapstructure:"subject_prefix" json:"subject_prefix"`
	Timeout        float64 `mapstructure:"timeout" json:"timeout"`
	Retries        int     `mapstructure:"retries" json:"retries"`
	RetryDelay     float64 `mapstructure:"retry_delay" json:"retry_delay"`
}

// ParseSMTPConfig decodes and validates check data for an smtp check
func ParseSMTPConfig(data map[string]any) (SMTPConfig, error) {
	cfg := SMTPConfig{
		Port:          587,
		TLS:           TLSModeStartTLS,
		SubjectPrefix: "[nyxmon]",
		Timeout:       30.0,
		Retries:       2,
		RetryDelay:    5.0,
	}
	if err := decodeData(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Host == "" {
		return cfg, errors.New("host is required")
	}
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c SMTPConfig) Validate() error {
	switch c.TLS {
	case TLSModeNone, TLSModeImplicit, TLSModeStartTLS:
	default:
		return fmt.Errorf("invalid tls mode: %s (must be one of implicit, none, starttls)", c.TLS)
	}
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	if c.FromAddr == "" {
		return errors.New("from_addr is required")
	}
	if c.ToAddr == "" {
		return errors.New("to_addr is required")
	}
	if c.SubjectPrefix == "" {
		return errors.New("subject_prefix is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Retries < 0 {
		return errors.New("retries must be zero or positive")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry_delay must be zero or positive")
	}
	if c.Username != "" && c.ResolvedPassword() == "" {
		return errors.New("password or password_secret is required when username is provided")
	}
	// net/smtp refuses PLAIN auth over plaintext except to localhost
	if c.Username != "" && c.TLS == TLSModeNone && !isLocalHost(c.Host) {
		return errors.New("username requires tls starttls or implicit unless host is localhost")
	}
	return nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ResolvedPassword returns the plain password, falling back to the secret reference
func (c SMTPConfig) ResolvedPassword() string {
	if c.Password != "" {
		return c.Password
	}
	return c.PasswordSecret
}

func (c SMTPConfig) TimeoutDuration() time.Duration    { return seconds(c.Timeout) }
func (c SMTPConfig) RetryDelayDuration() time.Duration { return seconds(c.RetryDelay) }
