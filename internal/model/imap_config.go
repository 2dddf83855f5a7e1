package model

import (
	"errors"
	"fmt"
	"time"
)

// IMAPConfig is the typed configuration of an imap check
type IMAPConfig struct {
	Host             string  `mapstructure:"host" json:"host"`
	Username         string  `mapstructure:"username" json:"username"`
	Password         string  `mapstructure:"password" json:"-"`
	PasswordSecret   string  `mapstructure:"password_secret" json:"-"`
	SearchSubject    string  `mapstructure:"search_subject" json:"search_subject"`
	Folder           string  `mapstructure:"folder" json:"folder"`
	Port             int     `mapstructure:"port" json:"port"`
	TLSMode          string  `mapstructure:"tls_mode" json:"tls_mode"`
	MaxAgeMinutes    int     `mapstructure:"max_age_minutes" json:"max_age_minutes"`
	DeleteAfterCheck bool    `mapstructure:"delete_after_check" json:"delete_after_check"`
	Timeout          float64 `mapstructure:"timeout" json:"timeout"`
	Retries          int     `mapstructure:"retries" json:"retries"`
	RetryDelay       float64 `mapstructure:"retry_delay" json:"retry_delay"`
}

// ParseIMAPConfig decodes and validates check data for an imap check.
// The check URL is used as host when data carries none.
func ParseIMAPConfig(data map[string]any, url string) (IMAPConfig, error) {
	cfg := IMAPConfig{
		Folder:           "INBOX",
		Port:             993,
		TLSMode:          TLSModeImplicit,
		MaxAgeMinutes:    30,
		DeleteAfterCheck: true,
		Timeout:          30.0,
		Retries:          2,
		RetryDelay:       10.0,
	}
	if err := decodeData(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Host == "" {
		cfg.Host = url
	}
	cfg.Host = HostFromURL(cfg.Host)
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c IMAPConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.ResolvedPassword() == "" {
		return errors.New("password or password_secret is required")
	}
	if c.SearchSubject == "" {
		return errors.New("search_subject is required")
	}
	switch c.TLSMode {
	case TLSModeNone, TLSModeImplicit, TLSModeStartTLS:
	default:
		return fmt.Errorf("tls_mode must be one of implicit, none, starttls, got %q", c.TLSMode)
	}
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("port must be between 1 and %d", maxPort)
	}
	if c.MaxAgeMinutes <= 0 {
		return errors.New("max_age_minutes must be positive")
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
	return nil
}

// ResolvedPassword returns the plain password, falling back to the secret reference
func (c IMAPConfig) ResolvedPassword() string {
	if c.Password != "" {
		return c.Password
	}
	return c.PasswordSecret
}

func (c IMAPConfig) MaxAge() time.Duration             { return time.Duration(c.MaxAgeMinutes) * time.Minute }
func (c IMAPConfig) TimeoutDuration() time.Duration    { return seconds(c.Timeout) }
func (c IMAPConfig) RetryDelayDuration() time.Duration { return seconds(c.RetryDelay) }
