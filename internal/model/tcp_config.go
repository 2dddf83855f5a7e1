package model

import (
	"errors"
	"fmt"
	"time"
)

// TLS modes shared by the tcp and imap checks
const (
	TLSModeNone     = "none"
	TLSModeImplicit = "implicit"
	TLSModeStartTLS = "starttls"
)

const maxPort = 65535

// TCPConfig is the typed configuration of a tcp check
type TCPConfig struct {
	Port                int     `mapstructure:"port" json:"port"`
	Host                string  `mapstructure:"host" json:"host,omitempty"`
	TLSMode             string  `mapstructure:"tls_mode" json:"tls_mode"`
	ConnectTimeout      float64 `mapstructure:"connect_timeout" json:"connect_timeout"`
	TLSHandshakeTimeout float64 `mapstructure:"tls_handshake_timeout" json:"tls_handshake_timeout"`
	Retries             int     `mapstructure:"retries" json:"retries"`
	RetryDelay          float64 `mapstructure:"retry_delay" json:"retry_delay"`
	CheckCertExpiry     bool    `mapstructure:"check_cert_expiry" json:"check_cert_expiry"`
	MinCertDays         int     `mapstructure:"min_cert_days" json:"min_cert_days"`
	SNI                 string  `mapstructure:"sni" json:"sni,omitempty"`
	StartTLSCommand     string  `mapstructure:"starttls_command" json:"starttls_command"`
	Verify              bool    `mapstructure:"verify" json:"verify"`
}

// ParseTCPConfig decodes and validates check data for a tcp check.
// A tls_mode of none always disables certificate expiry checking.
func ParseTCPConfig(data map[string]any) (TCPConfig, error) {
	cfg := TCPConfig{
		TLSMode:             TLSModeNone,
		ConnectTimeout:      10.0,
		TLSHandshakeTimeout: 10.0,
		Retries:             1,
		MinCertDays:         14,
		StartTLSCommand:     "STARTTLS\r\n",
		Verify:              true,
	}
	if _, ok := data["port"]; !ok {
		return cfg, errors.New("port is required")
	}
	if err := decodeData(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.TLSMode == TLSModeNone {
		cfg.CheckCertExpiry = false
	}
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c TCPConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("port must be between 1 and %d", maxPort)
	}
	switch c.TLSMode {
	case TLSModeNone, TLSModeImplicit, TLSModeStartTLS:
	default:
		return fmt.Errorf("tls_mode must be one of implicit, none, starttls, got %q", c.TLSMode)
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.TLSHandshakeTimeout <= 0 {
		return errors.New("tls_handshake_timeout must be positive")
	}
	if c.Retries < 0 {
		return errors.New("retries must be zero or positive")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry_delay must be zero or positive")
	}
	if c.MinCertDays < 0 {
		return errors.New("min_cert_days must be zero or positive")
	}
	if c.TLSMode == TLSModeStartTLS && c.StartTLSCommand == "" {
		return errors.New("starttls_command is required for starttls mode")
	}
	return nil
}

func (c TCPConfig) ConnectTimeoutDuration() time.Duration { return seconds(c.ConnectTimeout) }
func (c TCPConfig) HandshakeTimeoutDuration() time.Duration {
	return seconds(c.TLSHandshakeTimeout)
}
func (c TCPConfig) RetryDelayDuration() time.Duration { return seconds(c.RetryDelay) }
