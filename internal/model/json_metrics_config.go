package model

import (
	"errors"
	"time"
)

// BasicAuth holds HTTP basic auth credentials
type BasicAuth struct {
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
}

// JSONMetricsConfig is the typed configuration of a json_metrics check
type JSONMetricsConfig struct {
	URL        string      `mapstructure:"url" json:"url"`
	Checks     []Threshold `mapstructure:"-" json:"checks"`
	Timeout    float64     `mapstructure:"timeout" json:"timeout"`
	Auth       *BasicAuth  `mapstructure:"auth" json:"auth,omitempty"`
	Retries    int         `mapstructure:"retries" json:"retries"`
	RetryDelay float64     `mapstructure:"retry_delay" json:"retry_delay"`
}

// ParseJSONMetricsConfig decodes and validates check data for a json_metrics check.
// The check URL is used when data carries none.
func ParseJSONMetricsConfig(data map[string]any, url string) (JSONMetricsConfig, error) {
	cfg := JSONMetricsConfig{Timeout: 10.0, Retries: 1, RetryDelay: 2.0}

	fields := make(map[string]any, len(data))
	for k, v := range data {
		if k != "checks" {
			fields[k] = v
		}
	}
	if raw, ok := data["auth"]; ok && raw != nil {
		auth, ok := raw.(map[string]any)
		if !ok {
			return cfg, errors.New("auth must be an object")
		}
		_, hasUser := auth["username"]
		_, hasPass := auth["password"]
		if !hasUser || !hasPass {
			return cfg, errors.New("auth must include username and password")
		}
	}
	if err := decodeData(fields, &cfg); err != nil {
		return cfg, err
	}
	if cfg.URL == "" {
		cfg.URL = url
	}
	if cfg.URL == "" {
		return cfg, errors.New("url is required")
	}

	checks, err := parseThresholds(data["checks"])
	if err != nil {
		return cfg, err
	}
	cfg.Checks = checks
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c JSONMetricsConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Retries < 0 {
		return errors.New("retries must be zero or positive")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry_delay must be zero or positive")
	}
	if len(c.Checks) == 0 {
		return errors.New("checks must contain at least one entry")
	}
	for _, t := range c.Checks {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c JSONMetricsConfig) TimeoutDuration() time.Duration    { return seconds(c.Timeout) }
func (c JSONMetricsConfig) RetryDelayDuration() time.Duration { return seconds(c.RetryDelay) }
