package model

import (
	"errors"
	"time"
)

// PingConfig is the typed configuration of a ping check
type PingConfig struct {
	Count         int     `mapstructure:"count" json:"count"`
	Interval      float64 `mapstructure:"interval" json:"interval"`
	Timeout       float64 `mapstructure:"timeout" json:"timeout"`
	Privileged    bool    `mapstructure:"privileged" json:"privileged"`
	MaxPacketLoss float64 `mapstructure:"max_packet_loss" json:"max_packet_loss"`
}

// ParsePingConfig decodes and validates check data for a ping check
func ParsePingConfig(data map[string]any) (PingConfig, error) {
	cfg := PingConfig{Count: 3, Interval: 1.0, Timeout: 5.0, MaxPacketLoss: 20}
	if err := decodeData(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c PingConfig) Validate() error {
	if c.Count <= 0 {
		return errors.New("count must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxPacketLoss < 0 || c.MaxPacketLoss > 100 {
		return errors.New("max_packet_loss must be between 0 and 100")
	}
	return nil
}

func (c PingConfig) IntervalDuration() time.Duration { return seconds(c.Interval) }
func (c PingConfig) TimeoutDuration() time.Duration  { return seconds(c.Timeout) }
