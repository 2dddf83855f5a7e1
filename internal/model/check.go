package model

import (
	"errors"
	"fmt"
	"maps"
)

// CheckType identifies the protocol a check probes
type CheckType string

const (
	CheckTypeHTTP        CheckType = "http"
	CheckTypeJSONHTTP    CheckType = "json_http"
	CheckTypeDNS         CheckType = "dns"
	CheckTypeTCP         CheckType = "tcp"
	CheckTypeSMTP        CheckType = "smtp"
	CheckTypeIMAP        CheckType = "imap"
	CheckTypeJSONMetrics CheckType = "json_metrics"
	CheckTypeCustom      CheckType = "custom"
	CheckTypePing        CheckType = "ping"
)

// UsesHTTPClient reports whether executors of this type share the batch HTTP client
func (t CheckType) UsesHTTPClient() bool {
	switch t {
	case CheckTypeHTTP, CheckTypeJSONHTTP, CheckTypeJSONMetrics:
		return true
	}
	return false
}

// CheckStatus is the scheduling state of a check
type CheckStatus string

const (
	CheckStatusIdle       CheckStatus = "idle"
	CheckStatusProcessing CheckStatus = "processing"
)

// ParseCheckStatus maps stored values onto a known status; unknown values read as idle
func ParseCheckStatus(s string) CheckStatus {
	if CheckStatus(s) == CheckStatusProcessing {
		return CheckStatusProcessing
	}
	return CheckStatusIdle
}

// Check is a scheduled probe definition
type Check struct {
	CheckID             int64          `json:"check_id" bson:"_id" yaml:"check_id"`
	ServiceID           int64          `json:"service_id" bson:"service_id" yaml:"service_id"`
	Name                string         `json:"name" bson:"name" yaml:"name"`
	CheckType           CheckType      `json:"check_type" bson:"check_type" yaml:"check_type"`
	URL                 string         `json:"url" bson:"url" yaml:"url"`
	CheckInterval       int64          `json:"check_interval" bson:"check_interval" yaml:"check_interval"`
	NextCheckTime       int64          `json:"next_check_time" bson:"next_check_time" yaml:"next_check_time"`
	ProcessingStartedAt int64          `json:"processing_started_at" bson:"processing_started_at" yaml:"-"`
	Status              CheckStatus    `json:"status" bson:"status" yaml:"-"`
	Disabled            bool           `json:"disabled" bson:"disabled" yaml:"disabled"`
	Data                map[string]any `json:"data" bson:"data" yaml:"data"`

	events []Event
}

var (
	ErrCheckNotIdle  = errors.New("check is not idle")
	ErrCheckDisabled = errors.New("check is disabled")
)

// Validate validates a check definition and fills defaults for legacy rows
func (c *Check) Validate() error {
	if c.CheckID <= 0 {
		return errors.New("check_id must be positive")
	}
	if c.CheckType == "" {
		return errors.New("check_type is required")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %d", c.CheckInterval)
	}
	c.Normalize()
	return nil
}

// Normalize replaces missing optional fields with their defaults. A processing
// row without a start time is stale and goes back to idle.
func (c *Check) Normalize() {
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	c.Status = ParseCheckStatus(string(c.Status))
	if c.Status == CheckStatusProcessing && c.ProcessingStartedAt == 0 {
		c.Status = CheckStatusIdle
	}
	if c.Status == CheckStatusIdle {
		c.ProcessingStartedAt = 0
	}
}

// IsDue reports whether the check may be claimed at now
func (c *Check) IsDue(now int64) bool {
	return !c.Disabled && c.Status == CheckStatusIdle && c.NextCheckTime <= now
}

// Claim moves the check from idle to processing
func (c *Check) Claim(now int64) error {
	if c.Disabled {
		return ErrCheckDisabled
	}
	if c.Status != CheckStatusIdle {
		return ErrCheckNotIdle
	}
	if now <= 0 {
		now = 1
	}
	c.Status = CheckStatusProcessing
	c.ProcessingStartedAt = now
	return nil
}

// Complete returns the check to idle and schedules the next run from now
func (c *Check) Complete(now int64) {
	c.Status = CheckStatusIdle
	c.ProcessingStartedAt = 0
	c.NextCheckTime = now + c.CheckInterval
}

// Clone returns a copy with its own data map and no pending events
func (c *Check) Clone() *Check {
	out := *c
	out.Data = maps.Clone(c.Data)
	out.events = nil
	out.Normalize()
	return &out
}

// Record appends a pending domain event
func (c *Check) Record(e Event) {
	c.events = append(c.events, e)
}

// PopEvents drains pending events in the order they were recorded
func (c *Check) PopEvents() []Event {
	events := c.events
	c.events = nil
	return events
}

// ValidateConfig parses the type-specific configuration carried in Data.
// Types without a typed configuration always pass.
func (c *Check) ValidateConfig() error {
	var err error
	switch c.CheckType {
	case CheckTypeDNS:
		_, err = ParseDNSConfig(c.Data)
	case CheckTypeTCP:
		_, err = ParseTCPConfig(c.Data)
	case CheckTypeSMTP:
		_, err = ParseSMTPConfig(c.Data)
	case CheckTypeIMAP:
		_, err = ParseIMAPConfig(c.Data, c.URL)
	case CheckTypeJSONMetrics:
		_, err = ParseJSONMetricsConfig(c.Data, c.URL)
	case CheckTypeCustom:
		_, err = ParseCustomConfig(c.Data, c.URL)
	case CheckTypePing:
		_, err = ParsePingConfig(c.Data)
	}
	if err != nil {
		return fmt.Errorf("invalid %s configuration: %w", c.CheckType, err)
	}
	return nil
}
