package model

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var validQueryTypes = map[string]bool{
	"A": true, "AAAA": true, "MX": true, "TXT": true,
	"CNAME": true, "NS": true, "SOA": true, "PTR": true,
}

// DNSConfig is the typed configuration of a dns check
type DNSConfig struct {
	ExpectedIPs []string `mapstructure:"expected_ips" json:"expected_ips"`
	DNSServer   string   `mapstructure:"dns_server" json:"dns_server,omitempty"`
	SourceIP    string   `mapstructure:"source_ip" json:"source_ip,omitempty"`
	QueryType   string   `mapstructure:"query_type" json:"query_type"`
	Timeout     float64  `mapstructure:"timeout" json:"timeout"`
}

// ParseDNSConfig decodes and validates check data for a dns check
func ParseDNSConfig(data map[string]any) (DNSConfig, error) {
	cfg := DNSConfig{QueryType: "A", Timeout: 5.0}
	if _, ok := data["expected_ips"]; !ok {
		return cfg, errors.New("expected_ips is required")
	}
	if err := decodeData(data, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.ExpectedIPs) == 0 {
		return cfg, errors.New("expected_ips cannot be empty")
	}
	cfg.QueryType = strings.ToUpper(cfg.QueryType)
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c DNSConfig) Validate() error {
	if !validQueryTypes[c.QueryType] {
		return fmt.Errorf("invalid query_type: %s (must be one of A, AAAA, MX, TXT, CNAME, NS, SOA, PTR)", c.QueryType)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.SourceIP != "" && net.ParseIP(c.SourceIP) == nil {
		return fmt.Errorf("invalid source_ip: %s (must be a valid IP address)", c.SourceIP)
	}
	if c.DNSServer != "" && net.ParseIP(c.DNSServer) == nil {
		return fmt.Errorf("invalid dns_server: %s (must be a valid IP address)", c.DNSServer)
	}
	return nil
}

// TimeoutDuration returns the query timeout
func (c DNSConfig) TimeoutDuration() time.Duration {
	return seconds(c.Timeout)
}
