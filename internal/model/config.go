package model

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Threshold severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

var validOperators = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

// Threshold is one declarative assertion of the threshold DSL
type Threshold struct {
	Path     string `json:"path"`
	Op       string `json:"op"`
	Value    any    `json:"value"`
	Severity string `json:"severity"`
}

// Validate validates a threshold definition
func (t Threshold) Validate() error {
	if t.Path == "" {
		return errors.New("check.path is required")
	}
	if !validOperators[t.Op] {
		return fmt.Errorf("invalid operator %q (must be one of <, <=, >, >=, ==, !=)", t.Op)
	}
	if t.Severity != SeverityWarning && t.Severity != SeverityCritical {
		return fmt.Errorf("invalid severity %q (must be warning or critical)", t.Severity)
	}
	return nil
}

// decodeData decodes a check data map onto a pre-filled config struct.
// Keys absent from data keep the defaults already set on out.
func decodeData(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// parseThresholds reads the "checks" list. Both "op" and "operator" keys are accepted.
func parseThresholds(raw any) ([]Threshold, error) {
	if raw == nil {
		return nil, errors.New("checks must contain at least one entry")
	}
	items, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]map[string]any); ok {
			for _, m := range typed {
				items = append(items, m)
			}
		} else {
			return nil, fmt.Errorf("checks must be a list, got %T", raw)
		}
	}
	if len(items) == 0 {
		return nil, errors.New("checks must contain at least one entry")
	}

	thresholds := make([]Threshold, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("checks[%d] must be an object, got %T", i, item)
		}
		t := Threshold{Value: entry["value"]}
		var err error
		if t.Path, err = optionalString(entry, "path"); err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		if t.Op, err = optionalString(entry, "op"); err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		if t.Op == "" {
			if t.Op, err = optionalString(entry, "operator"); err != nil {
				return nil, fmt.Errorf("checks[%d]: %w", i, err)
			}
		}
		if t.Severity, err = optionalString(entry, "severity"); err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		thresholds = append(thresholds, t)
	}
	return thresholds, nil
}

func optionalString(data map[string]any, key string) (string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// strictNumber reads a numeric field without weak typing; booleans and strings are rejected
func strictNumber(data map[string]any, key string, def float64) (float64, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

func strictInt(data map[string]any, key string, def int) (int, error) {
	f, err := strictNumber(data, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%s must be an integer, got %v", key, f)
	}
	return int(f), nil
}

func strictStringList(v any, key string) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings, got %T", key, v)
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// HostFromURL returns the hostname of a URL or host:port target, or the target unchanged
func HostFromURL(raw string) string {
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
		return raw
	}
	if host, _, err := net.SplitHostPort(raw); err == nil && host != "" {
		return host
	}
	return raw
}
