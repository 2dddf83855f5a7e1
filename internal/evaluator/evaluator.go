package evaluator

import (
	"log/slog"
	"strings"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/oliveagle/jsonpath"
)

// Failure describes one threshold that did not hold
type Failure struct {
	Path     string `json:"path"`
	Op       string `json:"op"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Severity string `json:"severity"`
	Error    string `json:"error,omitempty"`
}

// ToMap converts the failure into the shape stored in result data
func (f Failure) ToMap() map[string]any {
	m := map[string]any{
		"path":     f.Path,
		"op":       f.Op,
		"expected": f.Expected,
		"actual":   f.Actual,
		"severity": f.Severity,
	}
	if f.Error != "" {
		m["error"] = f.Error
	}
	return m
}

// Evaluate checks every threshold against a decoded JSON payload and returns the failures.
// A path that does not resolve is always a failure, whatever the operator.
func Evaluate(payload any, thresholds []model.Threshold) []Failure {
	var failures []Failure

	for _, t := range thresholds {
		actual, found := ResolvePath(payload, t.Path)
		failure := Failure{
			Path:     t.Path,
			Op:       t.Op,
			Expected: t.Value,
			Actual:   actual,
			Severity: t.Severity,
		}

		if !found {
			failure.Error = "path_not_found"
			failures = append(failures, failure)
			continue
		}

		ok, err := Compare(t.Op, actual, t.Value)
		if err != nil {
			slog.Debug("Threshold comparison failed",
				"path", t.Path,
				"op", t.Op,
				"error", err,
			)
		}
		if !ok {
			failures = append(failures, failure)
		}
	}

	return failures
}

// StatusFor rolls failures up into a result status: any critical failure is an error,
// warning-only failures are a warning, no failures is ok.
func StatusFor(failures []Failure) model.ResultStatus {
	if len(failures) == 0 {
		return model.ResultStatusOK
	}
	for _, f := range failures {
		if f.Severity != model.SeverityWarning {
			return model.ResultStatusError
		}
	}
	return model.ResultStatusWarning
}

// FailureMaps converts failures for storage in result data
func FailureMaps(failures []Failure) []map[string]any {
	out := make([]map[string]any, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.ToMap())
	}
	return out
}

// ResolvePath extracts the value at a path such as $.a.b[0].c.
// Paths without a leading "$" are treated as relative to the root.
func ResolvePath(payload any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if path == "$" {
		return payload, true
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + strings.TrimPrefix(path, ".")
	}

	pattern, err := jsonpath.Compile(path)
	if err != nil {
		slog.Debug("Invalid threshold path", "path", path, "error", err)
		return nil, false
	}

	value, err := pattern.Lookup(payload)
	if err != nil {
		return nil, false
	}
	return value, true
}
