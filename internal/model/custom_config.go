package model

import (
	"errors"
	"fmt"
	"time"
)

// CustomModeSSHJSON runs a remote command over ssh and evaluates its JSON output
const CustomModeSSHJSON = "ssh-json"

// DefaultSSHArgs keeps ssh non-interactive and bounds its connect phase
var DefaultSSHArgs = []string{"-o", "BatchMode=yes", "-o", "ConnectTimeout=5"}

// CustomConfig is the typed configuration of a custom check
type CustomConfig struct {
	Mode       string      `json:"mode"`
	Target     string      `json:"target"`
	Command    []string    `json:"command"`
	SSHArgs    []string    `json:"ssh_args"`
	Checks     []Threshold `json:"checks"`
	Timeout    float64     `json:"timeout"`
	Retries    int         `json:"retries"`
	RetryDelay float64     `json:"retry_delay"`
}

// ParseCustomConfig validates every field shape strictly before building the config.
// Weak typing is not applied: numbers must be numbers and lists must hold strings.
func ParseCustomConfig(data map[string]any, url string) (CustomConfig, error) {
	cfg := CustomConfig{Mode: CustomModeSSHJSON}
	var err error

	if cfg.Mode, err = optionalString(data, "mode"); err != nil {
		return cfg, err
	}
	if cfg.Mode == "" {
		cfg.Mode = CustomModeSSHJSON
	}
	if cfg.Mode != CustomModeSSHJSON {
		return cfg, fmt.Errorf("unsupported custom mode: %s", cfg.Mode)
	}

	if cfg.Target, err = optionalString(data, "target"); err != nil {
		return cfg, err
	}
	if cfg.Target == "" {
		cfg.Target = url
	}
	if cfg.Target == "" {
		return cfg, errors.New("target is required")
	}

	switch cmd := data["command"].(type) {
	case nil:
		return cfg, errors.New("command is required")
	case string:
		if cmd == "" {
			return cfg, errors.New("command is required")
		}
		cfg.Command = []string{cmd}
	default:
		list, err := strictStringList(cmd, "command")
		if err != nil {
			return cfg, fmt.Errorf("command must be a string or a list of strings: %w", err)
		}
		if len(list) == 0 {
			return cfg, errors.New("command is required")
		}
		for i, part := range list {
			if part == "" {
				return cfg, fmt.Errorf("command[%d] must not be empty", i)
			}
		}
		cfg.Command = list
	}

	if raw, ok := data["ssh_args"]; ok && raw != nil {
		if cfg.SSHArgs, err = strictStringList(raw, "ssh_args"); err != nil {
			return cfg, err
		}
	} else {
		cfg.SSHArgs = append([]string(nil), DefaultSSHArgs...)
	}

	if cfg.Timeout, err = strictNumber(data, "timeout", 15.0); err != nil {
		return cfg, err
	}
	if cfg.Retries, err = strictInt(data, "retries", 0); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = strictNumber(data, "retry_delay", 2.0); err != nil {
		return cfg, err
	}

	if cfg.Checks, err = parseThresholds(data["checks"]); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate validates the configuration
func (c CustomConfig) Validate() error {
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

// Argv builds the ssh argument vector. The "--" separator precedes the target.
func (c CustomConfig) Argv() []string {
	argv := make([]string, 0, len(c.SSHArgs)+len(c.Command)+2)
	argv = append(argv, c.SSHArgs...)
	argv = append(argv, "--", c.Target)
	argv = append(argv, c.Command...)
	return argv
}

func (c CustomConfig) TimeoutDuration() time.Duration    { return seconds(c.Timeout) }
func (c CustomConfig) RetryDelayDuration() time.Duration { return seconds(c.RetryDelay) }
