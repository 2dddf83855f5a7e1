package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

// TCPError is a classified failure of one tcp attempt
type TCPError struct {
	Type      string
	Message   string
	Retryable bool
	Data      map[string]any
}

func (e *TCPError) Error() string { return e.Message }

// TCPExecutor checks TCP reachability with optional TLS and certificate expiry validation
type TCPExecutor struct {
	now func() time.Time
}

// NewTCPExecutor creates a TCP executor
func NewTCPExecutor() *TCPExecutor {
	return &TCPExecutor{now: time.Now}
}

// Execute executes a tcp check
func (e *TCPExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParseTCPConfig(check.Data)
	if err != nil {
		return configError(check, err)
	}

	host := cfg.Host
	if host == "" {
		host = model.HostFromURL(check.URL)
	}
	if host == "" {
		return configError(check, errors.New("host is required (set check.url or data.host)"))
	}

	attempts := cfg.Retries + 1
	result, _ := runAttempts(ctx, attempts, cfg.RetryDelayDuration(), func(ctx context.Context, attempt int) (model.Result, bool) {
		data, err := e.attemptOnce(ctx, host, cfg)
		if err == nil {
			data["attempt"] = attempt
			data["attempts"] = attempts
			return model.NewResult(check.CheckID, model.ResultStatusOK, data), false
		}

		var tcpErr *TCPError
		if !errors.As(err, &tcpErr) {
			tcpErr = &TCPError{Type: model.ErrTypeUnexpected, Message: err.Error()}
		}
		data = map[string]any{
			"error_type": tcpErr.Type,
			"error_msg":  tcpErr.Message,
			"host":       host,
			"port":       cfg.Port,
			"tls_mode":   cfg.TLSMode,
			"attempt":    attempt,
			"attempts":   attempts,
		}
		for k, v := range tcpErr.Data {
			data[k] = v
		}
		return model.NewResult(check.CheckID, model.ResultStatusError, data), tcpErr.Retryable
	})
	return result
}

func (e *TCPExecutor) attemptOnce(ctx context.Context, host string, cfg model.TCPConfig) (map[string]any, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	start := time.Now()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeoutDuration()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return nil, &TCPError{Type: model.ErrTypeConnectTimeout, Message: fmt.Sprintf("Connection to %s timed out", addr), Retryable: true}
		}
		return nil, &TCPError{Type: model.ErrTypeConnection, Message: fmt.Sprintf("Connection to %s failed: %v", addr, err), Retryable: true}
	}
	defer conn.Close()
	connectMs := time.Since(start).Milliseconds()

	data := map[string]any{
		"host":            host,
		"port":            cfg.Port,
		"tls_mode":        cfg.TLSMode,
		"connect_time_ms": connectMs,
	}
	if cfg.TLSMode == model.TLSModeNone {
		return data, nil
	}

	if cfg.TLSMode == model.TLSModeStartTLS {
		if err := sendStartTLS(conn, cfg); err != nil {
			return nil, err
		}
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         firstNonEmpty(cfg.SNI, host),
		InsecureSkipVerify: !cfg.Verify,
	})
	defer tlsConn.Close()

	hsCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeoutDuration())
	defer cancel()
	hsStart := time.Now()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		if isTimeout(err) {
			return nil, &TCPError{Type: model.ErrTypeTLSTimeout, Message: "TLS handshake timed out", Retryable: true}
		}
		return nil, &TCPError{Type: model.ErrTypeTLS, Message: fmt.Sprintf("TLS handshake failed: %v", err), Retryable: true}
	}
	handshakeMs := time.Since(hsStart).Milliseconds()
	data["tls_handshake_ms"] = handshakeMs

	if !cfg.CheckCertExpiry {
		return data, nil
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, &TCPError{
			Type:    model.ErrTypeCertMissing,
			Message: "TLS certificate not available from peer",
			Data:    map[string]any{"connect_time_ms": connectMs, "tls_handshake_ms": handshakeMs},
		}
	}

	days := int(math.Floor(certs[0].NotAfter.Sub(e.now()).Hours() / 24))
	if days < cfg.MinCertDays {
		return nil, &TCPError{
			Type:    model.ErrTypeCertExpiry,
			Message: fmt.Sprintf("Certificate expires in %d days", days),
			Data: map[string]any{
				"severity":            model.SeverityWarning,
				"cert_days_remaining": days,
				"connect_time_ms":     connectMs,
				"tls_handshake_ms":    handshakeMs,
			},
		}
	}
	data["cert_days_remaining"] = days
	return data, nil
}

func sendStartTLS(conn net.Conn, cfg model.TCPConfig) error {
	if err := conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeoutDuration())); err != nil {
		return &TCPError{Type: model.ErrTypeConnection, Message: err.Error(), Retryable: true}
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(cfg.StartTLSCommand)); err != nil {
		if isTimeout(err) {
			return &TCPError{Type: model.ErrTypeStartTLSTimeout, Message: "Timed out sending STARTTLS command", Retryable: true}
		}
		return &TCPError{Type: model.ErrTypeConnection, Message: fmt.Sprintf("failed to send STARTTLS command: %v", err), Retryable: true}
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		if isTimeout(err) {
			return &TCPError{Type: model.ErrTypeStartTLSTimeout, Message: "Timed out waiting for STARTTLS response", Retryable: true}
		}
		return &TCPError{Type: model.ErrTypeConnection, Message: fmt.Sprintf("failed to read STARTTLS response: %v", err), Retryable: true}
	}

	response := strings.TrimSpace(string(buf[:n]))
	if !IsPositiveStartTLSResponse(response) {
		text := response
		if text == "" {
			text = "no response"
		}
		return &TCPError{
			Type:    model.ErrTypeStartTLSRejected,
			Message: fmt.Sprintf("STARTTLS rejected: %s", text),
			Data:    map[string]any{"starttls_response": response},
		}
	}
	return nil
}

// IsPositiveStartTLSResponse reports whether a STARTTLS reply accepts the upgrade.
// A numeric reply code must start with 2; otherwise the text must start with "2" or contain "ok".
func IsPositiveStartTLSResponse(response string) bool {
	normalized := strings.ToLower(strings.TrimSpace(response))
	code, _, _ := strings.Cut(normalized, " ")
	if code != "" && isDigits(code) {
		return strings.HasPrefix(code, "2")
	}
	return strings.HasPrefix(normalized, "2") || strings.Contains(normalized, "ok")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Close is a no-op; connections are closed per attempt
func (e *TCPExecutor) Close() error { return nil }
