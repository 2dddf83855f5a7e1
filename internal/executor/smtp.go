package executor

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/google/uuid"
)

// MailMessage is the probe message sent by an smtp check
type MailMessage struct {
	From      string
	To        string
	Subject   string
	MessageID string
	Body      string
	Date      time.Time
}

// Bytes renders the message in RFC 5322 form
func (m MailMessage) Bytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", m.MessageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(m.Body)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// SMTPResponse is the server's final reply to the DATA command
type SMTPResponse struct {
	Code    int
	Message string
}

// SMTPSendError is a classified send failure. Temporary failures are retried.
type SMTPSendError struct {
	Type      string
	Message   string
	Code      int
	Temporary bool
}

func (e *SMTPSendError) Error() string { return e.Message }

// SMTPClient sends one message according to an smtp check configuration
type SMTPClient interface {
	Send(ctx context.Context, cfg model.SMTPConfig, msg MailMessage) (SMTPResponse, error)
}

// SMTPExecutor submits a tagged probe message and reports the server's acceptance
type SMTPExecutor struct {
	client SMTPClient
	now    func() time.Time
}

// NewSMTPExecutor creates an SMTP executor; a nil client uses net/smtp
func NewSMTPExecutor(client SMTPClient) *SMTPExecutor {
	if client == nil {
		client = &NetSMTPClient{}
	}
	return &SMTPExecutor{client: client, now: time.Now}
}

// Execute executes an smtp check
func (e *SMTPExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParseSMTPConfig(check.Data)
	if err != nil {
		return configError(check, err)
	}

	subject, token := buildSubject(cfg.SubjectPrefix, e.now())
	msg := MailMessage{
		From:      cfg.FromAddr,
		To:        cfg.ToAddr,
		Subject:   subject,
		MessageID: fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain(cfg.FromAddr)),
		Body:      fmt.Sprintf("Nyxmon SMTP health check. Correlation token: %s. Safe to delete.", token),
		Date:      e.now(),
	}

	result, _ := runAttempts(ctx, cfg.Retries+1, cfg.RetryDelayDuration(), func(ctx context.Context, attempt int) (model.Result, bool) {
		resp, err := e.client.Send(ctx, cfg, msg)
		if err == nil {
			return model.NewResult(check.CheckID, model.ResultStatusOK, map[string]any{
				"response_code":    resp.Code,
				"response_message": resp.Message,
				"attempts":         attempt,
				"subject":          subject,
				"token":            token,
				"from":             cfg.FromAddr,
				"to":               cfg.ToAddr,
			}), false
		}

		var sendErr *SMTPSendError
		if !errors.As(err, &sendErr) {
			sendErr = &SMTPSendError{Type: model.ErrTypeUnexpected, Message: err.Error()}
		}
		r := model.NewErrorResult(check.CheckID, sendErr.Type, sendErr.Message)
		r.Data["attempts"] = attempt
		if sendErr.Code != 0 {
			r.Data["smtp_code"] = sendErr.Code
		}
		return r, sendErr.Temporary
	})
	return result
}

// Close is a no-op; each send uses its own connection
func (e *SMTPExecutor) Close() error { return nil }

// buildSubject composes "<prefix> <UTC timestamp> <6 hex chars>"
func buildSubject(prefix string, now time.Time) (string, string) {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	token := hex.EncodeToString(b)
	timestamp := now.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", prefix, timestamp, token)), token
}

func messageIDDomain(from string) string {
	if _, domain, ok := strings.Cut(from, "@"); ok && domain != "" {
		return domain
	}
	return "nyxmon.local"
}

// NetSMTPClient sends mail with net/smtp over a dialed connection
type NetSMTPClient struct {
	// TLSConfig overrides the TLS settings used for implicit TLS and STARTTLS
	TLSConfig *tls.Config
}

// Send dials, optionally upgrades to TLS, authenticates and submits msg
func (c *NetSMTPClient) Send(ctx context.Context, cfg model.SMTPConfig, msg MailMessage) (SMTPResponse, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := c.tlsConfig(cfg.Host)

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	dialer := &net.Dialer{Timeout: cfg.TimeoutDuration()}
	var conn net.Conn
	var err error
	if cfg.TLS == model.TLSModeImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return SMTPResponse{}, classifySMTPError("dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return SMTPResponse{}, classifySMTPError("greeting", err)
	}
	defer client.Close()

	if cfg.TLS == model.TLSModeStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return SMTPResponse{}, &SMTPSendError{Type: model.ErrTypeSMTP, Message: "server does not support STARTTLS"}
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return SMTPResponse{}, classifySMTPError("starttls", err)
		}
	}

	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.ResolvedPassword(), cfg.Host)
		if err := client.Auth(auth); err != nil {
			return SMTPResponse{}, classifySMTPError("auth", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return SMTPResponse{}, classifySMTPError("mail", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return SMTPResponse{}, classifySMTPError("rcpt", err)
	}
	resp, err := sendData(client.Text, msg.Bytes())
	if err != nil {
		return SMTPResponse{}, classifySMTPError("data", err)
	}
	_ = client.Quit()

	return resp, nil
}

// sendData runs the DATA exchange and returns the server's final reply,
// which smtp.Client.Data discards.
func sendData(text *textproto.Conn, body []byte) (SMTPResponse, error) {
	id, err := text.Cmd("DATA")
	if err != nil {
		return SMTPResponse{}, err
	}
	text.StartResponse(id)
	_, _, err = text.ReadResponse(354)
	text.EndResponse(id)
	if err != nil {
		return SMTPResponse{}, err
	}

	w := text.DotWriter()
	if _, err := w.Write(body); err != nil {
		w.Close()
		return SMTPResponse{}, err
	}
	if err := w.Close(); err != nil {
		return SMTPResponse{}, err
	}

	code, message, err := text.ReadResponse(250)
	if err != nil {
		return SMTPResponse{}, err
	}
	return SMTPResponse{Code: code, Message: message}, nil
}

func (c *NetSMTPClient) tlsConfig(host string) *tls.Config {
	if c.TLSConfig != nil {
		cfg := c.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host}
}

// classifySMTPError maps a failure at a protocol stage onto an error type
func classifySMTPError(stage string, err error) *SMTPSendError {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		code := tpErr.Code
		switch {
		case code >= 400 && code < 500:
			return &SMTPSendError{Type: model.ErrTypeTemporaryFailure, Message: tpErr.Msg, Code: code, Temporary: true}
		case stage == "auth":
			return &SMTPSendError{Type: model.ErrTypeAuth, Message: tpErr.Msg, Code: code}
		case stage == "rcpt":
			return &SMTPSendError{Type: model.ErrTypeRecipientRefused, Message: tpErr.Msg, Code: code}
		default:
			return &SMTPSendError{Type: model.ErrTypeSMTP, Message: tpErr.Msg, Code: code}
		}
	}

	switch {
	case isTimeout(err):
		return &SMTPSendError{Type: model.ErrTypeTimeout, Message: "connection timed out"}
	case stage == "auth":
		return &SMTPSendError{Type: model.ErrTypeAuth, Message: err.Error()}
	case stage == "dial" || stage == "greeting" || isDialError(err):
		return &SMTPSendError{Type: model.ErrTypeConnection, Message: err.Error()}
	default:
		return &SMTPSendError{Type: model.ErrTypeSMTP, Message: err.Error()}
	}
}
