package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var (
	// ErrIMAPTransient marks connect and TLS failures that may be retried
	ErrIMAPTransient = errors.New("imap transient failure")
	// ErrIMAPAuth marks rejected credentials
	ErrIMAPAuth = errors.New("imap authentication failed")
)

// IMAPMessage is a message matched by a search
type IMAPMessage struct {
	UID          string
	InternalDate time.Time
}

// IMAPSession is an authenticated session with the configured folder selected
type IMAPSession interface {
	SearchRecent(ctx context.Context, subject string, maxAge time.Duration) ([]IMAPMessage, error)
	DeleteMessages(ctx context.Context, uids []string) error
	Close() error
}

// IMAPDialer opens a session against host
type IMAPDialer func(ctx context.Context, host string, cfg model.IMAPConfig) (IMAPSession, error)

// IMAPExecutor verifies that a recent message with a known subject arrived in a mailbox
type IMAPExecutor struct {
	dial IMAPDialer
	now  func() time.Time
}

// NewIMAPExecutor creates an IMAP executor; a nil dialer uses go-imap
func NewIMAPExecutor(dial IMAPDialer) *IMAPExecutor {
	if dial == nil {
		dial = DialIMAP
	}
	return &IMAPExecutor{dial: dial, now: time.Now}
}

// Execute executes an imap check
func (e *IMAPExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParseIMAPConfig(check.Data, check.URL)
	if err != nil {
		return configError(check, err)
	}

	result, _ := runAttempts(ctx, cfg.Retries+1, cfg.RetryDelayDuration(), func(ctx context.Context, attempt int) (model.Result, bool) {
		r, err := e.runOnce(ctx, check, cfg)
		if err == nil {
			return r, false
		}

		switch {
		case errors.Is(err, ErrIMAPTransient):
			r = model.NewErrorResult(check.CheckID, model.ErrTypeTransientFailure, err.Error())
			r.Data["attempts"] = attempt
			return r, true
		case errors.Is(err, ErrIMAPAuth):
			r = model.NewErrorResult(check.CheckID, model.ErrTypeAuth, err.Error())
		default:
			r = model.NewErrorResult(check.CheckID, model.ErrTypeExecution, err.Error())
		}
		r.Data["attempts"] = attempt
		return r, false
	})
	return result
}

func (e *IMAPExecutor) runOnce(ctx context.Context, check model.Check, cfg model.IMAPConfig) (model.Result, error) {
	session, err := e.dial(ctx, cfg.Host, cfg)
	if err != nil {
		return model.Result{}, err
	}
	defer session.Close()

	messages, err := session.SearchRecent(ctx, cfg.SearchSubject, cfg.MaxAge())
	if err != nil {
		return model.Result{}, err
	}

	cutoff := e.now().Add(-cfg.MaxAge())
	recent := messages[:0]
	for _, m := range messages {
		if !m.InternalDate.Before(cutoff) {
			recent = append(recent, m)
		}
	}
	if len(recent) == 0 {
		r := model.NewErrorResult(check.CheckID, model.ErrTypeNoRecentMessage,
			fmt.Sprintf("No messages with subject '%s' within %d minutes", cfg.SearchSubject, cfg.MaxAgeMinutes))
		r.Data["attempts"] = 1
		return r, nil
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].InternalDate.Before(recent[j].InternalDate) })
	uids := make([]string, len(recent))
	for i, m := range recent {
		uids[i] = m.UID
	}

	if cfg.DeleteAfterCheck {
		if err := session.DeleteMessages(ctx, uids); err != nil {
			return model.Result{}, err
		}
	}

	return model.NewResult(check.CheckID, model.ResultStatusOK, map[string]any{
		"matched_ids":         uids,
		"latest_internaldate": recent[len(recent)-1].InternalDate.UTC().Format(time.RFC3339),
	}), nil
}

// Close is a no-op; sessions are closed per attempt
func (e *IMAPExecutor) Close() error { return nil }

// goIMAPSession adapts an emersion/go-imap client
type goIMAPSession struct {
	c *client.Client
}

// DialIMAP connects with the configured TLS mode, logs in and selects the folder
func DialIMAP(ctx context.Context, host string, cfg model.IMAPConfig) (IMAPSession, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.TimeoutDuration()}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	tlsConfig := &tls.Config{ServerName: host}

	var c *client.Client
	var err error
	if cfg.TLSMode == model.TLSModeImplicit {
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrIMAPTransient, addr, err)
	}
	c.Timeout = cfg.TimeoutDuration()

	if cfg.TLSMode == model.TLSModeStartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("%w: STARTTLS failed: %v", ErrIMAPTransient, err)
		}
	}

	if err := c.Login(cfg.Username, cfg.ResolvedPassword()); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrIMAPAuth, err)
	}

	if _, err := c.Select(cfg.Folder, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select folder %s: %w", cfg.Folder, err)
	}

	return &goIMAPSession{c: c}, nil
}

func (s *goIMAPSession) SearchRecent(ctx context.Context, subject string, maxAge time.Duration) ([]IMAPMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", subject)
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	// SINCE has day granularity; exact filtering happens on INTERNALDATE
	criteria.Since = time.Now().Add(-maxAge).Truncate(24 * time.Hour)

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	fetched := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, fetched)
	}()

	var messages []IMAPMessage
	for msg := range fetched {
		messages = append(messages, IMAPMessage{
			UID:          strconv.FormatUint(uint64(msg.Uid), 10),
			InternalDate: msg.InternalDate,
		})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return messages, nil
}

func (s *goIMAPSession) DeleteMessages(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	for _, raw := range uids {
		uid, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid uid %q: %w", raw, err)
		}
		seqset.AddNum(uint32(uid))
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("store failed: %w", err)
	}
	if err := s.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge failed: %w", err)
	}
	return nil
}

func (s *goIMAPSession) Close() error {
	return s.c.Logout()
}
