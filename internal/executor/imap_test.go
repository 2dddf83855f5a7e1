package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

type fakeIMAPSession struct {
	messages []IMAPMessage
	deleted  []string
	closed   bool
}

func (s *fakeIMAPSession) SearchRecent(ctx context.Context, subject string, maxAge time.Duration) ([]IMAPMessage, error) {
	return s.messages, nil
}

func (s *fakeIMAPSession) DeleteMessages(ctx context.Context, uids []string) error {
	s.deleted = append(s.deleted, uids...)
	return nil
}

func (s *fakeIMAPSession) Close() error {
	s.closed = true
	return nil
}

func imapCheck(extra map[string]any) model.Check {
	data := map[string]any{
		"username":       "probe",
		"password":       "secret",
		"search_subject": "[nyxmon]",
		"retry_delay":    0,
	}
	for k, v := range extra {
		data[k] = v
	}
	return model.Check{CheckID: 21, CheckType: model.CheckTypeIMAP, URL: "imaps://mail.example.com", Data: data}
}

func TestIMAPExecutorMatchesAndDeletes(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	session := &fakeIMAPSession{messages: []IMAPMessage{
		{UID: "9", InternalDate: now.Add(-5 * time.Minute)},
		{UID: "3", InternalDate: now.Add(-20 * time.Minute)},
		{UID: "1", InternalDate: now.Add(-2 * time.Hour)},
	}}
	var dialedHost string
	exec := NewIMAPExecutor(func(ctx context.Context, host string, cfg model.IMAPConfig) (IMAPSession, error) {
		dialedHost = host
		return session, nil
	})
	exec.now = func() time.Time { return now }

	r := exec.Execute(context.Background(), imapCheck(nil))
	if r.Status != model.ResultStatusOK {
		t.Fatalf("expected ok, got %+v", r)
	}
	if dialedHost != "mail.example.com" {
		t.Errorf("expected host from url, got %q", dialedHost)
	}
	ids, _ := r.Data["matched_ids"].([]string)
	if fmt.Sprint(ids) != "[3 9]" {
		t.Fatalf("matched_ids = %v, want [3 9]", ids)
	}
	if r.Data["latest_internaldate"] != "2026-05-01T09:55:00Z" {
		t.Errorf("latest_internaldate = %v", r.Data["latest_internaldate"])
	}
	if fmt.Sprint(session.deleted) != "[3 9]" {
		t.Errorf("expected matched messages deleted, got %v", session.deleted)
	}
	if !session.closed {
		t.Errorf("session should be closed")
	}
}

func TestIMAPExecutorNoRecentMessage(t *testing.T) {
	session := &fakeIMAPSession{}
	dials := 0
	exec := NewIMAPExecutor(func(ctx context.Context, host string, cfg model.IMAPConfig) (IMAPSession, error) {
		dials++
		return session, nil
	})

	r := exec.Execute(context.Background(), imapCheck(map[string]any{"delete_after_check": false}))
	if r.ErrorType() != model.ErrTypeNoRecentMessage {
		t.Fatalf("expected no_recent_message, got %+v", r)
	}
	if dials != 1 {
		t.Fatalf("no_recent_message must not be retried, dialed %d times", dials)
	}
}

func TestIMAPExecutorTransientFailuresAreRetried(t *testing.T) {
	dials := 0
	exec := NewIMAPExecutor(func(ctx context.Context, host string, cfg model.IMAPConfig) (IMAPSession, error) {
		dials++
		return nil, fmt.Errorf("%w: connection refused", ErrIMAPTransient)
	})

	r := exec.Execute(context.Background(), imapCheck(map[string]any{"retries": 2}))
	if r.ErrorType() != model.ErrTypeTransientFailure {
		t.Fatalf("expected transient_failure, got %+v", r)
	}
	if dials != 3 || r.Data["attempts"] != 3 {
		t.Fatalf("expected 3 attempts, dialed %d, data %+v", dials, r.Data)
	}
}

func TestIMAPExecutorAuthAndExecutionErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: invalid credentials", ErrIMAPAuth), model.ErrTypeAuth},
		{errors.New("select failed"), model.ErrTypeExecution},
	}
	for _, tt := range tests {
		dials := 0
		exec := NewIMAPExecutor(func(ctx context.Context, host string, cfg model.IMAPConfig) (IMAPSession, error) {
			dials++
			return nil, tt.err
		})
		r := exec.Execute(context.Background(), imapCheck(nil))
		if r.ErrorType() != tt.want || dials != 1 {
			t.Errorf("err %v: got %s after %d dials, want %s after 1", tt.err, r.ErrorType(), dials, tt.want)
		}
	}
}
