package model

import "testing"

func TestCheckLifecycle(t *testing.T) {
	c := &Check{CheckID: 1, CheckType: CheckTypeHTTP, CheckInterval: 300, NextCheckTime: 100}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Data == nil {
		t.Fatalf("Validate should default data to an empty map")
	}
	if !c.IsDue(100) {
		t.Fatalf("expected check to be due")
	}

	if err := c.Claim(150); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if c.Status != CheckStatusProcessing || c.ProcessingStartedAt != 150 {
		t.Fatalf("unexpected state after claim: %+v", c)
	}
	if err := c.Claim(151); err != ErrCheckNotIdle {
		t.Fatalf("second claim should fail with ErrCheckNotIdle, got %v", err)
	}
	if c.IsDue(1000) {
		t.Fatalf("processing check must not be due")
	}

	c.Complete(200)
	if c.Status != CheckStatusIdle || c.ProcessingStartedAt != 0 || c.NextCheckTime != 500 {
		t.Fatalf("unexpected state after complete: %+v", c)
	}
}

func TestDisabledCheckIsNeverClaimable(t *testing.T) {
	c := &Check{CheckID: 2, CheckType: CheckTypeDNS, CheckInterval: 60, Disabled: true}
	if c.IsDue(1 << 40) {
		t.Fatalf("disabled check must never be due")
	}
	if err := c.Claim(10); err != ErrCheckDisabled {
		t.Fatalf("expected ErrCheckDisabled, got %v", err)
	}
}

func TestNormalizeLegacyRow(t *testing.T) {
	c := &Check{CheckID: 3, Status: "", ProcessingStartedAt: 99}
	c.Normalize()
	if c.Status != CheckStatusIdle || c.ProcessingStartedAt != 0 || c.Data == nil {
		t.Fatalf("legacy row not normalised: %+v", c)
	}

	stale := &Check{CheckID: 4, Status: CheckStatusProcessing}
	stale.Normalize()
	if stale.Status != CheckStatusIdle || !stale.IsDue(0) {
		t.Fatalf("processing row without a start time should be claimable: %+v", stale)
	}

	claimed := &Check{CheckID: 5, Status: CheckStatusProcessing, ProcessingStartedAt: 42}
	claimed.Normalize()
	if claimed.Status != CheckStatusProcessing || claimed.ProcessingStartedAt != 42 {
		t.Fatalf("an active claim must survive normalisation: %+v", claimed)
	}
}

func TestEventsDrainInOrder(t *testing.T) {
	c := &Check{CheckID: 4}
	c.Record(CheckSucceeded{CheckID: 4, ResultID: "a"})
	c.Record(CheckFailed{CheckID: 4, ResultID: "b"})
	events := c.PopEvents()
	if len(events) != 2 || events[0].EventName() != "check_succeeded" || events[1].EventName() != "check_failed" {
		t.Fatalf("unexpected events: %v", events)
	}
	if len(c.PopEvents()) != 0 {
		t.Fatalf("events should be drained")
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		in   []ResultStatus
		want ServiceStatus
	}{
		{nil, ServiceStatusUnknown},
		{[]ResultStatus{ResultStatusOK, ResultStatusOK}, ServiceStatusOK},
		{[]ResultStatus{ResultStatusOK, ResultStatusWarning}, ServiceStatusWarning},
		{[]ResultStatus{ResultStatusWarning, ResultStatusError}, ServiceStatusError},
	}
	for _, tt := range tests {
		if got := AggregateStatus(tt.in); got != tt.want {
			t.Errorf("AggregateStatus(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
