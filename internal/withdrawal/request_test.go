package withdrawal

import (
	"errors"
	"testing"
	"time"

	"affiliatehub/internal/common/money"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusCompleted, true},
		{StatusPending, StatusCompleted, false},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusRejected, StatusPending, false},
		{StatusCompleted, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusApproved, StatusRejected, StatusCompleted} {
		if s.IsTerminal() != (len(transitions[s]) == 0) {
			t.Errorf("%s: IsTerminal = %v but has %d transitions", s, s.IsTerminal(), len(transitions[s]))
		}
	}
}

func TestNewRequestValidation(t *testing.T) {
	now := time.Now()
	if _, err := NewRequest("w1", "u1", money.New(0, money.USD), MethodPix, nil, now); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := NewRequest("w1", "u1", money.New(100, money.USD), Method("cheque"), nil, now); err == nil {
		t.Error("expected error for unknown method")
	}
	if _, err := NewRequest("w1", "", money.New(100, money.USD), MethodPix, nil, now); err == nil {
		t.Error("expected error for missing user")
	}
	r, err := NewRequest("w1", "u1", money.New(100, money.USD), MethodPayPal, nil, now)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}
}

func TestApplyRecordsDecisionFields(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r, err := NewRequest("w1", "u1", money.New(5000, money.USD), MethodPix, nil, created)
	if err != nil {
		t.Fatal(err)
	}

	at := created.Add(time.Hour)
	if err := r.apply(Change{From: StatusPending, To: StatusRejected, DecidedBy: "admin", At: at}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if r.DecidedBy != "admin" || r.ProcessedAt == nil || !r.ProcessedAt.Equal(at) {
		t.Errorf("rejected request = %+v", r)
	}

	// a rejected request may only go back to pending
	err = r.apply(Change{From: StatusRejected, To: StatusApproved, At: at})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := r.apply(Change{From: StatusRejected, To: StatusPending, At: at}); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if r.DecidedBy != "" || r.ProcessedAt != nil {
		t.Errorf("reverted request kept decision fields: %+v", r)
	}

	err = r.apply(Change{From: StatusApproved, To: StatusCompleted, At: at})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stale From should fail, got %v", err)
	}
}
