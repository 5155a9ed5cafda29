package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryIsBounded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond},
		func(err error) bool { return true },
		func() error {
			calls++
			return errTransient
		})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want errTransient", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetryReturnsNonRetryableImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) },
		func() error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/app":   "pgx5://u:p@db:5432/app",
		"postgresql://u:p@db:5432/app": "pgx5://u:p@db:5432/app",
		"pgx5://db/app":                "pgx5://db/app",
	}
	for in, want := range tests {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
