// Package idempotency records which provider transactions have been
// processed so retries and duplicate deliveries never credit twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"affiliatehub/internal/sale"
)

// Status is the processing state of a provider transaction.
type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusCredited           Status = "credited"
	StatusIgnoredNoAffiliate Status = "ignored_no_affiliate"
	StatusRejectedInvalid    Status = "rejected_invalid"
	// StatusFailed marks a claim released after a transient failure; the
	// next delivery may take it over.
	StatusFailed Status = "failed"
)

// IsFinal reports whether no further processing will happen.
func (s Status) IsFinal() bool {
	return s == StatusCredited || s == StatusIgnoredNoAffiliate || s == StatusRejectedInvalid
}

var (
	ErrNotClaimed    = errors.New("transaction is not claimed")
	ErrInvalidStatus = errors.New("invalid final status")
)

// Record is a processed-transaction row.
type Record struct {
	Key         sale.Key       `json:"key"`
	Status      Status         `json:"status"`
	TrustTier   sale.TrustTier `json:"trust_tier"`
	AffiliateID string         `json:"affiliate_id,omitempty"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Claim is the outcome of ClaimOrGetExisting. When Claimed is false the
// caller must not mutate balances and Record holds the existing row.
type Claim struct {
	Claimed bool
	// Resumed is set when a failed or stale claim was taken over.
	Resumed bool
	Record  *Record
}

// Store persists processed-transaction records. Claim must be atomic:
// for a key, at most one concurrent caller observes Claimed.
type Store interface {
	Claim(ctx context.Context, key sale.Key, tier sale.TrustTier, now, staleBefore time.Time) (Claim, error)
	Finalize(ctx context.Context, key sale.Key, status Status, affiliateID string, now time.Time) error
	Release(ctx context.Context, key sale.Key, cause string, now time.Time) error
	Get(ctx context.Context, key sale.Key) (*Record, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Record, error)
}

// Ledger is the idempotency gate in front of the crediting pipeline.
type Ledger struct {
	store      Store
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewLedger creates a Ledger. In-progress claims older than staleAfter are
// eligible for takeover.
func NewLedger(store Store, staleAfter time.Duration, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, staleAfter: staleAfter, now: time.Now, logger: logger}
}

// ClaimOrGetExisting atomically claims the event's key, or returns the
// existing record.
func (l *Ledger) ClaimOrGetExisting(ctx context.Context, ev *sale.Event) (Claim, error) {
	now := l.now().UTC()
	claim, err := l.store.Claim(ctx, ev.Key(), ev.TrustTier, now, now.Add(-l.staleAfter))
	if err != nil {
		return Claim{}, fmt.Errorf("claiming %s: %w", ev.Key(), err)
	}
	if claim.Resumed {
		l.logger.Warn("resuming abandoned claim",
			"key", ev.Key().String(),
			"attempts", claim.Record.Attempts,
		)
	}
	return claim, nil
}

// Finalize records the terminal outcome of a claimed transaction.
func (l *Ledger) Finalize(ctx context.Context, key sale.Key, status Status, affiliateID string) error {
	if !status.IsFinal() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if err := l.store.Finalize(ctx, key, status, affiliateID, l.now().UTC()); err != nil {
		return fmt.Errorf("finalizing %s: %w", key, err)
	}
	return nil
}

// Release hands a claim back after a transient failure so a retry can
// resume it.
func (l *Ledger) Release(ctx context.Context, key sale.Key, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := l.store.Release(ctx, key, msg, l.now().UTC()); err != nil {
		return fmt.Errorf("releasing %s: %w", key, err)
	}
	return nil
}

// Get returns the record for key.
func (l *Ledger) Get(ctx context.Context, key sale.Key) (*Record, error) {
	return l.store.Get(ctx, key)
}

// ListStale returns in-progress claims older than the stale threshold,
// oldest first, for reconciliation.
func (l *Ledger) ListStale(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.ListStale(ctx, l.now().UTC().Add(-l.staleAfter), limit)
}
