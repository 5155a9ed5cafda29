package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/sale"
)

func newTestLedger() (*Ledger, *time.Time) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewLedger(NewMemoryStore(), 5*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.now = func() time.Time { return now }
	return l, &now
}

func testEvent() *sale.Event {
	return &sale.Event{
		Provider:              "hotmart",
		ProviderTransactionID: "TX1",
		Kind:                  sale.KindPurchaseApproved,
		Amount:                money.New(1999, money.BRL),
		TrustTier:             sale.TrustSecret,
	}
}

func TestConcurrentClaimsYieldOneWinner(t *testing.T) {
	l, _ := newTestLedger()
	ev := testEvent()

	const n = 50
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := l.ClaimOrGetExisting(context.Background(), ev)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claim.Claimed {
				winners.Add(1)
			} else if claim.Record.Status != StatusInProgress {
				t.Errorf("loser saw status %q", claim.Record.Status)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("winners = %d, want 1", winners.Load())
	}
}

func TestFinalizedClaimIsReturnedToLaterDeliveries(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	ev := testEvent()

	claim, err := l.ClaimOrGetExisting(ctx, ev)
	if err != nil || !claim.Claimed {
		t.Fatalf("first claim = %+v, %v", claim, err)
	}
	if err := l.Finalize(ctx, ev.Key(), StatusCredited, "aff-7"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	again, err := l.ClaimOrGetExisting(ctx, ev)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again.Claimed {
		t.Fatal("finalized transaction must not be claimable")
	}
	if again.Record.Status != StatusCredited || again.Record.AffiliateID != "aff-7" {
		t.Errorf("record = %+v", again.Record)
	}
}

func TestDistinctEventKindsAreDistinctKeys(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	approved := testEvent()
	complete := testEvent()
	complete.Kind = sale.KindPurchaseComplete

	for _, ev := range []*sale.Event{approved, complete} {
		claim, err := l.ClaimOrGetExisting(ctx, ev)
		if err != nil || !claim.Claimed {
			t.Fatalf("claim %s = %+v, %v", ev.Kind, claim, err)
		}
	}
}

func TestReleasedClaimCanBeResumed(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	ev := testEvent()

	if _, err := l.ClaimOrGetExisting(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(ctx, ev.Key(), errors.New("db timeout")); err != nil {
		t.Fatalf("Release: %v", err)
	}

	rec, err := l.Get(ctx, ev.Key())
	if err != nil || rec.Status != StatusFailed || rec.LastError != "db timeout" {
		t.Fatalf("record = %+v, %v", rec, err)
	}

	claim, err := l.ClaimOrGetExisting(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if !claim.Claimed || !claim.Resumed || claim.Record.Attempts != 2 {
		t.Errorf("claim = %+v, record = %+v", claim, claim.Record)
	}
}

func TestStaleInProgressClaimIsTakenOver(t *testing.T) {
	l, now := newTestLedger()
	ctx := context.Background()
	ev := testEvent()

	if _, err := l.ClaimOrGetExisting(ctx, ev); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(time.Minute)
	if claim, _ := l.ClaimOrGetExisting(ctx, ev); claim.Claimed {
		t.Fatal("fresh in-progress claim must not be taken over")
	}

	stale, err := l.ListStale(ctx, 10)
	if err != nil || len(stale) != 0 {
		t.Fatalf("stale = %v, %v", stale, err)
	}

	*now = now.Add(10 * time.Minute)
	stale, err = l.ListStale(ctx, 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale = %v, %v", stale, err)
	}

	claim, err := l.ClaimOrGetExisting(ctx, ev)
	if err != nil || !claim.Claimed || !claim.Resumed {
		t.Fatalf("takeover = %+v, %v", claim, err)
	}
}

func TestFinalizeRequiresClaimAndFinalStatus(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	ev := testEvent()

	if err := l.Finalize(ctx, ev.Key(), StatusCredited, ""); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("unclaimed finalize err = %v", err)
	}
	if err := l.Finalize(ctx, ev.Key(), StatusFailed, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("non-final status err = %v", err)
	}
}
