package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/money"
	"affiliatehub/internal/ledger/domain"
	"affiliatehub/internal/ledger/store"
)

func newTestService(t *testing.T, maxAttempts int) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(mem, money.USD, database.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Microsecond}, nil, logger)
	return svc, mem
}

func usd(minor int64) money.Money {
	return money.New(minor, money.USD)
}

func credit(t *testing.T, svc *Service, owner string, minor int64, ref string) {
	t.Helper()
	if _, err := svc.Credit(context.Background(), PostingRequest{
		OwnerID: owner, Amount: usd(minor), SourceType: domain.SourceTypeAdjustment, Reference: ref,
	}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func TestDebitExactBalanceSucceedsAndOverdraftIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 4)
	credit(t, svc, "u1", 5000, "seed")

	_, err := svc.Debit(ctx, PostingRequest{OwnerID: "u1", Amount: usd(5001), SourceType: domain.SourceTypeWithdrawal, Reference: "w1"})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraft err = %v", err)
	}
	b, _ := svc.GetBalance(ctx, "u1")
	if b.Available.AmountMinor != 5000 || b.Version != 1 {
		t.Fatalf("balance after rejected debit = %+v", b)
	}

	entry, err := svc.Debit(ctx, PostingRequest{OwnerID: "u1", Amount: usd(5000), SourceType: domain.SourceTypeWithdrawal, Reference: "w2"})
	if err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	if entry.BalanceAfter != 0 {
		t.Errorf("BalanceAfter = %d", entry.BalanceAfter)
	}
	b, _ = svc.GetBalance(ctx, "u1")
	if !b.Available.IsZero() || b.Version != 2 {
		t.Errorf("balance = %+v", b)
	}
}

func TestUnknownOwnerHasZeroBalance(t *testing.T) {
	svc, _ := newTestService(t, 4)
	b, err := svc.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available.IsZero() || b.Version != 0 || b.Available.Currency != money.USD {
		t.Errorf("balance = %+v", b)
	}
}

func TestCreditReplayIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 4)
	credit(t, svc, "u1", 100, "ref-1")

	_, err := svc.Credit(ctx, PostingRequest{OwnerID: "u1", Amount: usd(100), SourceType: domain.SourceTypeAdjustment, Reference: "ref-1"})
	if !errors.Is(err, domain.ErrAlreadyApplied) {
		t.Fatalf("replay err = %v", err)
	}
	b, _ := svc.GetBalance(ctx, "u1")
	if b.Available.AmountMinor != 100 {
		t.Errorf("available = %d", b.Available.AmountMinor)
	}
}

func TestPostingValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 4)

	if _, err := svc.Credit(ctx, PostingRequest{OwnerID: "u1", Amount: money.New(100, money.EUR), SourceType: domain.SourceTypeAdjustment, Reference: "r"}); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Errorf("currency err = %v", err)
	}
	if _, err := svc.Debit(ctx, PostingRequest{OwnerID: "u1", Amount: usd(0), SourceType: domain.SourceTypeWithdrawal, Reference: "r"}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount err = %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	// Every conflict means another debit landed, and at most ten can land,
	// so eleven attempts are always enough.
	svc, _ := newTestService(t, 11)
	credit(t, svc, "u1", 1000, "seed")

	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int64
		insufficient atomic.Int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, PostingRequest{
				OwnerID: "u1", Amount: usd(100), SourceType: domain.SourceTypeWithdrawal, Reference: fmt.Sprintf("w%d", i),
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				t.Errorf("debit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 10 || insufficient.Load() != 15 {
		t.Errorf("succeeded=%d insufficient=%d", succeeded.Load(), insufficient.Load())
	}
	b, _ := svc.GetBalance(ctx, "u1")
	if b.Available.AmountMinor != 0 || b.Version != 11 {
		t.Errorf("balance = %+v", b)
	}
}

func TestConcurrentDuplicateCommissionCreditsOnce(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, 4)

	var (
		wg      sync.WaitGroup
		applied atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreditCommission(ctx, &domain.Commission{
				AffiliateID:           "aff-7",
				OwnerID:               "user-7",
				SaleReference:         "hotmart:TX1",
				Provider:              "hotmart",
				ProviderTransactionID: "TX1",
				Gross:                 usd(1999),
				RateApplied:           decimal.RequireFromString("0.10"),
				Amount:                usd(200),
			})
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, domain.ErrAlreadyApplied):
			default:
				t.Errorf("CreditCommission: %v", err)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Fatalf("applied %d times", applied.Load())
	}
	b, _ := svc.GetBalance(ctx, "user-7")
	if b.Available.AmountMinor != 200 {
		t.Errorf("available = %d", b.Available.AmountMinor)
	}
	commissions, _ := mem.ListCommissions(ctx, "user-7", 10, 0)
	if len(commissions) != 1 || commissions[0].RateApplied.String() != "0.1" {
		t.Errorf("commissions = %+v", commissions)
	}
	entries, _ := svc.ListEntries(ctx, "user-7", 10, 0)
	if len(entries) != 1 || entries[0].SourceType != domain.SourceTypeCommission {
		t.Errorf("entries = %+v", entries)
	}
}

type conflictingStore struct {
	*store.Memory
	calls atomic.Int64
}

func (s *conflictingStore) Apply(context.Context, *domain.Mutation) error {
	s.calls.Add(1)
	return domain.ErrVersionConflict
}

func TestPersistentConflictSurfacesAfterBudget(t *testing.T) {
	cs := &conflictingStore{Memory: store.NewMemory()}
	svc := NewService(cs, money.USD, database.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Microsecond}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Credit(context.Background(), PostingRequest{OwnerID: "u1", Amount: usd(1), SourceType: domain.SourceTypeAdjustment, Reference: "r"})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("err = %v", err)
	}
	if cs.calls.Load() != 4 {
		t.Errorf("Apply called %d times, want 4", cs.calls.Load())
	}
}
