// Package ledger keeps user balances and the journal of entries behind
// them. Every mutation is a version compare-and-set with bounded retry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/events"
	"affiliatehub/internal/common/money"
	"affiliatehub/internal/ledger/domain"
)

// Store persists balances, entries and commissions.
type Store interface {
	GetBalance(ctx context.Context, ownerID string) (*domain.Balance, error)
	// Apply writes the mutation atomically, or returns domain.ErrVersionConflict
	// or domain.ErrAlreadyApplied without writing anything.
	Apply(ctx context.Context, m *domain.Mutation) error
	ListEntries(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Entry, error)
	ListCommissions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Commission, error)
	GetCommission(ctx context.Context, provider, providerTransactionID string) (*domain.Commission, error)
}

// Service provides ledger operations
type Service struct {
	store    Store
	currency money.Currency
	retry    database.RetryPolicy
	notifier *events.Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a new ledger service. Balances are held in currency.
func NewService(store Store, currency money.Currency, retry database.RetryPolicy, notifier *events.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		currency: currency,
		retry:    retry,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
	}
}

// Currency returns the currency balances are held in.
func (s *Service) Currency() money.Currency {
	return s.currency
}

// PostingRequest describes a single-sided balance change.
type PostingRequest struct {
	OwnerID    string
	Amount     money.Money
	SourceType domain.SourceType
	Reference  string
}

func (r PostingRequest) validate(currency money.Currency) error {
	if r.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if r.SourceType == "" || r.Reference == "" {
		return errors.New("source type and reference are required")
	}
	if r.Amount.Currency != currency {
		return fmt.Errorf("%w: ledger holds %s, got %s", money.ErrCurrencyMismatch, currency, r.Amount.Currency)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, r.Amount)
	}
	return nil
}

// Credit adds funds. Replaying the same (source type, reference) returns
// domain.ErrAlreadyApplied and changes nothing.
func (s *Service) Credit(ctx context.Context, req PostingRequest) (*domain.Entry, error) {
	if err := req.validate(s.currency); err != nil {
		return nil, err
	}
	return s.mutate(ctx, req, domain.EntryTypeCredit, nil)
}

// Debit removes funds. A debit larger than the available balance fails
// with domain.ErrInsufficientBalance; it is never clamped.
func (s *Service) Debit(ctx context.Context, req PostingRequest) (*domain.Entry, error) {
	if err := req.validate(s.currency); err != nil {
		return nil, err
	}
	return s.mutate(ctx, req, domain.EntryTypeDebit, nil)
}

// CreditCommission records c and credits its amount to c.OwnerID in one
// atomic step. A commission whose sale was already credited returns
// domain.ErrAlreadyApplied.
func (s *Service) CreditCommission(ctx context.Context, c *domain.Commission) (*domain.Entry, error) {
	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	req := PostingRequest{
		OwnerID:    c.OwnerID,
		Amount:     c.Amount,
		SourceType: domain.SourceTypeCommission,
		Reference:  c.SaleReference,
	}
	if err := req.validate(s.currency); err != nil {
		return nil, err
	}

	entry, err := s.mutate(ctx, req, domain.EntryTypeCredit, c)
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, events.EventCommissionCredited, "commission", c.ID, events.CommissionCreditedData{
		CommissionID:          c.ID,
		AffiliateID:           c.AffiliateID,
		UserID:                c.OwnerID,
		Provider:              c.Provider,
		ProviderTransactionID: c.ProviderTransactionID,
		AmountMinor:           c.Amount.AmountMinor,
		Currency:              string(c.Amount.Currency),
		Rate:                  c.RateApplied.String(),
	})
	return entry, nil
}

// mutate runs read-compute-CAS until the write lands, a non-conflict error
// occurs, or the retry budget is spent.
func (s *Service) mutate(ctx context.Context, req PostingRequest, entryType domain.EntryType, commission *domain.Commission) (*domain.Entry, error) {
	var (
		entry    *domain.Entry
		next     *domain.Balance
		attempts int
	)

	err := database.Retry(ctx, s.retry, isVersionConflict, func() error {
		attempts++
		current, err := s.loadBalance(ctx, req.OwnerID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if entryType == domain.EntryTypeCredit {
			next, err = current.Credit(req.Amount, now)
		} else {
			next, err = current.Debit(req.Amount, now)
		}
		if err != nil {
			return err
		}

		entry = &domain.Entry{
			ID:           ulid.Make().String(),
			OwnerID:      req.OwnerID,
			EntryType:    entryType,
			SourceType:   req.SourceType,
			Reference:    req.Reference,
			Amount:       req.Amount,
			BalanceAfter: next.Available.AmountMinor,
			CreatedAt:    now,
		}
		return s.store.Apply(ctx, &domain.Mutation{
			Balance:         next,
			ExpectedVersion: current.Version,
			Entry:           entry,
			Commission:      commission,
		})
	})
	if err != nil {
		if isVersionConflict(err) {
			s.logger.Warn("balance update abandoned after repeated conflicts",
				"user_id", req.OwnerID,
				"reference", req.Reference,
				"attempts", attempts,
			)
			return nil, fmt.Errorf("%w: %s after %d attempts", domain.ErrConcurrencyConflict, req.OwnerID, attempts)
		}
		return nil, err
	}

	s.logger.Info("balance updated",
		"user_id", req.OwnerID,
		"entry_type", entryType,
		"source_type", req.SourceType,
		"reference", req.Reference,
		"amount", req.Amount.AmountMinor,
		"available", next.Available.AmountMinor,
		"version", next.Version,
	)

	s.notifier.Notify(ctx, events.EventBalanceChanged, "balance", req.OwnerID, events.BalanceChangedData{
		UserID:         req.OwnerID,
		EntryType:      string(entryType),
		SourceType:     string(req.SourceType),
		Reference:      req.Reference,
		AmountMinor:    req.Amount.AmountMinor,
		AvailableMinor: next.Available.AmountMinor,
		Currency:       string(next.Available.Currency),
		Version:        next.Version,
	})
	return entry, nil
}

func isVersionConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict) || database.IsSerializationFailure(err)
}

func (s *Service) loadBalance(ctx context.Context, ownerID string) (*domain.Balance, error) {
	b, err := s.store.GetBalance(ctx, ownerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return domain.NewBalance(ownerID, s.currency), nil
		}
		return nil, err
	}
	return b, nil
}

// GetBalance returns the owner's balance; owners never credited have a
// zero balance at version 0.
func (s *Service) GetBalance(ctx context.Context, ownerID string) (*domain.Balance, error) {
	return s.loadBalance(ctx, ownerID)
}

// ListEntries lists an owner's journal, newest first
func (s *Service) ListEntries(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Entry, error) {
	return s.store.ListEntries(ctx, ownerID, clampLimit(limit), offset)
}

// ListCommissions lists an owner's credited commissions, newest first
func (s *Service) ListCommissions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Commission, error) {
	return s.store.ListCommissions(ctx, ownerID, clampLimit(limit), offset)
}

// CommissionForTransaction returns the commission already credited for a
// provider transaction, or database.ErrNotFound.
func (s *Service) CommissionForTransaction(ctx context.Context, provider, providerTransactionID string) (*domain.Commission, error) {
	return s.store.GetCommission(ctx, provider, providerTransactionID)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
