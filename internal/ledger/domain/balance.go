package domain

import (
	"errors"
	"fmt"
	"time"

	"affiliatehub/internal/common/money"
)

var (
	// ErrInsufficientBalance means a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrVersionConflict means the balance changed between read and write.
	ErrVersionConflict = errors.New("balance version conflict")
	// ErrConcurrencyConflict means version conflicts persisted past the retry budget.
	ErrConcurrencyConflict = errors.New("balance update conflicted too many times")
	// ErrAlreadyApplied means the entry or commission reference was already recorded.
	ErrAlreadyApplied = errors.New("ledger reference already applied")
	// ErrInvalidAmount means a mutation amount was not positive.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Balance is a user's withdrawable funds. Version increases by one on
// every successful mutation; a balance that was never written has version 0.
type Balance struct {
	OwnerID   string      `json:"user_id"`
	Available money.Money `json:"available"`
	Version   int64       `json:"version"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewBalance returns the implicit zero balance of an owner.
func NewBalance(ownerID string, currency money.Currency) *Balance {
	return &Balance{OwnerID: ownerID, Available: money.Zero(currency)}
}

// Credit returns the balance after adding amount.
func (b *Balance) Credit(amount money.Money, at time.Time) (*Balance, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	next, err := b.Available.Add(amount)
	if err != nil {
		return nil, err
	}
	return &Balance{OwnerID: b.OwnerID, Available: next, Version: b.Version + 1, UpdatedAt: at}, nil
}

// Debit returns the balance after subtracting amount. It never clamps:
// an amount above the available balance is an error.
func (b *Balance) Debit(amount money.Money, at time.Time) (*Balance, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	next, err := b.Available.Sub(amount)
	if err != nil {
		return nil, err
	}
	if next.IsNegative() {
		return nil, fmt.Errorf("%w: available %s, requested %s", ErrInsufficientBalance, b.Available, amount)
	}
	return &Balance{OwnerID: b.OwnerID, Available: next, Version: b.Version + 1, UpdatedAt: at}, nil
}

// Mutation is one atomic balance change: the new balance state, written
// only if the stored version still equals ExpectedVersion, plus the journal
// entry and optional commission recorded with it.
type Mutation struct {
	Balance         *Balance
	ExpectedVersion int64
	Entry           *Entry
	Commission      *Commission
}
