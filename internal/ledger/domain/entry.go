package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"affiliatehub/internal/common/money"
)

// EntryType represents the direction of a ledger entry
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// SourceType represents what caused a ledger entry
type SourceType string

const (
	SourceTypeCommission       SourceType = "commission"
	SourceTypeWithdrawal       SourceType = "withdrawal"
	SourceTypeWithdrawalRefund SourceType = "withdrawal_refund"
	SourceTypeAdjustment       SourceType = "adjustment"
)

// Entry is an immutable journal line. (SourceType, Reference) is unique,
// which makes every mutation replay-safe.
type Entry struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"user_id"`
	EntryType    EntryType   `json:"entry_type"`
	SourceType   SourceType  `json:"source_type"`
	Reference    string      `json:"reference"`
	Amount       money.Money `json:"amount"`
	BalanceAfter int64       `json:"balance_after"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Commission is the record of one credited sale.
type Commission struct {
	ID                    string          `json:"id"`
	AffiliateID           string          `json:"affiliate_id"`
	OwnerID               string          `json:"user_id"`
	SaleReference         string          `json:"sale_reference"`
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Gross                 money.Money     `json:"gross"`
	RateApplied           decimal.Decimal `json:"rate_applied"`
	Amount                money.Money     `json:"amount"`
	CreatedAt             time.Time       `json:"created_at"`
}
