// Package sale defines the canonical sale event every provider adapter
// produces and the key that identifies a provider transaction.
package sale

import (
	"errors"
	"strings"
	"time"

	"affiliatehub/internal/common/money"
)

// EventKind classifies a provider notification.
type EventKind string

const (
	KindPurchaseApproved EventKind = "purchase_approved"
	KindPurchaseComplete EventKind = "purchase_complete"
	KindRefund           EventKind = "refund"
)

// Credits reports whether the kind can produce a commission.
func (k EventKind) Credits() bool {
	return k == KindPurchaseApproved || k == KindPurchaseComplete
}

// TrustTier records how a notification was authenticated.
type TrustTier string

const (
	// TrustSecret means a shared secret or signature was verified.
	TrustSecret TrustTier = "secret"
	// TrustAllowList means the provider offers no verifiable secret and the
	// request was accepted on source address and payload shape alone.
	TrustAllowList TrustTier = "allow_list"
)

// Key identifies a provider transaction for idempotency.
type Key struct {
	Provider              string    `json:"provider"`
	ProviderTransactionID string    `json:"provider_transaction_id"`
	EventKind             EventKind `json:"event_kind"`
}

// String renders the key as provider:transaction:kind.
func (k Key) String() string {
	return k.Provider + ":" + k.ProviderTransactionID + ":" + string(k.EventKind)
}

// Event is the provider-agnostic view of a sale notification.
type Event struct {
	Provider              string      `json:"provider"`
	ProviderTransactionID string      `json:"provider_transaction_id"`
	ProductID             string      `json:"product_id"`
	BuyerIdentifier       string      `json:"buyer_identifier"`
	BuyerIP               string      `json:"buyer_ip,omitempty"`
	Amount                money.Money `json:"amount"`
	Kind                  EventKind   `json:"event_kind"`
	EmbeddedAffiliateCode string      `json:"embedded_affiliate_code,omitempty"`
	ReferralCode          string      `json:"referral_code,omitempty"`
	OccurredAt            time.Time   `json:"occurred_at"`
	TrustTier             TrustTier   `json:"trust_tier"`
	RawPayload            []byte      `json:"-"`
}

// Key returns the idempotency key of the event.
func (e *Event) Key() Key {
	return Key{
		Provider:              e.Provider,
		ProviderTransactionID: e.ProviderTransactionID,
		EventKind:             e.Kind,
	}
}

// Validate checks the fields every adapter must populate.
func (e *Event) Validate() error {
	var errs []error
	if e.Provider == "" {
		errs = append(errs, errors.New("provider is required"))
	}
	if strings.TrimSpace(e.ProviderTransactionID) == "" {
		errs = append(errs, errors.New("provider_transaction_id is required"))
	}
	switch e.Kind {
	case KindPurchaseApproved, KindPurchaseComplete, KindRefund:
	default:
		errs = append(errs, errors.New("unknown event_kind "+string(e.Kind)))
	}
	if e.Amount.Currency == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if e.TrustTier == "" {
		errs = append(errs, errors.New("trust_tier is required"))
	}
	return errors.Join(errs...)
}
