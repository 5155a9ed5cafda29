// Package withdrawal moves balance out of the platform. Funds are reserved
// when a request is created and refunded if it is rejected.
package withdrawal

import (
	"errors"
	"fmt"
	"time"

	"affiliatehub/internal/common/money"
)

// Status represents the state of a withdrawal request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Method is how the user is paid out.
type Method string

const (
	MethodPix          Method = "pix"
	MethodBankTransfer Method = "bank_transfer"
	MethodPayPal       Method = "paypal"
)

var (
	// ErrInvalidTransition means the request is not in a state the action accepts.
	ErrInvalidTransition = errors.New("invalid withdrawal status transition")
	// ErrInvalidDecision means an admin decision other than approved or rejected.
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Request is a user's withdrawal. Amount never changes after creation.
type Request struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Amount           money.Money       `json:"amount"`
	PaymentMethod    Method            `json:"payment_method"`
	PaymentDetails   map[string]string `json:"payment_details,omitempty"`
	Status           Status            `json:"status"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	DecidedBy        string            `json:"decided_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
}

// NewRequest creates a pending withdrawal request.
func NewRequest(id, userID string, amount money.Money, method Method, details map[string]string, now time.Time) (*Request, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	switch method {
	case MethodPix, MethodBankTransfer, MethodPayPal:
	default:
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}

	return &Request{
		ID:             id,
		UserID:         userID,
		Amount:         amount,
		PaymentMethod:  method,
		PaymentDetails: details,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Change is the set of fields a status transition writes.
type Change struct {
	From             Status
	To               Status
	DecidedBy        string
	PaymentReference string
	At               time.Time
}

// apply moves r through c, or fails if r is not in c.From.
func (r *Request) apply(c Change) error {
	if r.Status != c.From || (!CanTransition(c.From, c.To) && !isRevert(c)) {
		return fmt.Errorf("%w: %s is %s, cannot move %s -> %s", ErrInvalidTransition, r.ID, r.Status, c.From, c.To)
	}
	r.Status = c.To
	r.UpdatedAt = c.At
	at := c.At
	switch c.To {
	case StatusApproved:
		r.DecidedBy = c.DecidedBy
	case StatusRejected:
		r.DecidedBy = c.DecidedBy
		r.ProcessedAt = &at
	case StatusCompleted:
		r.PaymentReference = c.PaymentReference
		r.ProcessedAt = &at
	case StatusPending:
		r.DecidedBy = ""
		r.ProcessedAt = nil
	}
	return nil
}

// isRevert is the compensation path for a rejection whose refund failed.
func isRevert(c Change) bool {
	return c.From == StatusRejected && c.To == StatusPending
}
