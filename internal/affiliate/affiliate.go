// Package affiliate holds affiliate accounts, the commission tier schedule
// and the commission calculator.
package affiliate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents whether an affiliate may earn commissions.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

var (
	ErrCodeTaken   = errors.New("affiliate code already taken")
	ErrInvalidCode = errors.New("affiliate code must be 3-32 URL-safe characters")
	ErrInvalidRate = errors.New("commission rate must be in [0, 1] with at most 4 decimal places")
)

// RatePlaces is the precision commission rates are stored with.
const RatePlaces = 4

// ValidateRate checks that rate is a fraction in [0, 1] that survives
// storage without rounding.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) || !rate.Equal(rate.Truncate(RatePlaces)) {
		return fmt.Errorf("%w: got %s", ErrInvalidRate, rate)
	}
	return nil
}

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// Affiliate is a user enrolled to earn commissions on referred sales.
type Affiliate struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Code           string           `json:"affiliate_code"`
	Status         Status           `json:"status"`
	Level          int              `json:"level"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewAffiliate creates an active affiliate.
func NewAffiliate(id, userID, code string, level int) (*Affiliate, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	if level < 1 {
		return nil, errors.New("level must be at least 1")
	}

	now := time.Now().UTC()
	return &Affiliate{
		ID:        id,
		UserID:    userID,
		Code:      code,
		Status:    StatusActive,
		Level:     level,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetRateOverride pins a per-affiliate rate.
func (a *Affiliate) SetRateOverride(rate decimal.Decimal) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	a.CommissionRate = &rate
	return nil
}

// IsActive reports whether the affiliate may be credited.
func (a *Affiliate) IsActive() bool {
	return a.Status == StatusActive
}

// Store persists affiliates. Implementations return database.ErrNotFound
// for unknown IDs or codes and ErrCodeTaken on duplicate codes.
type Store interface {
	Create(ctx context.Context, a *Affiliate) error
	Get(ctx context.Context, id string) (*Affiliate, error)
	GetByCode(ctx context.Context, code string) (*Affiliate, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Affiliate, error)
}
