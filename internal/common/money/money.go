package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	BRL Currency = "BRL"
	JPY Currency = "JPY"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int32
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£"},
	BRL: {Code: BRL, MinorUnits: 2, Symbol: "R$"},
	JPY: {Code: JPY, MinorUnits: 0, Symbol: "¥"},
}

// ErrCurrencyMismatch is returned when combining amounts of different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// ParseCurrency normalizes a provider supplied currency code.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := GetCurrencyInfo(c); !ok {
		return "", fmt.Errorf("unsupported currency %q", code)
	}
	return c, nil
}

func minorUnits(c Currency) int32 {
	if info, ok := GetCurrencyInfo(c); ok {
		return info.MinorUnits
	}
	return 2
}

// Money represents a monetary amount in minor units (cents, centavos, etc.)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency
func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// FromMajor converts a major-unit decimal (e.g. 19.99) to minor units,
// rounding half away from zero at the currency's precision.
func FromMajor(amount decimal.Decimal, currency Currency) Money {
	return Money{
		AmountMinor: amount.Shift(minorUnits(currency)).Round(0).IntPart(),
		Currency:    currency,
	}
}

// ParseMajor parses a major-unit string such as "19.99".
func ParseMajor(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	return FromMajor(d, currency), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.AmountMinor, -minorUnits(m.Currency))
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts two money values (must be same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// MulRate multiplies by a fractional rate and rounds half away from zero
// to the currency's minor unit. 19.99 * 0.10 yields 2.00.
func (m Money) MulRate(rate decimal.Decimal) Money {
	product := decimal.NewFromInt(m.AmountMinor).Mul(rate).Round(0)
	return Money{AmountMinor: product.IntPart(), Currency: m.Currency}
}

// Convert applies an exchange rate (units of target per unit of m.Currency).
func (m Money) Convert(rate decimal.Decimal, target Currency) Money {
	return FromMajor(m.Decimal().Mul(rate), target)
}

// Compare returns -1, 0, or 1
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// Equal checks equality
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// String returns a human-readable representation
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	return info.Symbol + m.Decimal().StringFixed(info.MinorUnits)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
		Display     string `json:"display"`
	}{
		AmountMinor: m.AmountMinor,
		Currency:    string(m.Currency),
		Display:     m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}
