package affiliate

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"affiliatehub/internal/common/money"
)

// ErrUnsupportedCurrency means no stored exchange rate converts the sale
// into the ledger currency.
var ErrUnsupportedCurrency = errors.New("no exchange rate for sale currency")

// Quote is a computed commission.
type Quote struct {
	Gross  money.Money     `json:"gross"`
	Base   money.Money     `json:"base"`
	Rate   decimal.Decimal `json:"rate"`
	Amount money.Money     `json:"amount"`
}

// Calculator computes commissions from a Schedule. It is pure.
type Calculator struct {
	schedule *Schedule
}

// NewCalculator creates a Calculator.
func NewCalculator(schedule *Schedule) *Calculator {
	return &Calculator{schedule: schedule}
}

// Currency is the ledger currency commissions are paid in.
func (c *Calculator) Currency() money.Currency {
	return c.schedule.Currency
}

// Rate returns the affiliate's rate: its override if set, else its tier.
func (c *Calculator) Rate(a *Affiliate) decimal.Decimal {
	if a.CommissionRate != nil {
		return *a.CommissionRate
	}
	return c.schedule.RateForLevel(a.Level)
}

// Compute converts gross into the ledger currency and applies the
// affiliate's rate, rounding to the minor unit. Non-positive gross
// amounts earn nothing.
func (c *Calculator) Compute(a *Affiliate, gross money.Money) (Quote, error) {
	fx, ok := c.schedule.ExchangeRate(gross.Currency)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, gross.Currency)
	}

	base := gross
	if gross.Currency != c.schedule.Currency {
		base = gross.Convert(fx, c.schedule.Currency)
	}

	rate := c.Rate(a)
	amount := money.Zero(c.schedule.Currency)
	if base.IsPositive() {
		amount = base.MulRate(rate)
	}
	return Quote{Gross: gross, Base: base, Rate: rate, Amount: amount}, nil
}
