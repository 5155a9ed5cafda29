package affiliate

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"affiliatehub/internal/common/money"
)

// Schedule is the commission configuration: the ledger currency, the
// level-to-rate tier table and stored exchange rates into the ledger
// currency.
type Schedule struct {
	Currency      money.Currency
	tiers         []tier
	exchangeRates map[money.Currency]decimal.Decimal
}

type tier struct {
	level int
	rate  decimal.Decimal
}

type scheduleFile struct {
	Currency string `yaml:"currency"`
	Tiers    []struct {
		Level int    `yaml:"level"`
		Rate  string `yaml:"rate"`
	} `yaml:"tiers"`
	ExchangeRates map[string]string `yaml:"exchange_rates"`
}

// DefaultCurrency is the ledger currency when no schedule file is
// configured. Hotmart, Kiwify and Eduzz settle in BRL.
const DefaultCurrency = money.BRL

// DefaultSchedule is used when no schedule file is configured. It carries
// no exchange rates, so only sales in currency are credited.
func DefaultSchedule(currency money.Currency) *Schedule {
	return &Schedule{
		Currency: currency,
		tiers: []tier{
			{1, decimal.RequireFromString("0.10")},
			{2, decimal.RequireFromString("0.15")},
			{3, decimal.RequireFromString("0.20")},
			{4, decimal.RequireFromString("0.25")},
		},
		exchangeRates: map[money.Currency]decimal.Decimal{},
	}
}

// LoadSchedule reads a YAML schedule file.
//
//	currency: USD
//	tiers:
//	  - {level: 1, rate: "0.10"}
//	exchange_rates:
//	  BRL: "0.20"
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schedule: %w", err)
	}
	return ParseSchedule(data)
}

// ParseSchedule parses YAML schedule content.
func ParseSchedule(data []byte) (*Schedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding schedule: %w", err)
	}

	currency, err := money.ParseCurrency(f.Currency)
	if err != nil {
		return nil, fmt.Errorf("schedule currency: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, errors.New("schedule has no tiers")
	}

	s := &Schedule{Currency: currency, exchangeRates: make(map[money.Currency]decimal.Decimal)}
	seen := make(map[int]bool)
	for _, t := range f.Tiers {
		if t.Level < 1 || seen[t.Level] {
			return nil, fmt.Errorf("tier level %d is invalid or duplicated", t.Level)
		}
		seen[t.Level] = true
		rate, err := decimal.NewFromString(t.Rate)
		if err != nil {
			return nil, fmt.Errorf("tier %d rate: %w", t.Level, err)
		}
		if err := ValidateRate(rate); err != nil {
			return nil, fmt.Errorf("tier %d: %w", t.Level, err)
		}
		s.tiers = append(s.tiers, tier{t.Level, rate})
	}
	sort.Slice(s.tiers, func(i, j int) bool { return s.tiers[i].level < s.tiers[j].level })

	for code, raw := range f.ExchangeRates {
		c, err := money.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("exchange rate: %w", err)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("exchange rate for %s must be a positive decimal", code)
		}
		s.exchangeRates[c] = rate
	}
	return s, nil
}

// RateForLevel returns the rate of the highest tier whose level does not
// exceed level. Levels below the first tier use the first tier.
func (s *Schedule) RateForLevel(level int) decimal.Decimal {
	rate := s.tiers[0].rate
	for _, t := range s.tiers {
		if t.level > level {
			break
		}
		rate = t.rate
	}
	return rate
}

// ExchangeRate returns units of the ledger currency per unit of from.
func (s *Schedule) ExchangeRate(from money.Currency) (decimal.Decimal, bool) {
	if from == s.Currency {
		return decimal.NewFromInt(1), true
	}
	rate, ok := s.exchangeRates[from]
	return rate, ok
}

// Currencies lists the sale currencies the schedule can credit: the ledger
// currency first, then those with a stored exchange rate.
func (s *Schedule) Currencies() []money.Currency {
	out := []money.Currency{s.Currency}
	rest := make([]money.Currency, 0, len(s.exchangeRates))
	for c := range s.exchangeRates {
		if c != s.Currency {
			rest = append(rest, c)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}
