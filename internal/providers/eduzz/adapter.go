// Package eduzz adapts Eduzz form-encoded sale postbacks.
//
// Eduzz postbacks carry no verifiable secret, so requests are accepted on
// source address (a configured CIDR allow-list) plus strict payload shape.
// Events from this adapter are tagged with the allow-list trust tier.
package eduzz

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sale"
)

const Name = "eduzz"

// Config holds Eduzz adapter configuration
type Config struct {
	AllowedCIDRs []string `envconfig:"EDUZZ_ALLOWED_CIDRS"`
}

type Adapter struct {
	allow providers.AllowList
}

func New(cfg Config) (*Adapter, error) {
	allow, err := providers.ParseAllowList(cfg.AllowedCIDRs)
	if err != nil {
		return nil, err
	}
	return &Adapter{allow: allow}, nil
}

func (a *Adapter) Name() string          { return Name }
func (a *Adapter) Trust() sale.TrustTier { return sale.TrustAllowList }

// Transaction status codes sent in trans_status.
const (
	statusPaid     = "3"
	statusRefunded = "7"
)

var transactionCode = regexp.MustCompile(`^[0-9]{1,20}$`)

func (a *Adapter) Parse(_ context.Context, req *providers.RawRequest) (*sale.Event, error) {
	if err := a.allow.Verify(req.RemoteIP); err != nil {
		return nil, err
	}

	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return nil, providers.Validationf("decoding eduzz form: %v", err)
	}

	var kind sale.EventKind
	switch form.Get("trans_status") {
	case statusPaid:
		kind = sale.KindPurchaseApproved
	case statusRefunded:
		kind = sale.KindRefund
	case "":
		return nil, providers.Validationf("eduzz trans_status is empty")
	default:
		return nil, providers.Ignoredf("eduzz trans_status %q", form.Get("trans_status"))
	}

	code := strings.TrimSpace(form.Get("trans_cod"))
	if !transactionCode.MatchString(code) {
		return nil, providers.Validationf("eduzz trans_cod %q is not numeric", code)
	}

	currencyCode := form.Get("trans_currency")
	if currencyCode == "" {
		currencyCode = string(money.BRL)
	}
	currency, err := money.ParseCurrency(currencyCode)
	if err != nil {
		return nil, providers.Validationf("eduzz currency: %v", err)
	}
	amount, err := money.ParseMajor(form.Get("trans_value"), currency)
	if err != nil {
		return nil, providers.Validationf("eduzz trans_value: %v", err)
	}
	if kind == sale.KindRefund {
		amount.AmountMinor = -amount.AmountMinor
	}

	var occurredAt time.Time
	if paid := form.Get("trans_paiddate"); paid != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", paid, time.FixedZone("BRT", -3*60*60)); err == nil {
			occurredAt = t.UTC()
		}
	}

	return &sale.Event{
		ProviderTransactionID: code,
		ProductID:             form.Get("product_cod"),
		BuyerIdentifier:       strings.ToLower(strings.TrimSpace(form.Get("cus_email"))),
		BuyerIP:               strings.TrimSpace(form.Get("cus_ip")),
		Amount:                amount,
		Kind:                  kind,
		EmbeddedAffiliateCode: strings.TrimSpace(form.Get("aff_cod")),
		ReferralCode:          strings.TrimSpace(form.Get("tracker")),
		OccurredAt:            occurredAt,
	}, nil
}
