// Package hotmart adapts Hotmart purchase webhooks (payload version 2).
// Hotmart authenticates requests with a static token in the
// X-Hotmart-Hottok header.
package hotmart

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sale"
)

// Name is the provider name used in routes and idempotency keys.
const Name = "hotmart"

// Config holds Hotmart adapter configuration
type Config struct {
	Hottok string `envconfig:"HOTMART_HOTTOK"`
}

// Adapter implements providers.Adapter for Hotmart.
type Adapter struct {
	hottok string
}

// New creates a Hotmart adapter.
func New(cfg Config) *Adapter {
	return &Adapter{hottok: cfg.Hottok}
}

func (a *Adapter) Name() string          { return Name }
func (a *Adapter) Trust() sale.TrustTier { return sale.TrustSecret }

type payload struct {
	ID           string `json:"id"`
	Event        string `json:"event"`
	CreationDate int64  `json:"creation_date"`
	Data         struct {
		Product struct {
			ID json.Number `json:"id"`
		} `json:"product"`
		Affiliates []struct {
			AffiliateCode string `json:"affiliate_code"`
		} `json:"affiliates"`
		Buyer struct {
			Email string `json:"email"`
			IP    string `json:"ip"`
		} `json:"buyer"`
		Purchase struct {
			Transaction  string `json:"transaction"`
			OrderDate    int64  `json:"order_date"`
			ApprovedDate int64  `json:"approved_date"`
			BuyerIP      string `json:"buyer_ip"`
			Price        struct {
				Value         decimal.Decimal `json:"value"`
				CurrencyValue string          `json:"currency_value"`
			} `json:"price"`
			Origin struct {
				Sck string `json:"sck"`
				Src string `json:"src"`
			} `json:"origin"`
		} `json:"purchase"`
	} `json:"data"`
}

var eventKinds = map[string]sale.EventKind{
	"PURCHASE_APPROVED":   sale.KindPurchaseApproved,
	"PURCHASE_COMPLETE":   sale.KindPurchaseComplete,
	"PURCHASE_REFUNDED":   sale.KindRefund,
	"PURCHASE_CHARGEBACK": sale.KindRefund,
}

// Parse verifies the hottok and normalizes the payload.
func (a *Adapter) Parse(_ context.Context, req *providers.RawRequest) (*sale.Event, error) {
	if err := providers.VerifyToken(a.hottok, req.Header.Get("X-Hotmart-Hottok")); err != nil {
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return nil, providers.Validationf("decoding hotmart payload: %v", err)
	}

	kind, ok := eventKinds[strings.ToUpper(p.Event)]
	if !ok {
		return nil, providers.Ignoredf("hotmart event %q", p.Event)
	}

	purchase := p.Data.Purchase
	if purchase.Transaction == "" {
		return nil, providers.Validationf("hotmart purchase.transaction is empty")
	}

	currency, err := money.ParseCurrency(purchase.Price.CurrencyValue)
	if err != nil {
		return nil, providers.Validationf("hotmart price: %v", err)
	}

	ev := &sale.Event{
		ProviderTransactionID: purchase.Transaction,
		ProductID:             p.Data.Product.ID.String(),
		BuyerIdentifier:       strings.ToLower(strings.TrimSpace(p.Data.Buyer.Email)),
		BuyerIP:               firstNonEmpty(purchase.BuyerIP, p.Data.Buyer.IP),
		Amount:                money.FromMajor(purchase.Price.Value, currency),
		Kind:                  kind,
		ReferralCode:          firstNonEmpty(purchase.Origin.Sck, purchase.Origin.Src),
		OccurredAt:            fromMillis(firstNonZero(purchase.ApprovedDate, purchase.OrderDate, p.CreationDate)),
	}
	if len(p.Data.Affiliates) > 0 {
		ev.EmbeddedAffiliateCode = strings.TrimSpace(p.Data.Affiliates[0].AffiliateCode)
	}
	return ev, nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
