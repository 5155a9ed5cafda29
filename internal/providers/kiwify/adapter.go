// Package kiwify adapts Kiwify order webhooks. Kiwify signs the raw body
// with HMAC-SHA1 under the webhook token and passes the hex digest in the
// "signature" query parameter.
package kiwify

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"strings"
	"time"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sale"
)

const Name = "kiwify"

// Config holds Kiwify adapter configuration
type Config struct {
	Token string `envconfig:"KIWIFY_WEBHOOK_TOKEN"`
}

type Adapter struct {
	token string
}

func New(cfg Config) *Adapter {
	return &Adapter{token: cfg.Token}
}

func (a *Adapter) Name() string          { return Name }
func (a *Adapter) Trust() sale.TrustTier { return sale.TrustSecret }

type payload struct {
	OrderID          string `json:"order_id"`
	OrderStatus      string `json:"order_status"`
	WebhookEventType string `json:"webhook_event_type"`
	ApprovedDate     string `json:"approved_date"`
	CreatedAt        string `json:"created_at"`
	Product          struct {
		ProductID string `json:"product_id"`
	} `json:"Product"`
	Customer struct {
		Email string `json:"email"`
		IP    string `json:"ip"`
	} `json:"Customer"`
	Commissions struct {
		ChargeAmount int64  `json:"charge_amount"`
		Currency     string `json:"currency"`
	} `json:"Commissions"`
	TrackingParameters struct {
		Src *string `json:"src"`
		Sck *string `json:"sck"`
	} `json:"TrackingParameters"`
	AffiliateCode string `json:"affiliate_code"`
}

// kiwify timestamps carry no zone and are issued in Brasília time.
var saoPaulo = time.FixedZone("BRT", -3*60*60)

func (a *Adapter) Parse(_ context.Context, req *providers.RawRequest) (*sale.Event, error) {
	if err := providers.VerifyHMAC(sha1.New, a.token, req.Body, req.Query.Get("signature")); err != nil {
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(req.Body, &p); err != nil {
		return nil, providers.Validationf("decoding kiwify payload: %v", err)
	}

	kind, err := classify(p.WebhookEventType, p.OrderStatus)
	if err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, providers.Validationf("kiwify order_id is empty")
	}

	currencyCode := p.Commissions.Currency
	if currencyCode == "" {
		currencyCode = string(money.BRL)
	}
	currency, err := money.ParseCurrency(currencyCode)
	if err != nil {
		return nil, providers.Validationf("kiwify currency: %v", err)
	}

	return &sale.Event{
		ProviderTransactionID: p.OrderID,
		ProductID:             p.Product.ProductID,
		BuyerIdentifier:       strings.ToLower(strings.TrimSpace(p.Customer.Email)),
		BuyerIP:               strings.TrimSpace(p.Customer.IP),
		Amount:                money.New(p.Commissions.ChargeAmount, currency),
		Kind:                  kind,
		EmbeddedAffiliateCode: strings.TrimSpace(p.AffiliateCode),
		ReferralCode:          tracking(p.TrackingParameters.Sck, p.TrackingParameters.Src),
		OccurredAt:            parseTime(p.ApprovedDate, p.CreatedAt),
	}, nil
}

func classify(eventType, status string) (sale.EventKind, error) {
	switch eventType {
	case "order_approved":
		return sale.KindPurchaseApproved, nil
	case "order_refunded", "chargeback":
		return sale.KindRefund, nil
	case "":
		switch status {
		case "paid":
			return sale.KindPurchaseApproved, nil
		case "refunded", "chargedback":
			return sale.KindRefund, nil
		}
	}
	return "", providers.Ignoredf("kiwify event %q status %q", eventType, status)
}

func tracking(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	return ""
}

func parseTime(values ...string) time.Time {
	for _, v := range values {
		for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", time.RFC3339} {
			if t, err := time.ParseInLocation(layout, v, saoPaulo); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
