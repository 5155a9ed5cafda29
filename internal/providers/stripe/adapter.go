// Package stripe adapts Stripe checkout and refund webhook events.
//
// Stripe signs "{timestamp}.{body}" with HMAC-SHA256 and sends
// "t=<unix>,v1=<hex>" in the Stripe-Signature header. More than one v1
// value may be present while a secret is being rolled.
package stripe

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sale"
)

const Name = "stripe"

// Config holds Stripe adapter configuration
type Config struct {
	WebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Tolerance     time.Duration `envconfig:"STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

type Adapter struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func New(cfg Config) *Adapter {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Adapter{secret: cfg.WebhookSecret, tolerance: tolerance, now: time.Now}
}

func (a *Adapter) Name() string          { return Name }
func (a *Adapter) Trust() sale.TrustTier { return sale.TrustSecret }

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type charge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	BillingDetails struct {
		Email string `json:"email"`
	} `json:"billing_details"`
}

func (a *Adapter) Parse(_ context.Context, req *providers.RawRequest) (*sale.Event, error) {
	if err := a.verify(req.Header.Get("Stripe-Signature"), req.Body); err != nil {
		return nil, err
	}

	var evt event
	if err := json.Unmarshal(req.Body, &evt); err != nil {
		return nil, providers.Validationf("decoding stripe event: %v", err)
	}

	var (
		ev  *sale.Event
		err error
	)
	switch evt.Type {
	case "checkout.session.completed":
		ev, err = parseCheckout(evt.Data.Object)
	case "charge.refunded":
		ev, err = parseRefund(evt.Data.Object)
	default:
		return nil, providers.Ignoredf("stripe event %q", evt.Type)
	}
	if err != nil {
		return nil, err
	}
	if evt.Created > 0 {
		ev.OccurredAt = time.Unix(evt.Created, 0).UTC()
	}
	return ev, nil
}

func parseCheckout(raw json.RawMessage) (*sale.Event, error) {
	var s checkoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, providers.Validationf("decoding checkout session: %v", err)
	}
	if s.PaymentStatus != "" && s.PaymentStatus != "paid" {
		return nil, providers.Ignoredf("checkout session payment_status %q", s.PaymentStatus)
	}
	currency, err := money.ParseCurrency(s.Currency)
	if err != nil {
		return nil, providers.Validationf("checkout session currency: %v", err)
	}
	txID := s.PaymentIntent
	if txID == "" {
		txID = s.ID
	}
	if txID == "" {
		return nil, providers.Validationf("checkout session has no id")
	}
	return &sale.Event{
		ProviderTransactionID: txID,
		ProductID:             s.Metadata["product_id"],
		BuyerIdentifier:       strings.ToLower(s.CustomerDetails.Email),
		BuyerIP:               s.Metadata["buyer_ip"],
		Amount:                money.New(s.AmountTotal, currency),
		Kind:                  sale.KindPurchaseComplete,
		EmbeddedAffiliateCode: s.Metadata["affiliate_code"],
		ReferralCode:          s.ClientReferenceID,
	}, nil
}

func parseRefund(raw json.RawMessage) (*sale.Event, error) {
	var c charge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, providers.Validationf("decoding charge: %v", err)
	}
	currency, err := money.ParseCurrency(c.Currency)
	if err != nil {
		return nil, providers.Validationf("charge currency: %v", err)
	}
	txID := c.PaymentIntent
	if txID == "" {
		txID = c.ID
	}
	if txID == "" {
		return nil, providers.Validationf("charge has no id")
	}
	return &sale.Event{
		ProviderTransactionID: txID,
		ProductID:             c.Metadata["product_id"],
		BuyerIdentifier:       strings.ToLower(c.BillingDetails.Email),
		Amount:                money.New(-c.AmountRefunded, currency),
		Kind:                  sale.KindRefund,
	}, nil
}

func (a *Adapter) verify(header string, body []byte) error {
	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	if age := a.now().Sub(time.Unix(ts, 0)); age > a.tolerance || age < -a.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", providers.ErrAuthentication)
	}

	signedPayload := append([]byte(strconv.FormatInt(ts, 10)+"."), body...)
	var lastErr error
	for _, sig := range signatures {
		if lastErr = providers.VerifyHMAC(sha256.New, a.secret, signedPayload, sig); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		ts         int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed signature timestamp", providers.ErrAuthentication)
			}
			ts = n
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: missing Stripe-Signature", providers.ErrAuthentication)
	}
	return ts, signatures, nil
}
