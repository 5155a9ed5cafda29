package stripe

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sale"
)

const checkoutCompleted = `{
  "id": "evt_1",
  "type": "checkout.session.completed",
  "created": 1714564800,
  "data": {"object": {
    "id": "cs_test_1",
    "payment_intent": "pi_123",
    "payment_status": "paid",
    "amount_total": 1999,
    "currency": "usd",
    "client_reference_id": "AFF7",
    "metadata": {"buyer_ip": "1.2.3.4", "product_id": "course-1"},
    "customer_details": {"email": "Buyer@example.com"}
  }}
}`

var fixedNow = time.Unix(1714564900, 0)

func newAdapter() *Adapter {
	a := New(Config{WebhookSecret: "whsec_test"})
	a.now = func() time.Time { return fixedNow }
	return a
}

func signedRequest(secret string, ts int64, body string) *providers.RawRequest {
	sig := providers.SignHMAC(sha256.New, secret, []byte(fmt.Sprintf("%d.%s", ts, body)))
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
	return &providers.RawRequest{Header: h, Body: []byte(body), ReceivedAt: fixedNow}
}

func TestParseCheckoutCompleted(t *testing.T) {
	ev, err := providers.Parse(context.Background(), newAdapter(), signedRequest("whsec_test", fixedNow.Unix(), checkoutCompleted), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.ProviderTransactionID != "pi_123" || ev.Kind != sale.KindPurchaseComplete {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Amount.Equal(money.New(1999, money.USD)) {
		t.Errorf("Amount = %v", ev.Amount)
	}
	if ev.ReferralCode != "AFF7" || ev.BuyerIP != "1.2.3.4" || ev.BuyerIdentifier != "buyer@example.com" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.OccurredAt.Equal(time.Unix(1714564800, 0).UTC()) {
		t.Errorf("OccurredAt = %v", ev.OccurredAt)
	}
}

func TestParseRejectsStaleOrForgedSignatures(t *testing.T) {
	a := newAdapter()
	tests := map[string]*providers.RawRequest{
		"wrong secret": signedRequest("whsec_other", fixedNow.Unix(), checkoutCompleted),
		"stale":        signedRequest("whsec_test", fixedNow.Add(-10*time.Minute).Unix(), checkoutCompleted),
		"missing":      {Header: http.Header{}, Body: []byte(checkoutCompleted)},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Parse(context.Background(), req); !errors.Is(err, providers.ErrAuthentication) {
				t.Errorf("err = %v, want ErrAuthentication", err)
			}
		})
	}
}

func TestParseAcceptsRolledSecret(t *testing.T) {
	ts := fixedNow.Unix()
	sig := providers.SignHMAC(sha256.New, "whsec_test", []byte(fmt.Sprintf("%d.%s", ts, checkoutCompleted)))
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=deadbeef,v1=%s", ts, sig))
	req := &providers.RawRequest{Header: h, Body: []byte(checkoutCompleted)}
	if _, err := newAdapter().Parse(context.Background(), req); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseChargeRefunded(t *testing.T) {
	body := `{"id":"evt_2","type":"charge.refunded","created":1714564850,"data":{"object":{"id":"ch_1","payment_intent":"pi_123","amount_refunded":1999,"currency":"usd"}}}`
	ev, err := newAdapter().Parse(context.Background(), signedRequest("whsec_test", fixedNow.Unix(), body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Kind != sale.KindRefund || ev.ProviderTransactionID != "pi_123" || ev.Amount.AmountMinor != -1999 {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	for _, body := range []string{
		`{"id":"evt_3","type":"customer.created","data":{"object":{}}}`,
		`{"id":"evt_4","type":"checkout.session.completed","data":{"object":{"id":"cs_2","payment_status":"unpaid","currency":"usd"}}}`,
	} {
		_, err := newAdapter().Parse(context.Background(), signedRequest("whsec_test", fixedNow.Unix(), body))
		if !errors.Is(err, providers.ErrIgnored) {
			t.Errorf("err = %v, want ErrIgnored", err)
		}
	}
}
