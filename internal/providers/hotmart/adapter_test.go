package hotmart

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"affiliatehub/internal/common/money"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/sale"
)

const approvedPayload = `{
  "id": "evt-1",
  "event": "PURCHASE_APPROVED",
  "creation_date": 1714564800000,
  "data": {
    "product": {"id": 4774438},
    "affiliates": [{"affiliate_code": "", "name": ""}],
    "buyer": {"email": " Buyer@Example.com ", "ip": "1.2.3.4"},
    "purchase": {
      "transaction": "TX1",
      "approved_date": 1714564700000,
      "price": {"value": 19.99, "currency_value": "BRL"},
      "origin": {"sck": "AFF7"}
    }
  }
}`

func request(token, body string) *providers.RawRequest {
	h := http.Header{}
	if token != "" {
		h.Set("X-Hotmart-Hottok", token)
	}
	return &providers.RawRequest{Header: h, Body: []byte(body), ReceivedAt: time.Now()}
}

func TestParseApprovedPurchase(t *testing.T) {
	a := New(Config{Hottok: "tok"})
	ev, err := providers.Parse(context.Background(), a, request("tok", approvedPayload), time.Second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if ev.Provider != Name || ev.ProviderTransactionID != "TX1" || ev.Kind != sale.KindPurchaseApproved {
		t.Errorf("identity = %s/%s/%s", ev.Provider, ev.ProviderTransactionID, ev.Kind)
	}
	if !ev.Amount.Equal(money.New(1999, money.BRL)) {
		t.Errorf("Amount = %v", ev.Amount)
	}
	if ev.BuyerIP != "1.2.3.4" || ev.BuyerIdentifier != "buyer@example.com" {
		t.Errorf("buyer = %q / %q", ev.BuyerIP, ev.BuyerIdentifier)
	}
	if ev.ProductID != "4774438" {
		t.Errorf("ProductID = %q", ev.ProductID)
	}
	if ev.EmbeddedAffiliateCode != "" || ev.ReferralCode != "AFF7" {
		t.Errorf("codes = %q / %q", ev.EmbeddedAffiliateCode, ev.ReferralCode)
	}
	if want := time.UnixMilli(1714564700000).UTC(); !ev.OccurredAt.Equal(want) {
		t.Errorf("OccurredAt = %v, want %v", ev.OccurredAt, want)
	}
	if ev.TrustTier != sale.TrustSecret {
		t.Errorf("TrustTier = %q", ev.TrustTier)
	}
}

func TestParseRejectsBadToken(t *testing.T) {
	a := New(Config{Hottok: "tok"})
	for _, token := range []string{"", "wrong"} {
		_, err := a.Parse(context.Background(), request(token, approvedPayload))
		if !errors.Is(err, providers.ErrAuthentication) {
			t.Errorf("token %q: err = %v, want ErrAuthentication", token, err)
		}
	}
}

func TestParseFailsClosedWithoutConfiguredToken(t *testing.T) {
	a := New(Config{})
	_, err := a.Parse(context.Background(), request("", approvedPayload))
	if !errors.Is(err, providers.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestParseEventKinds(t *testing.T) {
	a := New(Config{Hottok: "tok"})
	tests := []struct {
		event string
		want  sale.EventKind
		err   error
	}{
		{"PURCHASE_COMPLETE", sale.KindPurchaseComplete, nil},
		{"PURCHASE_REFUNDED", sale.KindRefund, nil},
		{"PURCHASE_CHARGEBACK", sale.KindRefund, nil},
		{"PURCHASE_BILLET_PRINTED", "", providers.ErrIgnored},
		{"SUBSCRIPTION_CANCELLATION", "", providers.ErrIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			body := `{"event":"` + tt.event + `","data":{"purchase":{"transaction":"TX9","price":{"value":"10.00","currency_value":"USD"}}}}`
			ev, err := a.Parse(context.Background(), request("tok", body))
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if ev.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", ev.Kind, tt.want)
			}
		})
	}
}

func TestParseMalformedPayloads(t *testing.T) {
	a := New(Config{Hottok: "tok"})
	bodies := []string{
		`not json`,
		`{"event":"PURCHASE_APPROVED","data":{"purchase":{"price":{"value":1,"currency_value":"BRL"}}}}`,
		`{"event":"PURCHASE_APPROVED","data":{"purchase":{"transaction":"T","price":{"value":1,"currency_value":"ZZZ"}}}}`,
	}
	for _, body := range bodies {
		if _, err := a.Parse(context.Background(), request("tok", body)); !errors.Is(err, providers.ErrValidation) {
			t.Errorf("body %s: err = %v, want ErrValidation", body, err)
		}
	}
}

func TestEmbeddedAffiliateCode(t *testing.T) {
	a := New(Config{Hottok: "tok"})
	body := `{"event":"PURCHASE_APPROVED","data":{"affiliates":[{"affiliate_code":"AFF3"}],"purchase":{"transaction":"TX2","price":{"value":5,"currency_value":"BRL"}}}}`
	ev, err := a.Parse(context.Background(), request("tok", body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.EmbeddedAffiliateCode != "AFF3" {
		t.Errorf("EmbeddedAffiliateCode = %q", ev.EmbeddedAffiliateCode)
	}
}
