package sale

import (
	"testing"
	"time"

	"affiliatehub/internal/common/money"
)

func TestKeyString(t *testing.T) {
	e := Event{Provider: "hotmart", ProviderTransactionID: "TX1", Kind: KindPurchaseApproved}
	if got := e.Key().String(); got != "hotmart:TX1:purchase_approved" {
		t.Errorf("Key().String() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	valid := Event{
		Provider:              "hotmart",
		ProviderTransactionID: "TX1",
		Kind:                  KindPurchaseApproved,
		Amount:                money.New(1999, money.BRL),
		OccurredAt:            time.Now(),
		TrustTier:             TrustSecret,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	missing := valid
	missing.ProviderTransactionID = " "
	missing.Kind = "chargeback"
	if err := missing.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCredits(t *testing.T) {
	if !KindPurchaseApproved.Credits() || !KindPurchaseComplete.Credits() {
		t.Error("purchase kinds must credit")
	}
	if KindRefund.Credits() {
		t.Error("refund must not credit")
	}
}
