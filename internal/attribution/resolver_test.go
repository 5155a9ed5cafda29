package attribution

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"affiliatehub/internal/affiliate"
	"affiliatehub/internal/common/money"
	"affiliatehub/internal/sale"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var saleTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	affiliates *affiliate.MemoryStore
	clicks     *MemoryClickStore
	resolver   *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		affiliates: affiliate.NewMemoryStore(),
		clicks:     NewMemoryClickStore(),
	}
	f.resolver = NewResolver(f.affiliates, f.clicks, discardLogger())
	return f
}

func (f *fixture) addAffiliate(t *testing.T, id, code string, active bool) {
	t.Helper()
	a, err := affiliate.NewAffiliate(id, "user-"+id, code, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		a.Status = affiliate.StatusSuspended
	}
	if err := f.affiliates.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) addClick(t *testing.T, id, affiliateID, ip string, at time.Time) {
	t.Helper()
	if err := f.clicks.Record(context.Background(), &Click{
		ID: id, AffiliateID: affiliateID, IPAddress: ip, OccurredAt: at,
	}); err != nil {
		t.Fatal(err)
	}
}

func testEvent() *sale.Event {
	return &sale.Event{
		Provider:              "hotmart",
		ProviderTransactionID: "TX1",
		ProductID:             "P1",
		BuyerIP:               "1.2.3.4",
		Amount:                money.New(10000, money.USD),
		Kind:                  sale.KindPurchaseApproved,
		OccurredAt:            saleTime,
		TrustTier:             sale.TrustSecret,
	}
}

func TestResolveEmbeddedCodeBeatsClickHistory(t *testing.T) {
	f := newFixture(t)
	f.addAffiliate(t, "aff-7", "AFF7", true)
	f.addAffiliate(t, "aff-9", "AFF9", true)
	f.addClick(t, "c1", "aff-9", "1.2.3.4", saleTime.Add(-time.Hour))

	ev := testEvent()
	ev.EmbeddedAffiliateCode = "AFF7"

	got := f.resolver.Resolve(context.Background(), ev)
	if !got.Found() || got.Affiliate.ID != "aff-7" || got.Source != SourceEmbeddedCode {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveReferralCodeBeatsClick(t *testing.T) {
	f := newFixture(t)
	f.addAffiliate(t, "aff-7", "AFF7", true)
	f.addAffiliate(t, "aff-9", "AFF9", true)
	f.addClick(t, "c1", "aff-9", "1.2.3.4", saleTime.Add(-time.Hour))

	ev := testEvent()
	ev.ReferralCode = "AFF7"

	got := f.resolver.Resolve(context.Background(), ev)
	if got.Source != SourceReferralCode || got.Affiliate.ID != "aff-7" {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveUnknownOrSuspendedCodeFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.addAffiliate(t, "aff-7", "AFF7", true)
	f.addAffiliate(t, "aff-8", "AFF8", false)
	f.addClick(t, "c1", "aff-7", "1.2.3.4", saleTime.Add(-48*time.Hour))

	ev := testEvent()
	ev.EmbeddedAffiliateCode = "AFF8"
	ev.ReferralCode = "NOPE1"

	got := f.resolver.Resolve(context.Background(), ev)
	if got.Source != SourceClick || got.Affiliate.ID != "aff-7" || got.ClickID != "c1" {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveClickWindowBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantHit bool
	}{
		{"two days", 48 * time.Hour, true},
		{"six days twenty three hours", 6*24*time.Hour + 23*time.Hour, true},
		{"exactly seven days", Window, false},
		{"eight days", 8 * 24 * time.Hour, false},
		{"after the sale", -time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addAffiliate(t, "aff-7", "AFF7", true)
			f.addClick(t, "c1", "aff-7", "1.2.3.4", saleTime.Add(-tt.age))

			got := f.resolver.Resolve(context.Background(), testEvent())
			if got.Found() != tt.wantHit {
				t.Errorf("Found() = %v, want %v (%+v)", got.Found(), tt.wantHit, got)
			}
		})
	}
}

func TestResolveUsesMostRecentClick(t *testing.T) {
	f := newFixture(t)
	f.addAffiliate(t, "aff-7", "AFF7", true)
	f.addAffiliate(t, "aff-9", "AFF9", true)
	f.addClick(t, "old", "aff-7", "1.2.3.4", saleTime.Add(-72*time.Hour))
	f.addClick(t, "new", "aff-9", "1.2.3.4", saleTime.Add(-24*time.Hour))
	f.addClick(t, "other-ip", "aff-7", "5.6.7.8", saleTime.Add(-time.Hour))

	got := f.resolver.Resolve(context.Background(), testEvent())
	if got.Affiliate == nil || got.Affiliate.ID != "aff-9" || got.ClickID != "new" {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveSuspendedClickAffiliateIsUnattributed(t *testing.T) {
	f := newFixture(t)
	f.addAffiliate(t, "aff-7", "AFF7", true)
	f.addAffiliate(t, "aff-9", "AFF9", false)
	f.addClick(t, "old", "aff-7", "1.2.3.4", saleTime.Add(-72*time.Hour))
	f.addClick(t, "new", "aff-9", "1.2.3.4", saleTime.Add(-24*time.Hour))

	got := f.resolver.Resolve(context.Background(), testEvent())
	if got.Found() || got.Source != SourceNone {
		t.Errorf("Resolve = %+v, want no attribution", got)
	}
}

func TestResolveNoSignals(t *testing.T) {
	f := newFixture(t)
	ev := testEvent()
	ev.BuyerIP = ""

	if got := f.resolver.Resolve(context.Background(), ev); got.Found() {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveNormalizesBuyerAddress(t *testing.T) {
	tests := []struct {
		name    string
		clickIP string
		buyerIP string
	}{
		{"ipv4-mapped buyer", "1.2.3.4", "::ffff:1.2.3.4"},
		{"ipv6 case and compression", "2001:db8::1", "2001:DB8:0:0:0:0:0:1"},
		{"surrounding space", "1.2.3.4", " 1.2.3.4 "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addAffiliate(t, "aff-7", "AFF7", true)
			f.addClick(t, "c1", "aff-7", CanonicalIP(tt.clickIP), saleTime.Add(-time.Hour))

			ev := testEvent()
			ev.BuyerIP = tt.buyerIP
			got := f.resolver.Resolve(context.Background(), ev)
			if got.Source != SourceClick || got.ClickID != "c1" {
				t.Errorf("Resolve = %+v", got)
			}
		})
	}
}

func TestCanonicalIP(t *testing.T) {
	tests := map[string]string{
		"::ffff:10.0.0.1": "10.0.0.1",
		"2001:DB8::0001":  "2001:db8::1",
		"fe80::1%eth0":    "fe80::1",
		"not an address":  "",
		"":                "",
	}
	for in, want := range tests {
		if got := CanonicalIP(in); got != want {
			t.Errorf("CanonicalIP(%q) = %q, want %q", in, got, want)
		}
	}
}
