package attribution

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"affiliatehub/internal/affiliate"
	"affiliatehub/internal/common/database"
	"affiliatehub/internal/sale"
)

// Source names the rule that produced an attribution.
type Source string

const (
	SourceNone         Source = "none"
	SourceEmbeddedCode Source = "embedded_code"
	SourceReferralCode Source = "referral_code"
	SourceClick        Source = "click"
)

// AffiliateLookup is the read side of the affiliate store.
type AffiliateLookup interface {
	Get(ctx context.Context, id string) (*affiliate.Affiliate, error)
	GetByCode(ctx context.Context, code string) (*affiliate.Affiliate, error)
}

// Attribution is the resolver's verdict. Affiliate is nil when no
// affiliate is credited.
type Attribution struct {
	Affiliate *affiliate.Affiliate
	Source    Source
	ClickID   string
}

// Found reports whether an affiliate was attributed.
func (a Attribution) Found() bool {
	return a.Affiliate != nil
}

// Resolver applies attribution rules in order; the first match wins:
//  1. the affiliate code embedded by the provider, if it names an active affiliate
//  2. the referral code carried through checkout, if it names an active affiliate
//  3. the latest click from the buyer's IP inside the window, if its affiliate is active
//
// Lookup failures are logged and treated as no match, so uncertainty
// never produces a credit.
type Resolver struct {
	affiliates AffiliateLookup
	clicks     ClickStore
	window     time.Duration
	logger     *slog.Logger
}

// NewResolver creates a Resolver using the standard attribution window.
func NewResolver(affiliates AffiliateLookup, clicks ClickStore, logger *slog.Logger) *Resolver {
	return &Resolver{affiliates: affiliates, clicks: clicks, window: Window, logger: logger}
}

// Resolve determines the credited affiliate for ev. It has no side effects.
func (r *Resolver) Resolve(ctx context.Context, ev *sale.Event) Attribution {
	log := r.logger.With("key", ev.Key().String())

	if a := r.activeByCode(ctx, ev.EmbeddedAffiliateCode, log); a != nil {
		return Attribution{Affiliate: a, Source: SourceEmbeddedCode}
	}
	if a := r.activeByCode(ctx, ev.ReferralCode, log); a != nil {
		return Attribution{Affiliate: a, Source: SourceReferralCode}
	}

	ip := CanonicalIP(ev.BuyerIP)
	if ip == "" {
		return Attribution{Source: SourceNone}
	}

	saleAt := ev.OccurredAt
	click, err := r.clicks.LatestByIP(ctx, ip, saleAt.Add(-r.window), saleAt)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Warn("click lookup failed, treating sale as unattributed", "error", err)
		}
		return Attribution{Source: SourceNone}
	}

	a, err := r.affiliates.Get(ctx, click.AffiliateID)
	if err != nil {
		log.Warn("affiliate lookup for click failed", "click_id", click.ID, "error", err)
		return Attribution{Source: SourceNone}
	}
	if !a.IsActive() {
		log.Info("latest click belongs to inactive affiliate", "click_id", click.ID, "affiliate_id", a.ID)
		return Attribution{Source: SourceNone}
	}
	return Attribution{Affiliate: a, Source: SourceClick, ClickID: click.ID}
}

func (r *Resolver) activeByCode(ctx context.Context, code string, log *slog.Logger) *affiliate.Affiliate {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	a, err := r.affiliates.GetByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Warn("affiliate code lookup failed", "code", code, "error", err)
		}
		return nil
	}
	if !a.IsActive() {
		return nil
	}
	return a
}
