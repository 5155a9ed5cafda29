// Package attribution records referral clicks and decides which affiliate,
// if any, a sale is credited to.
package attribution

import (
	"context"
	"net/netip"
	"strings"
	"time"
)

// Window is how long a click can earn attribution, and how long clicks
// are retained.
const Window = 7 * 24 * time.Hour

// Click is an immutable record of a page load carrying a referral code.
type Click struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliate_id"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ReferrerURL string    `json:"referrer_url,omitempty"`
	LandingURL  string    `json:"landing_url,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ClickStore persists clicks.
type ClickStore interface {
	Record(ctx context.Context, c *Click) error
	// LatestByIP returns the newest click from ip with
	// after < occurred_at <= until, or database.ErrNotFound.
	LatestByIP(ctx context.Context, ip string, after, until time.Time) (*Click, error)
	// PurgeBefore deletes clicks that occurred before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CanonicalIP returns the normalized text form of addr, with IPv4-mapped
// IPv6 addresses unmapped, so the same buyer always compares equal.
// Unparseable input yields "".
func CanonicalIP(addr string) string {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return ""
	}
	return ip.Unmap().WithZone("").String()
}
