package attribution

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"affiliatehub/internal/common/database"
)

// TrackRequest describes a page load carrying a referral code.
type TrackRequest struct {
	AffiliateCode string
	IPAddress     string
	UserAgent     string
	ReferrerURL   string
	LandingURL    string
}

// Tracker records clicks off the request path. Tracking never fails the
// caller: unknown codes and store errors are logged and dropped.
type Tracker struct {
	affiliates AffiliateLookup
	clicks     ClickStore
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewTracker creates a Tracker. timeout bounds each background write.
func NewTracker(affiliates AffiliateLookup, clicks ClickStore, timeout time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{affiliates: affiliates, clicks: clicks, timeout: timeout, now: time.Now, logger: logger}
}

// Track records the click asynchronously and returns immediately.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) {
	occurredAt := t.now().UTC()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		if err := t.record(bgCtx, req, occurredAt); err != nil {
			t.logger.Warn("click not recorded",
				"code", req.AffiliateCode,
				"ip", req.IPAddress,
				"error", err,
			)
		}
	}()
}

// Wait blocks until in-flight clicks are written.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

var errUntrackable = errors.New("click has no usable code or address")

func (t *Tracker) record(ctx context.Context, req TrackRequest, occurredAt time.Time) error {
	code := strings.TrimSpace(req.AffiliateCode)
	ip := CanonicalIP(req.IPAddress)
	if code == "" || ip == "" {
		return errUntrackable
	}

	a, err := t.affiliates.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errUntrackable
		}
		return err
	}
	if !a.IsActive() {
		return nil
	}

	return t.clicks.Record(ctx, &Click{
		ID:          ulid.Make().String(),
		AffiliateID: a.ID,
		IPAddress:   ip,
		UserAgent:   truncate(req.UserAgent, 512),
		ReferrerURL: truncate(req.ReferrerURL, 2048),
		LandingURL:  truncate(req.LandingURL, 2048),
		OccurredAt:  occurredAt,
	})
}

// Purge deletes clicks older than the attribution window.
func (t *Tracker) Purge(ctx context.Context) (int64, error) {
	return t.clicks.PurgeBefore(ctx, t.now().UTC().Add(-Window))
}

// RunPurger purges expired clicks every interval until ctx is done.
func (t *Tracker) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Purge(ctx)
			if err != nil {
				t.logger.Error("click purge failed", "error", err)
				continue
			}
			if n > 0 {
				t.logger.Info("expired clicks purged", "count", n)
			}
		}
	}
}

// truncate replaces invalid UTF-8 and cuts s to at most n bytes on a rune
// boundary. Postgres rejects text columns holding invalid sequences.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
