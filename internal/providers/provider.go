// Package providers turns raw payment-provider notifications into canonical
// sale events. Each provider lives in its own subpackage and implements
// Adapter; adapters only parse and authenticate, they never touch storage.
package providers

import (
	"context"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strings"
	"time"

	"affiliatehub/internal/sale"
)

var (
	// ErrAuthentication means the request could not be proven to come from the provider.
	ErrAuthentication = errors.New("provider authentication failed")
	// ErrValidation means the payload is malformed or missing required fields.
	ErrValidation = errors.New("invalid provider payload")
	// ErrIgnored means the notification is authentic but not a kind we act on.
	ErrIgnored = errors.New("event kind not handled")
	// ErrTimeout means verification did not finish in time.
	ErrTimeout = errors.New("provider verification timed out")
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Ignoredf wraps ErrIgnored with a formatted reason.
func Ignoredf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIgnored, fmt.Sprintf(format, args...))
}

// RawRequest is the transport-neutral input to an adapter.
type RawRequest struct {
	Header     http.Header
	Query      url.Values
	Body       []byte
	RemoteIP   string
	ReceivedAt time.Time
}

// Adapter authenticates and normalizes one provider's notifications.
type Adapter interface {
	Name() string
	Trust() sale.TrustTier
	Parse(ctx context.Context, req *RawRequest) (*sale.Event, error)
}

// Registry maps provider names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from adapters keyed by Name().
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(name)]
	return a, ok
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse runs the adapter under timeout and stamps the fields every event
// carries regardless of provider. A timeout fails closed with ErrTimeout.
func Parse(ctx context.Context, a Adapter, req *RawRequest, timeout time.Duration) (*sale.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		event *sale.Event
		err   error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := a.Parse(ctx, req)
		done <- result{ev, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrTimeout, a.Name())
	case res = <-done:
	}
	if res.err != nil {
		return nil, res.err
	}

	ev := res.event
	if ev == nil {
		return nil, Validationf("%s adapter produced no event", a.Name())
	}
	ev.Provider = a.Name()
	ev.TrustTier = a.Trust()
	ev.RawPayload = req.Body
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = req.ReceivedAt
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return ev, nil
}

// VerifyToken compares a presented shared secret against the configured one.
// An unconfigured secret never verifies.
func VerifyToken(expected, presented string) error {
	if expected == "" {
		return fmt.Errorf("%w: secret not configured", ErrAuthentication)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return fmt.Errorf("%w: token mismatch", ErrAuthentication)
	}
	return nil
}

// VerifyHMAC checks a hex-encoded MAC of payload under secret.
func VerifyHMAC(newHash func() hash.Hash, secret string, payload []byte, signatureHex string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret not configured", ErrAuthentication)
	}
	presented, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(presented) == 0 {
		return fmt.Errorf("%w: malformed signature", ErrAuthentication)
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), presented) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthentication)
	}
	return nil
}

// SignHMAC returns the hex-encoded MAC of payload under secret.
func SignHMAC(newHash func() hash.Hash, secret string, payload []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// AllowList is a set of network prefixes permitted to call an endpoint.
type AllowList struct {
	prefixes []netip.Prefix
}

// ParseAllowList parses CIDRs or bare addresses.
func ParseAllowList(entries []string) (AllowList, error) {
	var list AllowList
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return AllowList{}, fmt.Errorf("parsing allow-list entry %q: %w", entry, err)
			}
			list.prefixes = append(list.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return AllowList{}, fmt.Errorf("parsing allow-list entry %q: %w", entry, err)
		}
		list.prefixes = append(list.prefixes, prefix.Masked())
	}
	return list, nil
}

// Verify accepts ip only if a configured prefix contains it. An empty list
// accepts nothing.
func (l AllowList) Verify(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("%w: unparseable source address %q", ErrAuthentication, ip)
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return nil
		}
	}
	return fmt.Errorf("%w: source %s not allow-listed", ErrAuthentication, ip)
}
