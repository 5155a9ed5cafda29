package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore fronts a Store with a Redis read-through cache for code
// lookups, which sit on the click-tracking and attribution hot paths.
// Cache failures fall back to the underlying store.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store with a Redis cache.
func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{Store: store, client: client, ttl: ttl, logger: logger}
}

func codeKey(code string) string {
	return "affiliate:code:" + code
}

// GetByCode returns the affiliate for code, consulting Redis first.
func (s *CachedStore) GetByCode(ctx context.Context, code string) (*Affiliate, error) {
	raw, err := s.client.Get(ctx, codeKey(code)).Bytes()
	if err == nil {
		var a Affiliate
		if jsonErr := json.Unmarshal(raw, &a); jsonErr == nil {
			return &a, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("affiliate cache read failed", "code", code, "error", err)
	}

	a, err := s.Store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(a); jsonErr == nil {
		if setErr := s.client.Set(ctx, codeKey(code), data, s.ttl).Err(); setErr != nil {
			s.logger.Warn("affiliate cache write failed", "code", code, "error", setErr)
		}
	}
	return a, nil
}

// UpdateStatus writes through and evicts the cached code entry so a
// suspension takes effect immediately.
func (s *CachedStore) UpdateStatus(ctx context.Context, id string, status Status) (*Affiliate, error) {
	a, err := s.Store.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if delErr := s.client.Del(ctx, codeKey(a.Code)).Err(); delErr != nil {
		s.logger.Error("affiliate cache eviction failed", "code", a.Code, "error", delErr)
	}
	return a, nil
}
