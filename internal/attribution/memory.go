package attribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"affiliatehub/internal/common/database"
)

// MemoryClickStore is an in-process ClickStore.
type MemoryClickStore struct {
	mu     sync.RWMutex
	clicks []*Click
}

// NewMemoryClickStore creates an empty MemoryClickStore.
func NewMemoryClickStore() *MemoryClickStore {
	return &MemoryClickStore{}
}

func (s *MemoryClickStore) Record(_ context.Context, c *Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clicks = append(s.clicks, &cp)
	return nil
}

func (s *MemoryClickStore) LatestByIP(_ context.Context, ip string, after, until time.Time) (*Click, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Click
	for _, c := range s.clicks {
		if c.IPAddress != ip || !c.OccurredAt.After(after) || c.OccurredAt.After(until) {
			continue
		}
		if latest == nil || c.OccurredAt.After(latest.OccurredAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("click for %s: %w", ip, database.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryClickStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.clicks[:0]
	var purged int64
	for _, c := range s.clicks {
		if c.OccurredAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, c)
	}
	s.clicks = kept
	return purged, nil
}

// Len returns the number of stored clicks.
func (s *MemoryClickStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clicks)
}
