package idempotency

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/sale"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[sale.Key]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[sale.Key]*Record)}
}

func (s *MemoryStore) Claim(_ context.Context, key sale.Key, tier sale.TrustTier, now, staleBefore time.Time) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Key: key, Status: StatusInProgress, TrustTier: tier, Attempts: 1, CreatedAt: now, ProcessedAt: now}
		s.records[key] = rec
		return Claim{Claimed: true, Record: copyRecord(rec)}, nil
	}

	if rec.Status == StatusFailed || (rec.Status == StatusInProgress && rec.ProcessedAt.Before(staleBefore)) {
		rec.Status = StatusInProgress
		rec.ProcessedAt = now
		rec.Attempts++
		return Claim{Claimed: true, Resumed: true, Record: copyRecord(rec)}, nil
	}
	return Claim{Record: copyRecord(rec)}, nil
}

func (s *MemoryStore) Finalize(_ context.Context, key sale.Key, status Status, affiliateID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != StatusInProgress {
		return ErrNotClaimed
	}
	rec.Status = status
	rec.AffiliateID = affiliateID
	rec.LastError = ""
	rec.ProcessedAt = now
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key sale.Key, cause string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != StatusInProgress {
		return ErrNotClaimed
	}
	rec.Status = StatusFailed
	rec.LastError = cause
	rec.ProcessedAt = now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key sale.Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("processed transaction %s: %w", key, database.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Status == StatusInProgress && rec.ProcessedAt.Before(before) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyRecord(r *Record) *Record {
	c := *r
	return &c
}
