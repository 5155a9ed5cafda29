package affiliate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"affiliatehub/internal/common/database"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Affiliate
	byCode map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Affiliate), byCode: make(map[string]string)}
}

func (s *MemoryStore) Create(_ context.Context, a *Affiliate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[a.Code]; ok {
		return fmt.Errorf("affiliate code %s: %w", a.Code, ErrCodeTaken)
	}
	if _, ok := s.byID[a.ID]; ok {
		return fmt.Errorf("affiliate %s: %w", a.ID, database.ErrAlreadyExists)
	}
	c := *a
	s.byID[a.ID] = &c
	s.byCode[a.Code] = a.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("affiliate %s: %w", id, database.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*Affiliate, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("affiliate code %s: %w", code, database.ErrNotFound)
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) (*Affiliate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("affiliate %s: %w", id, database.ErrNotFound)
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	c := *a
	return &c, nil
}
