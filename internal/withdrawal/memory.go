package withdrawal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"affiliatehub/internal/common/database"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("withdrawal %s: %w", r.ID, database.ErrAlreadyExists)
	}
	s.requests[r.ID] = clone(r)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, database.ErrNotFound)
	}
	return clone(r), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != StatusPending {
		return fmt.Errorf("pending withdrawal %s: %w", id, database.ErrNotFound)
	}
	delete(s.requests, id)
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, c Change) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, database.ErrNotFound)
	}
	next := clone(r)
	if err := next.apply(c); err != nil {
		return nil, err
	}
	s.requests[id] = next
	return clone(next), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.UserID == userID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored requests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func clone(r *Request) *Request {
	cp := *r
	if r.ProcessedAt != nil {
		at := *r.ProcessedAt
		cp.ProcessedAt = &at
	}
	if r.PaymentDetails != nil {
		cp.PaymentDetails = make(map[string]string, len(r.PaymentDetails))
		for k, v := range r.PaymentDetails {
			cp.PaymentDetails[k] = v
		}
	}
	return &cp
}
