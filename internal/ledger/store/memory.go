package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"affiliatehub/internal/common/database"
	"affiliatehub/internal/ledger/domain"
)

// Memory is an in-process ledger store with the same atomicity and
// uniqueness guarantees as Store.
type Memory struct {
	mu          sync.Mutex
	balances    map[string]domain.Balance
	entries     []*domain.Entry
	entryRefs   map[string]bool
	commissions []*domain.Commission
	saleRefs    map[string]bool
	providerTxs map[string]bool
}

// NewMemory creates an empty in-memory ledger store
func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[string]domain.Balance),
		entryRefs:   make(map[string]bool),
		saleRefs:    make(map[string]bool),
		providerTxs: make(map[string]bool),
	}
}

func (m *Memory) GetBalance(_ context.Context, ownerID string) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[ownerID]
	if !ok {
		return nil, fmt.Errorf("balance %s: %w", ownerID, database.ErrNotFound)
	}
	return &b, nil
}

func (m *Memory) Apply(_ context.Context, mut *domain.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.balances[mut.Balance.OwnerID]
	switch {
	case mut.ExpectedVersion == 0 && exists:
		return domain.ErrVersionConflict
	case mut.ExpectedVersion != 0 && (!exists || current.Version != mut.ExpectedVersion):
		return domain.ErrVersionConflict
	}

	entryRef := string(mut.Entry.SourceType) + "/" + mut.Entry.Reference
	if m.entryRefs[entryRef] {
		return fmt.Errorf("entry %s: %w", entryRef, domain.ErrAlreadyApplied)
	}
	var providerTx string
	if c := mut.Commission; c != nil {
		providerTx = c.Provider + "/" + c.ProviderTransactionID
		if m.saleRefs[c.SaleReference] || m.providerTxs[providerTx] {
			return fmt.Errorf("commission for %s: %w", c.SaleReference, domain.ErrAlreadyApplied)
		}
	}

	m.balances[mut.Balance.OwnerID] = *mut.Balance
	e := *mut.Entry
	m.entries = append(m.entries, &e)
	m.entryRefs[entryRef] = true
	if c := mut.Commission; c != nil {
		cp := *c
		m.commissions = append(m.commissions, &cp)
		m.saleRefs[c.SaleReference] = true
		m.providerTxs[providerTx] = true
	}
	return nil
}

func (m *Memory) ListEntries(_ context.Context, ownerID string, limit, offset int) ([]*domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if e := m.entries[i]; e.OwnerID == ownerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (m *Memory) ListCommissions(_ context.Context, ownerID string, limit, offset int) ([]*domain.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Commission
	for i := len(m.commissions) - 1; i >= 0; i-- {
		if c := m.commissions[i]; c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// GetCommission returns the commission credited for a provider transaction.
func (m *Memory) GetCommission(_ context.Context, provider, providerTransactionID string) (*domain.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commissions {
		if c.Provider == provider && c.ProviderTransactionID == providerTransactionID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("commission for %s/%s: %w", provider, providerTransactionID, database.ErrNotFound)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
