package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, accountID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[accountID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return wrap("put", rec.Account.ID(), err)
	}
	s.mu.Lock()
	s.records[rec.Account.ID()] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	delete(s.records, accountID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, accountType string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Account
	for _, rec := range s.records {
		if accountType == "" || rec.Account.Type == accountType {
			out = append(out, rec.Account)
		}
	}
	sortAccounts(out)
	return out, nil
}

func sortAccounts(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID() < accounts[j].ID()
	})
}
