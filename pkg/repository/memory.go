package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
)

// Memory is an in-process Repository used for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]model.TransactionRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]model.TransactionRecord)}
}

func (m *Memory) PutTransaction(ctx context.Context, rec *model.TransactionRecord) error {
	if rec == nil || rec.Name == "" {
		return goerr.New("transaction name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Name] = *rec
	return nil
}

func (m *Memory) GetTransaction(ctx context.Context, name string) (*model.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, goerr.Wrap(ErrTransactionNotFound, "no such transaction", goerr.V("name", name))
	}
	return &rec, nil
}

func (m *Memory) ListTransactions(ctx context.Context, offset, limit int) ([]*model.TransactionRecord, error) {
	m.mu.RLock()
	all := make([]*model.TransactionRecord, 0, len(m.records))
	for _, rec := range m.records {
		r := rec
		all = append(all, &r)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].Name < all[j].Name
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
