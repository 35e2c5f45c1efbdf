// Package store provides an in-memory implementation of the donor
// storage interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pledge/donor-engine/donor"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY - In-memory implementation of all four collections
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	balances map[donor.UserID]decimal.Decimal
	history  map[donor.UserID][]donor.HistoryRecord
	groups   map[donor.GroupID]donor.GrantID
	admins   map[donor.UserID]struct{}
}

var (
	_ donor.LedgerStore      = (*Memory)(nil)
	_ donor.HistoryStore     = (*Memory)(nil)
	_ donor.GroupConfigStore = (*Memory)(nil)
	_ donor.AdminStore       = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[donor.UserID]decimal.Decimal),
		history:  make(map[donor.UserID][]donor.HistoryRecord),
		groups:   make(map[donor.GroupID]donor.GrantID),
		admins:   make(map[donor.UserID]struct{}),
	}
}

// =============================================================================
// LEDGER (donor.LedgerStore)
// =============================================================================

func (m *Memory) UpsertIncrement(_ context.Context, user donor.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.balances[user]
	m.balances[user] = prev.Add(amount)
	return prev, nil
}

func (m *Memory) UpsertSet(_ context.Context, user donor.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.balances[user]
	m.balances[user] = amount
	return prev, nil
}

func (m *Memory) GetBalance(_ context.Context, user donor.UserID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[user], nil
}

// =============================================================================
// HISTORY (donor.HistoryStore) - append-only
// =============================================================================

func (m *Memory) AppendHistory(_ context.Context, user donor.UserID, rec donor.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[user] = append(m.history[user], rec)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, user donor.UserID) ([]donor.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]donor.HistoryRecord, len(m.history[user]))
	copy(recs, m.history[user])
	return recs, nil
}

// =============================================================================
// GROUP CONFIG (donor.GroupConfigStore)
// =============================================================================

func (m *Memory) GetGroupGrant(_ context.Context, group donor.GroupID) (donor.GrantID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, ok := m.groups[group]
	return grant, ok, nil
}

func (m *Memory) SetGroupGrant(_ context.Context, group donor.GroupID, grant donor.GrantID) (donor.GrantID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.groups[group]
	m.groups[group] = grant
	return prev, had, nil
}

func (m *Memory) DeleteGroupGrant(_ context.Context, group donor.GroupID) (donor.GrantID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.groups[group]
	delete(m.groups, group)
	return prev, had, nil
}

func (m *Memory) ListGroupGrants(_ context.Context) ([]donor.GroupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]donor.GroupConfig, 0, len(m.groups))
	for group, grant := range m.groups {
		configs = append(configs, donor.GroupConfig{Group: group, Grant: grant})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Group < configs[j].Group })
	return configs, nil
}

// =============================================================================
// ADMIN ALLOWLIST (donor.AdminStore)
// =============================================================================

func (m *Memory) ContainsAdmin(_ context.Context, user donor.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.admins[user]
	return ok, nil
}

func (m *Memory) AddAdmin(_ context.Context, user donor.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, was := m.admins[user]
	m.admins[user] = struct{}{}
	return was, nil
}

func (m *Memory) RemoveAdmin(_ context.Context, user donor.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, was := m.admins[user]
	delete(m.admins, user)
	return was, nil
}
