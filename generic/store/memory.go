// Package store holds in-memory implementations of the generic stores.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// Memory is a ledger and snapshot store kept in maps. Used by tests.
type Memory struct {
	mu           sync.RWMutex
	transactions map[key][]generic.Transaction
	idempotency  map[string]bool
	snapshots    map[key][]generic.Snapshot
}

type key struct {
	EntityID generic.EntityID
	PolicyID generic.PolicyID
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[key][]generic.Transaction),
		idempotency:  make(map[string]bool),
		snapshots:    make(map[key][]generic.Snapshot),
	}
}

func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(tx)
	return nil
}

func (m *Memory) appendLocked(tx generic.Transaction) {
	k := key{EntityID: tx.EntityID, PolicyID: tx.PolicyID}
	txs := m.transactions[k]

	// keep EffectiveAt order; equal dates stay in insertion order
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := key{EntityID: entityID, PolicyID: policyID}
	result := make([]generic.Transaction, len(m.transactions[k]))
	copy(result, m.transactions[k])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Transaction
	for _, tx := range m.transactions[key{EntityID: entityID, PolicyID: policyID}] {
		if from.BeforeOrEqual(tx.EffectiveAt) && tx.EffectiveAt.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) SaveSnapshot(_ context.Context, s generic.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{EntityID: s.EntityID, PolicyID: s.PolicyID}
	for _, existing := range m.snapshots[k] {
		if existing.ID == s.ID {
			return nil
		}
	}
	m.snapshots[k] = append(m.snapshots[k], s)
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID) (*generic.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.snapshots[key{EntityID: entityID, PolicyID: policyID}]
	if len(list) == 0 {
		return nil, nil
	}
	s := list[len(list)-1]
	return &s, nil
}

// Snapshots returns every snapshot saved for entity+policy, oldest first.
func (m *Memory) Snapshots(entityID generic.EntityID, policyID generic.PolicyID) []generic.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.Snapshot(nil), m.snapshots[key{EntityID: entityID, PolicyID: policyID}]...)
}
