// Package memory provides an in-memory reajuste.Store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/terravista/lot-sales/reajuste"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	contracts  map[reajuste.ContractID]reajuste.Contract
	params     *reajuste.Parameters
	snapshots  []reajuste.IndexSnapshot
	records    []reajuste.Record
	byContract map[recordKey]int // index into records
}

type recordKey struct {
	ContractID  reajuste.ContractID
	Installment int
}

func New() *Memory {
	return &Memory{
		contracts:  make(map[reajuste.ContractID]reajuste.Contract),
		byContract: make(map[recordKey]int),
	}
}

// Reset clears every table.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = make(map[reajuste.ContractID]reajuste.Contract)
	m.params = nil
	m.snapshots = nil
	m.records = nil
	m.byContract = make(map[recordKey]int)
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) SaveContract(_ context.Context, c reajuste.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[c.ID] = cloneContract(c)
	return nil
}

func (m *Memory) GetContract(_ context.Context, id reajuste.ContractID) (reajuste.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContractLocked(id)
}

func (m *Memory) getContractLocked(id reajuste.ContractID) (reajuste.Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return reajuste.Contract{}, &reajuste.ContractNotFoundError{ID: id}
	}
	return cloneContract(c), nil
}

func (m *Memory) ListContracts(_ context.Context) ([]reajuste.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(func(reajuste.Contract) bool { return true }), nil
}

func (m *Memory) ListActiveContracts(_ context.Context) ([]reajuste.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(func(c reajuste.Contract) bool { return c.Status == reajuste.ContractActive }), nil
}

func (m *Memory) listLocked(keep func(reajuste.Contract) bool) []reajuste.Contract {
	out := make([]reajuste.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		if keep(c) {
			out = append(out, cloneContract(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneContract(c reajuste.Contract) reajuste.Contract {
	if c.LastAdjustment != nil {
		la := *c.LastAdjustment
		c.LastAdjustment = &la
	}
	return c
}

// =============================================================================
// PARAMETERS
// =============================================================================

func (m *Memory) LoadParameters(_ context.Context) (reajuste.Parameters, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.params == nil {
		return reajuste.Parameters{}, false, nil
	}
	return *m.params, true, nil
}

func (m *Memory) SaveParameters(_ context.Context, p reajuste.Parameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = &p
	return nil
}

// =============================================================================
// INDEX SNAPSHOTS (append-only)
// =============================================================================

func (m *Memory) AppendSnapshot(_ context.Context, s reajuste.IndexSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

// LatestSnapshot picks the greatest effective date; among equal dates the
// one appended last wins.
func (m *Memory) LatestSnapshot(_ context.Context) (reajuste.IndexSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return reajuste.IndexSnapshot{}, false, nil
	}
	best := 0
	for i, s := range m.snapshots {
		if s.EffectiveDate.AfterOrEqual(m.snapshots[best].EffectiveDate) {
			best = i
		}
	}
	return m.snapshots[best], true, nil
}

func (m *Memory) ListSnapshots(_ context.Context) ([]reajuste.IndexSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]reajuste.IndexSnapshot(nil), m.snapshots...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

// =============================================================================
// RECORDS (append-only)
// =============================================================================

func (m *Memory) RecordsByContract(_ context.Context, id reajuste.ContractID) ([]reajuste.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recordsByContractLocked(id), nil
}

func (m *Memory) recordsByContractLocked(id reajuste.ContractID) []reajuste.Record {
	var out []reajuste.Record
	for _, r := range m.records {
		if r.ContractID == id {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

func (m *Memory) QueryRecords(_ context.Context, f reajuste.RecordFilter) ([]reajuste.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reajuste.Record
	for _, r := range m.records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sortRecordsWithinContract(out)
	return out, nil
}

func (m *Memory) FindRecord(_ context.Context, id reajuste.ContractID, installment int) (*reajuste.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findRecordLocked(id, installment), nil
}

func (m *Memory) findRecordLocked(id reajuste.ContractID, installment int) *reajuste.Record {
	i, ok := m.byContract[recordKey{ContractID: id, Installment: installment}]
	if !ok {
		return nil
	}
	r := m.records[i]
	return &r
}

func (m *Memory) appendRecordLocked(r reajuste.Record) error {
	k := recordKey{ContractID: r.ContractID, Installment: r.ReferenceInstallment}
	if i, exists := m.byContract[k]; exists {
		return &reajuste.DuplicateApplicationError{
			ContractID:           r.ContractID,
			ReferenceInstallment: r.ReferenceInstallment,
			ExistingID:           m.records[i].ID,
		}
	}
	m.records = append(m.records, r)
	m.byContract[k] = len(m.records) - 1
	return nil
}

func (m *Memory) updateLastAdjustmentLocked(id reajuste.ContractID, la reajuste.LastAdjustment) error {
	c, ok := m.contracts[id]
	if !ok {
		return &reajuste.ContractNotFoundError{ID: id}
	}
	c.LastAdjustment = &la
	m.contracts[id] = c
	return nil
}

func sortRecords(recs []reajuste.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].ReferenceDate.Equal(recs[j].ReferenceDate) {
			return recs[i].ReferenceDate.Before(recs[j].ReferenceDate)
		}
		return recs[i].ReferenceInstallment < recs[j].ReferenceInstallment
	})
}

func sortRecordsWithinContract(recs []reajuste.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].ContractID != recs[j].ContractID {
			return recs[i].ContractID < recs[j].ContractID
		}
		return recs[i].ReferenceDate.Before(recs[j].ReferenceDate)
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn holding the write lock. On error the snapshot taken before
// fn is restored.
func (m *Memory) WithTx(_ context.Context, fn func(reajuste.ApplyTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	contracts  map[reajuste.ContractID]reajuste.Contract
	records    []reajuste.Record
	byContract map[recordKey]int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		contracts:  make(map[reajuste.ContractID]reajuste.Contract, len(m.contracts)),
		records:    append([]reajuste.Record(nil), m.records...),
		byContract: make(map[recordKey]int, len(m.byContract)),
	}
	for k, v := range m.contracts {
		s.contracts[k] = cloneContract(v)
	}
	for k, v := range m.byContract {
		s.byContract[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.contracts = s.contracts
	m.records = s.records
	m.byContract = s.byContract
}

// txView operates on the parent with its lock already held.
type txView struct {
	parent *Memory
}

func (tv *txView) GetContract(_ context.Context, id reajuste.ContractID) (reajuste.Contract, error) {
	return tv.parent.getContractLocked(id)
}

func (tv *txView) RecordsByContract(_ context.Context, id reajuste.ContractID) ([]reajuste.Record, error) {
	return tv.parent.recordsByContractLocked(id), nil
}

func (tv *txView) FindRecord(_ context.Context, id reajuste.ContractID, installment int) (*reajuste.Record, error) {
	return tv.parent.findRecordLocked(id, installment), nil
}

func (tv *txView) AppendRecord(_ context.Context, r reajuste.Record) error {
	return tv.parent.appendRecordLocked(r)
}

func (tv *txView) UpdateLastAdjustment(_ context.Context, id reajuste.ContractID, la reajuste.LastAdjustment) error {
	return tv.parent.updateLastAdjustmentLocked(id, la)
}
