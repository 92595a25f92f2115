package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"

	"github.com/shopspring/decimal"
)

func (s *Store) Quantity(_ context.Context, key ledger.Key) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key].Quantity, nil
}

func (s *Store) ListRecords(_ context.Context, filter ledger.RecordFilter) ([]domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InventoryRecord
	for _, rec := range s.records {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ledger.KeyOf(out[i]).Less(ledger.KeyOf(out[j])) })
	return out, nil
}

func (s *Store) DefaultPlacement(_ context.Context, productID int64, locationID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.defaults[defaultKey{productID: productID, locationID: locationID}]
	return id, ok, nil
}

func (s *Store) ListHistory(_ context.Context, filter ledger.HistoryFilter) ([]domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Movement
	for i := len(s.history) - 1; i >= 0; i-- {
		if filter.Match(s.history[i]) {
			out = append(out, s.history[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) AppendImported(_ context.Context, movements []domain.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range movements {
		if !m.Imported {
			return fmt.Errorf("append imported movement %s: not flagged as imported", m.ID)
		}
	}
	s.history = append(s.history, movements...)
	return nil
}

func (s *Store) Update(ctx context.Context, keys []ledger.Key, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sorted := ledger.SortKeys(keys)

	s.mu.Lock()
	mutexes := make([]*sync.Mutex, len(sorted))
	for i, k := range sorted {
		m, ok := s.locks[k]
		if !ok {
			m = &sync.Mutex{}
			s.locks[k] = m
		}
		mutexes[i] = m
	}
	s.mu.Unlock()

	for _, m := range mutexes {
		m.Lock()
	}
	defer func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
	}()

	tx := &memTx{
		store:    s,
		locked:   make(map[ledger.Key]struct{}, len(sorted)),
		staged:   make(map[ledger.Key]decimal.Decimal),
		defaults: make(map[defaultKey]*int64),
	}
	for _, k := range sorted {
		tx.locked[k] = struct{}{}
	}

	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, qty := range tx.staged {
		s.records[k] = domain.InventoryRecord{
			LocationID:  k.LocationID,
			ProductID:   k.ProductID,
			PlacementID: k.PlacementID,
			BatchID:     k.BatchID,
			Quantity:    qty,
			UpdatedAt:   now,
		}
	}
	s.history = append(s.history, tx.movements...)
	for k, id := range tx.defaults {
		if id == nil {
			delete(s.defaults, k)
			continue
		}
		s.defaults[k] = *id
	}
}

type memTx struct {
	store     *Store
	locked    map[ledger.Key]struct{}
	staged    map[ledger.Key]decimal.Decimal
	movements []domain.Movement
	defaults  map[defaultKey]*int64
}

func (t *memTx) check(key ledger.Key) error {
	if _, ok := t.locked[key]; !ok {
		return fmt.Errorf("%s: %w", key, ledger.ErrKeyNotLocked)
	}
	return nil
}

func (t *memTx) Quantity(ctx context.Context, key ledger.Key) (decimal.Decimal, error) {
	if err := t.check(key); err != nil {
		return decimal.Zero, err
	}
	if qty, ok := t.staged[key]; ok {
		return qty, nil
	}
	return t.store.Quantity(ctx, key)
}

func (t *memTx) ApplyDelta(ctx context.Context, key ledger.Key, delta decimal.Decimal) (decimal.Decimal, error) {
	current, err := t.Quantity(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	next := current.Add(delta)
	t.staged[key] = next
	return next, nil
}

func (t *memTx) AppendMovement(_ context.Context, m *domain.Movement) error {
	if m == nil {
		return fmt.Errorf("append movement: nil movement")
	}
	t.movements = append(t.movements, *m)
	return nil
}

func (t *memTx) DefaultPlacement(ctx context.Context, productID int64, locationID string) (int64, bool, error) {
	if id, ok := t.defaults[defaultKey{productID: productID, locationID: locationID}]; ok {
		if id == nil {
			return 0, false, nil
		}
		return *id, true, nil
	}
	return t.store.DefaultPlacement(ctx, productID, locationID)
}

func (t *memTx) SetDefaultPlacement(_ context.Context, assignment domain.DefaultPlacement) error {
	id := assignment.PlacementID
	t.defaults[defaultKey{productID: assignment.ProductID, locationID: assignment.LocationID}] = &id
	return nil
}

func (t *memTx) ClearDefaultPlacement(_ context.Context, productID int64, locationID string) error {
	t.defaults[defaultKey{productID: productID, locationID: locationID}] = nil
	return nil
}
