// Package memstore keeps every store contract in process memory. It backs the
// unit tests and the STORE=memory server mode.
package memstore

import (
	"sync"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"
)

type defaultKey struct {
	productID  int64
	locationID string
}

type ruleKey struct {
	locationID string
	productID  int64
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextID     int64
	locations  map[string]domain.Location
	settings   map[int64]domain.Settings
	products   map[int64]domain.Product
	placements map[int64]domain.Placement
	batches    map[int64]domain.Batch

	records  map[ledger.Key]domain.InventoryRecord
	defaults map[defaultKey]int64
	history  []domain.Movement
	locks    map[ledger.Key]*sync.Mutex

	rules  map[ruleKey]domain.ReorderRule
	orders []domain.Order
}

func New() *Store {
	return &Store{
		now:        time.Now,
		locations:  make(map[string]domain.Location),
		settings:   make(map[int64]domain.Settings),
		products:   make(map[int64]domain.Product),
		placements: make(map[int64]domain.Placement),
		batches:    make(map[int64]domain.Batch),
		records:    make(map[ledger.Key]domain.InventoryRecord),
		defaults:   make(map[defaultKey]int64),
		locks:      make(map[ledger.Key]*sync.Mutex),
		rules:      make(map[ruleKey]domain.ReorderRule),
	}
}

// SetClock replaces the clock used for record timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) AddLocation(loc domain.Location) domain.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.ID] = loc
	return loc
}

// SetSettings stores the settings of a customer.
func (s *Store) SetSettings(customerID int64, settings domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[customerID] = settings
}

// AddProduct stores p, assigning an id when p.ID is zero.
func (s *Store) AddProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products[p.ID] = p
	return p
}

func (s *Store) AddPlacement(p domain.Placement) domain.Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.placements[p.ID] = p
	return p
}

func (s *Store) AddBatch(b domain.Batch) domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.id()
	}
	s.batches[b.ID] = b
	return b
}
