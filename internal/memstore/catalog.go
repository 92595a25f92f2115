package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockledger/internal/domain"
)

func (s *Store) Product(_ context.Context, id int64) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ProductBySKU(_ context.Context, locationID, sku string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return domain.Product{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	for _, p := range s.products {
		if p.CustomerID == loc.CustomerID && p.SKU == sku {
			return p, nil
		}
	}
	return domain.Product{}, fmt.Errorf("product %q: %w", sku, domain.ErrNotFound)
}

func (s *Store) ProductsBySupplier(_ context.Context, locationID string, supplierID int64) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return nil, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	var out []domain.Product
	for _, p := range s.products {
		if p.CustomerID == loc.CustomerID && p.SupplierID != nil && *p.SupplierID == supplierID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Location(_ context.Context, id string) (domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return domain.Location{}, fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
	}
	return loc, nil
}

func (s *Store) Placement(_ context.Context, id int64) (domain.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.placements[id]
	if !ok {
		return domain.Placement{}, fmt.Errorf("placement %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) Batch(_ context.Context, id int64) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *Store) EnsurePlacement(_ context.Context, locationID, name string) (domain.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[locationID]; !ok {
		return domain.Placement{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	for _, p := range s.placements {
		if p.LocationID == locationID && p.Name == name {
			return p, nil
		}
	}
	p := domain.Placement{ID: s.id(), LocationID: locationID, Name: name}
	s.placements[p.ID] = p
	return p, nil
}

func (s *Store) EnsureBatch(_ context.Context, locationID, name string, expiry *time.Time) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[locationID]; !ok {
		return domain.Batch{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	for _, b := range s.batches {
		if b.LocationID == locationID && b.Name == name {
			return b, nil
		}
	}
	b := domain.Batch{ID: s.id(), LocationID: locationID, Name: name, Expiry: expiry}
	s.batches[b.ID] = b
	return b, nil
}

func (s *Store) Settings(_ context.Context, locationID string) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return domain.Settings{}, fmt.Errorf("location %s: %w", locationID, domain.ErrNotFound)
	}
	settings, ok := s.settings[loc.CustomerID]
	if !ok {
		return domain.Settings{UsePlacement: true}, nil
	}
	return settings, nil
}
