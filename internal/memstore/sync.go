package memstore

import (
	"context"
	"fmt"
	"strings"

	"stockledger/internal/domain"
)

// The Save methods mirror the catalog sync of the Postgres repository.

func (s *Store) SaveLocation(_ context.Context, loc domain.Location) (domain.Location, error) {
	if strings.TrimSpace(loc.ID) == "" {
		return domain.Location{}, domain.Invalid("id", "is required")
	}
	return s.AddLocation(loc), nil
}

func (s *Store) SaveSettings(_ context.Context, customerID int64, settings domain.Settings) error {
	s.SetSettings(customerID, settings)
	return nil
}

func (s *Store) SaveProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID != 0 {
		if _, ok := s.products[p.ID]; !ok {
			return domain.Product{}, fmt.Errorf("product %d: %w", p.ID, domain.ErrNotFound)
		}
	}
	for _, existing := range s.products {
		if existing.ID != p.ID && existing.CustomerID == p.CustomerID && existing.SKU == p.SKU {
			return domain.Product{}, domain.Invalid("sku", "is already used by another product")
		}
	}
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) SavePlacement(ctx context.Context, p domain.Placement) (domain.Placement, error) {
	saved, err := s.EnsurePlacement(ctx, p.LocationID, p.Name)
	if err != nil {
		return domain.Placement{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved.IsBarred = p.IsBarred
	s.placements[saved.ID] = saved
	return saved, nil
}
