package memstore

import (
	"context"
	"fmt"
	"sort"

	"stockledger/internal/domain"

	"github.com/shopspring/decimal"
)

func (s *Store) Rule(_ context.Context, locationID string, productID int64) (domain.ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleKey{locationID: locationID, productID: productID}]
	if !ok {
		return domain.ReorderRule{}, fmt.Errorf("reorder rule %s/%d: %w", locationID, productID, domain.ErrNotFound)
	}
	return rule, nil
}

func (s *Store) ListRules(_ context.Context, locationID string) ([]domain.ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ReorderRule
	for k, rule := range s.rules {
		if k.locationID == locationID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) CreateRule(_ context.Context, rule domain.ReorderRule) (domain.ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey{locationID: rule.LocationID, productID: rule.ProductID}
	if _, exists := s.rules[k]; exists {
		return domain.ReorderRule{}, domain.Invalid("product_id", "reorder rule already exists")
	}
	now := s.now()
	rule.Ordered = decimal.Zero
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[k] = rule
	return rule, nil
}

func (s *Store) UpdateRule(_ context.Context, rule domain.ReorderRule) (domain.ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey{locationID: rule.LocationID, productID: rule.ProductID}
	current, ok := s.rules[k]
	if !ok {
		return domain.ReorderRule{}, fmt.Errorf("reorder rule %s/%d: %w", rule.LocationID, rule.ProductID, domain.ErrNotFound)
	}
	current.Minimum = rule.Minimum
	current.Buffer = rule.Buffer
	current.OrderAmount = rule.OrderAmount
	current.MaxOrderAmount = rule.MaxOrderAmount
	current.UpdatedAt = s.now()
	s.rules[k] = current
	return current, nil
}

func (s *Store) DeleteRule(_ context.Context, locationID string, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey{locationID: locationID, productID: productID}
	if _, ok := s.rules[k]; !ok {
		return fmt.Errorf("reorder rule %s/%d: %w", locationID, productID, domain.ErrNotFound)
	}
	delete(s.rules, k)
	return nil
}

func (s *Store) ResetOrdered(_ context.Context, locationID string, productID int64) (domain.ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey{locationID: locationID, productID: productID}
	rule, ok := s.rules[k]
	if !ok {
		return domain.ReorderRule{}, fmt.Errorf("reorder rule %s/%d: %w", locationID, productID, domain.ErrNotFound)
	}
	rule.Ordered = decimal.Zero
	rule.UpdatedAt = s.now()
	s.rules[k] = rule
	return rule, nil
}

func (s *Store) PlaceOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range order.Lines {
		if _, ok := s.rules[ruleKey{locationID: order.LocationID, productID: line.ProductID}]; !ok {
			return domain.Order{}, fmt.Errorf("reorder rule %s/%d: %w", order.LocationID, line.ProductID, domain.ErrNotFound)
		}
	}

	month := order.CreatedAt.Format("0601")
	seq := 1
	for _, existing := range s.orders {
		if existing.CustomerID == order.CustomerID && existing.CreatedAt.Format("0601") == month {
			seq++
		}
	}
	order.ID = domain.FormatOrderID(order.CustomerID, order.CreatedAt, seq)

	now := s.now()
	for _, line := range order.Lines {
		k := ruleKey{locationID: order.LocationID, productID: line.ProductID}
		rule := s.rules[k]
		rule.Ordered = rule.Ordered.Add(line.Quantity)
		rule.UpdatedAt = now
		s.rules[k] = rule
	}
	s.orders = append(s.orders, order)
	return order, nil
}

func (s *Store) Order(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.ID == id {
			return order, nil
		}
	}
	return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
}

func (s *Store) ListOrders(_ context.Context, locationID string, limit, offset int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].LocationID == locationID {
			out = append(out, s.orders[i])
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
