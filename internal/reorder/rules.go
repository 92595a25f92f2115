package reorder

import (
	"context"
	"strings"

	"stockledger/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Recommend returns the quantity to order for rule. An explicit order amount
// wins; otherwise the buffer percentage of the minimum is used.
func Recommend(rule domain.ReorderRule) decimal.Decimal {
	if rule.OrderAmount.IsPositive() {
		return rule.OrderAmount
	}
	return rule.Minimum.Mul(rule.Buffer).Div(hundred)
}

// Disposable is the on-hand quantity plus what is already on open orders.
func Disposable(rule domain.ReorderRule, quantity decimal.Decimal) decimal.Decimal {
	return quantity.Add(rule.Ordered)
}

func ShouldReorder(rule domain.ReorderRule, quantity decimal.Decimal) bool {
	return Disposable(rule, quantity).LessThan(rule.Minimum)
}

// CheckLimit validates a quantity to order against the rule's cap.
func CheckLimit(rule domain.ReorderRule, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return domain.Invalid("quantity", "must be greater than zero")
	}
	if rule.MaxOrderAmount.IsPositive() && quantity.GreaterThan(rule.MaxOrderAmount) {
		return &LimitError{Requested: quantity, Max: rule.MaxOrderAmount}
	}
	return nil
}

type LimitError struct {
	Requested decimal.Decimal
	Max       decimal.Decimal
}

func (e *LimitError) Error() string {
	return "quantity " + e.Requested.String() + " exceeds max order amount " + e.Max.String()
}

func (e *LimitError) Unwrap() error { return domain.ErrLimitExceeded }

type RuleInput struct {
	LocationID     string          `json:"location_id"`
	ProductID      int64           `json:"product_id"`
	Minimum        decimal.Decimal `json:"minimum"`
	Buffer         decimal.Decimal `json:"buffer"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	MaxOrderAmount decimal.Decimal `json:"max_order_amount"`
}

func (in RuleInput) Validate() error {
	if strings.TrimSpace(in.LocationID) == "" {
		return domain.Invalid("location_id", "is required")
	}
	if in.ProductID <= 0 {
		return domain.Invalid("product_id", "is required")
	}
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"minimum", in.Minimum},
		{"buffer", in.Buffer},
		{"order_amount", in.OrderAmount},
		{"max_order_amount", in.MaxOrderAmount},
	} {
		if f.value.IsNegative() {
			return domain.Invalid(f.name, "must not be negative")
		}
	}
	if in.MaxOrderAmount.IsPositive() && in.OrderAmount.GreaterThan(in.MaxOrderAmount) {
		return domain.Invalid("order_amount", "must not exceed max_order_amount")
	}
	return nil
}

func (in RuleInput) rule() domain.ReorderRule {
	return domain.ReorderRule{
		LocationID:     strings.TrimSpace(in.LocationID),
		ProductID:      in.ProductID,
		Minimum:        in.Minimum,
		Buffer:         in.Buffer,
		OrderAmount:    in.OrderAmount,
		MaxOrderAmount: in.MaxOrderAmount,
	}
}

// derive fills a zero order amount from the buffer percentage of the minimum.
func (in RuleInput) derive() (domain.ReorderRule, error) {
	rule := in.rule()
	if rule.OrderAmount.IsZero() && rule.Buffer.IsPositive() {
		rule.OrderAmount = rule.Minimum.Mul(rule.Buffer).Div(hundred)
		if rule.MaxOrderAmount.IsPositive() && rule.OrderAmount.GreaterThan(rule.MaxOrderAmount) {
			return domain.ReorderRule{}, domain.Invalid("buffer", "derived order amount exceeds max_order_amount")
		}
	}
	return rule, nil
}

func (e *Engine) CreateRule(ctx context.Context, in RuleInput) (domain.ReorderRule, error) {
	if err := in.Validate(); err != nil {
		return domain.ReorderRule{}, err
	}
	if _, _, err := e.scope(ctx, in.LocationID, in.ProductID); err != nil {
		return domain.ReorderRule{}, err
	}
	rule, err := in.derive()
	if err != nil {
		return domain.ReorderRule{}, err
	}
	created, err := e.store.CreateRule(ctx, rule)
	if err != nil {
		return domain.ReorderRule{}, err
	}
	return created, nil
}

// UpdateRule replaces the thresholds of an existing rule, deriving the order
// amount from the buffer the same way CreateRule does.
func (e *Engine) UpdateRule(ctx context.Context, in RuleInput) (domain.ReorderRule, error) {
	if err := in.Validate(); err != nil {
		return domain.ReorderRule{}, err
	}
	if _, _, err := e.scope(ctx, in.LocationID, in.ProductID); err != nil {
		return domain.ReorderRule{}, err
	}
	rule, err := in.derive()
	if err != nil {
		return domain.ReorderRule{}, err
	}
	return e.store.UpdateRule(ctx, rule)
}

func (e *Engine) DeleteRule(ctx context.Context, locationID string, productID int64) error {
	return e.store.DeleteRule(ctx, locationID, productID)
}

// ResetOrdered marks the rule's open orders as received.
func (e *Engine) ResetOrdered(ctx context.Context, locationID string, productID int64) (domain.ReorderRule, error) {
	return e.store.ResetOrdered(ctx, locationID, productID)
}
