package reorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/guard"
	"stockledger/internal/ledger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Store interface {
	Rule(ctx context.Context, locationID string, productID int64) (domain.ReorderRule, error)
	ListRules(ctx context.Context, locationID string) ([]domain.ReorderRule, error)
	CreateRule(ctx context.Context, rule domain.ReorderRule) (domain.ReorderRule, error)
	// UpdateRule changes thresholds only; the ordered amount is left alone.
	UpdateRule(ctx context.Context, rule domain.ReorderRule) (domain.ReorderRule, error)
	DeleteRule(ctx context.Context, locationID string, productID int64) error
	ResetOrdered(ctx context.Context, locationID string, productID int64) (domain.ReorderRule, error)
	// PlaceOrder numbers the order under a per-customer lock, stores it and
	// adds every line quantity to its rule's ordered amount in one unit.
	PlaceOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	Order(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, locationID string, limit, offset int) ([]domain.Order, error)
}

type Engine struct {
	store   Store
	ledger  ledger.Store
	catalog ledger.Catalog
	guard   guard.Guard
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(store Store, ledgerStore ledger.Store, catalog ledger.Catalog, g guard.Guard, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   store,
		ledger:  ledgerStore,
		catalog: catalog,
		guard:   g,
		logger:  logger,
		now:     time.Now,
	}
}

func (e *Engine) scope(ctx context.Context, locationID string, productID int64) (domain.Location, domain.Product, error) {
	loc, err := e.catalog.Location(ctx, locationID)
	if err != nil {
		return domain.Location{}, domain.Product{}, fmt.Errorf("load location: %w", err)
	}
	product, err := e.catalog.Product(ctx, productID)
	if err != nil {
		return domain.Location{}, domain.Product{}, fmt.Errorf("load product: %w", err)
	}
	if product.CustomerID != loc.CustomerID {
		return domain.Location{}, domain.Product{}, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	return loc, product, nil
}

type Recommendation struct {
	Rule          domain.ReorderRule `json:"rule"`
	ProductID     int64              `json:"product_id"`
	SKU           string             `json:"sku"`
	Text1         string             `json:"text1"`
	SupplierID    *int64             `json:"supplier_id,omitempty"`
	SupplierName  string             `json:"supplier_name"`
	IsBarred      bool               `json:"is_barred"`
	Quantity      decimal.Decimal    `json:"quantity"`
	Ordered       decimal.Decimal    `json:"ordered"`
	Disposable    decimal.Decimal    `json:"disposable"`
	Recommended   decimal.Decimal    `json:"recommended"`
	ShouldReorder bool               `json:"should_reorder"`
}

func recommendation(rule domain.ReorderRule, product domain.Product, quantity decimal.Decimal) Recommendation {
	return Recommendation{
		Rule:          rule,
		ProductID:     product.ID,
		SKU:           product.SKU,
		Text1:         product.Text1,
		SupplierID:    product.SupplierID,
		SupplierName:  product.SupplierName,
		IsBarred:      product.IsBarred,
		Quantity:      quantity,
		Ordered:       rule.Ordered,
		Disposable:    Disposable(rule, quantity),
		Recommended:   Recommend(rule),
		ShouldReorder: ShouldReorder(rule, quantity),
	}
}

func (e *Engine) locationQuantities(ctx context.Context, locationID string, productID int64) (map[int64]decimal.Decimal, error) {
	records, err := e.ledger.ListRecords(ctx, ledger.RecordFilter{LocationID: locationID, ProductID: productID})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make(map[int64]decimal.Decimal)
	for _, rec := range records {
		out[rec.ProductID] = out[rec.ProductID].Add(rec.Quantity)
	}
	return out, nil
}

// Recommendation evaluates the rule of one product against the quantity
// currently held across the whole location.
func (e *Engine) Recommendation(ctx context.Context, locationID string, productID int64) (Recommendation, error) {
	_, product, err := e.scope(ctx, locationID, productID)
	if err != nil {
		return Recommendation{}, err
	}
	rule, err := e.store.Rule(ctx, locationID, productID)
	if err != nil {
		return Recommendation{}, err
	}
	quantities, err := e.locationQuantities(ctx, locationID, productID)
	if err != nil {
		return Recommendation{}, err
	}
	return recommendation(rule, product, quantities[productID]), nil
}

func (e *Engine) Overview(ctx context.Context, locationID string) ([]Recommendation, error) {
	if _, err := e.catalog.Location(ctx, locationID); err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	rules, err := e.store.ListRules(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	quantities, err := e.locationQuantities(ctx, locationID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Recommendation, 0, len(rules))
	for _, rule := range rules {
		product, err := e.catalog.Product(ctx, rule.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load product: %w", err)
		}
		out = append(out, recommendation(rule, product, quantities[rule.ProductID]))
	}
	return out, nil
}

type Line struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type Submission struct {
	LocationID string          `json:"location_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Actor      domain.Actor    `json:"actor"`
}

// SubmitSingle creates a one-line order and books its quantity as ordered.
func (e *Engine) SubmitSingle(ctx context.Context, sub Submission) (domain.Order, error) {
	loc, err := e.catalog.Location(ctx, sub.LocationID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load location: %w", err)
	}
	line, err := e.prepare(ctx, loc, Line{ProductID: sub.ProductID, Quantity: sub.Quantity})
	if err != nil {
		return domain.Order{}, err
	}
	return e.place(ctx, loc, sub.Actor, []domain.OrderLine{line})
}

type BulkRequest struct {
	LocationID string       `json:"location_id"`
	Lines      []Line       `json:"lines"`
	Actor      domain.Actor `json:"actor"`
	RequestID  string       `json:"request_id,omitempty"`
}

type Failure struct {
	Index     int    `json:"index"`
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

// BulkResult holds the order created from the accepted lines, if any, and
// the lines that were turned down.
type BulkResult struct {
	Order  *domain.Order `json:"order,omitempty"`
	Failed []Failure     `json:"failed"`
}

func (r BulkResult) Partial() bool {
	return r.Order != nil && len(r.Failed) > 0
}

// SubmitBulk validates every line on its own. Accepted lines form one order;
// rejected lines are reported and never block the rest.
func (e *Engine) SubmitBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	loc, err := e.catalog.Location(ctx, req.LocationID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("load location: %w", err)
	}
	if len(req.Lines) == 0 {
		return BulkResult{}, domain.Invalid("lines", "at least one line is required")
	}
	release, err := e.claim(ctx, req.RequestID)
	if err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{Failed: []Failure{}}
	var lines []domain.OrderLine
	for i, in := range req.Lines {
		line, err := e.prepare(ctx, loc, in)
		if err == nil {
			lines = append(lines, line)
			continue
		}
		code, ok := failureCode(err)
		if !ok {
			release()
			return BulkResult{}, err
		}
		result.Failed = append(result.Failed, Failure{
			Index:     i,
			ProductID: in.ProductID,
			Code:      code,
			Reason:    err.Error(),
			Err:       err,
		})
		e.logger.Warn("reorder line rejected",
			zap.String("location_id", loc.ID),
			zap.Int("index", i),
			zap.Int64("product_id", in.ProductID),
			zap.String("code", code),
			zap.Error(err),
		)
	}

	if len(lines) == 0 {
		release()
		return result, nil
	}
	order, err := e.place(ctx, loc, req.Actor, lines)
	if err != nil {
		release()
		return BulkResult{}, err
	}
	result.Order = &order
	return result, nil
}

// claim reserves requestID and returns a func that gives it back.
func (e *Engine) claim(ctx context.Context, requestID string) (func(), error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || e.guard == nil {
		return func() {}, nil
	}
	key := "reorder:" + requestID
	ok, err := e.guard.Claim(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("claim request id: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrDuplicateSubmission)
	}
	return func() {
		if err := e.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			e.logger.Warn("release request id", zap.String("request_id", requestID), zap.Error(err))
		}
	}, nil
}

func (e *Engine) prepare(ctx context.Context, loc domain.Location, in Line) (domain.OrderLine, error) {
	if in.ProductID <= 0 {
		return domain.OrderLine{}, domain.Invalid("product_id", "is required")
	}
	if !in.Quantity.IsPositive() {
		return domain.OrderLine{}, domain.Invalid("quantity", "must be greater than zero")
	}
	_, product, err := e.scope(ctx, loc.ID, in.ProductID)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if product.IsBarred {
		return domain.OrderLine{}, fmt.Errorf("product %d: %w", product.ID, domain.ErrProductBarred)
	}
	rule, err := e.store.Rule(ctx, loc.ID, product.ID)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if err := CheckLimit(rule, in.Quantity); err != nil {
		return domain.OrderLine{}, err
	}
	return domain.OrderLine{
		ProductID:    product.ID,
		SKU:          product.SKU,
		Barcode:      product.Barcode,
		Text1:        product.Text1,
		Text2:        product.Text2,
		Unit:         product.Unit,
		SupplierName: product.SupplierName,
		CostPrice:    product.CostPrice,
		Quantity:     in.Quantity,
		Sum:          in.Quantity.Mul(product.CostPrice),
	}, nil
}

func (e *Engine) place(ctx context.Context, loc domain.Location, actor domain.Actor, lines []domain.OrderLine) (domain.Order, error) {
	order, err := e.store.PlaceOrder(ctx, domain.Order{
		CustomerID: loc.CustomerID,
		LocationID: loc.ID,
		UserID:     actor.UserID,
		UserName:   actor.Name,
		CreatedAt:  e.now().UTC(),
		Lines:      lines,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("place order: %w", err)
	}
	e.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("location_id", loc.ID),
		zap.Int("lines", len(order.Lines)),
	)
	return order, nil
}

func failureCode(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrLimitExceeded):
		return "limit-exceeded", true
	case errors.Is(err, domain.ErrProductBarred):
		return "product-barred", true
	case errors.Is(err, domain.ErrNotFound):
		return "not-found", true
	case errors.Is(err, domain.ErrValidation):
		return "validation", true
	}
	return "", false
}

// ExpandSupplier stages one line per product of the supplier that has a
// rule, is not barred and is not already staged. Quantities default to the
// recommendation.
func (e *Engine) ExpandSupplier(ctx context.Context, locationID string, supplierID int64, staged []int64) ([]Line, error) {
	if supplierID <= 0 {
		return nil, domain.Invalid("supplier_id", "is required")
	}
	products, err := e.catalog.ProductsBySupplier(ctx, locationID, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list supplier products: %w", err)
	}
	seen := make(map[int64]struct{}, len(staged))
	for _, id := range staged {
		seen[id] = struct{}{}
	}
	lines := []Line{}
	for _, product := range products {
		if product.IsBarred {
			continue
		}
		if _, ok := seen[product.ID]; ok {
			continue
		}
		rule, err := e.store.Rule(ctx, locationID, product.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		seen[product.ID] = struct{}{}
		lines = append(lines, Line{ProductID: product.ID, Quantity: Recommend(rule)})
	}
	return lines, nil
}

func (e *Engine) Order(ctx context.Context, id string) (domain.Order, error) {
	return e.store.Order(ctx, id)
}

func (e *Engine) Orders(ctx context.Context, locationID string, limit, offset int) ([]domain.Order, error) {
	return e.store.ListOrders(ctx, locationID, limit, offset)
}
