package movement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Result struct {
	Movements []domain.Movement `json:"movements"`
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

type Processor struct {
	store   ledger.Store
	catalog ledger.Catalog
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

func NewProcessor(store ledger.Store, catalog ledger.Catalog, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type scope struct {
	location domain.Location
	product  domain.Product
	settings domain.Settings
}

// Apply validates req against the current ledger and applies it.
// Quantities are checked under the key locks, never against caller input.
func (p *Processor) Apply(ctx context.Context, req Request) (Result, error) {
	if req == nil {
		return Result{}, domain.Invalid("type", "movement type is required")
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	h := req.header()
	sc, err := p.scope(ctx, h.locationID, h.productID)
	if err != nil {
		return Result{}, err
	}
	if sc.settings.ReferenceRequired(req.Type()) && strings.TrimSpace(h.reference) == "" {
		return Result{}, domain.Invalid("reference", "is required")
	}

	var res Result
	switch r := req.(type) {
	case Incoming:
		res, err = p.incoming(ctx, sc, r)
	case Outgoing:
		res, err = p.outgoing(ctx, sc, r)
	case Adjustment:
		res, err = p.adjustment(ctx, sc, r)
	case Transfer:
		res, err = p.transfer(ctx, sc, r)
	default:
		return Result{}, domain.Invalid("type", fmt.Sprintf("unsupported movement %T", req))
	}
	if err != nil {
		return Result{}, err
	}
	for _, m := range res.Movements {
		p.logger.Info("movement applied",
			zap.String("movement_id", m.ID),
			zap.String("type", string(m.Type)),
			zap.String("location_id", m.LocationID),
			zap.Int64("product_id", m.ProductID),
			zap.Int64("placement_id", m.PlacementID),
			zap.Int64("batch_id", m.BatchID),
			zap.String("delta", m.Delta.String()),
			zap.String("quantity_after", m.QuantityAfter.String()),
		)
	}
	return res, nil
}

func (p *Processor) Transfer(ctx context.Context, req Transfer) (Result, error) {
	return p.Apply(ctx, req)
}

func (p *Processor) scope(ctx context.Context, locationID string, productID int64) (scope, error) {
	loc, err := p.catalog.Location(ctx, locationID)
	if err != nil {
		return scope{}, fmt.Errorf("load location: %w", err)
	}
	product, err := p.catalog.Product(ctx, productID)
	if err != nil {
		return scope{}, fmt.Errorf("load product: %w", err)
	}
	if product.CustomerID != loc.CustomerID {
		return scope{}, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	settings, err := p.catalog.Settings(ctx, locationID)
	if err != nil {
		return scope{}, fmt.Errorf("load settings: %w", err)
	}
	return scope{location: loc, product: product, settings: settings}, nil
}

func (p *Processor) incoming(ctx context.Context, sc scope, r Incoming) (Result, error) {
	if sc.product.IsBarred {
		return Result{}, fmt.Errorf("product %d: %w", sc.product.ID, domain.ErrProductBarred)
	}
	placement, err := p.incomingPlacement(ctx, sc, r.Placement)
	if err != nil {
		return Result{}, err
	}
	batch, err := p.incomingBatch(ctx, sc, r.Batch)
	if err != nil {
		return Result{}, err
	}
	key := ledger.Key{LocationID: sc.location.ID, ProductID: sc.product.ID, PlacementID: placement.ID, BatchID: batch.ID}

	var res Result
	err = p.store.Update(ctx, []ledger.Key{key}, func(tx ledger.Tx) error {
		after, err := tx.ApplyDelta(ctx, key, r.Amount)
		if err != nil {
			return err
		}
		m, err := p.record(ctx, tx, domain.MovementIncoming, key, r.Amount, after, r.Reference, r.Actor, "")
		if err != nil {
			return err
		}
		res.Movements = append(res.Movements, m)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply incoming: %w", err)
	}
	return res, nil
}

func (p *Processor) outgoing(ctx context.Context, sc scope, r Outgoing) (Result, error) {
	key, err := p.sourceKey(ctx, sc, r.PlacementID, r.BatchID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = p.store.Update(ctx, []ledger.Key{key}, func(tx ledger.Tx) error {
		available, err := tx.Quantity(ctx, key)
		if err != nil {
			return err
		}
		if available.LessThan(r.Amount) {
			return stockError(key, r.Amount, available)
		}
		delta := r.Amount.Neg()
		after, err := tx.ApplyDelta(ctx, key, delta)
		if err != nil {
			return err
		}
		m, err := p.record(ctx, tx, domain.MovementOutgoing, key, delta, after, r.Reference, r.Actor, "")
		if err != nil {
			return err
		}
		res.Movements = append(res.Movements, m)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply outgoing: %w", err)
	}
	return res, nil
}

func (p *Processor) adjustment(ctx context.Context, sc scope, r Adjustment) (Result, error) {
	key, err := p.sourceKey(ctx, sc, r.PlacementID, r.BatchID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = p.store.Update(ctx, []ledger.Key{key}, func(tx ledger.Tx) error {
		delta := r.Amount
		if r.mode() == AdjustAbsolute {
			current, err := tx.Quantity(ctx, key)
			if err != nil {
				return err
			}
			delta = r.Amount.Sub(current)
		}
		if delta.IsZero() {
			return domain.Invalid("amount", "adjustment does not change the quantity")
		}
		after, err := tx.ApplyDelta(ctx, key, delta)
		if err != nil {
			return err
		}
		m, err := p.record(ctx, tx, domain.MovementAdjustment, key, delta, after, r.Reference, r.Actor, "")
		if err != nil {
			return err
		}
		res.Movements = append(res.Movements, m)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply adjustment: %w", err)
	}
	return res, nil
}

func (p *Processor) transfer(ctx context.Context, sc scope, r Transfer) (Result, error) {
	if sc.product.IsBarred {
		return Result{}, fmt.Errorf("product %d: %w", sc.product.ID, domain.ErrProductBarred)
	}
	from, err := p.sourceKey(ctx, sc, r.FromPlacementID, r.FromBatchID)
	if err != nil {
		return Result{}, err
	}
	to, err := p.destinationPlacement(ctx, sc, r.ToPlacementID)
	if err != nil {
		return Result{}, err
	}
	if to.ID == from.PlacementID {
		return Result{}, fmt.Errorf("placement %d is both source and destination: %w", to.ID, domain.ErrInvalidDestination)
	}
	dst := from
	dst.PlacementID = to.ID

	var res Result
	err = p.store.Update(ctx, []ledger.Key{from, dst}, func(tx ledger.Tx) error {
		moved, err := p.Move(ctx, tx, Leg{
			From:      from,
			To:        dst,
			Amount:    r.Amount,
			Reference: r.Reference,
			Actor:     r.Actor,
		})
		if err != nil {
			return err
		}
		res.Movements = moved
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply transfer: %w", err)
	}
	return res, nil
}

// Leg is one debit/credit pair applied inside a caller's ledger transaction.
type Leg struct {
	From          ledger.Key
	To            ledger.Key
	Amount        decimal.Decimal
	Reference     string
	Actor         domain.Actor
	CorrelationID string
}

// Move debits leg.From and credits leg.To within tx, failing with a
// *domain.StockError when the source holds less than the amount. Both keys
// must be locked by tx. The two history entries share a correlation id.
func (p *Processor) Move(ctx context.Context, tx ledger.Tx, leg Leg) ([]domain.Movement, error) {
	if !leg.Amount.IsPositive() {
		return nil, domain.Invalid("amount", "must be greater than zero")
	}
	if leg.From == leg.To {
		return nil, fmt.Errorf("%s is both source and destination: %w", leg.From, domain.ErrInvalidDestination)
	}
	available, err := tx.Quantity(ctx, leg.From)
	if err != nil {
		return nil, err
	}
	if available.LessThan(leg.Amount) {
		return nil, stockError(leg.From, leg.Amount, available)
	}
	correlationID := leg.CorrelationID
	if correlationID == "" {
		correlationID = p.newID()
	}

	debit := leg.Amount.Neg()
	fromAfter, err := tx.ApplyDelta(ctx, leg.From, debit)
	if err != nil {
		return nil, err
	}
	toAfter, err := tx.ApplyDelta(ctx, leg.To, leg.Amount)
	if err != nil {
		return nil, err
	}
	out, err := p.record(ctx, tx, domain.MovementTransfer, leg.From, debit, fromAfter, leg.Reference, leg.Actor, correlationID)
	if err != nil {
		return nil, err
	}
	in, err := p.record(ctx, tx, domain.MovementTransfer, leg.To, leg.Amount, toAfter, leg.Reference, leg.Actor, correlationID)
	if err != nil {
		return nil, err
	}
	return []domain.Movement{out, in}, nil
}

func (p *Processor) record(ctx context.Context, tx ledger.Tx, t domain.MovementType, key ledger.Key, delta, after decimal.Decimal, reference string, actor domain.Actor, correlationID string) (domain.Movement, error) {
	m := domain.Movement{
		ID:            p.newID(),
		Type:          t,
		LocationID:    key.LocationID,
		ProductID:     key.ProductID,
		PlacementID:   key.PlacementID,
		BatchID:       key.BatchID,
		Delta:         delta,
		QuantityAfter: after,
		Reference:     strings.TrimSpace(reference),
		Actor:         actor,
		CorrelationID: correlationID,
		CreatedAt:     p.now().UTC(),
	}
	if err := tx.AppendMovement(ctx, &m); err != nil {
		return domain.Movement{}, fmt.Errorf("append movement: %w", err)
	}
	return m, nil
}

func stockError(key ledger.Key, requested, available decimal.Decimal) error {
	return &domain.StockError{
		LocationID:  key.LocationID,
		ProductID:   key.ProductID,
		PlacementID: key.PlacementID,
		BatchID:     key.BatchID,
		Requested:   requested,
		Available:   available,
	}
}

// AsStockError returns the *domain.StockError carried by err, if any.
func AsStockError(err error) (*domain.StockError, bool) {
	var se *domain.StockError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
