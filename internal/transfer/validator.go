// Package transfer validates and applies bulk transfers from one location to
// others. A batch is all or nothing: one bad line rejects every line.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"stockledger/internal/domain"
	"stockledger/internal/guard"
	"stockledger/internal/ledger"
	"stockledger/internal/movement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ErrorType string

const (
	ErrorFromPlacement ErrorType = "from-placement"
	ErrorFromBatch     ErrorType = "from-batch"
	ErrorToLocation    ErrorType = "to-location"
	ErrorQuantity      ErrorType = "quantity"
	ErrorProduct       ErrorType = "product"
)

var errorOrder = map[ErrorType]int{
	ErrorProduct:       0,
	ErrorToLocation:    1,
	ErrorFromPlacement: 2,
	ErrorFromBatch:     3,
	ErrorQuantity:      4,
}

type Line struct {
	ProductID       int64           `json:"product_id"`
	FromPlacementID int64           `json:"from_placement_id"`
	FromBatchID     int64           `json:"from_batch_id"`
	ToLocationID    string          `json:"to_location_id"`
	Quantity        decimal.Decimal `json:"quantity"`
}

type Request struct {
	SourceLocationID string       `json:"source_location_id"`
	Lines            []Line       `json:"lines"`
	Reference        string       `json:"reference"`
	Actor            domain.Actor `json:"actor"`
	RequestID        string       `json:"request_id,omitempty"`
}

type LineError struct {
	Index   int       `json:"index"`
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

type Result struct {
	OK            bool              `json:"ok"`
	Errors        []LineError       `json:"errors"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Movements     []domain.Movement `json:"movements,omitempty"`
}

// Err returns nil for an accepted batch and an error wrapping
// domain.ErrBatchRejected otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%d line error(s): %w", len(r.Errors), domain.ErrBatchRejected)
}

type Validator struct {
	store   ledger.Store
	catalog ledger.Catalog
	proc    *movement.Processor
	guard   guard.Guard
	logger  *zap.Logger
	newID   func() string
}

func NewValidator(store ledger.Store, catalog ledger.Catalog, proc *movement.Processor, g guard.Guard, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		store:   store,
		catalog: catalog,
		proc:    proc,
		guard:   g,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// planned is a validated line with its resolved source key.
type planned struct {
	index   int
	line    Line
	product domain.Product
	from    ledger.Key
	dest    domain.Location
}

// Validate checks every line against one snapshot of the source location
// without writing anything.
func (v *Validator) Validate(ctx context.Context, req Request) (Result, error) {
	_, res, err := v.plan(ctx, req)
	return res, err
}

// ValidateAndApply applies the batch when every line validates. Balances are
// checked again under lock; a balance that moved since the snapshot rejects
// the whole batch.
func (v *Validator) ValidateAndApply(ctx context.Context, req Request) (Result, error) {
	plans, res, err := v.plan(ctx, req)
	if err != nil || !res.OK {
		return res, err
	}

	claimKey := ""
	if id := strings.TrimSpace(req.RequestID); id != "" && v.guard != nil {
		claimKey = "transfer:" + id
		ok, err := v.guard.Claim(ctx, claimKey)
		if err != nil {
			return Result{}, fmt.Errorf("claim request id: %w", err)
		}
		if !ok {
			return Result{}, fmt.Errorf("request %s: %w", id, domain.ErrDuplicateSubmission)
		}
	}

	res, err = v.apply(ctx, req, plans)
	if claimKey != "" && (err != nil || !res.OK) {
		if releaseErr := v.guard.Release(context.WithoutCancel(ctx), claimKey); releaseErr != nil {
			v.logger.Warn("release request id", zap.String("key", claimKey), zap.Error(releaseErr))
		}
	}
	return res, err
}

func (v *Validator) plan(ctx context.Context, req Request) ([]planned, Result, error) {
	if strings.TrimSpace(req.SourceLocationID) == "" {
		return nil, Result{}, domain.Invalid("source_location_id", "is required")
	}
	if len(req.Lines) == 0 {
		return nil, Result{}, domain.Invalid("lines", "at least one line is required")
	}
	source, err := v.catalog.Location(ctx, req.SourceLocationID)
	if err != nil {
		return nil, Result{}, fmt.Errorf("load source location: %w", err)
	}
	snap, err := v.snapshot(ctx, source)
	if err != nil {
		return nil, Result{}, err
	}

	var errs []LineError
	fail := func(i int, t ErrorType, format string, args ...any) {
		errs = append(errs, LineError{Index: i, Type: t, Message: fmt.Sprintf(format, args...)})
	}

	var plans []planned
	for i, line := range req.Lines {
		if !line.Quantity.IsPositive() {
			fail(i, ErrorQuantity, "quantity must be greater than zero")
		}

		product, err := v.catalog.Product(ctx, line.ProductID)
		switch {
		case errors.Is(err, domain.ErrNotFound) || (err == nil && product.CustomerID != source.CustomerID):
			fail(i, ErrorProduct, "product %d not found", line.ProductID)
			continue
		case err != nil:
			return nil, Result{}, fmt.Errorf("load product: %w", err)
		case product.IsBarred:
			fail(i, ErrorProduct, "product %s is barred", product.SKU)
			continue
		}

		dest, ok, err := v.destination(ctx, source, line.ToLocationID)
		if err != nil {
			return nil, Result{}, err
		}
		if !ok {
			if strings.TrimSpace(line.ToLocationID) == source.ID {
				fail(i, ErrorToLocation, "destination must differ from the source location")
			} else {
				fail(i, ErrorToLocation, "destination location %q not found", line.ToLocationID)
			}
		}

		from, lineErr, err := v.resolveSource(ctx, snap, product, line)
		if err != nil {
			return nil, Result{}, err
		}
		if lineErr != nil {
			fail(i, lineErr.Type, "%s", lineErr.Message)
			continue
		}
		plans = append(plans, planned{index: i, line: line, product: product, from: from, dest: dest})
	}

	// Lines drawing on one key are checked on their combined quantity so the
	// outcome does not depend on line order.
	demand := make(map[ledger.Key]decimal.Decimal)
	for _, p := range plans {
		if p.line.Quantity.IsPositive() {
			demand[p.from] = demand[p.from].Add(p.line.Quantity)
		}
	}
	for _, p := range plans {
		available := snap.quantities[p.from]
		if total := demand[p.from]; p.line.Quantity.IsPositive() && total.GreaterThan(available) {
			fail(p.index, ErrorQuantity, "requested %s of %s available (%s requested in total)", p.line.Quantity, available, total)
		}
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(a, b int) bool {
			if errs[a].Index != errs[b].Index {
				return errs[a].Index < errs[b].Index
			}
			return errorOrder[errs[a].Type] < errorOrder[errs[b].Type]
		})
		v.logger.Warn("transfer batch rejected",
			zap.String("location_id", source.ID),
			zap.Int("lines", len(req.Lines)),
			zap.Int("errors", len(errs)),
		)
		return nil, Result{OK: false, Errors: errs}, nil
	}
	return plans, Result{OK: true, Errors: []LineError{}}, nil
}

func (v *Validator) destination(ctx context.Context, source domain.Location, id string) (domain.Location, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == source.ID {
		return domain.Location{}, false, nil
	}
	dest, err := v.catalog.Location(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Location{}, false, nil
	}
	if err != nil {
		return domain.Location{}, false, fmt.Errorf("load destination location: %w", err)
	}
	if dest.CustomerID != source.CustomerID {
		return domain.Location{}, false, nil
	}
	return dest, true, nil
}

func (v *Validator) apply(ctx context.Context, req Request, plans []planned) (Result, error) {
	type leg struct {
		index int
		from  ledger.Key
		to    ledger.Key
		qty   decimal.Decimal
	}
	legs := make([]leg, 0, len(plans))
	keys := make([]ledger.Key, 0, 2*len(plans))
	for _, p := range plans {
		to, err := v.destinationKey(ctx, p)
		if err != nil {
			return Result{}, err
		}
		legs = append(legs, leg{index: p.index, from: p.from, to: to, qty: p.line.Quantity})
		keys = append(keys, p.from, to)
	}

	correlationID := v.newID()
	var movements []domain.Movement
	current := -1
	err := v.store.Update(ctx, keys, func(tx ledger.Tx) error {
		for _, l := range legs {
			current = l.index
			moved, err := v.proc.Move(ctx, tx, movement.Leg{
				From:          l.from,
				To:            l.to,
				Amount:        l.qty,
				Reference:     req.Reference,
				Actor:         req.Actor,
				CorrelationID: correlationID,
			})
			if err != nil {
				return err
			}
			movements = append(movements, moved...)
		}
		return nil
	})
	if se, ok := movement.AsStockError(err); ok {
		v.logger.Warn("transfer batch rejected under lock",
			zap.String("location_id", req.SourceLocationID),
			zap.Int("index", current),
			zap.Error(err),
		)
		return Result{OK: false, Errors: []LineError{{
			Index:   current,
			Type:    ErrorQuantity,
			Message: fmt.Sprintf("requested %s of %s available", se.Requested, se.Available),
		}}}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("apply transfer batch: %w", err)
	}

	v.logger.Info("transfer batch applied",
		zap.String("location_id", req.SourceLocationID),
		zap.String("correlation_id", correlationID),
		zap.Int("lines", len(legs)),
	)
	return Result{OK: true, Errors: []LineError{}, CorrelationID: correlationID, Movements: movements}, nil
}

// destinationKey places stock on the product's default placement at the
// destination, else the sentinel, in a batch of the same name.
func (v *Validator) destinationKey(ctx context.Context, p planned) (ledger.Key, error) {
	placementID, err := v.destinationPlacement(ctx, p)
	if err != nil {
		return ledger.Key{}, err
	}
	batch, err := v.catalog.Batch(ctx, p.from.BatchID)
	if err != nil {
		return ledger.Key{}, fmt.Errorf("load source batch: %w", err)
	}
	destBatch, err := v.catalog.EnsureBatch(ctx, p.dest.ID, batch.Name, batch.Expiry)
	if err != nil {
		return ledger.Key{}, fmt.Errorf("ensure destination batch: %w", err)
	}
	return ledger.Key{LocationID: p.dest.ID, ProductID: p.product.ID, PlacementID: placementID, BatchID: destBatch.ID}, nil
}

func (v *Validator) destinationPlacement(ctx context.Context, p planned) (int64, error) {
	id, ok, err := v.store.DefaultPlacement(ctx, p.product.ID, p.dest.ID)
	if err != nil {
		return 0, fmt.Errorf("load default placement: %w", err)
	}
	if ok {
		placement, err := v.catalog.Placement(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("load placement: %w", err)
		}
		if err == nil && !placement.IsBarred && placement.LocationID == p.dest.ID {
			return placement.ID, nil
		}
	}
	sentinel, err := v.catalog.EnsurePlacement(ctx, p.dest.ID, domain.SentinelName)
	if err != nil {
		return 0, fmt.Errorf("ensure destination placement: %w", err)
	}
	return sentinel.ID, nil
}
