// Package placement manages default placements and moves existing stock onto
// a new default when it changes.
package placement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"
	"stockledger/internal/movement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Migrator struct {
	store   ledger.Store
	catalog ledger.Catalog
	proc    *movement.Processor
	logger  *zap.Logger
}

func NewMigrator(store ledger.Store, catalog ledger.Catalog, proc *movement.Processor, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{store: store, catalog: catalog, proc: proc, logger: logger}
}

type Assignment struct {
	ProductID   int64        `json:"product_id"`
	LocationID  string       `json:"location_id"`
	PlacementID int64        `json:"placement_id"`
	Confirmed   bool         `json:"confirmed"`
	Actor       domain.Actor `json:"actor"`
}

// PlannedMove is one record that will be moved onto the new default.
type PlannedMove struct {
	PlacementID int64           `json:"placement_id"`
	BatchID     int64           `json:"batch_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type Plan struct {
	ProductID   int64         `json:"product_id"`
	LocationID  string        `json:"location_id"`
	PlacementID int64         `json:"placement_id"`
	Current     *int64        `json:"current,omitempty"`
	NoOp        bool          `json:"no_op"`
	Moves       []PlannedMove `json:"moves"`
}

func (p Plan) NeedsConfirmation() bool {
	return !p.NoOp && len(p.Moves) > 0
}

type Result struct {
	Changed   bool              `json:"changed"`
	Previous  *int64            `json:"previous,omitempty"`
	Movements []domain.Movement `json:"movements"`
}

func (m *Migrator) Current(ctx context.Context, productID int64, locationID string) (domain.DefaultPlacement, error) {
	id, ok, err := m.store.DefaultPlacement(ctx, productID, locationID)
	if err != nil {
		return domain.DefaultPlacement{}, fmt.Errorf("load default placement: %w", err)
	}
	if !ok {
		return domain.DefaultPlacement{}, fmt.Errorf("default placement for product %d: %w", productID, domain.ErrNotFound)
	}
	return domain.DefaultPlacement{ProductID: productID, LocationID: locationID, PlacementID: id}, nil
}

// Preview lists the records an assignment would move. It is the content of
// the confirmation prompt.
func (m *Migrator) Preview(ctx context.Context, productID int64, locationID string, placementID int64) (Plan, error) {
	if err := m.check(ctx, productID, locationID, placementID); err != nil {
		return Plan{}, err
	}
	plan := Plan{ProductID: productID, LocationID: locationID, PlacementID: placementID, Moves: []PlannedMove{}}

	current, ok, err := m.store.DefaultPlacement(ctx, productID, locationID)
	if err != nil {
		return Plan{}, fmt.Errorf("load default placement: %w", err)
	}
	if ok {
		plan.Current = &current
		if current == placementID {
			plan.NoOp = true
			return plan, nil
		}
	}

	records, err := m.store.ListRecords(ctx, ledger.RecordFilter{LocationID: locationID, ProductID: productID, AvailableOnly: true})
	if err != nil {
		return Plan{}, fmt.Errorf("list records: %w", err)
	}
	for _, rec := range records {
		if rec.PlacementID == placementID {
			continue
		}
		plan.Moves = append(plan.Moves, PlannedMove{PlacementID: rec.PlacementID, BatchID: rec.BatchID, Quantity: rec.Quantity})
	}
	return plan, nil
}

// errStalePlan reports stock that landed outside the locked keys after the
// plan was built.
var errStalePlan = errors.New("migration plan is stale")

// Assign makes placementID the product's default in the location and moves
// every positive record onto it, batch by batch, in the same ledger
// transaction. Moving stock requires a.Confirmed. Stock that arrives on a
// placement outside the confirmed plan aborts the assignment with
// ErrConfirmationRequired so the caller can confirm the larger move.
func (m *Migrator) Assign(ctx context.Context, a Assignment) (Result, error) {
	plan, err := m.Preview(ctx, a.ProductID, a.LocationID, a.PlacementID)
	if err != nil {
		return Result{}, err
	}
	if plan.NoOp {
		return Result{Changed: false, Previous: plan.Current, Movements: []domain.Movement{}}, nil
	}
	if plan.NeedsConfirmation() && !a.Confirmed {
		return Result{}, fmt.Errorf("%d record(s) would move: %w", len(plan.Moves), domain.ErrConfirmationRequired)
	}

	res, err := m.migrate(ctx, a, plan)
	if errors.Is(err, errStalePlan) {
		fresh, err := m.Preview(ctx, a.ProductID, a.LocationID, a.PlacementID)
		if err != nil {
			return Result{}, err
		}
		m.logger.Warn("default placement plan changed during migration",
			zap.Int64("product_id", a.ProductID),
			zap.String("location_id", a.LocationID),
			zap.Int("planned_moves", len(plan.Moves)),
			zap.Int("moves", len(fresh.Moves)),
		)
		return Result{}, fmt.Errorf("stock arrived during migration, %d record(s) would now move: %w", len(fresh.Moves), domain.ErrConfirmationRequired)
	}
	if err != nil {
		return Result{}, fmt.Errorf("assign default placement: %w", err)
	}

	if res.Changed {
		m.logger.Info("default placement migrated",
			zap.Int64("product_id", a.ProductID),
			zap.String("location_id", a.LocationID),
			zap.Int64("placement_id", a.PlacementID),
			zap.Int("movements", len(res.Movements)),
		)
	}
	return res, nil
}

func (m *Migrator) migrate(ctx context.Context, a Assignment, plan Plan) (Result, error) {
	keys := make([]ledger.Key, 0, 2*len(plan.Moves))
	planned := make(map[ledger.Key]struct{}, len(plan.Moves))
	for _, mv := range plan.Moves {
		from := ledger.Key{LocationID: a.LocationID, ProductID: a.ProductID, PlacementID: mv.PlacementID, BatchID: mv.BatchID}
		to := from
		to.PlacementID = a.PlacementID
		keys = append(keys, from, to)
		planned[from] = struct{}{}
	}

	correlationID := uuid.NewString()
	res := Result{Changed: true, Previous: plan.Current, Movements: []domain.Movement{}}
	err := m.store.Update(ctx, keys, func(tx ledger.Tx) error {
		current, ok, err := tx.DefaultPlacement(ctx, a.ProductID, a.LocationID)
		if err != nil {
			return err
		}
		if ok && current == a.PlacementID {
			res.Changed = false
			return nil
		}

		records, err := m.store.ListRecords(ctx, ledger.RecordFilter{LocationID: a.LocationID, ProductID: a.ProductID, AvailableOnly: true})
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, rec := range records {
			if rec.PlacementID == a.PlacementID {
				continue
			}
			if _, ok := planned[ledger.KeyOf(rec)]; !ok {
				return errStalePlan
			}
		}

		for i := 0; i < len(keys); i += 2 {
			from, to := keys[i], keys[i+1]
			qty, err := tx.Quantity(ctx, from)
			if err != nil {
				return err
			}
			if !qty.IsPositive() {
				continue
			}
			moved, err := m.proc.Move(ctx, tx, movement.Leg{
				From:          from,
				To:            to,
				Amount:        qty,
				Reference:     "default placement",
				Actor:         a.Actor,
				CorrelationID: correlationID,
			})
			if err != nil {
				return err
			}
			res.Movements = append(res.Movements, moved...)
		}
		return tx.SetDefaultPlacement(ctx, domain.DefaultPlacement{
			ProductID:   a.ProductID,
			LocationID:  a.LocationID,
			PlacementID: a.PlacementID,
		})
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Remove clears the assignment. Stock stays where it is. Removing an unset
// default is a no-op.
func (m *Migrator) Remove(ctx context.Context, productID int64, locationID string) (Result, error) {
	if productID <= 0 {
		return Result{}, domain.Invalid("product_id", "is required")
	}
	if strings.TrimSpace(locationID) == "" {
		return Result{}, domain.Invalid("location_id", "is required")
	}
	res := Result{Movements: []domain.Movement{}}
	err := m.store.Update(ctx, nil, func(tx ledger.Tx) error {
		current, ok, err := tx.DefaultPlacement(ctx, productID, locationID)
		if err != nil || !ok {
			return err
		}
		res.Changed = true
		res.Previous = &current
		return tx.ClearDefaultPlacement(ctx, productID, locationID)
	})
	if err != nil {
		return Result{}, fmt.Errorf("remove default placement: %w", err)
	}
	if res.Changed {
		m.logger.Info("default placement removed",
			zap.Int64("product_id", productID),
			zap.String("location_id", locationID),
		)
	}
	return res, nil
}

func (m *Migrator) check(ctx context.Context, productID int64, locationID string, placementID int64) error {
	if productID <= 0 {
		return domain.Invalid("product_id", "is required")
	}
	if strings.TrimSpace(locationID) == "" {
		return domain.Invalid("location_id", "is required")
	}
	if placementID <= 0 {
		return domain.Invalid("placement_id", "is required")
	}
	loc, err := m.catalog.Location(ctx, locationID)
	if err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	product, err := m.catalog.Product(ctx, productID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product.CustomerID != loc.CustomerID {
		return fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	if product.IsBarred {
		return fmt.Errorf("product %d: %w", productID, domain.ErrProductBarred)
	}
	placement, err := m.catalog.Placement(ctx, placementID)
	if err != nil {
		return fmt.Errorf("load placement: %w", err)
	}
	if placement.LocationID != locationID {
		return fmt.Errorf("placement %d belongs to another location: %w", placementID, domain.ErrInvalidDestination)
	}
	if placement.IsBarred {
		return fmt.Errorf("placement %d is barred: %w", placementID, domain.ErrInvalidDestination)
	}
	return nil
}
