package transfer

import (
	"context"
	"errors"
	"fmt"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"

	"github.com/shopspring/decimal"
)

// snapshot is the source location's ledger as of the start of a batch.
type snapshot struct {
	location          domain.Location
	settings          domain.Settings
	quantities        map[ledger.Key]decimal.Decimal
	available         map[int64][]domain.InventoryRecord
	sentinelPlacement int64
	sentinelBatch     int64
}

func (v *Validator) snapshot(ctx context.Context, loc domain.Location) (*snapshot, error) {
	settings, err := v.catalog.Settings(ctx, loc.ID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	placement, err := v.catalog.EnsurePlacement(ctx, loc.ID, domain.SentinelName)
	if err != nil {
		return nil, fmt.Errorf("ensure sentinel placement: %w", err)
	}
	batch, err := v.catalog.EnsureBatch(ctx, loc.ID, domain.SentinelName, nil)
	if err != nil {
		return nil, fmt.Errorf("ensure sentinel batch: %w", err)
	}
	records, err := v.store.ListRecords(ctx, ledger.RecordFilter{LocationID: loc.ID})
	if err != nil {
		return nil, fmt.Errorf("list source records: %w", err)
	}

	snap := &snapshot{
		location:          loc,
		settings:          settings,
		quantities:        make(map[ledger.Key]decimal.Decimal, len(records)),
		available:         make(map[int64][]domain.InventoryRecord),
		sentinelPlacement: placement.ID,
		sentinelBatch:     batch.ID,
	}
	for _, rec := range records {
		snap.quantities[ledger.KeyOf(rec)] = rec.Quantity
		if rec.Quantity.IsPositive() {
			snap.available[rec.ProductID] = append(snap.available[rec.ProductID], rec)
		}
	}
	return snap, nil
}

// pick returns the record at the sentinel id if one is available, else the
// first available record, else false.
func pick(records []domain.InventoryRecord, sentinel int64, id func(domain.InventoryRecord) int64) (int64, bool) {
	for _, rec := range records {
		if id(rec) == sentinel {
			return sentinel, true
		}
	}
	if len(records) == 0 {
		return 0, false
	}
	return id(records[0]), true
}

func (v *Validator) resolveSource(ctx context.Context, snap *snapshot, product domain.Product, line Line) (ledger.Key, *LineError, error) {
	key := ledger.Key{LocationID: snap.location.ID, ProductID: product.ID}
	records := snap.available[product.ID]

	defaultID, hasDefault, err := v.store.DefaultPlacement(ctx, product.ID, snap.location.ID)
	if err != nil {
		return ledger.Key{}, nil, fmt.Errorf("load default placement: %w", err)
	}

	switch {
	case !snap.settings.UsePlacement:
		key.PlacementID = snap.sentinelPlacement
	case line.FromPlacementID == 0 && hasDefault:
		key.PlacementID = defaultID
	case line.FromPlacementID == 0:
		id, ok := pick(records, snap.sentinelPlacement, func(r domain.InventoryRecord) int64 { return r.PlacementID })
		if !ok {
			return ledger.Key{}, &LineError{Type: ErrorFromPlacement, Message: fmt.Sprintf("no stock of %s available in %s", product.SKU, snap.location.ID)}, nil
		}
		key.PlacementID = id
	default:
		placement, err := v.catalog.Placement(ctx, line.FromPlacementID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && placement.LocationID != snap.location.ID) {
			return ledger.Key{}, &LineError{Type: ErrorFromPlacement, Message: fmt.Sprintf("placement %d not found in %s", line.FromPlacementID, snap.location.ID)}, nil
		}
		if err != nil {
			return ledger.Key{}, nil, fmt.Errorf("load placement: %w", err)
		}
		if hasDefault && placement.ID != defaultID {
			return ledger.Key{}, &LineError{Type: ErrorFromPlacement, Message: fmt.Sprintf("%s must be moved from its default placement %d", product.SKU, defaultID)}, nil
		}
		key.PlacementID = placement.ID
	}

	switch {
	case !product.UseBatch:
		key.BatchID = snap.sentinelBatch
	case line.FromBatchID == 0:
		var atPlacement []domain.InventoryRecord
		for _, rec := range records {
			if rec.PlacementID == key.PlacementID {
				atPlacement = append(atPlacement, rec)
			}
		}
		id, ok := pick(atPlacement, snap.sentinelBatch, func(r domain.InventoryRecord) int64 { return r.BatchID })
		if !ok {
			return ledger.Key{}, &LineError{Type: ErrorFromBatch, Message: fmt.Sprintf("no batch of %s available at placement %d", product.SKU, key.PlacementID)}, nil
		}
		key.BatchID = id
	default:
		batch, err := v.catalog.Batch(ctx, line.FromBatchID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && batch.LocationID != snap.location.ID) {
			return ledger.Key{}, &LineError{Type: ErrorFromBatch, Message: fmt.Sprintf("batch %d not found in %s", line.FromBatchID, snap.location.ID)}, nil
		}
		if err != nil {
			return ledger.Key{}, nil, fmt.Errorf("load batch: %w", err)
		}
		key.BatchID = batch.ID
	}
	return key, nil, nil
}
