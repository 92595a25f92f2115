package movement

import (
	"context"
	"fmt"
	"strings"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"
)

// sourceKey resolves the existing placement and batch a debit or adjustment
// draws on. Zero ids, tenants without placements and products without
// batches all resolve to the sentinel.
func (p *Processor) sourceKey(ctx context.Context, sc scope, placementID, batchID int64) (ledger.Key, error) {
	key := ledger.Key{LocationID: sc.location.ID, ProductID: sc.product.ID}

	if !sc.settings.UsePlacement || placementID == 0 {
		placement, err := p.catalog.EnsurePlacement(ctx, sc.location.ID, domain.SentinelName)
		if err != nil {
			return ledger.Key{}, fmt.Errorf("ensure sentinel placement: %w", err)
		}
		key.PlacementID = placement.ID
	} else {
		placement, err := p.catalog.Placement(ctx, placementID)
		if err != nil {
			return ledger.Key{}, fmt.Errorf("load placement: %w", err)
		}
		if placement.LocationID != sc.location.ID {
			return ledger.Key{}, domain.Invalid("placement_id", "belongs to another location")
		}
		key.PlacementID = placement.ID
	}

	batch, err := p.existingBatch(ctx, sc, batchID)
	if err != nil {
		return ledger.Key{}, err
	}
	key.BatchID = batch.ID
	return key, nil
}

func (p *Processor) existingBatch(ctx context.Context, sc scope, batchID int64) (domain.Batch, error) {
	if !sc.product.UseBatch || batchID == 0 {
		batch, err := p.catalog.EnsureBatch(ctx, sc.location.ID, domain.SentinelName, nil)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("ensure sentinel batch: %w", err)
		}
		return batch, nil
	}
	batch, err := p.catalog.Batch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("load batch: %w", err)
	}
	if batch.LocationID != sc.location.ID {
		return domain.Batch{}, domain.Invalid("batch_id", "belongs to another location")
	}
	return batch, nil
}

func (p *Processor) destinationPlacement(ctx context.Context, sc scope, placementID int64) (domain.Placement, error) {
	if !sc.settings.UsePlacement || placementID == 0 {
		placement, err := p.catalog.EnsurePlacement(ctx, sc.location.ID, domain.SentinelName)
		if err != nil {
			return domain.Placement{}, fmt.Errorf("ensure sentinel placement: %w", err)
		}
		return placement, nil
	}
	placement, err := p.catalog.Placement(ctx, placementID)
	if err != nil {
		return domain.Placement{}, fmt.Errorf("load placement: %w", err)
	}
	return placement, checkDestination(sc.location.ID, placement)
}

func (p *Processor) incomingPlacement(ctx context.Context, sc scope, ref PlacementRef) (domain.Placement, error) {
	if !sc.settings.UsePlacement {
		return p.destinationPlacement(ctx, sc, 0)
	}
	switch {
	case ref.ID > 0:
		return p.destinationPlacement(ctx, sc, ref.ID)
	case strings.TrimSpace(ref.Name) != "":
		placement, err := p.catalog.EnsurePlacement(ctx, sc.location.ID, strings.TrimSpace(ref.Name))
		if err != nil {
			return domain.Placement{}, fmt.Errorf("ensure placement: %w", err)
		}
		return placement, checkDestination(sc.location.ID, placement)
	}

	id, ok, err := p.store.DefaultPlacement(ctx, sc.product.ID, sc.location.ID)
	if err != nil {
		return domain.Placement{}, fmt.Errorf("load default placement: %w", err)
	}
	if ok {
		stocked, err := p.hasInventory(ctx, sc)
		if err != nil {
			return domain.Placement{}, err
		}
		if !stocked {
			return p.destinationPlacement(ctx, sc, id)
		}
	}
	return p.destinationPlacement(ctx, sc, 0)
}

func (p *Processor) hasInventory(ctx context.Context, sc scope) (bool, error) {
	records, err := p.store.ListRecords(ctx, ledger.RecordFilter{LocationID: sc.location.ID, ProductID: sc.product.ID})
	if err != nil {
		return false, fmt.Errorf("list records: %w", err)
	}
	for _, rec := range records {
		if !rec.Quantity.IsZero() {
			return true, nil
		}
	}
	return false, nil
}

func (p *Processor) incomingBatch(ctx context.Context, sc scope, ref BatchRef) (domain.Batch, error) {
	if !sc.product.UseBatch || ref.empty() {
		return p.existingBatch(ctx, sc, 0)
	}
	var batch domain.Batch
	var err error
	if ref.ID > 0 {
		batch, err = p.existingBatch(ctx, sc, ref.ID)
		if err != nil {
			return domain.Batch{}, err
		}
	} else {
		batch, err = p.catalog.EnsureBatch(ctx, sc.location.ID, strings.TrimSpace(ref.Name), ref.Expiry)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("ensure batch: %w", err)
		}
	}
	if batch.IsBarred {
		return domain.Batch{}, fmt.Errorf("batch %d is barred: %w", batch.ID, domain.ErrInvalidDestination)
	}
	return batch, nil
}

func checkDestination(locationID string, placement domain.Placement) error {
	if placement.LocationID != locationID {
		return fmt.Errorf("placement %d belongs to another location: %w", placement.ID, domain.ErrInvalidDestination)
	}
	if placement.IsBarred {
		return fmt.Errorf("placement %d is barred: %w", placement.ID, domain.ErrInvalidDestination)
	}
	return nil
}
