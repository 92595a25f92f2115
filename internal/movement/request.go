package movement

import (
	"fmt"
	"strings"
	"time"

	"stockledger/internal/domain"

	"github.com/shopspring/decimal"
)

// PlacementRef selects the placement receiving incoming stock: an existing
// placement by id, a placement by name (created when missing), or neither to
// fall back to the default placement and then the sentinel.
type PlacementRef struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type BatchRef struct {
	ID     int64      `json:"id,omitempty"`
	Name   string     `json:"name,omitempty"`
	Expiry *time.Time `json:"expiry,omitempty"`
}

func (r BatchRef) empty() bool {
	return r.ID == 0 && strings.TrimSpace(r.Name) == ""
}

type AdjustmentMode string

const (
	// AdjustDelta adds the signed amount to the current quantity.
	AdjustDelta AdjustmentMode = "delta"
	// AdjustAbsolute sets the quantity to the amount.
	AdjustAbsolute AdjustmentMode = "absolute"
)

// Request is one of Incoming, Outgoing, Adjustment or Transfer.
type Request interface {
	Type() domain.MovementType
	Validate() error
	header() header
}

type header struct {
	locationID string
	productID  int64
	reference  string
	actor      domain.Actor
}

type Incoming struct {
	LocationID string          `json:"location_id"`
	ProductID  int64           `json:"product_id"`
	Placement  PlacementRef    `json:"placement"`
	Batch      BatchRef        `json:"batch"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
	Actor      domain.Actor    `json:"actor"`
}

func (Incoming) Type() domain.MovementType { return domain.MovementIncoming }

func (r Incoming) header() header {
	return header{locationID: r.LocationID, productID: r.ProductID, reference: r.Reference, actor: r.Actor}
}

func (r Incoming) Validate() error {
	if err := validateTarget(r.LocationID, r.ProductID); err != nil {
		return err
	}
	if r.Placement.ID < 0 {
		return domain.Invalid("placement.id", "must not be negative")
	}
	if r.Batch.ID < 0 {
		return domain.Invalid("batch.id", "must not be negative")
	}
	return validatePositive(r.Amount)
}

type Outgoing struct {
	LocationID  string          `json:"location_id"`
	ProductID   int64           `json:"product_id"`
	PlacementID int64           `json:"placement_id"`
	BatchID     int64           `json:"batch_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Actor       domain.Actor    `json:"actor"`
}

func (Outgoing) Type() domain.MovementType { return domain.MovementOutgoing }

func (r Outgoing) header() header {
	return header{locationID: r.LocationID, productID: r.ProductID, reference: r.Reference, actor: r.Actor}
}

func (r Outgoing) Validate() error {
	if err := validateTarget(r.LocationID, r.ProductID); err != nil {
		return err
	}
	if err := validateIDs(r.PlacementID, r.BatchID); err != nil {
		return err
	}
	return validatePositive(r.Amount)
}

type Adjustment struct {
	LocationID  string          `json:"location_id"`
	ProductID   int64           `json:"product_id"`
	PlacementID int64           `json:"placement_id"`
	BatchID     int64           `json:"batch_id"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        AdjustmentMode  `json:"mode"`
	Reference   string          `json:"reference"`
	Actor       domain.Actor    `json:"actor"`
}

func (Adjustment) Type() domain.MovementType { return domain.MovementAdjustment }

func (r Adjustment) header() header {
	return header{locationID: r.LocationID, productID: r.ProductID, reference: r.Reference, actor: r.Actor}
}

func (r Adjustment) mode() AdjustmentMode {
	if r.Mode == "" {
		return AdjustDelta
	}
	return r.Mode
}

func (r Adjustment) Validate() error {
	if err := validateTarget(r.LocationID, r.ProductID); err != nil {
		return err
	}
	if err := validateIDs(r.PlacementID, r.BatchID); err != nil {
		return err
	}
	switch r.mode() {
	case AdjustDelta:
		if r.Amount.IsZero() {
			return domain.Invalid("amount", "must not be zero")
		}
	case AdjustAbsolute:
	default:
		return domain.Invalid("mode", fmt.Sprintf("unknown adjustment mode %q", r.Mode))
	}
	return nil
}

// Transfer moves stock between two placements of one location.
type Transfer struct {
	LocationID      string          `json:"location_id"`
	ProductID       int64           `json:"product_id"`
	FromPlacementID int64           `json:"from_placement_id"`
	FromBatchID     int64           `json:"from_batch_id"`
	ToPlacementID   int64           `json:"to_placement_id"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       string          `json:"reference"`
	Actor           domain.Actor    `json:"actor"`
}

func (Transfer) Type() domain.MovementType { return domain.MovementTransfer }

func (r Transfer) header() header {
	return header{locationID: r.LocationID, productID: r.ProductID, reference: r.Reference, actor: r.Actor}
}

func (r Transfer) Validate() error {
	if err := validateTarget(r.LocationID, r.ProductID); err != nil {
		return err
	}
	if err := validateIDs(r.FromPlacementID, r.FromBatchID); err != nil {
		return err
	}
	if r.ToPlacementID < 0 {
		return domain.Invalid("to_placement_id", "must not be negative")
	}
	if r.FromPlacementID != 0 && r.FromPlacementID == r.ToPlacementID {
		return fmt.Errorf("placement %d is both source and destination: %w", r.ToPlacementID, domain.ErrInvalidDestination)
	}
	return validatePositive(r.Amount)
}

func validateTarget(locationID string, productID int64) error {
	if strings.TrimSpace(locationID) == "" {
		return domain.Invalid("location_id", "is required")
	}
	if productID <= 0 {
		return domain.Invalid("product_id", "is required")
	}
	return nil
}

func validateIDs(placementID, batchID int64) error {
	if placementID < 0 {
		return domain.Invalid("placement_id", "must not be negative")
	}
	if batchID < 0 {
		return domain.Invalid("batch_id", "must not be negative")
	}
	return nil
}

func validatePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Invalid("amount", "must be greater than zero")
	}
	return nil
}
