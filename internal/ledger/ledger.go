package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Key addresses one ledger cell.
type Key struct {
	LocationID  string
	ProductID   int64
	PlacementID int64
	BatchID     int64
}

func KeyOf(rec domain.InventoryRecord) Key {
	return Key{
		LocationID:  rec.LocationID,
		ProductID:   rec.ProductID,
		PlacementID: rec.PlacementID,
		BatchID:     rec.BatchID,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.LocationID, k.ProductID, k.PlacementID, k.BatchID)
}

// Less orders keys by location, product, placement and batch. Every store
// acquires row locks in this order.
func (k Key) Less(o Key) bool {
	if k.LocationID != o.LocationID {
		return k.LocationID < o.LocationID
	}
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	if k.PlacementID != o.PlacementID {
		return k.PlacementID < o.PlacementID
	}
	return k.BatchID < o.BatchID
}

// SortKeys returns the distinct keys in lock order.
func SortKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type RecordFilter struct {
	LocationID    string
	ProductID     int64
	PlacementID   int64
	AvailableOnly bool
}

func (f RecordFilter) Match(rec domain.InventoryRecord) bool {
	if rec.LocationID != f.LocationID {
		return false
	}
	if f.ProductID != 0 && rec.ProductID != f.ProductID {
		return false
	}
	if f.PlacementID != 0 && rec.PlacementID != f.PlacementID {
		return false
	}
	if f.AvailableOnly && !rec.Quantity.IsPositive() {
		return false
	}
	return true
}

type HistoryFilter struct {
	LocationID string
	ProductID  int64
	Type       domain.MovementType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (f HistoryFilter) Match(m domain.Movement) bool {
	if m.LocationID != f.LocationID {
		return false
	}
	if f.ProductID != 0 && m.ProductID != f.ProductID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.From != nil && m.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !m.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// Tx is a unit of work over a fixed set of locked keys. Reading or writing a
// key outside that set fails with ErrKeyNotLocked.
type Tx interface {
	Quantity(ctx context.Context, key Key) (decimal.Decimal, error)
	// ApplyDelta adds delta to the cell and returns the new quantity. It
	// performs no sign checks.
	ApplyDelta(ctx context.Context, key Key, delta decimal.Decimal) (decimal.Decimal, error)
	AppendMovement(ctx context.Context, m *domain.Movement) error
	DefaultPlacement(ctx context.Context, productID int64, locationID string) (int64, bool, error)
	SetDefaultPlacement(ctx context.Context, assignment domain.DefaultPlacement) error
	ClearDefaultPlacement(ctx context.Context, productID int64, locationID string) error
}

type Store interface {
	// Quantity returns zero for keys that have no record.
	Quantity(ctx context.Context, key Key) (decimal.Decimal, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]domain.InventoryRecord, error)
	DefaultPlacement(ctx context.Context, productID int64, locationID string) (int64, bool, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]domain.Movement, error)
	// AppendImported stores historical movements without touching quantities.
	AppendImported(ctx context.Context, movements []domain.Movement) error
	// Update locks keys in Key.Less order, runs fn and commits when fn
	// returns nil. Any error discards every write made through the Tx.
	Update(ctx context.Context, keys []Key, fn func(Tx) error) error
}

// Catalog is the read side of product, location and settings data owned by
// catalog management. Ensure* create named placements and batches on demand.
type Catalog interface {
	Product(ctx context.Context, id int64) (domain.Product, error)
	ProductBySKU(ctx context.Context, locationID, sku string) (domain.Product, error)
	ProductsBySupplier(ctx context.Context, locationID string, supplierID int64) ([]domain.Product, error)
	Location(ctx context.Context, id string) (domain.Location, error)
	Placement(ctx context.Context, id int64) (domain.Placement, error)
	Batch(ctx context.Context, id int64) (domain.Batch, error)
	EnsurePlacement(ctx context.Context, locationID, name string) (domain.Placement, error)
	EnsureBatch(ctx context.Context, locationID, name string, expiry *time.Time) (domain.Batch, error)
	Settings(ctx context.Context, locationID string) (domain.Settings, error)
}
