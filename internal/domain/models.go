package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SentinelName is the placement and batch name used when a tenant does not
// track placements or a product does not track batches.
const SentinelName = "-"

type MovementType string

const (
	MovementIncoming   MovementType = "incoming"
	MovementOutgoing   MovementType = "outgoing"
	MovementTransfer   MovementType = "transfer"
	MovementAdjustment MovementType = "adjustment"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIncoming, MovementOutgoing, MovementTransfer, MovementAdjustment:
		return true
	}
	return false
}

type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformApp    Platform = "app"
	PlatformExt    Platform = "ext"
	PlatformImport Platform = "import"
)

type Product struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer_id"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode"`
	Text1        string          `json:"text1"`
	Text2        string          `json:"text2"`
	Text3        string          `json:"text3"`
	Unit         string          `json:"unit"`
	Group        string          `json:"group"`
	SupplierID   *int64          `json:"supplier_id,omitempty"`
	SupplierName string          `json:"supplier_name"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SalesPrice   decimal.Decimal `json:"sales_price"`
	UseBatch     bool            `json:"use_batch"`
	IsBarred     bool            `json:"is_barred"`
}

type Location struct {
	ID         string `json:"id"`
	CustomerID int64  `json:"customer_id"`
	Name       string `json:"name"`
}

type Placement struct {
	ID         int64  `json:"id"`
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
	IsBarred   bool   `json:"is_barred"`
}

func (p Placement) IsSentinel() bool {
	return p.Name == SentinelName
}

type Batch struct {
	ID         int64      `json:"id"`
	LocationID string     `json:"location_id"`
	Name       string     `json:"batch"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	IsBarred   bool       `json:"is_barred"`
}

func (b Batch) IsSentinel() bool {
	return b.Name == SentinelName
}

// Expired reports whether the batch expiry lies strictly before now.
func (b Batch) Expired(now time.Time) bool {
	return b.Expiry != nil && b.Expiry.Before(now)
}

// Settings are the per-customer switches that change how movements are
// validated. They are resolved through the location a request is scoped to.
type Settings struct {
	UsePlacement bool                  `json:"use_placement"`
	UseReference map[MovementType]bool `json:"use_reference"`
}

func (s Settings) ReferenceRequired(t MovementType) bool {
	return s.UseReference[t]
}

type InventoryRecord struct {
	LocationID  string          `json:"location_id"`
	ProductID   int64           `json:"product_id"`
	PlacementID int64           `json:"placement_id"`
	BatchID     int64           `json:"batch_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type DefaultPlacement struct {
	ProductID   int64  `json:"product_id"`
	LocationID  string `json:"location_id"`
	PlacementID int64  `json:"placement_id"`
}

type Actor struct {
	UserID   int64    `json:"user_id"`
	Name     string   `json:"name"`
	Platform Platform `json:"platform"`
}

// Movement is an append-only history entry. Imported entries come from
// historical uploads and never contributed to ledger quantities.
type Movement struct {
	ID            string          `json:"id"`
	Type          MovementType    `json:"type"`
	LocationID    string          `json:"location_id"`
	ProductID     int64           `json:"product_id"`
	PlacementID   int64           `json:"placement_id"`
	BatchID       int64           `json:"batch_id"`
	Delta         decimal.Decimal `json:"delta"`
	QuantityAfter decimal.Decimal `json:"quantity_after"`
	Reference     string          `json:"reference"`
	Actor         Actor           `json:"actor"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Imported      bool            `json:"imported"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ReorderRule struct {
	LocationID     string          `json:"location_id"`
	ProductID      int64           `json:"product_id"`
	Minimum        decimal.Decimal `json:"minimum"`
	Buffer         decimal.Decimal `json:"buffer"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	MaxOrderAmount decimal.Decimal `json:"max_order_amount"`
	Ordered        decimal.Decimal `json:"ordered"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Order struct {
	ID         string      `json:"id"`
	CustomerID int64       `json:"customer_id"`
	LocationID string      `json:"location_id"`
	UserID     int64       `json:"user_id"`
	UserName   string      `json:"user_name"`
	CreatedAt  time.Time   `json:"created_at"`
	Lines      []OrderLine `json:"lines"`
}

type OrderLine struct {
	ProductID    int64           `json:"product_id"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode"`
	Text1        string          `json:"text1"`
	Text2        string          `json:"text2"`
	Unit         string          `json:"unit"`
	SupplierName string          `json:"supplier_name"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Sum          decimal.Decimal `json:"sum"`
}

// FormatOrderID builds the CCCC-yyMM-NNNN order number from the customer id,
// the month of insertion and the 1-based sequence within that month.
func FormatOrderID(customerID int64, at time.Time, seq int) string {
	return fmt.Sprintf("%04d-%s-%04d", customerID, at.Format("0601"), seq)
}
