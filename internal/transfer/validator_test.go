package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/guard"
	"stockledger/internal/ledger"
	"stockledger/internal/memstore"
	"stockledger/internal/movement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	store     *memstore.Store
	proc      *movement.Processor
	validator *Validator
	src       domain.Location
	dst       domain.Location
	product   domain.Product
	p1        domain.Placement
	p2        domain.Placement
	b1        domain.Batch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	src := store.AddLocation(domain.Location{ID: "L1", CustomerID: 1})
	dst := store.AddLocation(domain.Location{ID: "L2", CustomerID: 1})
	store.SetSettings(1, domain.Settings{UsePlacement: true})
	product := store.AddProduct(domain.Product{CustomerID: 1, SKU: "SKU-1", UseBatch: true})
	p1 := store.AddPlacement(domain.Placement{LocationID: src.ID, Name: "P1"})
	p2 := store.AddPlacement(domain.Placement{LocationID: src.ID, Name: "P2"})

	proc := movement.NewProcessor(store, store, zap.NewNop())
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := proc.Apply(ctx, movement.Incoming{
		LocationID: src.ID,
		ProductID:  product.ID,
		Placement:  movement.PlacementRef{ID: p1.ID},
		Batch:      movement.BatchRef{Name: "B1", Expiry: &expiry},
		Amount:     dec(10),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	b1, _ := store.Batch(ctx, res.Movements[0].BatchID)

	return &fixture{
		store:     store,
		proc:      proc,
		validator: NewValidator(store, store, proc, guard.NewMemory(time.Hour), zap.NewNop()),
		src:       src,
		dst:       dst,
		product:   product,
		p1:        p1,
		p2:        p2,
		b1:        b1,
	}
}

func (f *fixture) sourceQty(t *testing.T) decimal.Decimal {
	t.Helper()
	qty, err := f.store.Quantity(context.Background(), ledger.Key{LocationID: f.src.ID, ProductID: f.product.ID, PlacementID: f.p1.ID, BatchID: f.b1.ID})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	return qty
}

func (f *fixture) line(qty int64) Line {
	return Line{ProductID: f.product.ID, FromPlacementID: f.p1.ID, FromBatchID: f.b1.ID, ToLocationID: f.dst.ID, Quantity: dec(qty)}
}

func TestLinesShareOneSnapshot(t *testing.T) {
	f := newFixture(t)

	res, err := f.validator.ValidateAndApply(context.Background(), Request{
		SourceLocationID: f.src.ID,
		Lines:            []Line{f.line(6), f.line(6)},
	})
	if err != nil {
		t.Fatalf("validate and apply: %v", err)
	}
	if res.OK {
		t.Fatal("expected batch to be rejected")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected an error on both lines, got %+v", res.Errors)
	}
	for i, e := range res.Errors {
		if e.Index != i || e.Type != ErrorQuantity {
			t.Fatalf("error %d: unexpected %+v", i, e)
		}
	}
	if !errors.Is(res.Err(), domain.ErrBatchRejected) {
		t.Fatalf("expected ErrBatchRejected, got %v", res.Err())
	}
	if got := f.sourceQty(t); !got.Equal(dec(10)) {
		t.Fatalf("rejected batch changed source to %s", got)
	}
}

func TestApplyMovesStockAcrossLocations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.validator.ValidateAndApply(ctx, Request{
		SourceLocationID: f.src.ID,
		Lines:            []Line{f.line(4), f.line(3)},
		Reference:        "move to branch",
	})
	if err != nil {
		t.Fatalf("validate and apply: %v", err)
	}
	if !res.OK || len(res.Movements) != 4 {
		t.Fatalf("expected accepted batch with 4 movements, got %+v", res)
	}
	for _, m := range res.Movements {
		if m.CorrelationID != res.CorrelationID {
			t.Fatalf("expected shared correlation id, got %+v", m)
		}
	}
	if got := f.sourceQty(t); !got.Equal(dec(3)) {
		t.Fatalf("expected source 3, got %s", got)
	}

	records, err := f.store.ListRecords(ctx, ledger.RecordFilter{LocationID: f.dst.ID, ProductID: f.product.ID})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 || !records[0].Quantity.Equal(dec(7)) {
		t.Fatalf("expected 7 at destination, got %+v", records)
	}
	placement, _ := f.store.Placement(ctx, records[0].PlacementID)
	batch, _ := f.store.Batch(ctx, records[0].BatchID)
	if !placement.IsSentinel() || batch.Name != "B1" || batch.LocationID != f.dst.ID || batch.Expiry == nil {
		t.Fatalf("expected sentinel placement and copied batch, got %+v %+v", placement, batch)
	}
}

func TestDestinationUsesDefaultPlacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shelf := f.store.AddPlacement(domain.Placement{LocationID: f.dst.ID, Name: "Shelf"})
	err := f.store.Update(ctx, nil, func(tx ledger.Tx) error {
		return tx.SetDefaultPlacement(ctx, domain.DefaultPlacement{ProductID: f.product.ID, LocationID: f.dst.ID, PlacementID: shelf.ID})
	})
	if err != nil {
		t.Fatalf("set default: %v", err)
	}

	res, err := f.validator.ValidateAndApply(ctx, Request{SourceLocationID: f.src.ID, Lines: []Line{f.line(2)}})
	if err != nil || !res.OK {
		t.Fatalf("expected accepted batch, got %+v %v", res, err)
	}
	if res.Movements[1].PlacementID != shelf.ID {
		t.Fatalf("expected destination leg on default placement %d, got %d", shelf.ID, res.Movements[1].PlacementID)
	}
}

func TestLineErrorTypes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := f.store.AddLocation(domain.Location{ID: "X9", CustomerID: 2})
	otherPlacement := f.store.AddPlacement(domain.Placement{LocationID: f.dst.ID, Name: "Far"})

	cases := []struct {
		name string
		line Line
		want ErrorType
	}{
		{"same location", Line{ProductID: f.product.ID, FromPlacementID: f.p1.ID, FromBatchID: f.b1.ID, ToLocationID: f.src.ID, Quantity: dec(1)}, ErrorToLocation},
		{"foreign customer", Line{ProductID: f.product.ID, FromPlacementID: f.p1.ID, FromBatchID: f.b1.ID, ToLocationID: other.ID, Quantity: dec(1)}, ErrorToLocation},
		{"unknown product", Line{ProductID: 9999, ToLocationID: f.dst.ID, Quantity: dec(1)}, ErrorProduct},
		{"zero quantity", Line{ProductID: f.product.ID, FromPlacementID: f.p1.ID, FromBatchID: f.b1.ID, ToLocationID: f.dst.ID}, ErrorQuantity},
		{"placement elsewhere", Line{ProductID: f.product.ID, FromPlacementID: otherPlacement.ID, FromBatchID: f.b1.ID, ToLocationID: f.dst.ID, Quantity: dec(1)}, ErrorFromPlacement},
		{"empty placement", Line{ProductID: f.product.ID, FromPlacementID: f.p2.ID, ToLocationID: f.dst.ID, Quantity: dec(1)}, ErrorFromBatch},
		{"unknown batch", Line{ProductID: f.product.ID, FromPlacementID: f.p1.ID, FromBatchID: 8888, ToLocationID: f.dst.ID, Quantity: dec(1)}, ErrorFromBatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.validator.Validate(ctx, Request{SourceLocationID: f.src.ID, Lines: []Line{f.line(1), tc.line}})
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if res.OK || len(res.Errors) != 1 {
				t.Fatalf("expected exactly one error, got %+v", res)
			}
			if res.Errors[0].Index != 1 || res.Errors[0].Type != tc.want {
				t.Fatalf("expected %s on line 1, got %+v", tc.want, res.Errors[0])
			}
		})
	}
	if got := f.sourceQty(t); !got.Equal(dec(10)) {
		t.Fatalf("validation changed the ledger: %s", got)
	}
}

func TestMissingSourceFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.validator.ValidateAndApply(ctx, Request{
		SourceLocationID: f.src.ID,
		Lines:            []Line{{ProductID: f.product.ID, ToLocationID: f.dst.ID, Quantity: dec(5)}},
	})
	if err != nil || !res.OK {
		t.Fatalf("expected accepted batch, got %+v %v", res, err)
	}
	if res.Movements[0].PlacementID != f.p1.ID || res.Movements[0].BatchID != f.b1.ID {
		t.Fatalf("expected fallback to the only stocked key, got %+v", res.Movements[0])
	}
}

func TestSourceMustBeDefaultPlacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	err := f.store.Update(ctx, nil, func(tx ledger.Tx) error {
		return tx.SetDefaultPlacement(ctx, domain.DefaultPlacement{ProductID: f.product.ID, LocationID: f.src.ID, PlacementID: f.p2.ID})
	})
	if err != nil {
		t.Fatalf("set default: %v", err)
	}

	res, err := f.validator.Validate(ctx, Request{SourceLocationID: f.src.ID, Lines: []Line{f.line(1)}})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK || res.Errors[0].Type != ErrorFromPlacement {
		t.Fatalf("expected from-placement error, got %+v", res)
	}
}

func TestDuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := Request{SourceLocationID: f.src.ID, Lines: []Line{f.line(1)}, RequestID: "batch-1"}

	if res, err := f.validator.ValidateAndApply(ctx, req); err != nil || !res.OK {
		t.Fatalf("first submit: %+v %v", res, err)
	}
	if _, err := f.validator.ValidateAndApply(ctx, req); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if got := f.sourceQty(t); !got.Equal(dec(9)) {
		t.Fatalf("expected one application, source is %s", got)
	}
}

// racingStore drains the source between validation and application.
type racingStore struct {
	*memstore.Store
	once  sync.Once
	drain func()
}

func (r *racingStore) Update(ctx context.Context, keys []ledger.Key, fn func(ledger.Tx) error) error {
	r.once.Do(r.drain)
	return r.Store.Update(ctx, keys, fn)
}

func TestBalanceChangedUnderLockRejectsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	racing := &racingStore{Store: f.store}
	racing.drain = func() {
		_, err := f.proc.Apply(ctx, movement.Outgoing{LocationID: f.src.ID, ProductID: f.product.ID, PlacementID: f.p1.ID, BatchID: f.b1.ID, Amount: dec(8)})
		if err != nil {
			t.Errorf("drain: %v", err)
		}
	}
	validator := NewValidator(racing, f.store, f.proc, nil, zap.NewNop())

	res, err := validator.ValidateAndApply(ctx, Request{SourceLocationID: f.src.ID, Lines: []Line{f.line(1), f.line(4)}})
	if err != nil {
		t.Fatalf("validate and apply: %v", err)
	}
	if res.OK || len(res.Errors) != 1 || res.Errors[0].Type != ErrorQuantity || res.Errors[0].Index != 1 {
		t.Fatalf("expected rejection on line 1, got %+v", res)
	}
	if got := f.sourceQty(t); !got.Equal(dec(2)) {
		t.Fatalf("expected only the drain to apply, source is %s", got)
	}
	dest, _ := f.store.ListRecords(ctx, ledger.RecordFilter{LocationID: f.dst.ID})
	if len(dest) != 0 {
		t.Fatalf("expected nothing at destination, got %+v", dest)
	}
}
