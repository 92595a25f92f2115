package importer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/ledger"
	"stockledger/internal/memstore"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// flakySink fails the calls listed in failures (1-based) and forwards the
// rest to the memory store.
type flakySink struct {
	mu       sync.Mutex
	calls    int
	failures map[int]bool
	next     Sink
}

func (s *flakySink) AppendImported(ctx context.Context, movements []domain.Movement) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures[s.calls]
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.next.AppendImported(ctx, movements)
}

func setup(t *testing.T) (*memstore.Store, domain.Product) {
	t.Helper()
	store := memstore.New()
	store.AddLocation(domain.Location{ID: "L1", CustomerID: 1})
	product := store.AddProduct(domain.Product{CustomerID: 1, SKU: "SKU-1", UseBatch: true})
	store.AddProduct(domain.Product{CustomerID: 1, SKU: "SKU-2"})
	return store, product
}

func rows(n int, sku string) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{
			Line:      i + 2,
			Inserted:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			SKU:       sku,
			Type:      domain.MovementIncoming,
			Quantity:  decimal.NewFromInt(int64(i + 1)),
			Placement: "A",
			Batch:     "LOT",
			User:      "import",
		}
	}
	return out
}

func TestRunChunksAndRetries(t *testing.T) {
	ctx := context.Background()
	store, product := setup(t)
	sink := &flakySink{failures: map[int]bool{2: true}, next: store}
	im := New(store, sink, Options{ChunkSize: 4, Retries: 3}, zap.NewNop())

	report, err := im.Run(ctx, "L1", rows(10, "SKU-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(report.Chunks))
	}
	if report.Chunks[1].Attempts != 2 || report.Chunks[1].Err != nil {
		t.Fatalf("expected chunk 1 to succeed on retry, got %+v", report.Chunks[1])
	}
	if report.Imported != 10 || len(report.Failed()) != 0 {
		t.Fatalf("expected all rows imported, got %+v", report)
	}

	history, _ := store.ListHistory(ctx, ledger.HistoryFilter{LocationID: "L1", ProductID: product.ID})
	if len(history) != 10 {
		t.Fatalf("expected 10 history rows, got %d", len(history))
	}
	for _, m := range history {
		if !m.Imported || m.Actor.Platform != domain.PlatformImport {
			t.Fatalf("expected imported entry, got %+v", m)
		}
	}
	records, _ := store.ListRecords(ctx, ledger.RecordFilter{LocationID: "L1"})
	if len(records) != 0 {
		t.Fatalf("import must not touch the ledger, got %+v", records)
	}
}

func TestRunReportsFailedChunkAndContinues(t *testing.T) {
	store, _ := setup(t)
	sink := &flakySink{failures: map[int]bool{1: true, 2: true}, next: store}
	im := New(store, sink, Options{ChunkSize: 5, Retries: 2}, zap.NewNop())

	report, err := im.Run(context.Background(), "L1", rows(8, "SKU-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Start != 0 || failed[0].End != 5 || failed[0].Attempts != 2 || failed[0].Error == "" {
		t.Fatalf("expected first chunk to fail after 2 attempts, got %+v", failed)
	}
	if report.Imported != 3 {
		t.Fatalf("expected the second chunk to import 3 rows, got %d", report.Imported)
	}
}

func TestRunDoesNotRetryInvalidRows(t *testing.T) {
	store, _ := setup(t)
	sink := &flakySink{next: store}
	im := New(store, sink, Options{ChunkSize: 2, Retries: 3, Backoff: time.Millisecond}, zap.NewNop())

	input := rows(4, "SKU-1")
	input[1].Type = "teleport"
	report, err := im.Run(context.Background(), "L1", input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Index != 0 || failed[0].Attempts != 1 {
		t.Fatalf("expected the first chunk to fail once without retry, got %+v", failed)
	}
	if !errors.Is(failed[0].Err, domain.ErrValidation) {
		t.Fatalf("expected a validation error, got %v", failed[0].Err)
	}
	if report.Imported != 2 || sink.calls != 1 {
		t.Fatalf("expected only the second chunk to reach the sink, imported %d calls %d", report.Imported, sink.calls)
	}
}

func TestRunSkipsUnknownSKUs(t *testing.T) {
	ctx := context.Background()
	store, _ := setup(t)
	im := New(store, store, Options{}, zap.NewNop())

	input := append(rows(2, "SKU-1"), rows(1, "NOPE")...)
	input = append(input, rows(1, "SKU-2")...)
	report, err := im.Run(ctx, "L1", input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Imported != 3 || len(report.Skipped) != 1 || report.Skipped[0] != "NOPE" {
		t.Fatalf("unexpected report %+v", report)
	}

	history, _ := store.ListHistory(ctx, ledger.HistoryFilter{LocationID: "L1"})
	for _, m := range history {
		batch, _ := store.Batch(ctx, m.BatchID)
		placement, _ := store.Placement(ctx, m.PlacementID)
		if placement.Name != "A" {
			t.Fatalf("expected placement A, got %+v", placement)
		}
		product, _ := store.Product(ctx, m.ProductID)
		if !product.UseBatch && !batch.IsSentinel() {
			t.Fatalf("expected sentinel batch for %s, got %+v", product.SKU, batch)
		}
	}
}

func TestRunUnknownLocation(t *testing.T) {
	store, _ := setup(t)
	im := New(store, store, Options{}, zap.NewNop())
	if _, err := im.Run(context.Background(), "nowhere", rows(1, "SKU-1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
