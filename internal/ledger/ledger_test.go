package ledger

import (
	"testing"
	"time"

	"stockledger/internal/domain"

	"github.com/shopspring/decimal"
)

func TestSortKeysOrdersAndDedups(t *testing.T) {
	a := Key{LocationID: "L1", ProductID: 2, PlacementID: 1, BatchID: 1}
	b := Key{LocationID: "L1", ProductID: 1, PlacementID: 9, BatchID: 1}
	c := Key{LocationID: "L0", ProductID: 5, PlacementID: 1, BatchID: 1}

	got := SortKeys([]Key{a, b, c, a})
	want := []Key{c, b, a}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("key %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSortKeysIsDirectionIndependent(t *testing.T) {
	src := Key{LocationID: "L1", ProductID: 1, PlacementID: 1, BatchID: 1}
	dst := Key{LocationID: "L1", ProductID: 1, PlacementID: 2, BatchID: 1}

	forward := SortKeys([]Key{src, dst})
	backward := SortKeys([]Key{dst, src})
	if forward[0] != backward[0] || forward[1] != backward[1] {
		t.Fatalf("lock order depends on argument order: %v vs %v", forward, backward)
	}
}

func TestRecordFilterAvailableOnly(t *testing.T) {
	filter := RecordFilter{LocationID: "L1", ProductID: 1, AvailableOnly: true}
	cases := []struct {
		name string
		rec  domain.InventoryRecord
		want bool
	}{
		{"positive", domain.InventoryRecord{LocationID: "L1", ProductID: 1, Quantity: decimal.NewFromInt(3)}, true},
		{"zero", domain.InventoryRecord{LocationID: "L1", ProductID: 1, Quantity: decimal.Zero}, false},
		{"negative", domain.InventoryRecord{LocationID: "L1", ProductID: 1, Quantity: decimal.NewFromInt(-1)}, false},
		{"other product", domain.InventoryRecord{LocationID: "L1", ProductID: 2, Quantity: decimal.NewFromInt(3)}, false},
		{"other location", domain.InventoryRecord{LocationID: "L2", ProductID: 1, Quantity: decimal.NewFromInt(3)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filter.Match(tc.rec); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHistoryFilterTimeRange(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	filter := HistoryFilter{LocationID: "L1", From: &from, To: &to}

	inside := domain.Movement{LocationID: "L1", CreatedAt: from}
	atEnd := domain.Movement{LocationID: "L1", CreatedAt: to}
	if !filter.Match(inside) {
		t.Fatalf("expected movement at range start to match")
	}
	if filter.Match(atEnd) {
		t.Fatalf("expected range end to be exclusive")
	}
}
