package excel

import (
	"strings"
	"testing"
	"time"

	"stockledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestParseHistoryRowsXLSX(t *testing.T) {
	file := excelize.NewFile()
	defer file.Close()
	sheet := file.GetSheetName(0)
	rows := [][]interface{}{
		{"Dato", "Varenummer", "Type", "Antal", "Placering", "Batch", "Bruger", "Reference"},
		{"2023-03-01 08:30:00", "SKU-100", "Tilgang", 10, "A1", "LOT-7", "anna", "PO-1"},
		{"", "", "", "", "", "", "", ""},
		{45000, "SKU-100", "afgang", -2.5, "", "", "bo", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := file.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	parsed, err := ParseHistoryRows("history.xlsx", buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(parsed))
	}

	first := parsed[0]
	if first.Line != 2 || first.SKU != "SKU-100" || first.Type != domain.MovementIncoming {
		t.Fatalf("unexpected first row %+v", first)
	}
	if !first.Quantity.Equal(decimal.NewFromInt(10)) || first.Placement != "A1" || first.Batch != "LOT-7" || first.Reference != "PO-1" {
		t.Fatalf("unexpected first row %+v", first)
	}
	if want := time.Date(2023, 3, 1, 8, 30, 0, 0, time.UTC); !first.Inserted.Equal(want) {
		t.Fatalf("expected %s, got %s", want, first.Inserted)
	}

	second := parsed[1]
	if second.Line != 4 || second.Type != domain.MovementOutgoing || !second.Quantity.Equal(decimal.RequireFromString("-2.5")) {
		t.Fatalf("unexpected second row %+v", second)
	}
	if want := time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC); !second.Inserted.Equal(want) {
		t.Fatalf("expected serial date %s, got %s", want, second.Inserted)
	}
}

func TestParseHistoryRowsCSV(t *testing.T) {
	input := "inserted;sku;type;quantity;platform\n" +
		"2024-01-05;X-1;regulering;1,5;APP\n" +
		"05-01-2024 12:00;X-2;out;3;\n"

	parsed, err := ParseHistoryRows("history.csv", strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(parsed))
	}
	if parsed[0].Type != domain.MovementAdjustment || !parsed[0].Quantity.Equal(decimal.RequireFromString("1.5")) || parsed[0].Platform != domain.PlatformApp {
		t.Fatalf("unexpected row %+v", parsed[0])
	}
	if want := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC); !parsed[1].Inserted.Equal(want) {
		t.Fatalf("expected %s, got %s", want, parsed[1].Inserted)
	}
}

func TestParseHistoryRowsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing column", "sku,type,quantity\nA,in,1\n", "missing required column: inserted"},
		{"bad type", "inserted,sku,type,quantity\n2024-01-01,A,sold,1\n", "row 2 invalid type"},
		{"bad quantity", "inserted,sku,type,quantity\n2024-01-01,A,in,many\n", "row 2 invalid quantity"},
		{"bad date", "inserted,sku,type,quantity\nyesterday,A,in,1\n", "row 2 invalid inserted"},
		{"no rows", "inserted,sku,type,quantity\n,,,\n", "no valid data rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHistoryRows("h.csv", strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
