// Package excel reads movement history exports from spreadsheets and CSV files.
package excel

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stockledger/internal/domain"
	"stockledger/internal/importer"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var headerAliases = map[string]string{
	"inserted":   "inserted",
	"date":       "inserted",
	"created at": "inserted",
	"dato":       "inserted",
	"sku":        "sku",
	"item":       "sku",
	"varenummer": "sku",
	"type":       "type",
	"movement":   "type",
	"quantity":   "quantity",
	"qty":        "quantity",
	"amount":     "quantity",
	"antal":      "quantity",
	"placement":  "placement",
	"placering":  "placement",
	"batch":      "batch",
	"lot":        "batch",
	"user":       "user",
	"bruger":     "user",
	"reference":  "reference",
	"ref":        "reference",
	"platform":   "platform",
}

var typeAliases = map[string]domain.MovementType{
	"incoming":   domain.MovementIncoming,
	"in":         domain.MovementIncoming,
	"tilgang":    domain.MovementIncoming,
	"outgoing":   domain.MovementOutgoing,
	"out":        domain.MovementOutgoing,
	"afgang":     domain.MovementOutgoing,
	"transfer":   domain.MovementTransfer,
	"flytning":   domain.MovementTransfer,
	"adjustment": domain.MovementAdjustment,
	"regulering": domain.MovementAdjustment,
	"optælling":  domain.MovementAdjustment,
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04",
	"02-01-2006",
}

var requiredColumns = []string{"inserted", "sku", "type", "quantity"}

// ParseHistoryRows reads the first sheet of an xlsx file, or a CSV file when
// fileName says so. Rows without a SKU are ignored.
func ParseHistoryRows(fileName string, reader io.Reader) ([]importer.Row, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}

	var rows [][]string
	switch strings.ToLower(strings.TrimSpace(filepath.Ext(fileName))) {
	case ".csv":
		rows, err = parseCSVRows(data)
	default:
		rows, err = parseExcelRows(data)
	}
	if err != nil {
		return nil, err
	}
	return parseHistoryTable(rows)
}

func parseCSVRows(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if bytes.Count(data, []byte(";")) > bytes.Count(data, []byte(",")) {
		reader.Comma = ';'
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	return rows, nil
}

func parseExcelRows(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}
	return rows, nil
}

func parseHistoryTable(rows [][]string) ([]importer.Row, error) {
	colMap := mapColumns(rows[0])
	for _, name := range requiredColumns {
		if _, ok := colMap[name]; !ok {
			return nil, fmt.Errorf("missing required column: %s", name)
		}
	}

	result := make([]importer.Row, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		line := index + 1
		sku := strings.TrimSpace(readCell(cells, colMap["sku"]))
		if sku == "" {
			continue
		}

		inserted, err := parseTime(readCell(cells, colMap["inserted"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid inserted: %w", line, err)
		}
		kind, err := parseType(readCell(cells, colMap["type"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid type: %w", line, err)
		}
		qty, err := parseDecimal(readCell(cells, colMap["quantity"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid quantity: %w", line, err)
		}

		row := importer.Row{
			Line:     line,
			Inserted: inserted,
			SKU:      sku,
			Type:     kind,
			Quantity: qty,
		}
		if idx, ok := colMap["placement"]; ok {
			row.Placement = strings.TrimSpace(readCell(cells, idx))
		}
		if idx, ok := colMap["batch"]; ok {
			row.Batch = strings.TrimSpace(readCell(cells, idx))
		}
		if idx, ok := colMap["user"]; ok {
			row.User = strings.TrimSpace(readCell(cells, idx))
		}
		if idx, ok := colMap["reference"]; ok {
			row.Reference = strings.TrimSpace(readCell(cells, idx))
		}
		if idx, ok := colMap["platform"]; ok {
			row.Platform = domain.Platform(strings.ToLower(strings.TrimSpace(readCell(cells, idx))))
		}
		result = append(result, row)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// parseTime accepts an Excel serial date or one of timeLayouts. Times
// without a zone are taken as UTC.
func parseTime(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("value is empty")
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("not a date")
		}
		return t.UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not a date")
}

func parseType(raw string) (domain.MovementType, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return "", fmt.Errorf("value is empty")
	}
	kind, ok := typeAliases[value]
	if !ok {
		return "", fmt.Errorf("unknown movement type %q", raw)
	}
	return kind, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	// "1.234,5" and "1,234.5" both occur in exports.
	if strings.Contains(value, ",") && strings.Contains(value, ".") {
		if strings.LastIndex(value, ",") > strings.LastIndex(value, ".") {
			value = strings.ReplaceAll(value, ".", "")
			value = strings.ReplaceAll(value, ",", ".")
		} else {
			value = strings.ReplaceAll(value, ",", "")
		}
	} else {
		value = strings.ReplaceAll(value, ",", ".")
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	return parsed, nil
}
